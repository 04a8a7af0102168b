package history

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfychat/settings"
)

type countingSaver struct {
	calls int
}

func (s *countingSaver) Save() { s.calls++ }

func record(id string) settings.ImageRecord {
	return settings.ImageRecord{ID: id, OriginalPrompt: "prompt " + id, CreatedAt: time.Now()}
}

func TestAppendPrependsNewestFirst(t *testing.T) {
	s := settings.Default()
	store := NewStore(s, &countingSaver{}, nil)

	store.Append(record("a"))
	store.Append(record("b"))

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)
}

func TestAppendEvictsPastCap(t *testing.T) {
	s := settings.Default()
	store := NewStore(s, &countingSaver{}, nil)

	for i := 0; i <= MaxRecords; i++ {
		store.Append(record(fmt.Sprintf("r%03d", i)))
	}

	list := store.List()
	require.Len(t, list, MaxRecords)
	// the earliest append is gone, the second-earliest survives at the tail
	assert.Equal(t, fmt.Sprintf("r%03d", MaxRecords), list[0].ID)
	assert.Equal(t, "r001", list[MaxRecords-1].ID)
	for _, rec := range list {
		assert.NotEqual(t, "r000", rec.ID)
	}
}

func TestRemoveSemantics(t *testing.T) {
	s := settings.Default()
	saver := &countingSaver{}
	store := NewStore(s, saver, nil)

	store.Append(record("keep"))
	store.Append(record("drop"))
	savesBefore := saver.calls

	assert.True(t, store.Remove("drop"))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, savesBefore+1, saver.calls)

	// absent id is a no-op: no removal, no persistence
	assert.False(t, store.Remove("drop"))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, savesBefore+1, saver.calls)
}

func TestClear(t *testing.T) {
	s := settings.Default()
	store := NewStore(s, &countingSaver{}, nil)
	store.Append(record("a"))
	store.Clear()
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.List())
}

func TestMutationsPersistAndNotify(t *testing.T) {
	s := settings.Default()
	saver := &countingSaver{}
	renders := 0
	store := NewStore(s, saver, func() { renders++ })

	store.Append(record("a"))
	store.Remove("a")
	store.Clear()

	assert.Equal(t, 3, saver.calls)
	assert.Equal(t, 3, renders)
}

// Appends racing a short debounce window must stay race-free: the saver
// snapshots the record list at Save time rather than reading it from the
// timer goroutine. Run with -race.
func TestAppendConcurrentWithDebouncedSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	fileStore, err := settings.Open(path)
	require.NoError(t, err)
	fileStore.SetSaveDelay(time.Millisecond)

	store := NewStore(fileStore.Settings(), fileStore, nil)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.Append(record(fmt.Sprintf("r%d-%d", g, i)))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, fileStore.Flush())

	reopened, err := settings.Open(path)
	require.NoError(t, err)
	assert.Len(t, reopened.Settings().Images, MaxRecords)
}

func TestListReturnsACopy(t *testing.T) {
	s := settings.Default()
	store := NewStore(s, &countingSaver{}, nil)
	store.Append(record("a"))

	list := store.List()
	list[0].ID = "tampered"
	assert.Equal(t, "a", store.List()[0].ID)
}
