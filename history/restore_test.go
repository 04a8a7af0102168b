package history

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfychat/client"
	"comfychat/settings"
)

type fakeAnchor struct {
	id       string
	prompt   string
	location settings.AnchorLocation

	mu       sync.Mutex
	rendered []string
	flags    []bool
}

func (a *fakeAnchor) ID() string                         { return a.id }
func (a *fakeAnchor) Location() settings.AnchorLocation { return a.location }
func (a *fakeAnchor) Prompt() string                    { return a.prompt }

func (a *fakeAnchor) RenderImage(url string, interactive bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rendered = append(a.rendered, url)
	a.flags = append(a.flags, interactive)
}

func (a *fakeAnchor) renderCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rendered)
}

// newMatcherOver builds a matcher over the given records, recs[0] newest.
func newMatcherOver(recs ...settings.ImageRecord) *Matcher {
	s := settings.Default()
	store := NewStore(s, &countingSaver{}, nil)
	for i := len(recs) - 1; i >= 0; i-- {
		store.Append(recs[i])
	}
	m := NewMatcher(store, func(rec settings.ImageRecord) string {
		return "http://server/view?filename=" + rec.File.Filename
	})
	m.SetStagger(time.Millisecond)
	return m
}

func rec(id, prompt string, loc settings.AnchorLocation) settings.ImageRecord {
	return settings.ImageRecord{
		ID:             id,
		OriginalPrompt: prompt,
		CreatedAt:      time.Now(),
		File:           client.ImageFile{Filename: id + ".png", Type: "output"},
		Anchor:         loc,
	}
}

func TestOnlyMostRecentRecordPerPromptIsRestored(t *testing.T) {
	m := newMatcherOver(
		rec("new", "a cat", settings.AnchorLocation{MessageIndex: -1}),
		rec("old", "a cat", settings.AnchorLocation{MessageIndex: -1}),
	)
	anchor := &fakeAnchor{id: "a1", prompt: "a cat", location: settings.AnchorLocation{MessageIndex: 0}}

	summary := m.RestoreAll([]Anchor{anchor})
	assert.Equal(t, Summary{Restored: 1, Failed: 0}, summary)
	require.Equal(t, 1, anchor.renderCount())
	assert.Contains(t, anchor.rendered[0], "new.png")
}

func TestStrategyPrecedence(t *testing.T) {
	// selector match must win over a prompt match elsewhere
	bySel := &fakeAnchor{id: "sel", prompt: "other text",
		location: settings.AnchorLocation{Selector: "#msg-7 .gen", MessageIndex: 7}}
	byPrompt := &fakeAnchor{id: "glob", prompt: "a cat",
		location: settings.AnchorLocation{MessageIndex: 12}}

	m := newMatcherOver(rec("r1", "a cat", settings.AnchorLocation{Selector: "#msg-7 .gen", MessageIndex: 7}))
	summary := m.RestoreAll([]Anchor{byPrompt, bySel})

	assert.Equal(t, 1, summary.Restored)
	assert.Equal(t, 1, bySel.renderCount())
	assert.Equal(t, 0, byPrompt.renderCount())
}

func TestMessageIndexRequiresPromptMatch(t *testing.T) {
	wrongPrompt := &fakeAnchor{id: "a1", prompt: "different",
		location: settings.AnchorLocation{MessageIndex: 3}}
	rightPrompt := &fakeAnchor{id: "a2", prompt: "a cat",
		location: settings.AnchorLocation{MessageIndex: 9}}

	// index matches a1 but the prompt does not; the global prompt fallback
	// must then pick a2
	m := newMatcherOver(rec("r1", "a cat", settings.AnchorLocation{MessageIndex: 3}))
	summary := m.RestoreAll([]Anchor{wrongPrompt, rightPrompt})

	assert.Equal(t, 1, summary.Restored)
	assert.Equal(t, 0, wrongPrompt.renderCount())
	assert.Equal(t, 1, rightPrompt.renderCount())
}

func TestMessageIDFallback(t *testing.T) {
	anchor := &fakeAnchor{id: "a1", prompt: "a cat",
		location: settings.AnchorLocation{MessageIndex: 5, MessageID: "mes-42"}}

	// stored ordinal is stale but the stable message id still matches
	m := newMatcherOver(rec("r1", "a cat", settings.AnchorLocation{MessageIndex: 2, MessageID: "mes-42"}))
	summary := m.RestoreAll([]Anchor{anchor})

	assert.Equal(t, 1, summary.Restored)
	assert.Equal(t, 1, anchor.renderCount())
}

func TestUnmatchedRecordCountsAsFailed(t *testing.T) {
	m := newMatcherOver(
		rec("r1", "a cat", settings.AnchorLocation{MessageIndex: -1}),
		rec("r2", "a dog", settings.AnchorLocation{MessageIndex: -1}),
	)
	anchor := &fakeAnchor{id: "a1", prompt: "a cat", location: settings.AnchorLocation{MessageIndex: 0}}

	summary := m.RestoreAll([]Anchor{anchor})
	assert.Equal(t, Summary{Restored: 1, Failed: 1}, summary)
}

func TestRestorationIsNonInteractive(t *testing.T) {
	m := newMatcherOver(rec("r1", "a cat", settings.AnchorLocation{MessageIndex: -1}))
	anchor := &fakeAnchor{id: "a1", prompt: "a cat"}

	m.RestoreAll([]Anchor{anchor})
	require.Equal(t, 1, anchor.renderCount())
	assert.False(t, anchor.flags[0])
}

func TestSummaryWaitsForStaggeredRenders(t *testing.T) {
	var recs []settings.ImageRecord
	var anchors []Anchor
	for _, p := range []string{"one", "two", "three", "four"} {
		recs = append(recs, rec(p, p, settings.AnchorLocation{MessageIndex: -1}))
		anchors = append(anchors, &fakeAnchor{id: p, prompt: p})
	}
	m := newMatcherOver(recs...)
	m.SetStagger(5 * time.Millisecond)

	summary := m.RestoreAll(anchors)
	assert.Equal(t, 4, summary.Restored)
	// by the time the summary is back, every staggered render has happened
	for _, a := range anchors {
		assert.Equal(t, 1, a.(*fakeAnchor).renderCount())
	}
}
