package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Store is the persistence collaborator components write through. Save is a
// trailing-debounced request; Flush forces the write out immediately.
type Store interface {
	Settings() *Settings
	Save()
	Flush() error
}

// DefaultSaveDelay is the trailing debounce applied to Save requests. A burst
// of mutations (history eviction, record append, tag edits) collapses into a
// single write.
const DefaultSaveDelay = 500 * time.Millisecond

// FileStore persists the settings object as a JSON file. Save encodes the
// object at call time, inside the caller's critical section; the debounce
// timer only flushes the latest snapshot to disk, so the timer goroutine
// never reads settings state that a mutator may be writing.
type FileStore struct {
	path  string
	delay time.Duration

	mu       sync.Mutex
	settings *Settings
	timer    *time.Timer
	pending  []byte
}

// Open loads the settings file at path, merging defaults field by field. A
// missing file is not an error; it yields the defaults and is created on the
// first flush.
func Open(path string) (*FileStore, error) {
	fsStore := &FileStore{
		path:     path,
		delay:    DefaultSaveDelay,
		settings: Default(),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fsStore, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	loaded := &Settings{}
	if err := json.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("settings file %s is corrupt: %w", path, err)
	}
	applyDefaults(loaded)
	fsStore.settings = loaded
	return fsStore, nil
}

// SetSaveDelay overrides the debounce window. Zero makes every Save
// synchronous.
func (f *FileStore) SetSaveDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *FileStore) Settings() *Settings {
	return f.settings
}

// Save snapshots the settings and schedules a write. Repeated calls within
// the debounce window extend it; only the trailing snapshot reaches disk.
func (f *FileStore) Save() {
	data, err := json.MarshalIndent(f.settings, "", "  ")
	if err != nil {
		slog.Error("encoding settings", "path", f.path, "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delay <= 0 {
		if err := f.write(data); err != nil {
			slog.Error("writing settings", "path", f.path, "error", err)
		}
		return
	}
	f.pending = data
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.delay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.pending == nil {
			return
		}
		data := f.pending
		f.pending = nil
		if err := f.write(data); err != nil {
			slog.Error("writing settings", "path", f.path, "error", err)
		}
	})
}

// Flush cancels any pending debounce and writes the current state now.
func (f *FileStore) Flush() error {
	data, err := json.MarshalIndent(f.settings, "", "  ")
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.pending = nil
	return f.write(data)
}

func (f *FileStore) write(data []byte) error {
	return os.WriteFile(f.path, data, 0o644)
}
