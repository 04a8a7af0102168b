// Package history keeps the durable log of past generations and restores
// them into live UI anchors after a reload.
package history

import (
	"sync"

	"comfychat/settings"
)

// MaxRecords caps the persisted history; the oldest records are evicted
// first.
const MaxRecords = 100

// Saver is the persistence collaborator the store writes through after every
// mutation. settings.Store satisfies it.
type Saver interface {
	Save()
}

// Store owns the ImageRecord list inside the settings object. Records are
// held newest first and every mutation persists synchronously (through the
// saver's debounce) and notifies the onChange callback so a history view can
// re-render.
type Store struct {
	mu       sync.Mutex
	settings *settings.Settings
	saver    Saver
	onChange func()
}

// NewStore wraps the record list of s. onChange may be nil.
func NewStore(s *settings.Settings, saver Saver, onChange func()) *Store {
	return &Store{settings: s, saver: saver, onChange: onChange}
}

// Append prepends a record and evicts past the cap.
func (s *Store) Append(rec settings.ImageRecord) {
	s.mu.Lock()
	images := append([]settings.ImageRecord{rec}, s.settings.Images...)
	if len(images) > MaxRecords {
		images = images[:MaxRecords]
	}
	s.settings.Images = images
	s.saver.Save()
	s.mu.Unlock()

	s.notify()
}

// Remove deletes the record with the given id and reports whether one was
// removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	images := s.settings.Images
	kept := images[:0:0]
	for _, rec := range images {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	removed := len(kept) != len(images)
	if removed {
		s.settings.Images = kept
		s.saver.Save()
	}
	s.mu.Unlock()

	if removed {
		s.notify()
	}
	return removed
}

// Clear drops every record.
func (s *Store) Clear() {
	s.mu.Lock()
	s.settings.Images = []settings.ImageRecord{}
	s.saver.Save()
	s.mu.Unlock()

	s.notify()
}

// List returns a copy of the records, newest first.
func (s *Store) List() []settings.ImageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]settings.ImageRecord, len(s.settings.Images))
	copy(out, s.settings.Images)
	return out
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.settings.Images)
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
