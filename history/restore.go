package history

import (
	"sync"
	"time"

	"comfychat/settings"
)

// Anchor is a live UI element a stored result can be rendered back into. The
// host UI adapts its own widgets to this; the matcher never touches a DOM.
type Anchor interface {
	ID() string
	Location() settings.AnchorLocation
	// Prompt is the original message text the anchor belongs to, used by the
	// prompt-matching fallback stages.
	Prompt() string
	// RenderImage displays the image at the anchor. interactive is false
	// during restoration so success notifications are not re-fired.
	RenderImage(url string, interactive bool)
}

// Strategy locates the anchor for a record, or nil. Strategies are tried in
// order; the first hit wins.
type Strategy func(rec settings.ImageRecord, anchors []Anchor) Anchor

// Summary is the single aggregate report of a restoration pass.
type Summary struct {
	Restored int
	Failed   int
}

// DefaultStagger is the delay step between consecutive restorations, so a
// reload does not fire a burst of simultaneous image fetches.
const DefaultStagger = 200 * time.Millisecond

// Matcher reattaches stored results to live anchors.
type Matcher struct {
	store *Store
	// resolve re-derives a fetchable URL for a record at restore time; the
	// persisted URL may carry a stale cache-busting parameter or an old
	// server address.
	resolve    func(settings.ImageRecord) string
	stagger    time.Duration
	strategies []Strategy
}

// NewMatcher builds a matcher over the store with the standard strategy
// chain: stored selector, message ordinal + scoped prompt match, message id +
// scoped prompt match, global prompt match.
func NewMatcher(store *Store, resolve func(settings.ImageRecord) string) *Matcher {
	return &Matcher{
		store:   store,
		resolve: resolve,
		stagger: DefaultStagger,
		strategies: []Strategy{
			BySelector,
			ByMessageIndex,
			ByMessageID,
			ByPrompt,
		},
	}
}

// SetStagger overrides the per-record restoration delay.
func (m *Matcher) SetStagger(d time.Duration) {
	m.stagger = d
}

// RestoreAll renders the most recent stored result for each distinct prompt
// into the first live anchor its strategy chain matches. Restorations start
// on a staggered schedule, one delay step later per record, and the summary
// is returned only after every one of them has finished.
func (m *Matcher) RestoreAll(anchors []Anchor) Summary {
	candidates := m.candidates()

	var summary Summary
	var wg sync.WaitGroup
	slot := 0
	for _, rec := range candidates {
		anchor := m.match(rec, anchors)
		if anchor == nil {
			summary.Failed++
			continue
		}

		summary.Restored++
		rec := rec
		delay := time.Duration(slot) * m.stagger
		slot++
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(delay)
			anchor.RenderImage(m.resolve(rec), false)
		}()
	}
	wg.Wait()
	return summary
}

// candidates groups the stored records by original prompt, keeping only the
// most recent per distinct prompt. The store lists newest first, so the first
// record seen for a prompt wins; equal timestamps resolve the same way, in
// favor of the later-created record.
func (m *Matcher) candidates() []settings.ImageRecord {
	seen := make(map[string]bool)
	var out []settings.ImageRecord
	for _, rec := range m.store.List() {
		if seen[rec.OriginalPrompt] {
			continue
		}
		seen[rec.OriginalPrompt] = true
		out = append(out, rec)
	}
	return out
}

func (m *Matcher) match(rec settings.ImageRecord, anchors []Anchor) Anchor {
	for _, strategy := range m.strategies {
		if a := strategy(rec, anchors); a != nil {
			return a
		}
	}
	return nil
}

// BySelector matches the record's stored explicit anchor selector.
func BySelector(rec settings.ImageRecord, anchors []Anchor) Anchor {
	if rec.Anchor.Selector == "" {
		return nil
	}
	for _, a := range anchors {
		if a.Location().Selector == rec.Anchor.Selector {
			return a
		}
	}
	return nil
}

// ByMessageIndex matches the containing message's ordinal index, confirmed by
// a prompt match scoped to that message.
func ByMessageIndex(rec settings.ImageRecord, anchors []Anchor) Anchor {
	if rec.Anchor.MessageIndex < 0 {
		return nil
	}
	for _, a := range anchors {
		if a.Location().MessageIndex == rec.Anchor.MessageIndex && a.Prompt() == rec.OriginalPrompt {
			return a
		}
	}
	return nil
}

// ByMessageID matches the containing message's stable id, confirmed by a
// prompt match scoped to that message.
func ByMessageID(rec settings.ImageRecord, anchors []Anchor) Anchor {
	if rec.Anchor.MessageID == "" {
		return nil
	}
	for _, a := range anchors {
		if a.Location().MessageID == rec.Anchor.MessageID && a.Prompt() == rec.OriginalPrompt {
			return a
		}
	}
	return nil
}

// ByPrompt is the last resort: a prompt match across all live anchors.
func ByPrompt(rec settings.ImageRecord, anchors []Anchor) Anchor {
	for _, a := range anchors {
		if a.Prompt() == rec.OriginalPrompt {
			return a
		}
	}
	return nil
}
