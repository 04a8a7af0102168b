// Package settings holds the persisted state of the integration: the server
// address, the workflow template text, placeholder and tag configuration, and
// the bounded log of generated images. Components receive an explicit handle
// to this state rather than reaching into globals.
package settings

import (
	"time"

	"comfychat/client"
)

const (
	// DefaultPlaceholder is the token the prompt text replaces when the user
	// has not configured their own.
	DefaultPlaceholder = "%positive%"

	// SeedToken is always replaced with a fresh random seed per request.
	SeedToken = "%seed%"
)

// AnchorLocation is the fallback chain for finding a result's UI anchor after
// a reload: an explicit selector when the anchor had a stable identity, else
// the ordinal index of the containing message, else the message's stable id.
// MessageIndex is -1 when the ordinal is unknown.
type AnchorLocation struct {
	Selector     string `json:"selector,omitempty"`
	MessageIndex int    `json:"messageIndex"`
	MessageID    string `json:"messageId,omitempty"`
}

// ImageRecord is one persisted generation result. Its ID is the correlation
// id of the job that produced it.
type ImageRecord struct {
	ID              string           `json:"id"`
	URL             string           `json:"url"`
	SubmittedPrompt string           `json:"submittedPrompt"`
	OriginalPrompt  string           `json:"originalPrompt"`
	CustomTags      string           `json:"customTags,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	File            client.ImageFile `json:"file"`
	AnchorID        string           `json:"anchorId,omitempty"`
	Anchor          AnchorLocation   `json:"anchor"`
}

// Settings is the persisted settings object.
type Settings struct {
	Enabled          bool          `json:"enabled"`
	ServerURL        string        `json:"serverUrl"`
	CSRFToken        string        `json:"csrfToken,omitempty"`
	WorkflowText     string        `json:"workflow"`
	PlaceholderToken string        `json:"placeholder"`
	CustomTags       string        `json:"customTags"`
	Images           []ImageRecord `json:"images"`
}

// Default returns the settings used when nothing has been persisted yet. The
// integration starts disabled; there is no usable server address to default.
func Default() *Settings {
	return &Settings{
		PlaceholderToken: DefaultPlaceholder,
		Images:           []ImageRecord{},
	}
}

// applyDefaults fills in fields a previously persisted object may be missing,
// field by field, without touching anything the user has set.
func applyDefaults(s *Settings) {
	if s.PlaceholderToken == "" {
		s.PlaceholderToken = DefaultPlaceholder
	}
	if s.Images == nil {
		s.Images = []ImageRecord{}
	}
}
