// Package generation drives one image generation end to end: fill the
// workflow template, submit it, follow the job's push channel, resolve the
// produced image, persist it and render it at the requesting anchor.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"comfychat/client"
	"comfychat/history"
	"comfychat/settings"
	"comfychat/template"
)

// Anchor is the UI element that requested a generation. It extends the
// restoration anchor with the pending visual state the orchestrator toggles
// around a job.
type Anchor interface {
	history.Anchor
	SetPending(pending bool)
}

// Notifier is the host's toast surface.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Orchestrator runs generation jobs. Jobs from distinct anchors run
// concurrently, each with its own correlation id and push channel; the only
// state they share is the record store, which serializes appends itself.
type Orchestrator struct {
	cfg     settings.Store
	client  *client.Client
	records *history.Store
	notify  Notifier

	// Timeout bounds the wait for a channel reply after submission. Zero
	// waits indefinitely.
	Timeout time.Duration

	// OnProgress, when set, receives sampling progress for any in-flight job.
	OnProgress func(client.Progress)

	mu      sync.Mutex
	pending map[string]bool
}

// New builds an orchestrator. notify may be nil.
func New(cfg settings.Store, cli *client.Client, records *history.Store, notify Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		client:  cli,
		records: records,
		notify:  notify,
		pending: make(map[string]bool),
	}
}

// Generate runs one job for the anchor. Every terminal path, success or not,
// releases the anchor's pending state; errors are additionally surfaced
// through the notifier as a user-facing message. Nothing is retried.
func (o *Orchestrator) Generate(ctx context.Context, originalPrompt string, anchor Anchor) error {
	if !o.begin(anchor.ID()) {
		return ErrBusy
	}
	anchor.SetPending(true)
	defer func() {
		anchor.SetPending(false)
		o.end(anchor.ID())
	}()

	err := o.generate(ctx, originalPrompt, anchor)
	if err != nil {
		slog.Error("generation failed", "anchor", anchor.ID(), "error", err)
		if o.notify != nil {
			o.notify.Error(UserMessage(err))
		}
	}
	return err
}

func (o *Orchestrator) generate(ctx context.Context, originalPrompt string, anchor Anchor) error {
	s := o.cfg.Settings()
	if !s.Enabled {
		return &ConfigError{Msg: "image generation is turned off"}
	}
	if strings.TrimSpace(s.ServerURL) == "" {
		return &ConfigError{Msg: "no server address is set"}
	}
	if strings.TrimSpace(s.WorkflowText) == "" {
		return &ConfigError{Msg: "no workflow template is set"}
	}

	submittedPrompt := ComposePrompt(s.CustomTags, originalPrompt)
	location := anchor.Location()

	doc, err := template.Parse(s.WorkflowText)
	if err != nil {
		return err
	}

	seed := rand.Uint32()
	placeholders := template.Placeholders{
		{Token: s.PlaceholderToken, Value: submittedPrompt},
		{Token: settings.SeedToken, Value: strconv.FormatUint(uint64(seed), 10)},
	}
	filled := template.Fill(doc, placeholders)
	if _, err := template.Marshal(filled); err != nil {
		return err
	}

	correlationID := uuid.New().String()
	ch, err := o.client.OpenChannel(correlationID, o.OnProgress)
	if err != nil {
		return &ChannelOpenError{Err: err}
	}
	defer ch.Close()

	if _, err := o.client.QueuePrompt(ctx, filled, correlationID); err != nil {
		return fmt.Errorf("queueing generation job: %w", err)
	}

	ev, err := o.await(ctx, ch)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case client.EventImages:
		if len(ev.Images) == 0 {
			return &RetrievalError{Msg: "the server reported completion without any image"}
		}
		file := ev.Images[0]
		record := settings.ImageRecord{
			ID:              correlationID,
			URL:             o.client.ViewURL(file),
			SubmittedPrompt: submittedPrompt,
			OriginalPrompt:  originalPrompt,
			CustomTags:      s.CustomTags,
			CreatedAt:       time.Now(),
			File:            file,
			AnchorID:        anchor.ID(),
			Anchor:          location,
		}
		o.records.Append(record)
		anchor.RenderImage(o.client.RenderURL(file), true)
		if o.notify != nil {
			o.notify.Success("Image generated.")
		}
		return nil
	case client.EventFailed:
		return &ServerExecutionError{Msg: ev.Message}
	case client.EventTransport:
		return &ChannelTransportError{Msg: ev.Message}
	default:
		return fmt.Errorf("unexpected channel event %d", ev.Kind)
	}
}

// await blocks until the job's channel resolves, the context is canceled or
// the configured timeout fires.
func (o *Orchestrator) await(ctx context.Context, ch *client.JobChannel) (client.Event, error) {
	var deadline <-chan time.Time
	if o.Timeout > 0 {
		timer := time.NewTimer(o.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case ev, ok := <-ch.Events:
		if !ok {
			return client.Event{}, &ChannelTransportError{Msg: "the generation channel closed without a result"}
		}
		return ev, nil
	case <-deadline:
		return client.Event{}, &TimeoutError{Msg: fmt.Sprintf("no result after %s", o.Timeout)}
	case <-ctx.Done():
		return client.Event{}, ctx.Err()
	}
}

// ComposePrompt prefixes the configured custom tags, comma-joined, onto the
// prompt. Without tags the prompt passes through untouched.
func ComposePrompt(customTags, prompt string) string {
	parts := make([]string, 0, 4)
	for _, tag := range strings.Split(customTags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			parts = append(parts, tag)
		}
	}
	if len(parts) == 0 {
		return prompt
	}
	return strings.Join(append(parts, prompt), ", ")
}

func (o *Orchestrator) begin(anchorID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending[anchorID] {
		return false
	}
	o.pending[anchorID] = true
	return true
}

func (o *Orchestrator) end(anchorID string) {
	o.mu.Lock()
	delete(o.pending, anchorID)
	o.mu.Unlock()
}
