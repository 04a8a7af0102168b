package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// EventKind discriminates the closed set of channel outcomes a job can see.
type EventKind int

const (
	// EventIgnored covers housekeeping traffic: status pings, execution
	// bookkeeping, monitoring extensions, and anything unrecognized. These
	// never reach the job's event channel.
	EventIgnored EventKind = iota
	// EventImages carries the image descriptors of a finished execution.
	EventImages
	// EventFailed carries a server-reported execution failure.
	EventFailed
	// EventTransport reports the push channel itself failing; terminal for
	// the job, the handle is already gone from the registry.
	EventTransport
)

// Event is one decoded push-channel outcome.
type Event struct {
	Kind    EventKind
	Images  []ImageFile // EventImages
	Message string      // EventFailed and EventTransport
}

// Progress reports sampling progress for the node currently executing. It is
// surfaced through a callback rather than the event channel so that jobs
// never have to skip over it.
type Progress struct {
	Value int `json:"value"`
	Max   int `json:"max"`
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wsExecuted ignores the node id on purpose: frames arrive as either plain or
// compound string ids and the orchestration layer has no use for them.
type wsExecuted struct {
	Output map[string]json.RawMessage `json:"output"`
}

type wsExecutionError struct {
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionMessage string `json:"exception_message"`
	ExceptionType    string `json:"exception_type"`
}

const defaultExecutionError = "the server reported an execution error"

// DecodeMessage classifies one raw push-channel frame. Undecodable frames are
// logged and classified Ignored; an executed frame without an image output is
// likewise Ignored, since another node's executed frame may still follow.
func DecodeMessage(raw []byte) (Event, *Progress) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Error("deserializing channel message", "error", err)
		return Event{Kind: EventIgnored}, nil
	}

	switch env.Type {
	case "executed":
		var data wsExecuted
		if err := json.Unmarshal(env.Data, &data); err != nil {
			slog.Error("deserializing executed message", "error", err)
			return Event{Kind: EventIgnored}, nil
		}
		rawImages, ok := data.Output["images"]
		if !ok {
			return Event{Kind: EventIgnored}, nil
		}
		return Event{Kind: EventImages, Images: decodeImages(rawImages)}, nil

	case "execution_error":
		var data wsExecutionError
		if err := json.Unmarshal(env.Data, &data); err != nil {
			slog.Error("deserializing execution_error message", "error", err)
			return Event{Kind: EventFailed, Message: defaultExecutionError}, nil
		}
		msg := data.ExceptionMessage
		if msg == "" {
			msg = defaultExecutionError
		}
		return Event{Kind: EventFailed, Message: msg}, nil

	case "progress":
		p := &Progress{}
		if err := json.Unmarshal(env.Data, p); err != nil {
			return Event{Kind: EventIgnored}, nil
		}
		return Event{Kind: EventIgnored}, p

	default:
		// status, executing, execution_start, execution_cached,
		// execution_interrupted, crystools.monitor, ...
		return Event{Kind: EventIgnored}, nil
	}
}

// decodeImages extracts descriptors from the executed output, skipping
// entries that do not carry the fields /view needs.
func decodeImages(raw json.RawMessage) []ImageFile {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.Warn("executed output images have an unexpected shape", "error", err)
		return nil
	}

	images := make([]ImageFile, 0, len(entries))
	for _, entry := range entries {
		img := ImageFile{}
		name, ok := entry["filename"].(string)
		if !ok {
			slog.Warn(fmt.Sprintf("executed output entry %v has no filename", entry))
			continue
		}
		img.Filename = name
		if sub, ok := entry["subfolder"].(string); ok {
			img.Subfolder = sub
		}
		typ, ok := entry["type"].(string)
		if !ok {
			slog.Warn(fmt.Sprintf("executed output entry %v has no type", entry))
			continue
		}
		img.Type = typ
		images = append(images, img)
	}
	return images
}
