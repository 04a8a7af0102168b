package generation

import (
	"errors"
	"strings"

	"comfychat/template"
)

// ConfigError means generation could not start: no server address or no
// workflow template configured. No network attempt is made.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// ChannelOpenError means the push channel for a job could not be opened.
type ChannelOpenError struct {
	Err error
}

func (e *ChannelOpenError) Error() string { return e.Err.Error() }
func (e *ChannelOpenError) Unwrap() error { return e.Err }

// ChannelTransportError means an open push channel failed mid-job. Terminal;
// a retry is a new job.
type ChannelTransportError struct {
	Msg string
}

func (e *ChannelTransportError) Error() string { return e.Msg }

// ServerExecutionError carries the failure the server reported while running
// the job.
type ServerExecutionError struct {
	Msg string
}

func (e *ServerExecutionError) Error() string { return e.Msg }

// RetrievalError means the job finished but produced no usable image
// descriptor.
type RetrievalError struct {
	Msg string
}

func (e *RetrievalError) Error() string { return e.Msg }

// TimeoutError means no channel reply arrived within the orchestrator's
// configured deadline.
type TimeoutError struct {
	Msg string
}

func (e *TimeoutError) Error() string { return e.Msg }

// ErrBusy is returned when an anchor already has a job in flight. Distinct
// anchors may generate concurrently; the same anchor may not.
var ErrBusy = errors.New("a generation is already in progress for this anchor")

// UserMessage translates any generation error into the message shown to the
// user. Typed errors are matched first; everything else falls back to
// keyword-matching the error text.
func UserMessage(err error) string {
	var (
		configErr    *ConfigError
		parseErr     *template.ParseError
		serializeErr *template.SerializeError
		openErr      *ChannelOpenError
		transportErr *ChannelTransportError
		execErr      *ServerExecutionError
		retrieveErr  *RetrievalError
		timeoutErr   *TimeoutError
	)
	switch {
	case errors.As(err, &configErr):
		return "Image generation is not configured: " + configErr.Msg
	case errors.As(err, &parseErr):
		return "The workflow template is not valid JSON. Open the template editor for details."
	case errors.As(err, &serializeErr):
		return "The workflow broke after placeholder substitution. Check that your prompt does not contain unescaped quotes."
	case errors.As(err, &openErr):
		return "Could not open a connection to the image server."
	case errors.As(err, &transportErr):
		return "Lost the connection to the image server before the result arrived."
	case errors.As(err, &execErr):
		return "The image server failed to run the workflow: " + execErr.Msg
	case errors.As(err, &retrieveErr):
		return "The job finished but the server returned no image."
	case errors.As(err, &timeoutErr):
		return "Timed out waiting for the image server."
	case errors.Is(err, ErrBusy):
		return "Please wait for the current image to finish."
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "workflow"):
		return "Something is wrong with the workflow template: " + err.Error()
	case strings.Contains(lower, "channel"), strings.Contains(lower, "websocket"):
		return "Lost the connection to the image server."
	case strings.Contains(lower, "prompt"):
		return "The image server rejected the prompt: " + err.Error()
	default:
		return "Image generation failed: " + err.Error()
	}
}
