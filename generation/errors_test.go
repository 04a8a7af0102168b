package generation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"comfychat/template"
)

func TestComposePrompt(t *testing.T) {
	assert.Equal(t, "masterpiece, best quality, a cat",
		ComposePrompt("masterpiece, best quality", "a cat"))
	assert.Equal(t, "a cat", ComposePrompt("", "a cat"))
	assert.Equal(t, "a cat", ComposePrompt(" ,  , ", "a cat"))
	assert.Equal(t, "lowres, a cat", ComposePrompt(" lowres ,", "a cat"))
}

func TestUserMessageByType(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ConfigError{Msg: "no server address is set"}, "not configured"},
		{fmt.Errorf("parsing: %w", &template.ParseError{Msg: "bad"}), "not valid JSON"},
		{&template.SerializeError{Err: errors.New("x")}, "placeholder substitution"},
		{&ChannelOpenError{Err: errors.New("dial refused")}, "open a connection"},
		{&ChannelTransportError{Msg: "gone"}, "Lost the connection"},
		{&ServerExecutionError{Msg: "CUDA out of memory"}, "CUDA out of memory"},
		{&RetrievalError{Msg: "none"}, "no image"},
		{&TimeoutError{Msg: "late"}, "Timed out"},
		{ErrBusy, "wait"},
	}
	for _, tc := range cases {
		assert.Contains(t, UserMessage(tc.err), tc.want, "%T", tc.err)
	}
}

func TestUserMessageFallsBackToKeywords(t *testing.T) {
	assert.Contains(t, UserMessage(errors.New("the workflow node 4 is unknown")), "workflow")
	assert.Contains(t, UserMessage(errors.New("websocket: bad handshake")), "image server")
	assert.Contains(t, UserMessage(errors.New("something odd")), "Image generation failed")
}
