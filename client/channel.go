package client

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
)

// JobChannel is one open push-channel connection, keyed by the correlation id
// it was opened for. Decoded events arrive on Events; the first terminal
// event (images, server failure, transport failure) is the last thing a job
// needs to read. There is no reconnect: a failed channel is terminal and a
// retry means a new job with a new correlation id.
type JobChannel struct {
	ClientID string
	Events   chan Event

	client     *Client
	conn       wsConn
	onProgress func(Progress)
	done       chan struct{}
	closed     atomic.Bool
	closeOnce  sync.Once
}

// wsConn is the part of *websocket.Conn the channel uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// OpenChannel dials the server's push channel for the given correlation id.
// The websocket URL is derived from the client's HTTP base URL by switching
// to the matching ws scheme and appending the id as the clientId query
// parameter. At most one channel may be open per correlation id.
func (c *Client) OpenChannel(clientID string, onProgress func(Progress)) (*JobChannel, error) {
	wsURL, err := c.channelURL(clientID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.channels[clientID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("channel already open for client id %s", clientID)
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(wsURL, nil)
	if err != nil {
		slog.Error("failed to open push channel", "url", wsURL, "error", err)
		return nil, fmt.Errorf("opening push channel: %w", err)
	}

	ch := &JobChannel{
		ClientID:   clientID,
		Events:     make(chan Event, 4),
		client:     c,
		conn:       conn,
		onProgress: onProgress,
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	if _, ok := c.channels[clientID]; ok {
		// raced with another open for the same id
		c.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("channel already open for client id %s", clientID)
	}
	c.channels[clientID] = ch
	c.mu.Unlock()

	go ch.readLoop()
	return ch, nil
}

// Close tears the channel down and removes it from the registry. Safe to call
// more than once and safe to call concurrently with the read loop.
func (ch *JobChannel) Close() {
	ch.closeOnce.Do(func() {
		ch.closed.Store(true)
		close(ch.done)
		ch.conn.Close()
		ch.client.dropChannel(ch.ClientID)
	})
}

func (ch *JobChannel) readLoop() {
	defer func() {
		ch.client.dropChannel(ch.ClientID)
		close(ch.Events)
	}()

	for {
		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			if ch.closed.Load() {
				return
			}
			slog.Warn("push channel closed unexpectedly", "clientId", ch.ClientID, "error", err)
			ch.deliver(Event{
				Kind:    EventTransport,
				Message: "lost connection to the image generation channel",
			})
			return
		}

		ev, progress := DecodeMessage(raw)
		if progress != nil && ch.onProgress != nil {
			ch.onProgress(*progress)
		}
		if ev.Kind == EventIgnored {
			continue
		}
		if !ch.deliver(ev) {
			return
		}
	}
}

func (ch *JobChannel) deliver(ev Event) bool {
	select {
	case ch.Events <- ev:
		return true
	case <-ch.done:
		return false
	}
}

func (c *Client) dropChannel(clientID string) {
	c.mu.Lock()
	delete(c.channels, clientID)
	c.mu.Unlock()
}

// channelURL rewrites the HTTP(S) base URL to its websocket counterpart.
func (c *Client) channelURL(clientID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server address %q is not http or https", c.baseURL)
	}
	u.Path = path.Join(u.Path, "ws")
	u.RawQuery = url.Values{"clientId": {clientID}}.Encode()
	return u.String(), nil
}
