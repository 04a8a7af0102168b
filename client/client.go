// Package client talks to a ComfyUI server: job submission over HTTP, result
// retrieval through /view, and per-job push channels over websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a handle on one ComfyUI server, identified by its HTTP(S) base
// URL. It also owns the registry of open push channels so that a stale handle
// is never reused after a transport failure.
type Client struct {
	baseURL    string
	csrfToken  string
	httpclient *http.Client
	dialer     websocket.Dialer

	mu       sync.Mutex
	channels map[string]*JobChannel
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:8188".
func NewClient(baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server address %q is not http or https", baseURL)
	}
	return &Client{
		baseURL:    baseURL,
		httpclient: &http.Client{},
		dialer:     *websocket.DefaultDialer,
		channels:   make(map[string]*JobChannel),
	}, nil
}

// BaseURL returns the server address the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// return the underlying http client
func (c *Client) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// SetCSRFToken sets an anti-forgery token to send with every submission. The
// header is best effort; an empty token sends nothing.
func (c *Client) SetCSRFToken(token string) {
	c.csrfToken = token
}

// QueuePrompt submits a filled workflow document under the given correlation
// id. A nil error means the server accepted the job for queueing, nothing
// more; completion or failure arrives on the job's push channel.
func (c *Client) QueuePrompt(ctx context.Context, doc any, clientID string) (*QueueResponse, error) {
	body, err := json.Marshal(PromptRequest{Prompt: doc, ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("encoding prompt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", c.csrfToken)
	}

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submitting prompt: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	item := &QueueResponse{}
	if err := json.Unmarshal(data, item); err != nil || item.PromptID == "" {
		// the server may have answered with a structured prompt error instead
		perror := &PromptErrorMessage{}
		if perr := json.Unmarshal(data, perror); perr == nil && perror.Error.Message != "" {
			return nil, errors.New(perror.Error.Message)
		}
		slog.Error("unexpected response queueing prompt", "status", resp.StatusCode, "body", string(data))
		return nil, fmt.Errorf("server rejected the prompt (status %d)", resp.StatusCode)
	}
	return item, nil
}

// ViewURL returns the stable retrieval URL for a generated file. The
// subfolder parameter is omitted when empty.
func (c *Client) ViewURL(file ImageFile) string {
	params := url.Values{}
	params.Add("filename", file.Filename)
	if file.Subfolder != "" {
		params.Add("subfolder", file.Subfolder)
	}
	params.Add("type", file.Type)
	return c.baseURL + "/view?" + params.Encode()
}

// RenderURL is ViewURL plus a cache-busting parameter, for handing straight
// to a renderer.
func (c *Client) RenderURL(file ImageFile) string {
	return c.ViewURL(file) + "&t=" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// GetImage downloads a generated file's bytes.
func (c *Client) GetImage(ctx context.Context, file ImageFile) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ViewURL(file), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieving %s: status %d", file.Filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Probe checks that the server is reachable. Only success or failure of the
// request is meaningful; the response body is discarded.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server answered status %d", resp.StatusCode)
	}
	return nil
}

// GetSystemStats retrieves and parses the server's OS and device report.
func (c *Client) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	retv := &SystemStats{}
	if err := json.Unmarshal(body, retv); err != nil {
		return nil, err
	}
	return retv, nil
}
