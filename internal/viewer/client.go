// Package viewer is a terminal client for a pane-relay server: a REST client
// for commands, a reconnecting stream watcher, and a bubbletea UI on top.
package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to a pane-relay server.
type Client struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:8000".
	BaseURL string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
}

// NewClient returns a Client for the server at base. A bare host:port is
// treated as http.
func NewClient(base string, logger *slog.Logger) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		Logger:  logger,
	}
}

// StreamURL returns the WebSocket URL streaming target.
func (c *Client) StreamURL(target string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/tmux/ws/" + target
	return u.String(), nil
}

// SendCommand types command into target as literal text.
func (c *Client) SendCommand(ctx context.Context, target, command string) error {
	body := map[string]any{"command": command, "target": target, "literal": true}
	return c.post(ctx, "/api/tmux/send-command", nil, body)
}

// SendEnter presses Enter in target.
func (c *Client) SendEnter(ctx context.Context, target string) error {
	return c.post(ctx, "/api/tmux/send-enter", url.Values{"target": {target}}, nil)
}

// Submit types command into target and presses Enter.
func (c *Client) Submit(ctx context.Context, target, command string) error {
	if err := c.SendCommand(ctx, target, command); err != nil {
		return err
	}
	return c.SendEnter(ctx, target)
}

func (c *Client) post(ctx context.Context, path string, query url.Values, body any) error {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return responseError(resp)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Detail string `json:"detail"`
	}
	detail := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		detail = body.Detail
	}
	return &APIError{Status: resp.StatusCode, Detail: detail}
}
