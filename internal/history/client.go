// Package history is the client for the external message store: the
// HTTP service that owns message persistence. The store is the source
// of truth for a room's history; this package only fetches and posts,
// it never caches.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/murmur/chat-client/internal/chat"
	"github.com/murmur/chat-client/internal/metrics"
)

// defaultTimeout bounds store calls that carry no tighter context
// deadline of their own.
const defaultTimeout = 10 * time.Second

// FetchError reports a failed store request. It is recoverable: the
// caller reports it to the user and leaves view state unchanged.
type FetchError struct {
	Op     string // "history" or "send"
	Status int    // HTTP status, 0 when the request never completed
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("history: %s failed: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("history: %s failed: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the message store with a bearer credential.
// Concurrent History calls for the same room are collapsed into one
// request; callers share the result.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	group   singleflight.Group
}

// NewClient creates a store client rooted at baseURL (e.g.
// "http://localhost:8080"). token is the opaque bearer credential.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: defaultTimeout},
	}
}

// History fetches a room's messages in the store's order, oldest
// first.
func (c *Client) History(ctx context.Context, roomID string) ([]chat.Message, error) {
	v, err, _ := c.group.Do(roomID, func() (interface{}, error) {
		return c.fetchHistory(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]chat.Message), nil
}

func (c *Client) fetchHistory(ctx context.Context, roomID string) ([]chat.Message, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/message/"+roomID, nil)
	if err != nil {
		return nil, &FetchError{Op: "history", Err: err}
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "history", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Op: "history", Status: resp.StatusCode}
	}

	var msgs []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, &FetchError{Op: "history", Err: err}
	}

	metrics.HistoryFetchLatency.Observe(time.Since(start).Seconds())
	return msgs, nil
}

// Send posts a new message to the store and returns the persisted
// message, id and timestamps assigned by the server.
func (c *Client) Send(ctx context.Context, roomID, content string) (chat.Message, error) {
	body, err := json.Marshal(map[string]string{
		"room_id": roomID,
		"content": content,
	})
	if err != nil {
		return chat.Message{}, &FetchError{Op: "send", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/message", bytes.NewReader(body))
	if err != nil {
		return chat.Message{}, &FetchError{Op: "send", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return chat.Message{}, &FetchError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return chat.Message{}, &FetchError{Op: "send", Status: resp.StatusCode}
	}

	var msg chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return chat.Message{}, &FetchError{Op: "send", Err: err}
	}

	metrics.MessagesSent.Inc()
	return msg, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}
