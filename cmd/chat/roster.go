package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/murmur/chat-client/internal/chat"
)

// roster fetches the user's conversation list from the backend. This
// is presentation-layer glue: the sync core only tells us when the
// list went stale (a notification arrived for a room whose preview we
// hold), and we refetch.
type roster struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func newRoster(baseURL, token string) *roster {
	return &roster{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Rooms returns the user's conversations, most recently active first.
func (r *roster) Rooms(ctx context.Context) ([]chat.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/chat", nil)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("roster: fetch: status %d", resp.StatusCode)
	}

	var rooms []chat.Room
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("roster: decode: %w", err)
	}
	return rooms, nil
}
