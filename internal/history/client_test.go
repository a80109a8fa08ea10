package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHistoryFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/message/r-1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("expected bearer credential, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "m-1", "room_id": "r-1", "sender": {"id": "u-2", "name": "dana"}, "content": "hi", "created_at": "2025-06-01T12:00:00Z"},
			{"id": "m-2", "room_id": "r-1", "sender": {"id": "u-1", "name": "me"}, "content": "hey", "created_at": "2025-06-01T12:01:00Z"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1")
	msgs, err := c.History(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m-1" || msgs[1].ID != "m-2" {
		t.Errorf("expected store order preserved, got %q, %q", msgs[0].ID, msgs[1].ID)
	}
}

func TestHistoryErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token")
	_, err := c.History(context.Background(), "r-1")

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.Op != "history" {
		t.Errorf("expected op %q, got %q", "history", fe.Op)
	}
	if fe.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", fe.Status)
	}
}

func TestHistoryUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "tok-1")
	_, err := c.History(context.Background(), "r-1")

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.Err == nil {
		t.Error("expected the transport error to be wrapped")
	}
}

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/message" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if body["room_id"] != "r-1" || body["content"] != "hi there" {
			t.Errorf("unexpected body: %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "m-42", "room_id": "r-1", "sender": {"id": "u-1", "name": "me"}, "content": "hi there", "created_at": "2025-06-01T12:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1")
	msg, err := c.Send(context.Background(), "r-1", "hi there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != "m-42" {
		t.Errorf("expected server-assigned id, got %q", msg.ID)
	}
	if msg.Content != "hi there" {
		t.Errorf("expected content echoed back, got %q", msg.Content)
	}
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1")
	_, err := c.Send(context.Background(), "r-1", "hi")

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	if fe.Op != "send" {
		t.Errorf("expected op %q, got %q", "send", fe.Op)
	}
}
