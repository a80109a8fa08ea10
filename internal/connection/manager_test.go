package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/murmur/chat-client/internal/chat"
	"github.com/murmur/chat-client/internal/protocol"
)

// fakeTransport is an in-memory Transport driven by the test. Inbound
// messages are queued on a channel; closing the inbound channel
// simulates a server-side drop.
type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte

	inbound     chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	rejectSetup bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, data)
	t.mu.Unlock()

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	// Answer the handshake the way a live server would.
	if env.Type == protocol.TypeSetup {
		if t.rejectSetup {
			t.push(`{"type":"error","code":"auth_rejected","message":"bad token"}`)
		} else {
			t.push(`{"type":"connected"}`)
		}
	}
	return nil
}

func (t *fakeTransport) push(raw string) {
	t.inbound <- []byte(raw)
}

func (t *fakeTransport) drop() {
	close(t.inbound)
}

func (t *fakeTransport) Receive() ([]byte, error) {
	select {
	case <-t.done:
		return nil, fmt.Errorf("transport closed")
	case data, ok := <-t.inbound:
		if !ok {
			return nil, fmt.Errorf("connection reset")
		}
		return data, nil
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *fakeTransport) sentTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var types []string
	for _, data := range t.sent {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &env)
		types = append(types, env.Type)
	}
	return types
}

func dialerFor(t *fakeTransport, dials *int) Dialer {
	return func(ctx context.Context, identity Identity) (Transport, error) {
		if dials != nil {
			*dials++
		}
		return t, nil
	}
}

func testIdentity(userID string) Identity {
	return Identity{
		User:  chat.User{ID: userID, Name: "user " + userID},
		Token: "tok-" + userID,
	}
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestConnectIsIdempotentPerIdentity(t *testing.T) {
	ft := newFakeTransport()
	dials := 0
	m := NewManager(dialerFor(ft, &dials))
	defer m.Close()

	s1, err := m.Connect(context.Background(), testIdentity("u-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := m.Connect(context.Background(), testIdentity("u-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s1 != s2 {
		t.Error("expected the same session for repeated connects")
	}
	if dials != 1 {
		t.Errorf("expected exactly 1 dial, got %d", dials)
	}
	if !s1.Connected() {
		t.Error("expected session connected after handshake")
	}
}

func TestConnectDialFailure(t *testing.T) {
	dialErr := errors.New("no route to host")
	m := NewManager(func(ctx context.Context, identity Identity) (Transport, error) {
		return nil, dialErr
	})

	_, err := m.Connect(context.Background(), testIdentity("u-1"))
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectError, got %T: %v", err, err)
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("expected wrapped dial error, got %v", err)
	}
}

func TestConnectSetupRejected(t *testing.T) {
	ft := newFakeTransport()
	ft.rejectSetup = true
	m := NewManager(dialerFor(ft, nil))

	_, err := m.Connect(context.Background(), testIdentity("u-1"))
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectError, got %T: %v", err, err)
	}
	if m.Session() != nil {
		t.Error("expected no live session after a rejected setup")
	}
}

func TestIdentityChangeReplacesSession(t *testing.T) {
	ft1 := newFakeTransport()
	ft2 := newFakeTransport()
	transports := []*fakeTransport{ft1, ft2}
	dials := 0
	m := NewManager(func(ctx context.Context, identity Identity) (Transport, error) {
		tr := transports[dials]
		dials++
		return tr, nil
	})
	defer m.Close()

	s1, err := m.Connect(context.Background(), testIdentity("u-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := m.Connect(context.Background(), testIdentity("u-2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s1 == s2 {
		t.Fatal("expected a fresh session for the new identity")
	}
	if s1.Connected() {
		t.Error("expected the old session torn down")
	}
	if !s2.Connected() {
		t.Error("expected the new session live")
	}
}

func TestEventsDeliveredInArrivalOrder(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(dialerFor(ft, nil))
	defer m.Close()

	got := make(chan Event, 16)
	m.Subscribe(EventMessageReceived, func(ev Event) { got <- ev })

	if _, err := m.Connect(context.Background(), testIdentity("u-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 1; i <= 3; i++ {
		ft.push(fmt.Sprintf(`{
			"type": "message_received",
			"message": {"id": "m-%d", "room_id": "r-1", "sender": {"id": "u-2", "name": "dana"}, "content": "x", "created_at": "2025-06-01T12:00:00Z"},
			"room": {"id": "r-1", "name": "dana", "is_group": false, "members": []}
		}`, i))
	}

	for i := 1; i <= 3; i++ {
		ev := waitEvent(t, got)
		want := fmt.Sprintf("m-%d", i)
		if ev.Message.ID != want {
			t.Fatalf("event %d: expected id %q, got %q", i, want, ev.Message.ID)
		}
	}
}

func TestCancelledSubscriptionStopsDelivery(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(dialerFor(ft, nil))
	defer m.Close()

	got := make(chan Event, 16)
	sub := m.Subscribe(EventTypingStarted, func(ev Event) { got <- ev })
	kept := make(chan Event, 16)
	m.Subscribe(EventTypingStarted, func(ev Event) { kept <- ev })

	if _, err := m.Connect(context.Background(), testIdentity("u-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub.Cancel()
	sub.Cancel() // double cancel is safe

	ft.push(`{"type":"typing","room_id":"r-1"}`)

	ev := waitEvent(t, kept)
	if ev.RoomID != "r-1" {
		t.Errorf("expected room r-1, got %q", ev.RoomID)
	}
	select {
	case <-got:
		t.Fatal("cancelled subscription still received an event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisconnectSurfacedToSubscribers(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(dialerFor(ft, nil))

	got := make(chan Event, 1)
	m.Subscribe(EventDisconnected, func(ev Event) { got <- ev })

	s, err := m.Connect(context.Background(), testIdentity("u-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ft.drop()

	ev := waitEvent(t, got)
	if ev.Kind != EventDisconnected {
		t.Fatalf("expected disconnected event, got %q", ev.Kind)
	}
	if ev.Err == nil {
		t.Error("expected the transport error to be surfaced")
	}
	if s.Connected() {
		t.Error("expected session dead after transport failure")
	}
}

func TestJoinRoomSendsAndAcknowledges(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(dialerFor(ft, nil))
	defer m.Close()

	got := make(chan Event, 1)
	m.Subscribe(EventRoomJoined, func(ev Event) { got <- ev })

	if _, err := m.Connect(context.Background(), testIdentity("u-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.JoinRoom("r-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := waitEvent(t, got)
	if ev.RoomID != "r-1" {
		t.Errorf("expected join ack for r-1, got %q", ev.RoomID)
	}

	types := ft.sentTypes()
	if len(types) != 2 || types[0] != protocol.TypeSetup || types[1] != protocol.TypeJoinRoom {
		t.Errorf("expected [setup join_room] on the wire, got %v", types)
	}
}

func TestSendWithoutSession(t *testing.T) {
	m := NewManager(dialerFor(newFakeTransport(), nil))

	if err := m.Typing("r-1"); err == nil {
		t.Fatal("expected error sending without a session")
	}
}
