package connection

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/murmur/chat-client/internal/chat"
	"github.com/murmur/chat-client/internal/metrics"
	"github.com/murmur/chat-client/internal/protocol"
)

// EventKind names a class of events subscribers can register for.
type EventKind string

const (
	// EventConnected fires once the setup handshake completes.
	EventConnected EventKind = "connected"
	// EventRoomJoined fires when a join request has been handed to the
	// transport. Joins carry no server acknowledgement; this event
	// acknowledges the request itself.
	EventRoomJoined EventKind = "room-joined"
	// EventMessageReceived fires for every pushed message, regardless
	// of which room it belongs to. Routing by active room is the
	// subscriber's concern.
	EventMessageReceived EventKind = "message-received"
	// EventMessageEdited fires for every pushed edit.
	EventMessageEdited EventKind = "message-edited"
	// EventTypingStarted and EventTypingStopped relay the remote
	// party's typing signals.
	EventTypingStarted EventKind = "typing-started"
	EventTypingStopped EventKind = "typing-stopped"
	// EventDisconnected fires when the transport fails. The session is
	// dead afterwards; reconnection is a new explicit Connect.
	EventDisconnected EventKind = "disconnected"
)

// Event is what subscribers receive. Fields are populated according to
// the kind: Message and Room for message events, RoomID for typing and
// join events, Err for disconnects.
type Event struct {
	Kind    EventKind
	Message chat.Message
	Room    chat.Room
	RoomID  string
	Err     error
}

// Handler consumes one event. Handlers run on the manager's read-loop
// goroutine in transport arrival order and must not block.
type Handler func(Event)

// Subscription is a cancellable registration of interest in one event
// kind.
type Subscription struct {
	m    *Manager
	kind EventKind
	id   uint64
}

// Cancel releases the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.m == nil {
		return
	}
	s.m.unsubscribe(s.kind, s.id)
	s.m = nil
}

// Session describes one live transport connection bound to an
// identity.
type Session struct {
	Identity Identity

	transport Transport
	ready     chan struct{}
	dead      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	readyOk bool
	err     error
}

// Connected reports whether the handshake completed and the transport
// has not failed since.
func (s *Session) Connected() bool {
	select {
	case <-s.dead:
		return false
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyOk
}

// Close tears the session down. The read loop exits without
// broadcasting a disconnect; closing is not a failure.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.dead)
		err = s.transport.Close()
	})
	return err
}

func (s *Session) markReady() {
	s.mu.Lock()
	if !s.readyOk {
		s.readyOk = true
		close(s.ready)
	}
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.dead)
		_ = s.transport.Close()
	})
}

func (s *Session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Manager owns the single event channel to the server. It dials via
// the injected Dialer, runs one read loop per session, and fans
// inbound events out to subscribers in arrival order without any
// reordering of its own.
type Manager struct {
	dial Dialer

	mu      sync.Mutex
	session *Session

	subsMu sync.RWMutex
	subs   map[EventKind][]*Subscription
	hands  map[uint64]Handler
	nextID uint64
}

// NewManager creates a manager that dials with the given Dialer.
func NewManager(dial Dialer) *Manager {
	return &Manager{
		dial:  dial,
		subs:  make(map[EventKind][]*Subscription),
		hands: make(map[uint64]Handler),
	}
}

// Connect establishes a session for the identity. Repeated calls with
// the same identity return the live session instead of opening a
// second channel. A call with a different identity tears the previous
// session down first. Failure to dial or to complete the setup
// handshake returns a *ConnectError.
func (m *Manager) Connect(ctx context.Context, identity Identity) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.session; s != nil && s.Connected() {
		if s.Identity.User.ID == identity.User.ID {
			return s, nil
		}
		log.Printf("connection: identity changed user=%s -> %s, closing session",
			s.Identity.User.ID, identity.User.ID)
		_ = s.Close()
		m.session = nil
	}

	transport, err := m.dial(ctx, identity)
	if err != nil {
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return nil, &ConnectError{Reason: "transport unreachable", Err: err}
	}

	s := &Session{
		Identity:  identity,
		transport: transport,
		ready:     make(chan struct{}),
		dead:      make(chan struct{}),
	}
	go m.readLoop(s)

	data, err := protocol.NewClientMessage(protocol.TypeSetup, protocol.SetupMsg{
		User: identity.User,
	})
	if err != nil {
		_ = s.Close()
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return nil, &ConnectError{Reason: "encode setup", Err: err}
	}
	if err := transport.Send(data); err != nil {
		_ = s.Close()
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return nil, &ConnectError{Reason: "send setup", Err: err}
	}

	select {
	case <-s.ready:
	case <-s.dead:
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		if err := s.failure(); err != nil {
			return nil, &ConnectError{Reason: "setup rejected", Err: err}
		}
		return nil, &ConnectError{Reason: "transport closed during setup"}
	case <-ctx.Done():
		_ = s.Close()
		metrics.ConnectsTotal.WithLabelValues("error").Inc()
		return nil, &ConnectError{Reason: "setup deadline", Err: ctx.Err()}
	}

	m.session = s
	metrics.ConnectsTotal.WithLabelValues("ok").Inc()
	log.Printf("connection: session established user=%s", identity.User.ID)
	return s, nil
}

// Session returns the current session, or nil when none is live.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Close tears down the current session, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}

// Subscribe registers a handler for one event kind and returns a
// cancellable handle. Delivery order follows transport arrival order.
func (m *Manager) Subscribe(kind EventKind, handler Handler) *Subscription {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.nextID++
	sub := &Subscription{m: m, kind: kind, id: m.nextID}
	m.subs[kind] = append(m.subs[kind], sub)
	m.hands[sub.id] = handler
	return sub
}

func (m *Manager) unsubscribe(kind EventKind, id uint64) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	list := m.subs[kind]
	for i, sub := range list {
		if sub.id == id {
			m.subs[kind] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(m.hands, id)
}

// deliver invokes every handler registered for the event's kind, in
// registration order, on the calling goroutine.
func (m *Manager) deliver(ev Event) {
	m.subsMu.RLock()
	handlers := make([]Handler, 0, len(m.subs[ev.Kind]))
	for _, sub := range m.subs[ev.Kind] {
		if h, ok := m.hands[sub.id]; ok {
			handlers = append(handlers, h)
		}
	}
	m.subsMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// ---------------------------------------------------------------------------
// Outbound operations
// ---------------------------------------------------------------------------

// JoinRoom registers interest in a room's events on the transport.
// Joins are additive; the manager never leaves a room.
func (m *Manager) JoinRoom(roomID string) error {
	if err := m.send(protocol.TypeJoinRoom, protocol.JoinRoomMsg{RoomID: roomID}); err != nil {
		return err
	}
	m.deliver(Event{Kind: EventRoomJoined, RoomID: roomID})
	return nil
}

// Announce publishes a message the client already persisted through
// the message store, so the server fans it out to the room.
func (m *Manager) Announce(msg chat.Message) error {
	return m.send(protocol.TypeNewMessage, protocol.NewMessageMsg{Message: msg})
}

// Typing signals that the local user started composing in a room.
func (m *Manager) Typing(roomID string) error {
	return m.send(protocol.TypeTyping, protocol.TypingMsg{RoomID: roomID})
}

// StopTyping signals that the local user stopped composing.
func (m *Manager) StopTyping(roomID string) error {
	return m.send(protocol.TypeStopTyping, protocol.StopTypingMsg{RoomID: roomID})
}

func (m *Manager) send(msgType string, payload interface{}) error {
	s := m.Session()
	if s == nil {
		return fmt.Errorf("connection: no live session")
	}
	data, err := protocol.NewClientMessage(msgType, payload)
	if err != nil {
		return err
	}
	return s.transport.Send(data)
}

// ---------------------------------------------------------------------------
// Read loop
// ---------------------------------------------------------------------------

// readLoop is the session's single inbound goroutine. All subscriber
// delivery happens here, which is what guarantees arrival-order
// delivery without extra synchronization.
func (m *Manager) readLoop(s *Session) {
	for {
		data, err := s.transport.Receive()
		if err != nil {
			select {
			case <-s.dead:
				// Intentional close; not a failure.
				return
			default:
			}
			log.Printf("connection: transport failed user=%s: %v", s.Identity.User.ID, err)
			metrics.Disconnects.Inc()
			s.fail(err)
			m.deliver(Event{Kind: EventDisconnected, Err: err})
			return
		}

		msgType, msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			log.Printf("connection: dropping unparseable message: %v", err)
			continue
		}
		metrics.EventsTotal.WithLabelValues(msgType).Inc()

		switch v := msg.(type) {
		case protocol.ConnectedMsg:
			s.markReady()
			m.deliver(Event{Kind: EventConnected})
		case protocol.MessageReceivedMsg:
			m.deliver(Event{Kind: EventMessageReceived, Message: v.Message, Room: v.Room})
		case protocol.MessageEditedMsg:
			m.deliver(Event{Kind: EventMessageEdited, Message: v.Message})
		case protocol.TypingMsg:
			m.deliver(Event{Kind: EventTypingStarted, RoomID: v.RoomID})
		case protocol.StopTypingMsg:
			m.deliver(Event{Kind: EventTypingStopped, RoomID: v.RoomID})
		case protocol.ErrorMsg:
			if !s.Connected() {
				// An error during the handshake is a rejection.
				s.fail(fmt.Errorf("connection: server error %s: %s", v.Code, v.Message))
				return
			}
			log.Printf("connection: server error code=%s message=%q", v.Code, v.Message)
		}
	}
}
