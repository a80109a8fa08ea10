// Package client composes the synchronization core: the connection
// manager, active-room tracker, message stream, typing coordinator,
// notification inbox, and message-store client, wired together behind
// the small operation surface the presentation layer calls into.
package client

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/murmur/chat-client/internal/chat"
	"github.com/murmur/chat-client/internal/connection"
	"github.com/murmur/chat-client/internal/metrics"
)

// Store is the external message-store collaborator. Implemented by
// history.Client.
type Store interface {
	History(ctx context.Context, roomID string) ([]chat.Message, error)
	Send(ctx context.Context, roomID, content string) (chat.Message, error)
}

// UpdateKind tells the presentation layer which slice of state went
// stale.
type UpdateKind string

const (
	// UpdateMessages: the active room's ordered view changed.
	UpdateMessages UpdateKind = "messages"
	// UpdateTyping: the remote typing indicator changed.
	UpdateTyping UpdateKind = "typing"
	// UpdateInbox: the notification list changed.
	UpdateInbox UpdateKind = "inbox"
	// UpdateRoster: a room's most-recent-message preview is stale and
	// the conversation list should be refetched.
	UpdateRoster UpdateKind = "roster"
	// UpdateDisconnected: the transport failed; the session is dead.
	UpdateDisconnected UpdateKind = "disconnected"
	// UpdateError: an asynchronous operation failed (e.g. a history
	// fetch); Err carries the cause for a user-visible report.
	UpdateError UpdateKind = "error"
)

// Update is a state-change notice pushed to the presentation layer.
// Updates are coalescing hints, not a message queue: the UI rereads
// snapshots through the accessor methods. A burst of same-kind updates
// collapses into one carrying the newest Err; the final update of a
// burst is never dropped.
type Update struct {
	Kind UpdateKind
	Err  error
}

// Config wires a Core's collaborators.
type Config struct {
	Dialer connection.Dialer
	Store  Store
	// TypistOptions tune debounce and remote expiry; empty keeps the
	// reference behavior.
	TypistOptions []chat.TypistOption
}

// Core is the realtime synchronization engine for one user's view of
// the chat system. It owns exactly one logical room membership at a
// time, merges fetched history with pushed events into a consistent
// ordered view, runs the typing protocol, and aggregates cross-room
// notifications.
type Core struct {
	conn    *connection.Manager
	store   Store
	tracker *chat.Tracker
	stream  *chat.Stream
	typist  *chat.Typist
	inbox   *chat.Inbox

	updates chan Update
	wake    chan struct{}
	stop    chan struct{}

	pendMu  sync.Mutex
	pending []Update
	queued  map[UpdateKind]int

	mu        sync.Mutex
	active    chat.Room
	hasActive bool
	rooms     map[string]chat.Room
	subs      []*connection.Subscription
	closed    bool
}

// New creates an unconnected core.
func New(cfg Config) *Core {
	c := &Core{
		store:   cfg.Store,
		stream:  chat.NewStream(),
		updates: make(chan Update, 16),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		queued:  make(map[UpdateKind]int),
		rooms:   make(map[string]chat.Room),
	}
	c.conn = connection.NewManager(cfg.Dialer)
	c.tracker = chat.NewTracker(c.conn.JoinRoom)
	c.inbox = chat.NewInbox(func() {
		metrics.NotificationsPending.Set(float64(c.inbox.Len()))
		c.notify(UpdateRoster)
		c.notify(UpdateInbox)
	})
	c.typist = chat.NewTypist(
		func(roomID string) {
			if err := c.conn.Typing(roomID); err != nil {
				log.Printf("client: typing signal room=%s: %v", roomID, err)
			}
		},
		func(roomID string) {
			if err := c.conn.StopTyping(roomID); err != nil {
				log.Printf("client: stop typing signal room=%s: %v", roomID, err)
			}
		},
		cfg.TypistOptions...,
	)
	go c.pumpUpdates()
	return c
}

// Connect opens the event channel for the identity and establishes the
// core's subscriptions — once per session, released on Close, never
// re-registered per state change.
func (c *Core) Connect(ctx context.Context, identity connection.Identity) error {
	if _, err := c.conn.Connect(ctx, identity); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) > 0 {
		// Reconnect of an existing core; subscriptions survive.
		return nil
	}
	c.subs = []*connection.Subscription{
		c.conn.Subscribe(connection.EventMessageReceived, c.onMessageReceived),
		c.conn.Subscribe(connection.EventMessageEdited, c.onMessageEdited),
		c.conn.Subscribe(connection.EventTypingStarted, c.onTypingStarted),
		c.conn.Subscribe(connection.EventTypingStopped, c.onTypingStopped),
		c.conn.Subscribe(connection.EventDisconnected, c.onDisconnected),
	}
	return nil
}

// Close releases the subscriptions and tears down the session.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	close(c.stop)
	for _, sub := range subs {
		sub.Cancel()
	}
	return c.conn.Close()
}

// Updates returns the channel of state-change notices for the
// presentation layer. The channel is never closed; stop reading after
// Close.
func (c *Core) Updates() <-chan Update {
	return c.updates
}

func (c *Core) notify(kind UpdateKind) {
	c.enqueue(Update{Kind: kind})
}

func (c *Core) notifyErr(err error) {
	c.enqueue(Update{Kind: UpdateError, Err: err})
}

// enqueue records an update without ever blocking the event path. At
// most one update per kind is pending at a time; a repeat overwrites
// the pending one in place, so a burst collapses to its newest update
// instead of losing its tail when the UI falls behind.
func (c *Core) enqueue(u Update) {
	c.pendMu.Lock()
	if i, ok := c.queued[u.Kind]; ok {
		c.pending[i] = u
	} else {
		c.queued[u.Kind] = len(c.pending)
		c.pending = append(c.pending, u)
	}
	c.pendMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pumpUpdates drains pending updates into the presentation channel on
// its own goroutine, so the read loop never waits on a slow UI.
func (c *Core) pumpUpdates() {
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		}
		for {
			c.pendMu.Lock()
			if len(c.pending) == 0 {
				c.pendMu.Unlock()
				break
			}
			batch := c.pending
			c.pending = nil
			c.queued = make(map[UpdateKind]int)
			c.pendMu.Unlock()

			for _, u := range batch {
				select {
				case c.updates <- u:
				case <-c.stop:
					return
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Room switching
// ---------------------------------------------------------------------------

// SetActiveRoom makes room the one being viewed. Rebinding the routing
// baseline is the first mutation of the switch: an event delivered
// mid-switch is classified against the new room, so a stale push can
// neither land in the cleared view nor slip back into the inbox behind
// the dismissal below. The transport join and the history fetch
// follow, the fetch asynchronously so pending timers and input are
// never stalled.
func (c *Core) SetActiveRoom(ctx context.Context, room chat.Room) error {
	c.mu.Lock()
	c.active = room
	c.hasActive = true
	c.rooms[room.ID] = room
	c.mu.Unlock()

	joinErr := c.tracker.SetActiveRoom(room.ID)

	c.typist.Reset()
	c.stream.LoadHistory(nil)
	c.notify(UpdateTyping)
	c.notify(UpdateMessages)

	c.inbox.DismissRoom(room.ID)
	metrics.NotificationsPending.Set(float64(c.inbox.Len()))
	c.notify(UpdateInbox)

	if joinErr != nil {
		return fmt.Errorf("client: join room %s: %w", room.ID, joinErr)
	}

	go c.fetchHistory(ctx, room.ID)
	return nil
}

// Deactivate clears the active room; every subsequent push event
// routes to the inbox.
func (c *Core) Deactivate() {
	c.mu.Lock()
	c.hasActive = false
	c.mu.Unlock()

	c.typist.Reset()
	c.stream.LoadHistory(nil)
	_ = c.tracker.SetActiveRoom("")
	c.notify(UpdateMessages)
}

func (c *Core) fetchHistory(ctx context.Context, roomID string) {
	msgs, err := c.store.History(ctx, roomID)
	if err != nil {
		log.Printf("client: history fetch room=%s: %v", roomID, err)
		c.notifyErr(err)
		return
	}
	// The user may have switched again while the fetch was in flight;
	// a stale history must not clobber the new room's view.
	if !c.tracker.IsActiveRoom(roomID) {
		return
	}
	c.stream.LoadHistory(msgs)
	c.notify(UpdateMessages)
}

// ActiveRoom returns the room being viewed, if any.
func (c *Core) ActiveRoom() (chat.Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.hasActive
}

// ---------------------------------------------------------------------------
// Local input
// ---------------------------------------------------------------------------

// Keystroke records composing activity in the active room, driving the
// debounced typing signal. A keystroke with no active room is ignored.
func (c *Core) Keystroke() {
	roomID, ok := c.tracker.ActiveRoom()
	if !ok {
		return
	}
	c.typist.Keystroke(roomID)
}

// Send posts content to the active room. On success the message is
// echoed into the view immediately (optimistic local echo) and
// announced on the channel; the self-receipt arriving later is not
// deduplicated against the echo. A store failure returns a *FetchError
// and leaves the view untouched.
func (c *Core) Send(ctx context.Context, content string) (chat.Message, error) {
	roomID, ok := c.tracker.ActiveRoom()
	if !ok {
		return chat.Message{}, fmt.Errorf("client: no active room")
	}

	// Sending implies composing is over, independent of the debounce.
	c.typist.MessageSent(roomID)

	msg, err := c.store.Send(ctx, roomID, content)
	if err != nil {
		return chat.Message{}, err
	}

	if err := c.conn.Announce(msg); err != nil {
		log.Printf("client: announce message id=%s: %v", msg.ID, err)
	}
	c.stream.AppendLocal(msg)
	c.notify(UpdateMessages)
	return msg, nil
}

// DismissNotification removes one inbox entry by message id.
func (c *Core) DismissNotification(messageID string) {
	c.inbox.Dismiss(messageID)
	metrics.NotificationsPending.Set(float64(c.inbox.Len()))
	c.notify(UpdateInbox)
}

// ---------------------------------------------------------------------------
// Snapshots for the presentation layer
// ---------------------------------------------------------------------------

// Messages returns the active room's ordered view, oldest first.
func (c *Core) Messages() []chat.Message { return c.stream.Messages() }

// RemoteTyping reports whether the remote typing indicator should
// render for the active room.
func (c *Core) RemoteTyping() bool { return c.typist.RemoteTyping() }

// Notifications returns pending cross-room entries, most recent first.
func (c *Core) Notifications() []chat.Entry { return c.inbox.Entries() }

// UnreadByRoom returns pending notification counts per room.
func (c *Core) UnreadByRoom() map[string]int { return c.inbox.UnreadByRoom() }

// ---------------------------------------------------------------------------
// Inbound event routing
// ---------------------------------------------------------------------------

func (c *Core) onMessageReceived(ev connection.Event) {
	if c.tracker.IsActiveRoom(ev.Message.RoomID) {
		c.stream.ApplyReceived(ev.Message)
		c.notify(UpdateMessages)
		return
	}

	c.mu.Lock()
	c.rooms[ev.Room.ID] = ev.Room
	c.mu.Unlock()
	c.inbox.Add(ev.Message, ev.Room)
}

func (c *Core) onMessageEdited(ev connection.Event) {
	if !c.tracker.IsActiveRoom(ev.Message.RoomID) {
		// Edits for rooms not being viewed reconcile through the next
		// history fetch.
		if !c.knowsRoom(ev.Message.RoomID) {
			metrics.RoutingAnomalies.Inc()
		}
		return
	}
	// Unknown ids inside the active room are silently ignored by the
	// stream itself.
	c.stream.ApplyEdited(ev.Message)
	c.notify(UpdateMessages)
}

func (c *Core) onTypingStarted(ev connection.Event) {
	if !c.tracker.IsActiveRoom(ev.RoomID) {
		if !c.knowsRoom(ev.RoomID) {
			metrics.RoutingAnomalies.Inc()
		}
		return
	}
	c.typist.RemoteStarted()
	c.notify(UpdateTyping)
}

func (c *Core) onTypingStopped(ev connection.Event) {
	if !c.tracker.IsActiveRoom(ev.RoomID) {
		if !c.knowsRoom(ev.RoomID) {
			metrics.RoutingAnomalies.Inc()
		}
		return
	}
	c.typist.RemoteStopped()
	c.notify(UpdateTyping)
}

func (c *Core) onDisconnected(ev connection.Event) {
	c.enqueue(Update{Kind: UpdateDisconnected, Err: ev.Err})
}

func (c *Core) knowsRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}
