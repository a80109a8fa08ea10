package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/murmur/chat-client/internal/protocol"
)

// NATS subject layout shared with servers that bridge the chat fabric
// over NATS instead of WebSockets.
const (
	SubjectOutbound = "chat.client"   // all client -> server envelopes
	SubjectUser     = "chat.user"     // + .<user_id>, the personal feed
	SubjectRoom     = "chat.room"     // + .<room_id>, per-room fanout
)

// inboundBuffer bounds how many undelivered server messages queue up
// before NATS starts dropping for this slow consumer.
const inboundBuffer = 256

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	// MaxReconnects bounds reconnect attempts; once exhausted the
	// connection closes and the loss surfaces through Receive. -1
	// retries forever and never reports the outage.
	MaxReconnects int
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "murmur-client",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 10,
	}
}

// natsTransport carries the event channel over NATS subjects: the
// personal feed and every joined room's subject funnel into a single
// inbound channel so that Receive preserves arrival order.
type natsTransport struct {
	conn    *nats.Conn
	user    string
	inbound chan *nats.Msg
	done    chan struct{}
	closed  chan struct{} // the library gave up on the connection

	mu        sync.Mutex
	roomSubs  map[string]*nats.Subscription
	userSub   *nats.Subscription
	closeOnce sync.Once
}

// DialNATS returns a Dialer carrying the event channel over NATS. The
// personal feed subscription is established before setup is announced
// so the connected acknowledgement cannot be missed.
func DialNATS(config NATSConfig) Dialer {
	return func(ctx context.Context, identity Identity) (Transport, error) {
		closed := make(chan struct{})
		var closedOnce sync.Once

		opts := []nats.Option{
			nats.Name(config.Name + "-" + uuid.NewString()[:8]),
			nats.ReconnectWait(config.ReconnectWait),
			nats.MaxReconnects(config.MaxReconnects),
			nats.Token(identity.Token),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Printf("connection: nats disconnected: %v", err)
				} else {
					log.Printf("connection: nats disconnected")
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Printf("connection: nats reconnected to %s", nc.ConnectedUrl())
			}),
			// Without this a lost broker strands Receive on the inbound
			// channel forever and the loss never reaches subscribers.
			nats.ClosedHandler(func(nc *nats.Conn) {
				if err := nc.LastError(); err != nil {
					log.Printf("connection: nats connection closed: %v", err)
				} else {
					log.Printf("connection: nats connection closed")
				}
				closedOnce.Do(func() { close(closed) })
			}),
			nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
				if sub != nil && errors.Is(err, nats.ErrSlowConsumer) {
					dropped, _ := sub.Dropped()
					log.Printf("connection: nats slow consumer subject=%s dropped=%d", sub.Subject, dropped)
					return
				}
				log.Printf("connection: nats async error: %v", err)
			}),
		}

		nc, err := nats.Connect(config.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("connection: nats connect: %w", err)
		}

		t := &natsTransport{
			conn:     nc,
			user:     identity.User.ID,
			inbound:  make(chan *nats.Msg, inboundBuffer),
			done:     make(chan struct{}),
			closed:   closed,
			roomSubs: make(map[string]*nats.Subscription),
		}

		sub, err := nc.ChanSubscribe(SubjectUser+"."+identity.User.ID, t.inbound)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("connection: nats subscribe personal feed: %w", err)
		}
		t.userSub = sub

		log.Printf("connection: nats connected url=%s user=%s", nc.ConnectedUrl(), identity.User.ID)
		return t, nil
	}
}

// Send publishes one envelope to the outbound subject. join_room
// envelopes additionally subscribe the room's fanout subject into the
// shared inbound channel; joins are additive, so subjects are never
// unsubscribed on a room switch.
func (t *natsTransport) Send(data []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("connection: nats send: %w", err)
	}

	if env.Type == protocol.TypeJoinRoom {
		var join protocol.JoinRoomMsg
		if err := json.Unmarshal(env.Raw, &join); err != nil {
			return fmt.Errorf("connection: nats decode join: %w", err)
		}
		if err := t.subscribeRoom(join.RoomID); err != nil {
			return err
		}
	}

	if err := t.conn.Publish(SubjectOutbound, data); err != nil {
		return fmt.Errorf("connection: nats publish: %w", err)
	}
	return nil
}

func (t *natsTransport) subscribeRoom(roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.roomSubs[roomID]; ok {
		return nil
	}
	sub, err := t.conn.ChanSubscribe(SubjectRoom+"."+roomID, t.inbound)
	if err != nil {
		return fmt.Errorf("connection: nats subscribe room %s: %w", roomID, err)
	}
	t.roomSubs[roomID] = sub
	return nil
}

// Receive blocks on the next message from any subscribed subject.
// Messages already buffered drain before a connection loss is
// reported.
func (t *natsTransport) Receive() ([]byte, error) {
	select {
	case msg, ok := <-t.inbound:
		if !ok {
			return nil, fmt.Errorf("connection: nats inbound channel closed")
		}
		return msg.Data, nil
	default:
	}

	select {
	case <-t.done:
		return nil, fmt.Errorf("connection: transport closed")
	case <-t.closed:
		return nil, fmt.Errorf("connection: nats connection lost")
	case msg, ok := <-t.inbound:
		if !ok {
			return nil, fmt.Errorf("connection: nats inbound channel closed")
		}
		return msg.Data, nil
	}
}

// Close drains all subscriptions and the connection. Safe to call
// multiple times.
func (t *natsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		if t.userSub != nil {
			if err := t.userSub.Drain(); err != nil {
				log.Printf("connection: nats drain personal feed: %v", err)
			}
		}
		for roomID, sub := range t.roomSubs {
			if err := sub.Drain(); err != nil {
				log.Printf("connection: nats drain room %s: %v", roomID, err)
			}
		}
		t.roomSubs = make(map[string]*nats.Subscription)
		t.mu.Unlock()

		if err := t.conn.Drain(); err != nil {
			log.Printf("connection: nats connection drain: %v", err)
		}
	})
	return nil
}
