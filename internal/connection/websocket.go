package connection

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsTransport is the default Transport: a single WebSocket connection
// speaking text frames of JSON envelopes.
type wsTransport struct {
	conn      net.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// WebSocketDialer returns a Dialer that connects to serverURL
// (ws:// or wss://) presenting the identity's bearer token as a query
// parameter, the way the server's auth middleware expects it.
func WebSocketDialer(serverURL string) Dialer {
	return func(ctx context.Context, identity Identity) (Transport, error) {
		u, err := url.Parse(serverURL)
		if err != nil {
			return nil, fmt.Errorf("connection: invalid server url: %w", err)
		}
		q := u.Query()
		q.Set("token", identity.Token)
		u.RawQuery = q.Encode()

		conn, _, _, err := ws.Dial(ctx, u.String())
		if err != nil {
			return nil, fmt.Errorf("connection: dial %s: %w", u.Host, err)
		}
		return &wsTransport{
			conn: conn,
			done: make(chan struct{}),
		}, nil
	}
}

// Send writes one text frame. Goroutine-safe.
func (t *wsTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := wsutil.WriteClientMessage(t.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("connection: write: %w", err)
	}
	return nil
}

// Receive blocks on the next text frame from the server.
func (t *wsTransport) Receive() ([]byte, error) {
	data, err := wsutil.ReadServerText(t.conn)
	if err != nil {
		select {
		case <-t.done:
			return nil, fmt.Errorf("connection: transport closed")
		default:
		}
		return nil, fmt.Errorf("connection: read: %w", err)
	}
	return data, nil
}

// Close closes the underlying connection. Safe to call multiple times.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
