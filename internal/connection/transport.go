// Package connection owns the duplex event channel to the chat server:
// dialing, the setup handshake, the single read loop, and the
// subscription registry through which the rest of the client observes
// inbound events. Exactly one session is live per identity; repeated
// connects for the same identity return the existing session.
package connection

import (
	"context"
	"fmt"

	"github.com/murmur/chat-client/internal/chat"
)

// Identity is the authenticated user a session is opened for. Token is
// the opaque bearer credential issued at login; the transport presents
// it during dialing and the message store reuses it for HTTP calls.
type Identity struct {
	User  chat.User
	Token string
}

// Transport is a connected duplex byte channel carrying JSON envelopes
// (see internal/protocol). Send is safe for concurrent use; Receive is
// called from the manager's single read loop only.
type Transport interface {
	// Send writes one encoded client message.
	Send(data []byte) error
	// Receive blocks until the next server message arrives or the
	// transport fails. After Close it returns an error.
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens a Transport for the given identity. Implementations:
// DialWebSocket (default) and DialNATS.
type Dialer func(ctx context.Context, identity Identity) (Transport, error)

// ConnectError reports that the transport could not be established or
// the setup handshake was rejected. It is fatal to the session; the
// core performs no automatic retry.
type ConnectError struct {
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("connection: %s", e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Err }
