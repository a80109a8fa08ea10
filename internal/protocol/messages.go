// Package protocol defines the event-channel message types and
// structures exchanged between the chat client and the server. All
// messages are serialized as JSON and follow a consistent envelope
// format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/murmur/chat-client/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSetup      = "setup"
	TypeJoinRoom   = "join_room"
	TypeNewMessage = "new_message"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
)

// Server -> Client message types. TypeTyping and TypeStopTyping are
// shared: the server relays them back out to the other room members
// with the same type strings.
const (
	TypeConnected       = "connected"
	TypeMessageReceived = "message_received"
	TypeMessageEdited   = "message_edited"
	TypeError           = "error"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SetupMsg is the first message sent after the channel opens. It
// identifies the user so the server can bind the connection to the
// user's personal event feed.
type SetupMsg struct {
	Type string    `json:"type"`
	User chat.User `json:"user"`
}

// JoinRoomMsg registers interest in a room's events. Joins are
// additive; there is no corresponding leave message.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// NewMessageMsg announces a message the client has already persisted
// through the message store, so the server can fan it out to the other
// room members.
type NewMessageMsg struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// TypingMsg signals that a user started composing in a room. The same
// struct doubles as the server -> client relay of a remote party's
// typing signal.
type TypingMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// StopTypingMsg signals that a user stopped composing. Like TypingMsg
// it is relayed to other clients unchanged.
type StopTypingMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg acknowledges a completed setup handshake.
type ConnectedMsg struct {
	Type string `json:"type"`
}

// MessageReceivedMsg carries a newly created message pushed to every
// member of its room. The full room is included so that clients not
// currently viewing the room can build a notification entry without an
// extra lookup.
type MessageReceivedMsg struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
	Room    chat.Room    `json:"room"`
}

// MessageEditedMsg carries the replacement attributes for a previously
// delivered message. The id identifies the entry to replace in place.
type MessageEditedMsg struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerMessage parses raw channel bytes into a typed server
// message. It returns the message type string, the decoded struct, and
// any error encountered during parsing. An error is returned for
// unknown or client-only message types.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeConnected:
		var m ConnectedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageReceived:
		var m MessageReceivedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageEdited:
		var m MessageEditedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewClientMessage creates a JSON-encoded byte slice for a client
// message. The msgType is injected into the payload under the "type"
// key. The payload should be one of the client message structs; this
// function marshals it to JSON, injects the type field, and returns
// the final bytes.
func NewClientMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal client message: %w", err)
	}
	return out, nil
}
