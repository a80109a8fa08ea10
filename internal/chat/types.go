// Package chat holds the client-side conversation state: the ordered
// message view for the active room, the active-room tracker used to
// route incoming events, the typing-signal coordinator, and the
// cross-room notification inbox. All types are goroutine-safe; inbound
// transport events, timer callbacks, and local user input may touch
// them from different goroutines.
package chat

import "time"

// User identifies a chat participant.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is a single chat message as served by the message store and
// carried over the event channel. EditedAt is nil for messages that
// have never been edited.
type Message struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"room_id"`
	Sender    User       `json:"sender"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// Edited reports whether the message carries an edit marker.
func (m Message) Edited() bool {
	return m.EditedAt != nil
}

// Room is a conversation, either direct (two members) or group. Admin
// is set only for group rooms.
type Room struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
	Members []User `json:"members"`
	Admin   *User  `json:"admin,omitempty"`
}

// Counterpart returns the member that is not the given user, for
// rendering direct conversations by the other party's name. Returns a
// zero User when the room is a group or the user is not a member.
func (r Room) Counterpart(userID string) User {
	if r.IsGroup || len(r.Members) != 2 {
		return User{}
	}
	for _, m := range r.Members {
		if m.ID != userID {
			return m
		}
	}
	return User{}
}
