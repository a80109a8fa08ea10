package chat

import "sync"

// Entry is a pending indicator of an unread message in a room other
// than the active one.
type Entry struct {
	Message Message
	Room    Room
}

// Inbox aggregates cross-room notifications, most recent first. It
// holds at most one entry per distinct message id, so a push event
// delivered twice produces a single entry.
type Inbox struct {
	mu      sync.RWMutex
	entries []Entry
	onStale func()
}

// NewInbox creates an empty inbox. onStale, if non-nil, is invoked
// after every successful Add: the room's most-recent-message preview
// held by the surrounding application is stale and the conversation
// list should be refetched. It is called outside the lock.
func NewInbox(onStale func()) *Inbox {
	return &Inbox{onStale: onStale}
}

// Add prepends an entry for a message that arrived in an inactive
// room. Returns false without signaling when an entry for the same
// message id already exists.
func (in *Inbox) Add(msg Message, room Room) bool {
	in.mu.Lock()
	for _, e := range in.entries {
		if e.Message.ID == msg.ID {
			in.mu.Unlock()
			return false
		}
	}
	in.entries = append([]Entry{{Message: msg, Room: room}}, in.entries...)
	in.mu.Unlock()

	if in.onStale != nil {
		in.onStale()
	}
	return true
}

// Dismiss removes the entry for the given message id. Unknown ids are
// a no-op.
func (in *Inbox) Dismiss(messageID string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for i, e := range in.entries {
		if e.Message.ID == messageID {
			in.entries = append(in.entries[:i], in.entries[i+1:]...)
			return
		}
	}
}

// DismissRoom removes every entry belonging to roomID. Navigating into
// a room clears its whole slice of the inbox, not just one entry.
func (in *Inbox) DismissRoom(roomID string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	kept := in.entries[:0]
	for _, e := range in.entries {
		if e.Room.ID != roomID {
			kept = append(kept, e)
		}
	}
	in.entries = kept
}

// Entries returns a snapshot copy, most recent first.
func (in *Inbox) Entries() []Entry {
	in.mu.RLock()
	defer in.mu.RUnlock()

	out := make([]Entry, len(in.entries))
	copy(out, in.entries)
	return out
}

// Len returns the number of pending entries.
func (in *Inbox) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()

	return len(in.entries)
}

// UnreadByRoom returns the number of pending entries per room id, for
// rendering unread badges on the conversation list.
func (in *Inbox) UnreadByRoom() map[string]int {
	in.mu.RLock()
	defer in.mu.RUnlock()

	counts := make(map[string]int, len(in.entries))
	for _, e := range in.entries {
		counts[e.Room.ID]++
	}
	return counts
}
