package chat

import "sync"

// JoinFunc requests a transport-level join for a room. Joins are
// additive; the tracker never requests a leave.
type JoinFunc func(roomID string) error

// Tracker records which room the user is currently viewing. Its value
// is the comparison baseline that classifies every incoming event:
// events for the active room flow to the message stream, everything
// else to the notification inbox.
//
// The baseline is rebound synchronously inside SetActiveRoom, before
// the transport join is issued, so that an event arriving in the gap
// between a room switch and the history fetch is classified against
// the new room, not the old one.
type Tracker struct {
	mu     sync.RWMutex
	active string
	join   JoinFunc
}

// NewTracker creates a tracker with no active room. join may be nil in
// tests; it is invoked outside the tracker's lock.
func NewTracker(join JoinFunc) *Tracker {
	return &Tracker{join: join}
}

// SetActiveRoom makes roomID the routing baseline and requests the
// transport join. An empty roomID deactivates the current room without
// joining anything. The previous room needs no transport leave; only
// the local baseline changes.
func (t *Tracker) SetActiveRoom(roomID string) error {
	t.mu.Lock()
	t.active = roomID
	t.mu.Unlock()

	if roomID == "" || t.join == nil {
		return nil
	}
	return t.join(roomID)
}

// IsActiveRoom reports whether roomID is the room currently being
// viewed. Always false when no room is active.
func (t *Tracker) IsActiveRoom(roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.active != "" && t.active == roomID
}

// ActiveRoom returns the current baseline and whether one is set.
func (t *Tracker) ActiveRoom() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.active, t.active != ""
}
