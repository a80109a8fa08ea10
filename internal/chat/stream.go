package chat

import "sync"

// Stream is the ordered message view for whichever room is currently
// active. It merges a fetched history with pushed events: receipts are
// appended in arrival order, edits replace an existing entry in place.
// The view is replaced wholesale when the active room changes.
//
// The stream never reorders by timestamp and never deduplicates
// receipts against history; an optimistic local echo followed by the
// server's self-receipt therefore yields two entries. Callers that
// want a single entry must dedup by id before appending.
type Stream struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewStream creates an empty message stream.
func NewStream() *Stream {
	return &Stream{}
}

// LoadHistory replaces the entire view with the fetched history, in
// the order the store returned it. Called once per room activation.
func (s *Stream) LoadHistory(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = make([]Message, len(msgs))
	copy(s.msgs, msgs)
}

// ApplyReceived appends a pushed message to the end of the view.
// Arrival order is insertion order.
func (s *Stream) ApplyReceived(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)
}

// ApplyEdited replaces the attributes of the entry whose id matches,
// preserving its position. An edit for an id not in the loaded window
// is silently ignored rather than appended; appending it would corrupt
// ordering with a stale message.
func (s *Stream) ApplyEdited(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.msgs {
		if s.msgs[i].ID == msg.ID {
			s.msgs[i] = msg
			return
		}
	}
}

// AppendLocal appends a just-sent message before its self-receipt
// arrives over the channel (optimistic local echo).
func (s *Stream) AppendLocal(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)
}

// Messages returns a snapshot copy of the current view, oldest first.
func (s *Stream) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages in the view.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.msgs)
}
