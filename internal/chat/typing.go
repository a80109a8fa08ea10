package chat

import (
	"sync"
	"time"
)

// DefaultDebounce is how long after the last keystroke the local
// typing signal decays.
const DefaultDebounce = 3000 * time.Millisecond

// Typist is the typing-signal coordinator: a small timer-driven state
// machine with an independent local-emission side and remote-render
// side. It is the sole owner of typing state; no other component
// writes to it.
//
// The local side is level-triggered. Every keystroke records a
// timestamp and arms a fresh debounce check; earlier checks are never
// cancelled. A check that fires emits the stop signal only when the
// last keystroke is at least one window old and the machine is still
// signaling, so overlapping timers from a keystroke burst are no-ops
// by the timestamp comparison, not by cancellation.
type Typist struct {
	start func(roomID string)
	stop  func(roomID string)

	window       time.Duration
	remoteExpiry time.Duration

	now   func() time.Time
	after func(d time.Duration, f func())

	mu        sync.Mutex
	signaling bool
	lastKey   time.Time
	remote    bool
	remoteAt  time.Time
}

// TypistOption configures a Typist.
type TypistOption func(*Typist)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) TypistOption {
	return func(t *Typist) { t.window = d }
}

// WithRemoteExpiry bounds how long the remote indicator stays lit
// without a fresh typing event, covering a lost stop_typing. Zero (the
// default) keeps the inherited behavior: the flag is driven purely by
// the remote party's own start/stop events.
func WithRemoteExpiry(d time.Duration) TypistOption {
	return func(t *Typist) { t.remoteExpiry = d }
}

// WithClock injects the time source and timer scheduler, for tests.
func WithClock(now func() time.Time, after func(d time.Duration, f func())) TypistOption {
	return func(t *Typist) {
		t.now = now
		t.after = after
	}
}

// NewTypist creates a coordinator that emits local typing signals via
// the start and stop callbacks. Callbacks are invoked outside the lock
// and may publish to the transport directly.
func NewTypist(start, stop func(roomID string), opts ...TypistOption) *Typist {
	t := &Typist{
		start:  start,
		stop:   stop,
		window: DefaultDebounce,
		now:    time.Now,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Keystroke records local composing activity in roomID. The first
// keystroke of a burst emits the start signal; every keystroke re-arms
// the debounce check that will eventually emit stop.
func (t *Typist) Keystroke(roomID string) {
	t.mu.Lock()
	emitStart := !t.signaling
	t.signaling = true
	t.lastKey = t.now()
	t.mu.Unlock()

	if emitStart && t.start != nil {
		t.start(roomID)
	}

	t.after(t.window, func() { t.decayCheck(roomID) })
}

// decayCheck is the body of a debounce timer. Stale timers (a newer
// keystroke moved lastKey forward) fall through without effect.
func (t *Typist) decayCheck(roomID string) {
	t.mu.Lock()
	elapsed := t.now().Sub(t.lastKey)
	fire := t.signaling && elapsed >= t.window
	if fire {
		t.signaling = false
	}
	t.mu.Unlock()

	if fire && t.stop != nil {
		t.stop(roomID)
	}
}

// MessageSent emits the stop signal unconditionally; sending implies
// the user finished composing. Pending debounce timers are left to
// fire and no-op against the Idle state.
func (t *Typist) MessageSent(roomID string) {
	t.mu.Lock()
	t.signaling = false
	t.mu.Unlock()

	if t.stop != nil {
		t.stop(roomID)
	}
}

// Signaling reports whether the local side is currently in the
// Signaling state.
func (t *Typist) Signaling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.signaling
}

// RemoteStarted marks the remote party as typing. When a remote expiry
// is configured, a decay timer is armed with the same stale-timer
// construction as the local side.
func (t *Typist) RemoteStarted() {
	t.mu.Lock()
	t.remote = true
	t.remoteAt = t.now()
	t.mu.Unlock()

	if t.remoteExpiry > 0 {
		t.after(t.remoteExpiry, t.remoteDecayCheck)
	}
}

// RemoteStopped clears the remote indicator.
func (t *Typist) RemoteStopped() {
	t.mu.Lock()
	t.remote = false
	t.mu.Unlock()
}

// Reset clears the remote indicator without emitting anything, for use
// when the active room changes.
func (t *Typist) Reset() {
	t.mu.Lock()
	t.remote = false
	t.mu.Unlock()
}

func (t *Typist) remoteDecayCheck() {
	t.mu.Lock()
	if t.remote && t.now().Sub(t.remoteAt) >= t.remoteExpiry {
		t.remote = false
	}
	t.mu.Unlock()
}

// RemoteTyping reports whether the remote indicator should render.
func (t *Typist) RemoteTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remote
}
