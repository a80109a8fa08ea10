package connection

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func newIdleNATSTransport() *natsTransport {
	return &natsTransport{
		user:     "u-1",
		inbound:  make(chan *nats.Msg, inboundBuffer),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
		roomSubs: make(map[string]*nats.Subscription),
	}
}

func TestNATSReceiveReturnsErrorWhenConnectionCloses(t *testing.T) {
	tr := newIdleNATSTransport()

	errc := make(chan error, 1)
	go func() {
		_, err := tr.Receive()
		errc <- err
	}()

	// Simulate the library giving up on the broker. A blocked Receive
	// must return an error so the read loop can broadcast the loss.
	close(tr.closed)

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected an error after the connection was lost")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive still blocked after the connection was lost")
	}
}

func TestNATSReceiveDrainsBufferBeforeReportingLoss(t *testing.T) {
	tr := newIdleNATSTransport()
	tr.inbound <- &nats.Msg{Data: []byte(`{"type":"connected"}`)}
	close(tr.closed)

	data, err := tr.Receive()
	if err != nil {
		t.Fatalf("buffered message: %v", err)
	}
	if string(data) != `{"type":"connected"}` {
		t.Fatalf("unexpected payload %q", data)
	}

	if _, err := tr.Receive(); err == nil {
		t.Fatal("expected an error once the buffer drained")
	}
}

func TestDefaultNATSConfigBoundsReconnects(t *testing.T) {
	cfg := DefaultNATSConfig()
	if cfg.MaxReconnects < 0 {
		t.Fatalf("unbounded reconnects never surface a lost broker (got %d)", cfg.MaxReconnects)
	}
}
