package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ErrTransportClosed is returned by a FakeTransport after Close or a scripted failure.
var ErrTransportClosed = errors.New("fake transport closed")

// Written is one message delivered to a FakeTransport.
type Written struct {
	Binary bool
	Data   []byte
	At     time.Time
}

// FakeTransport is an in-memory client connection.
// Thread-safe for concurrent use from multiple goroutines.
type FakeTransport struct {
	mu       sync.Mutex
	written  []Written
	failAt   int
	delay    time.Duration
	inbound  chan []byte
	closed   chan struct{}
	closeMux sync.Once
}

// NewFakeTransport creates a healthy transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		failAt:  -1,
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

// FailAfter makes the transport drop once n messages have been delivered.
func (t *FakeTransport) FailAfter(n int) *FakeTransport {
	t.mu.Lock()
	t.failAt = n
	t.mu.Unlock()
	return t
}

// WithWriteDelay makes each write take d, simulating a slow client.
func (t *FakeTransport) WithWriteDelay(d time.Duration) *FakeTransport {
	t.mu.Lock()
	t.delay = d
	t.mu.Unlock()
	return t
}

// WriteMessage records data unless the transport is closed or scripted to fail.
func (t *FakeTransport) WriteMessage(ctx context.Context, binary bool, data []byte) error {
	t.mu.Lock()
	delay := t.delay
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	if t.failAt >= 0 && len(t.written) >= t.failAt {
		t.closeLocked()
		return ErrTransportClosed
	}

	t.written = append(t.written, Written{Binary: binary, Data: append([]byte(nil), data...), At: time.Now()})
	return nil
}

// ReadMessage returns the next injected client message.
func (t *FakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Inject queues a client-to-server message.
func (t *FakeTransport) Inject(data []byte) {
	t.inbound <- data
}

// Close marks the transport closed. Safe to call more than once.
func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *FakeTransport) closeLocked() {
	t.closeMux.Do(func() { close(t.closed) })
}

// Closed reports whether the transport has been closed.
func (t *FakeTransport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the transport closes.
func (t *FakeTransport) Done() <-chan struct{} {
	return t.closed
}

// Messages returns a copy of everything delivered so far.
func (t *FakeTransport) Messages() []Written {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Written, len(t.written))
	copy(out, t.written)
	return out
}

// WaitForMessages polls until at least n messages arrived or timeout passes.
func (t *FakeTransport) WaitForMessages(tb testing.TB, n int, timeout time.Duration) []Written {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for {
		msgs := t.Messages()
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			tb.Fatalf("timed out waiting for %d messages, got %d", n, len(msgs))
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
}
