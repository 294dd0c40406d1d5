// Package buffer provides a generic, thread-safe circular buffer used as the
// outbound frame queue of a session.
//
// A full buffer suspends the writer until a reader drains an item, so frames
// are never dropped. This is what gives the session its backpressure.
package buffer

import (
	"context"
	stderrors "errors"
)

// ErrClosed is returned by writes after Close, and by reads once a closed buffer is drained.
var ErrClosed = stderrors.New("buffer closed")

// Buffer represents a generic FIFO buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item, waiting for space when the buffer is full.
	Write(ctx context.Context, item T) error

	// Read removes the oldest item, waiting until one is available.
	// Items written before Close are still returned; ErrClosed follows once drained.
	Read(ctx context.Context) (T, error)

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Stats returns buffer statistics (always available for observability).
	Stats() *Statistics

	// Close stops accepting writes and wakes every waiter.
	Close() error
}

// NewCircularBuffer creates a new circular buffer with the specified capacity and options.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
