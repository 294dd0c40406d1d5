package buffer

import (
	"context"
	"sync"
)

// circularBuffer is a thread-safe circular buffer that blocks writers while full.
type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *Metrics

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	cb := &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  opts.metrics,
	}
	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)

	return cb, nil
}

// wakeOnDone broadcasts cond when ctx ends. The lock is taken so a waiter
// between its ctx check and Wait cannot miss the wakeup.
func (cb *circularBuffer[T]) wakeOnDone(ctx context.Context, cond *sync.Cond) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		cb.mu.Lock()
		cond.Broadcast()
		cb.mu.Unlock()
	})
}

// Write adds an item to the buffer, waiting while it is full.
func (cb *circularBuffer[T]) Write(ctx context.Context, item T) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return ErrClosed
	}

	if cb.size == cb.capacity {
		cb.stats.Overflow()
		if cb.metrics != nil {
			cb.metrics.recordOverflow()
		}

		stop := cb.wakeOnDone(ctx, cb.notFull)
		defer stop()

		for cb.size == cb.capacity && !cb.closed {
			if err := ctx.Err(); err != nil {
				return err
			}
			cb.notFull.Wait()
		}
		if cb.closed {
			return ErrClosed
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite()
	}

	cb.notEmpty.Signal()
	return nil
}

// Read removes the oldest item, waiting for one if the buffer is empty.
func (cb *circularBuffer[T]) Read(ctx context.Context) (T, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T

	if cb.size == 0 && !cb.closed {
		stop := cb.wakeOnDone(ctx, cb.notEmpty)
		defer stop()

		for cb.size == 0 && !cb.closed {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			cb.notEmpty.Wait()
		}
	}

	if cb.size == 0 {
		return zero, ErrClosed
	}

	return cb.pop(), nil
}

// pop removes the item at tail. Caller holds the lock and has checked size > 0.
func (cb *circularBuffer[T]) pop() T {
	var zero T

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // Clear for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--

	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(!cb.closed)
	}

	cb.notFull.Signal()
	return item
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

// Stats returns buffer statistics.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close stops accepting writes and wakes all waiting goroutines.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	if cb.metrics != nil {
		cb.metrics.release(cb.size)
	}

	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()
	return nil
}
