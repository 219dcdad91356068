package router

import (
	"errors"
	"sync"
)

var (
	ErrBufferClosed = errors.New("buffer closed")
	ErrBufferFull   = errors.New("buffer full")
)

// growThreshold is the fill percentage at which the ring doubles.
const growThreshold = 70

// GrowableBuffer is a FIFO ring shared by one producer side (notification
// callbacks running on the session event loop) and one consumer side (the
// journal writer). It doubles when 70% full, up to an optional ceiling.
// Once the ceiling is reached Send fails fast instead of blocking, so a slow
// consumer never stalls the producer.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // next read
	tail   int // next write
	count  int
	limit  int // 0 means unbounded
	closed bool

	accepted int64
	consumed int64
	dropped  int64
	resizes  int
}

// NewGrowableBuffer creates an unbounded buffer.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	return NewBoundedBuffer[T](initialCapacity, 0)
}

// NewBoundedBuffer creates a buffer that grows up to maxCapacity items.
// A maxCapacity below the initial capacity is raised to it; zero disables the limit.
func NewBoundedBuffer[T any](initialCapacity, maxCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity > 0 && maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	b := &GrowableBuffer[T]{
		ring:  make([]T, initialCapacity),
		limit: maxCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item. It never blocks.
func (b *GrowableBuffer[T]) Send(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	if b.shouldGrowLocked() {
		b.growLocked()
	}
	if b.count == len(b.ring) {
		b.dropped++
		return ErrBufferFull
	}

	b.ring[b.tail] = item
	b.tail = (b.tail + 1) % len(b.ring)
	b.count++
	b.accepted++

	b.cond.Signal()
	return nil
}

// Receive blocks until an item is available. It returns false once the
// buffer is closed and drained.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.popLocked(), true
}

// TryReceive returns the oldest item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.popLocked(), true
}

// DrainTo removes up to max items in FIFO order. Zero or less means all.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	n := b.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.popLocked()
	}
	return out
}

// Close stops accepting items and wakes blocked receivers.
// Items already queued can still be received.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// BufferStats is a snapshot of buffer counters.
type BufferStats struct {
	Count       int
	Capacity    int
	MaxCapacity int
	Accepted    int64
	Consumed    int64
	Dropped     int64
	ResizeCount int
}

func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:       b.count,
		Capacity:    len(b.ring),
		MaxCapacity: b.limit,
		Accepted:    b.accepted,
		Consumed:    b.consumed,
		Dropped:     b.dropped,
		ResizeCount: b.resizes,
	}
}

func (b *GrowableBuffer[T]) popLocked() T {
	var zero T
	item := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.consumed++
	return item
}

func (b *GrowableBuffer[T]) shouldGrowLocked() bool {
	size := len(b.ring)
	if b.limit > 0 && size >= b.limit {
		return false
	}
	threshold := max(size*growThreshold/100, 1)
	return b.count+1 >= threshold
}

// growLocked doubles the ring, clamped to the limit, and unwraps it.
func (b *GrowableBuffer[T]) growLocked() {
	size := len(b.ring) * 2
	if b.limit > 0 && size > b.limit {
		size = b.limit
	}
	next := make([]T, size)
	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.ring[b.head:b.tail])
		} else {
			n := copy(next, b.ring[b.head:])
			copy(next[n:], b.ring[:b.tail])
		}
	}
	b.ring = next
	b.head = 0
	b.tail = b.count
	b.resizes++
}
