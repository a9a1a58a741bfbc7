package spatial

import (
	"runtime"
	"sync/atomic"
)

// CacheLineSize is the typical CPU cache line size (64 bytes on x86-64).
const CacheLineSize = 64

// Padding keeps hot counters on separate cache lines.
type Padding [CacheLineSize]byte

type cell[T any] struct {
	seq  atomic.Uint64
	item T
}

// Queue is a bounded lock-free ring buffer for many producers and a single
// consumer. Each cell carries a sequence number so the consumer never
// observes a claimed cell before its producer finished writing it.
//
// Network goroutines push player commands; the tick goroutine drains them.
type Queue[T any] struct {
	_pad0 Padding
	head  atomic.Uint64 // next position to claim (producers)
	_pad1 Padding
	tail  atomic.Uint64 // next position to read (consumer)
	_pad2 Padding
	mask  uint64
	cells []cell[T]
}

// NewQueue creates a queue; capacity is rounded up to a power of two.
func NewQueue[T any](capacity int) *Queue[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &Queue[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush adds item and reports false if the queue is full.
// Safe for concurrent producers.
func (q *Queue[T]) TryPush(item T) bool {
	for {
		pos := q.head.Load()
		c := &q.cells[pos&q.mask]
		seq := c.seq.Load()
		switch {
		case seq == pos:
			if q.head.CompareAndSwap(pos, pos+1) {
				c.item = item
				c.seq.Store(pos + 1)
				return true
			}
		case seq < pos:
			return false
		}
		runtime.Gosched()
	}
}

// TryPop removes the oldest item. Only one goroutine may pop.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	pos := q.tail.Load()
	c := &q.cells[pos&q.mask]
	if c.seq.Load() != pos+1 {
		return zero, false
	}
	item := c.item
	c.item = zero
	c.seq.Store(pos + q.mask + 1)
	q.tail.Store(pos + 1)
	return item, true
}

// DrainTo pops into buf until it is full or the queue is empty and returns
// the number of items written.
func (q *Queue[T]) DrainTo(buf []T) int {
	n := 0
	for n < len(buf) {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		buf[n] = item
		n++
	}
	return n
}

// Len is an approximate item count.
func (q *Queue[T]) Len() int {
	head, tail := q.head.Load(), q.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return int(q.mask + 1) }
