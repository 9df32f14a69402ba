package core

import "sync/atomic"

// DefaultQueueSize is the deferred pin queue capacity used when none is
// configured.
const DefaultQueueSize = 16

// PinQueue is a bounded single-producer/single-consumer ring of pin ids. The
// producer is interrupt context, the consumer the deferred worker. Neither
// side blocks or takes the gate.
type PinQueue struct {
	buf  []PinID
	mask uint32
	head atomic.Uint32 // next read, owned by the consumer
	tail atomic.Uint32 // next write, owned by the producer
}

// NewPinQueue creates a queue holding at least size ids, rounded up to a power
// of two.
func NewPinQueue(size int) *PinQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	n := 2
	for n < size {
		n <<= 1
	}
	return &PinQueue{buf: make([]PinID, n), mask: uint32(n - 1)}
}

// Push appends id, returning false when the queue is full.
func (q *PinQueue) Push(id PinID) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == uint32(len(q.buf)) {
		return false
	}
	q.buf[tail&q.mask] = id
	q.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest id.
func (q *PinQueue) Pop() (PinID, bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return 0, false
	}
	id := q.buf[head&q.mask]
	q.head.Store(head + 1)
	return id, true
}

// Len returns the number of queued ids.
func (q *PinQueue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the queue capacity.
func (q *PinQueue) Cap() int {
	return len(q.buf)
}
