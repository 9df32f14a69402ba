package core

import (
	"context"
	"sync/atomic"
)

// DeferredWorker runs router handlers outside interrupt context. Interrupts
// push pin ids onto a bounded queue and wake the worker; every queued firing
// is delivered exactly once, in order. Firings that find the queue full are
// dropped and counted in RouterStats.Overflow.
type DeferredWorker struct {
	router  *Router
	running atomic.Bool
}

// Drain handles every queued firing on the calling task and returns how many
// were taken off the queue.
func (w *DeferredWorker) Drain() int {
	n := 0
	for {
		id, ok := w.router.queue.Pop()
		if !ok {
			return n
		}
		n++
		w.router.invoke(id)
	}
}

// Pending returns the number of queued firings.
func (w *DeferredWorker) Pending() int {
	return w.router.queue.Len()
}

// Run blocks on the wake signal and drains the queue until ctx is done. Only
// one Run may be active, since the queue has a single consumer.
func (w *DeferredWorker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrSchedulerRunning
	}
	defer w.running.Store(false)

	for {
		w.Drain()
		if err := w.router.wake.Wait(ctx); err != nil {
			return err
		}
	}
}
