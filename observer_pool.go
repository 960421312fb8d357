package xpush

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// notice is one BusEvent addressed to a snapshot of observers.
type notice struct {
	event BusEvent
	to    []Observer
}

// ObserverPool delivers BusEvents on a fixed set of goroutines so that a
// slow observer cannot stall a send or a delivery. Notify never blocks: a
// notice that finds the queue full is counted as dropped.
type ObserverPool struct {
	mu     sync.RWMutex
	queue  chan notice
	closed bool

	workers   int
	done      chan struct{}
	stop      func() bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// NewObserverPool starts workers goroutines (default 4) on a queue of
// bufferSize notices (default 1000). The pool shuts down by itself when ctx
// ends; queued notices are still delivered.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}
	op := &ObserverPool{
		queue:   make(chan notice, bufferSize),
		workers: workers,
		done:    make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for n := range op.queue {
				op.deliver(n)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(op.done)
	}()
	op.stop = context.AfterFunc(ctx, op.shutdown)
	return op
}

// Notify queues e for observers.
func (op *ObserverPool) Notify(e BusEvent, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	op.mu.RLock()
	defer op.mu.RUnlock()
	if op.closed {
		return
	}
	select {
	case op.queue <- notice{event: e, to: observers}:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) deliver(n notice) {
	for _, o := range n.to {
		if o != nil {
			callObserver(o, n.event)
		}
	}
	op.processed.Add(1)
}

// callObserver isolates the pool from a panicking observer.
func callObserver(o Observer, e BusEvent) {
	defer func() { _ = recover() }()
	o.OnEvent(e)
}

func (op *ObserverPool) shutdown() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if !op.closed {
		op.closed = true
		close(op.queue)
	}
}

// Close stops accepting notices and waits up to timeout for the queue to
// drain. It returns ErrObserverPoolShutdownTimeout when the workers are
// still busy at the deadline.
func (op *ObserverPool) Close(timeout time.Duration) error {
	op.stop()
	op.shutdown()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-op.done:
		return nil
	case <-timer.C:
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.queue),
		Workers:      op.workers,
		BufferSize:   cap(op.queue),
	}
}
