package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when the request queue limit is reached.
	ErrQueueFull = errors.New("client: request queue is full")

	// ErrAcquireTimeout is returned when waiting for a request slot times out.
	ErrAcquireTimeout = errors.New("client: timeout waiting for request slot")
)

// requestGate bounds the number of in-flight requests on one connection.
// CIMOMs commonly cap concurrent requests per client; queuing on the
// client side keeps a burst of goroutines from tripping that cap.
type requestGate struct {
	sem       chan struct{}
	maxSize   int
	queueSize int32 // atomic
	maxQueue  int
	timeout   time.Duration
}

// newRequestGate creates a gate admitting maxInFlight concurrent
// requests. maxQueue bounds the waiters (-1 = unbounded, 0 = no queue).
// timeout bounds each acquire.
func newRequestGate(maxInFlight, maxQueue int, timeout time.Duration) *requestGate {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &requestGate{
		sem:      make(chan struct{}, maxInFlight),
		maxSize:  maxInFlight,
		maxQueue: maxQueue,
		timeout:  timeout,
	}
}

// acquire blocks until a request slot is available or timeout/cancel.
func (g *requestGate) acquire(ctx context.Context) error {
	// Fast path: a free slot never counts against the queue limit.
	select {
	case g.sem <- struct{}{}:
		return nil
	default:
	}

	qLen := atomic.AddInt32(&g.queueSize, 1)
	defer atomic.AddInt32(&g.queueSize, -1)

	if g.maxQueue >= 0 && int(qLen) > g.maxQueue {
		return ErrQueueFull
	}

	timeout := g.timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrAcquireTimeout
	}
}

// release returns a request slot. It must only be called after a
// successful acquire.
func (g *requestGate) release() {
	select {
	case <-g.sem:
	default:
	}
}

// stats returns current utilization: busy slots, waiters, slot count.
func (g *requestGate) stats() (active, queued, max int) {
	return len(g.sem), int(atomic.LoadInt32(&g.queueSize)), g.maxSize
}
