package dispatch

import (
	"context"
	"sync"
)

// Limiter bounds the number of concurrently running executions to provide
// backpressure against the external execution service. It sits in front of
// the dispatch path: the coordinator acquires a slot before a run starts
// dispatching and releases it when the run settles.
type Limiter struct {
	slots chan struct{}
	mu    sync.Mutex
	held  int
}

// NewLimiter creates a limiter allowing max concurrent holders.
// If max <= 0, the limiter is unbounded.
func NewLimiter(max int) *Limiter {
	l := &Limiter{}
	if max > 0 {
		l.slots = make(chan struct{}, max)
	}
	return l
}

// Acquire blocks until a slot is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	l.held++
	l.mu.Unlock()

	return nil
}

// Release frees a previously acquired slot. Releasing more than was acquired
// is a no-op.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.held == 0 {
		l.mu.Unlock()
		return
	}
	l.held--
	l.mu.Unlock()

	if l.slots != nil {
		<-l.slots
	}
}

// Held returns the number of slots currently held.
func (l *Limiter) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
