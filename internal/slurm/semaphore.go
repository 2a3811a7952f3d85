package slurm

import "context"

// semaphore bounds the number of in-flight scheduler calls. The cap is
// shared across channels and across the request path and the reconciliation
// loop, so the remote scheduler sees one global limit.
type semaphore struct {
	ch chan struct{}
}

// newSemaphore creates a semaphore with the given capacity.
// If n <= 0, returns nil (unlimited).
func newSemaphore(n int) *semaphore {
	if n <= 0 {
		return nil
	}
	return &semaphore{ch: make(chan struct{}, n)}
}

// acquire blocks until a slot is available or ctx is cancelled. Returns
// false on cancellation. A nil semaphore acquires immediately.
func (s *semaphore) acquire(ctx context.Context) bool {
	if s == nil {
		return true
	}
	select {
	case s.ch <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// release frees a slot. A nil semaphore is a no-op.
func (s *semaphore) release() {
	if s == nil {
		return
	}
	<-s.ch
}
