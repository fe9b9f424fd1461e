package orchestrator

import (
	"context"
	"sync"
)

// semaphore is a context-aware concurrency limiter. Workers acquire a slot
// before creating their workspace, so live workspaces never exceed the limit.
type semaphore struct {
	mu       sync.Mutex
	cond     *sync.Cond
	limit    int
	acquired int
}

// newSemaphore creates a semaphore with the given limit. Values below 1 are
// clamped to 1.
func newSemaphore(limit int) *semaphore {
	if limit < 1 {
		limit = 1
	}
	s := &semaphore{limit: limit}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until a slot is available or the context is cancelled.
// Returns nil on success, or the context error if cancelled.
func (s *semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A goroutine broadcasts on context cancellation so blocked waiters
	// wake up and can return the context error.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()

	for s.acquired >= s.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}

	// Re-check after waking — the wake may have been from cancellation.
	if err := ctx.Err(); err != nil {
		return err
	}

	s.acquired++
	return nil
}

// Release frees a slot and signals one waiting goroutine.
func (s *semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.acquired > 0 {
		s.acquired--
	}
	s.cond.Signal()
}

// Acquired returns the number of currently held slots.
func (s *semaphore) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}
