// Package admission bounds the number of concurrent in-flight LLM calls
// across all sessions so a burst of parallel orchestrations cannot overwhelm
// the configured provider.
package admission

import "context"

// Semaphore is a fixed-capacity admission control gate. It is safe for
// concurrent use by multiple sessions.
type Semaphore struct {
	tokens chan struct{}
}

// New creates a Semaphore admitting at most capacity concurrent holders.
// A non-positive capacity is treated as 1.
func New(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{tokens: make(chan struct{}, capacity)}
}

// Acquire blocks until a token is available or ctx is canceled. On success it
// returns a release function that MUST be called exactly once, typically via
// defer, regardless of how the guarded call terminates. On cancellation it
// returns ctx.Err() and a no-op release.
func (s *Semaphore) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.tokens <- struct{}{}:
		released := false
		return func() {
			if released {
				return
			}
			released = true
			<-s.tokens
		}, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// InFlight reports the number of tokens currently held. Intended for tests
// and diagnostics, not for making admission decisions.
func (s *Semaphore) InFlight() int {
	return len(s.tokens)
}

// Capacity reports the configured maximum number of concurrent holders.
func (s *Semaphore) Capacity() int {
	return cap(s.tokens)
}
