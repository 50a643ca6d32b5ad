package bus

import "context"

// Semaphore bounds how many inbound messages are handled at once.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with n slots; n below 1 means one.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{ch: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot only if one is free right now.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (s *Semaphore) Release() {
	<-s.ch
}

// Available is the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}

// Cap is the number of slots.
func (s *Semaphore) Cap() int {
	return cap(s.ch)
}
