package concurrency

import "context"

// Semaphore bounds the number of concurrent holders.
type Semaphore struct {
	capacity int
	tickets  chan struct{}
}

func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{
		capacity: capacity,
		tickets:  make(chan struct{}, capacity),
	}
}

// Acquire blocks until a ticket is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.tickets <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Semaphore) Release() {
	<-s.tickets
}

func (s *Semaphore) Capacity() int { return s.capacity }

// InUse reports how many tickets are currently held.
func (s *Semaphore) InUse() int { return len(s.tickets) }

// ConcurrencyLimiter runs functions with at most maxConcurrent in flight.
type ConcurrencyLimiter struct {
	maxConcurrent int
	semaphore     *Semaphore
}

func NewConcurrencyLimiter(maxConcurrent int) *ConcurrencyLimiter {
	sem := NewSemaphore(maxConcurrent)
	return &ConcurrencyLimiter{
		maxConcurrent: sem.Capacity(),
		semaphore:     sem,
	}
}

// Execute waits for a slot and runs fn. The wait is abandoned when ctx ends.
func (cl *ConcurrencyLimiter) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cl.semaphore.Acquire(ctx); err != nil {
		return err
	}
	defer cl.semaphore.Release()
	return fn(ctx)
}

func (cl *ConcurrencyLimiter) MaxConcurrent() int { return cl.maxConcurrent }

func (cl *ConcurrencyLimiter) InFlight() int { return cl.semaphore.InUse() }
