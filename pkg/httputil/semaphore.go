package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore bounds concurrent work. The scan service uses one to cap
// in-flight scan requests: the regex pass is CPU-bound, so past the cap a
// request is better refused than queued.
type Semaphore struct {
	sem     chan struct{}
	dropped atomic.Int64
}

// defaultCapacity matches one scan per core on a typical deployment; the
// service passes its own limit explicitly.
const defaultCapacity = 8

// NewSemaphore creates a semaphore. Capacity <= 0 falls back to the default.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Semaphore{
		sem: make(chan struct{}, capacity),
	}
}

// TryAcquire takes a slot without blocking. A false return means the caller
// should refuse the work (the scan endpoints answer 503); the refusal is
// counted for the health endpoint.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Acquire blocks until a slot is available or the context ends. For callers
// that must eventually run, like batch pipeline stages.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Call only after a successful TryAcquire or
// Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.sem:
	default:
	}
}

// DroppedCount returns how many acquisitions were refused at capacity.
func (s *Semaphore) DroppedCount() int64 {
	return s.dropped.Load()
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.sem) - len(s.sem)
}

// InUse returns the number of held slots.
func (s *Semaphore) InUse() int {
	return len(s.sem)
}

// Stats snapshots the semaphore for the health endpoint.
func (s *Semaphore) Stats() SemaphoreStats {
	return SemaphoreStats{
		Capacity:  cap(s.sem),
		InUse:     len(s.sem),
		Available: cap(s.sem) - len(s.sem),
		Dropped:   s.dropped.Load(),
	}
}

// SemaphoreStats is the health-endpoint view of scan concurrency.
type SemaphoreStats struct {
	Capacity  int   `json:"capacity"`
	InUse     int   `json:"in_use"`
	Available int   `json:"available"`
	Dropped   int64 `json:"dropped"`
}
