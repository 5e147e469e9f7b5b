package llmqueue

import (
	"context"
	"math"
	"sync"
)

// AdaptiveSemaphore is a counting semaphore whose capacity can change while
// permits are held.
//
// Invariant: permits in flight never exceed the limit at acquire time.
// Shrinking applies to new acquires only; held permits are never revoked,
// the pool drains down to the new cap as they release.
type AdaptiveSemaphore struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	waiters  []*waiter
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// NewAdaptiveSemaphore creates a semaphore with the given initial capacity.
func NewAdaptiveSemaphore(limit int) *AdaptiveSemaphore {
	if limit < 1 {
		limit = 1
	}
	return &AdaptiveSemaphore{limit: limit}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *AdaptiveSemaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight < s.limit {
		s.inFlight++
		s.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if w.granted {
			// Woken and cancelled at the same time: hand the permit back.
			s.releaseLocked()
			s.mu.Unlock()
			return ctx.Err()
		}
		for i, queued := range s.waiters {
			if queued == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a permit and wakes waiters that now fit under the limit.
func (s *AdaptiveSemaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *AdaptiveSemaphore) releaseLocked() {
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.wakeLocked()
}

func (s *AdaptiveSemaphore) wakeLocked() {
	for len(s.waiters) > 0 && s.inFlight < s.limit {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.inFlight++
		w.granted = true
		close(w.ready)
	}
}

// SetLimit changes capacity. Growing wakes queued waiters immediately.
func (s *AdaptiveSemaphore) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	s.wakeLocked()
}

// Limit returns the current capacity.
func (s *AdaptiveSemaphore) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// InFlight returns the number of held permits.
func (s *AdaptiveSemaphore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// ShrinkBy and GrowBy compute the adjusted capacities used by the worker's
// feedback loop.
func ShrinkBy(limit int, factor float64, floor int) int {
	next := int(math.Floor(float64(limit) * factor))
	if next < floor {
		next = floor
	}
	return next
}

func GrowBy(limit int, factor float64, ceil int) int {
	next := int(math.Ceil(float64(limit) * factor))
	if next > ceil {
		next = ceil
	}
	return next
}
