// Package backoff computes re-admission delays for failed deliveries and
// owns the pending re-admission timers.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// maxDelay caps the exponential growth. With the default five retries the
// cap is never reached; it guards against misconfigured retry ceilings.
const maxDelay = time.Hour

// Delay returns base * 2^(retryCount-1) for the given failed attempt,
// capped at one hour. retryCount is the attempt counter after the failure,
// so the first failure yields the base delay.
func Delay(base time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	shift := uint(retryCount - 1)
	if shift > 62 {
		return maxDelay
	}
	d := base << shift
	if d > maxDelay || d < base {
		return maxDelay
	}
	return d
}

// WithJitter spreads a delay by up to ±jitter fraction, so a fleet of
// terminals recovering together does not retry in lockstep. jitter 0
// returns the delay unchanged.
func WithJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	if jitter > 1 {
		jitter = 1
	}
	spread := (rand.Float64()*2 - 1) * jitter // in [-jitter, +jitter]
	out := time.Duration(float64(d) * (1 + spread))
	if out < 0 {
		return 0
	}
	return out
}

// Scheduler owns the pending re-admission timers, one per item ID.
// Timers for items that get externally resolved are cancellable; an
// in-flight network call is never cancelled here.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms a timer that invokes fn after d. An existing timer for the
// same item is replaced.
func (s *Scheduler) Schedule(id string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops the pending timer for an item. Returns false if no timer
// was pending (including one that already fired).
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	return t.Stop()
}

// CancelAll stops every pending timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// PendingIDs returns the item IDs with armed timers.
func (s *Scheduler) PendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	return ids
}
