// Package backoff provides unit tests for retry delays and timers.
package backoff

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestDelayDoublesPerAttempt tests the exponential schedule from the
// base delay.
func TestDelayDoublesPerAttempt(t *testing.T) {
	base := 1000 * time.Millisecond
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 1000 * time.Millisecond},
		{2, 2000 * time.Millisecond},
		{3, 4000 * time.Millisecond},
		{4, 8000 * time.Millisecond},
		{5, 16000 * time.Millisecond},
	}
	for _, c := range cases {
		if got := Delay(base, c.retryCount); got != c.want {
			t.Errorf("Delay(base, %d): expected %v, got %v", c.retryCount, c.want, got)
		}
	}
}

// TestDelayCapped tests the one-hour ceiling for runaway retry counters.
func TestDelayCapped(t *testing.T) {
	base := 5 * time.Second
	if got := Delay(base, 20); got != time.Hour {
		t.Errorf("Expected cap at 1h, got %v", got)
	}
	if got := Delay(base, 1000); got != time.Hour {
		t.Errorf("Expected cap at 1h for huge counter, got %v", got)
	}
}

// TestDelayFloorsRetryCount tests that a zero or negative counter is
// treated as the first attempt.
func TestDelayFloorsRetryCount(t *testing.T) {
	base := time.Second
	if got := Delay(base, 0); got != base {
		t.Errorf("Expected base delay for count 0, got %v", got)
	}
	if got := Delay(base, -3); got != base {
		t.Errorf("Expected base delay for negative count, got %v", got)
	}
}

// TestWithJitterBounds tests the jitter spread stays within the fraction.
func TestWithJitterBounds(t *testing.T) {
	d := 10 * time.Second
	lo := 9 * time.Second
	hi := 11 * time.Second

	for i := 0; i < 200; i++ {
		got := WithJitter(d, 0.1)
		if got < lo || got > hi {
			t.Fatalf("Jittered delay %v outside [%v, %v]", got, lo, hi)
		}
	}
}

// TestWithJitterZeroDisabled tests that a zero jitter fraction returns
// the delay unchanged.
func TestWithJitterZeroDisabled(t *testing.T) {
	d := 7 * time.Second
	if got := WithJitter(d, 0); got != d {
		t.Errorf("Expected unchanged delay, got %v", got)
	}
}

// TestSchedulerFires tests that an armed timer invokes its callback and
// cleans itself up.
func TestSchedulerFires(t *testing.T) {
	s := NewScheduler()
	fired := make(chan struct{})

	s.Schedule("item-1", 10*time.Millisecond, func() {
		close(fired)
	})
	if s.Pending() != 1 {
		t.Errorf("Expected 1 pending timer, got %d", s.Pending())
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Timer did not fire")
	}

	// The fired timer removes itself.
	deadline := time.Now().Add(time.Second)
	for s.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 0 pending timers, got %d", s.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

// TestSchedulerCancel tests cancelling a pending timer.
func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Bool

	s.Schedule("item-1", 50*time.Millisecond, func() {
		fired.Store(true)
	})
	if !s.Cancel("item-1") {
		t.Fatal("Expected Cancel to report a pending timer")
	}
	if s.Cancel("item-1") {
		t.Error("Expected second Cancel to report nothing pending")
	}

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Error("Cancelled timer still fired")
	}
}

// TestSchedulerReplace tests that rescheduling an item replaces its
// existing timer instead of stacking a second one.
func TestSchedulerReplace(t *testing.T) {
	s := NewScheduler()
	var count atomic.Int32

	s.Schedule("item-1", 20*time.Millisecond, func() { count.Add(1) })
	s.Schedule("item-1", 20*time.Millisecond, func() { count.Add(1) })
	if s.Pending() != 1 {
		t.Errorf("Expected 1 pending timer after replace, got %d", s.Pending())
	}

	time.Sleep(100 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Errorf("Expected exactly 1 firing, got %d", got)
	}
}

// TestSchedulerCancelAll tests flushing every pending timer at shutdown.
func TestSchedulerCancelAll(t *testing.T) {
	s := NewScheduler()
	var fired atomic.Int32

	for _, id := range []string{"a", "b", "c"} {
		s.Schedule(id, 50*time.Millisecond, func() { fired.Add(1) })
	}
	s.CancelAll()
	if s.Pending() != 0 {
		t.Errorf("Expected 0 pending after CancelAll, got %d", s.Pending())
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("Expected no firings after CancelAll, got %d", got)
	}
}

// TestPendingIDs tests enumeration of armed timers.
func TestPendingIDs(t *testing.T) {
	s := NewScheduler()
	s.Schedule("a", time.Minute, func() {})
	s.Schedule("b", time.Minute, func() {})
	defer s.CancelAll()

	ids := s.PendingIDs()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 pending IDs, got %d", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("Expected IDs a and b, got %v", ids)
	}
}
