package clock

import (
	"sync"
	"time"
)

// TimeSource supplies monotonic time and timers.
type TimeSource interface {
	// Now returns the time elapsed since an arbitrary fixed origin.
	Now() time.Duration

	// After returns a channel that receives after d has elapsed.
	After(d time.Duration) <-chan time.Time
}

type systemSource struct {
	origin time.Time
}

// System returns a TimeSource backed by the monotonic wall clock.
func System() TimeSource {
	return &systemSource{origin: time.Now()}
}

func (s *systemSource) Now() time.Duration {
	return time.Since(s.origin)
}

func (s *systemSource) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Manual is a TimeSource that only moves when told to. After advances the
// clock by d and fires immediately, so loops that wait on it run at full
// speed while observing consistent media time.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManual creates a manual time source at the given start time.
func NewManual(start time.Duration) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
}

// After advances the clock by d and returns a channel that is already ready.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}.Add(m.Now())
	return ch
}
