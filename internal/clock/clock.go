// Package clock abstracts time so that bid timestamps and health responses
// are deterministic under test.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Step is a Clock that starts at Start and moves forward by Interval on
// every call. Useful when ordering of recorded timestamps matters.
type Step struct {
	mu       sync.Mutex
	Start    time.Time
	Interval time.Duration
	calls    int
}

// Now returns Start + n*Interval, where n is the number of previous calls.
func (s *Step) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.Start.Add(time.Duration(s.calls) * s.Interval)
	s.calls++
	return t
}
