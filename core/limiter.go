package core

import (
	"errors"
	"sync"
)

// ErrStepLimitExceeded is returned by StepLimiter.Increment once the ceiling
// has been reached.
var ErrStepLimitExceeded = errors.New("step limit exceeded")

// StepLimiter enforces a maximum number of node executions per run.
//
// A max of 0 disables the limit. IsLast reports whether the most recently
// admitted step leaves no room for another round trip (a node plus its
// follow-up), which lets a node degrade gracefully instead of scheduling
// more work.
type StepLimiter struct {
	mu    sync.Mutex
	max   int
	count int
}

// NewStepLimiter creates a limiter admitting at most max steps.
func NewStepLimiter(max int) *StepLimiter {
	return &StepLimiter{max: max}
}

// NewStepLimiterFrom creates a limiter that already admitted count steps.
// It is used when a suspended run resumes.
func NewStepLimiterFrom(max, count int) *StepLimiter {
	return &StepLimiter{max: max, count: count}
}

// Increment admits one more step.
func (l *StepLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max > 0 && l.count >= l.max {
		return ErrStepLimitExceeded
	}
	l.count++
	return nil
}

// Count returns the number of admitted steps.
func (l *StepLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Remaining returns how many steps may still be admitted, or -1 if unlimited.
func (l *StepLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max <= 0 {
		return -1
	}
	return l.max - l.count
}

// IsLast reports whether fewer than two steps remain.
func (l *StepLimiter) IsLast() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max > 0 && l.max-l.count < 2
}
