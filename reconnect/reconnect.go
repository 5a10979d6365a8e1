// Package reconnect tracks connection failures for the device sessions and
// decides when the next connection attempt may be made.
package reconnect

import (
	"sync"
	"time"

	"repairedge/config"
)

// Policy defines backoff growth and the breaker cooldown.
type Policy struct {
	Base      time.Duration
	Max       time.Duration
	Threshold int
	Cooldown  time.Duration
}

// FromConfig builds a Policy, filling zero fields with defaults.
func FromConfig(c config.ReconnectConfig) Policy {
	p := Policy{Base: c.Base, Max: c.Max, Threshold: c.Threshold, Cooldown: c.Cooldown}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Threshold <= 0 {
		p.Threshold = 5
	}
	if p.Cooldown <= 0 {
		p.Cooldown = 30 * time.Second
	}
	return p
}

// Tracker records consecutive failures and the earliest time of the next attempt.
type Tracker struct {
	mu       sync.Mutex
	policy   Policy
	failures int
	next     time.Time
}

// NewTracker creates a tracker for the given policy.
func NewTracker(p Policy) *Tracker {
	return &Tracker{policy: p}
}

// Ready reports whether an attempt may be made at now.
func (t *Tracker) Ready(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !now.Before(t.next)
}

// Fail records a failure at now and returns the wait before the next attempt.
func (t *Tracker) Fail(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	wait := t.delayLocked()
	t.next = now.Add(wait)
	return wait
}

// Succeed resets the failure count.
func (t *Tracker) Succeed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = 0
	t.next = time.Time{}
}

// Failures returns the number of consecutive failures.
func (t *Tracker) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// Open reports whether the breaker is open (threshold reached).
func (t *Tracker) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures >= t.policy.Threshold
}

func (t *Tracker) delayLocked() time.Duration {
	if t.failures >= t.policy.Threshold {
		return t.policy.Cooldown
	}
	d := t.policy.Base
	for i := 1; i < t.failures; i++ {
		d *= 2
		if d >= t.policy.Max {
			return t.policy.Max
		}
	}
	return d
}
