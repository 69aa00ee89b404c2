package sip2gate

import (
	"time"
)

// DefaultBreakerThreshold is the consecutive failure count that opens a
// branch's circuit.
const DefaultBreakerThreshold = 3

// DefaultBackoffSchedule is how long an open circuit waits before probing,
// advancing one slot per consecutive open and holding at the last.
var DefaultBackoffSchedule = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	60 * time.Second,
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerHalfOpen:
		return "half_open"
	case breakerOpen:
		return "open"
	}
	return "unknown"
}

// breaker is the per-branch circuit. It is not self locking: every mutation
// happens under the owning branch's serialization, so the struct stays a
// plain record the way the state machine is easiest to read.
type breaker struct {
	threshold int
	backoff   []time.Duration

	state         breakerState
	failures      int
	backoffIndex  int
	probeInFlight bool
	lastFailure   time.Time
	nextRetry     time.Time
}

func newBreaker(threshold int, backoff []time.Duration) *breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if len(backoff) == 0 {
		backoff = DefaultBackoffSchedule
	}
	return &breaker{threshold: threshold, backoff: backoff}
}

// refresh applies the lazy OPEN to HALF_OPEN transition: once the earliest
// retry time has passed, the next caller becomes the probe.
func (b *breaker) refresh(now time.Time) {
	if b.state == breakerOpen && !now.Before(b.nextRetry) {
		b.state = breakerHalfOpen
		b.probeInFlight = false
	}
}

// recordSuccess closes the circuit and resets all counters.
func (b *breaker) recordSuccess() {
	b.state = breakerClosed
	b.failures = 0
	b.backoffIndex = 0
	b.probeInFlight = false
}

// recordFailure counts one failure and reports whether the circuit opened
// on it. A failure while HALF_OPEN reopens immediately; otherwise the
// threshold decides. Opening consumes the current backoff slot and advances
// the index, holding at the last slot.
func (b *breaker) recordFailure(now time.Time) (opened bool) {
	b.failures++
	b.probeInFlight = false
	b.lastFailure = now
	if b.failures < b.threshold && b.state != breakerHalfOpen {
		return false
	}
	b.state = breakerOpen
	b.nextRetry = now.Add(b.backoff[b.backoffIndex])
	if b.backoffIndex < len(b.backoff)-1 {
		b.backoffIndex++
	}
	return true
}
