package sip2gate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownBranch is returned for branch ids absent from the
	// configuration.
	ErrUnknownBranch = errors.New("unknown branch")

	// ErrCircuitOpen gates operations while a branch's circuit is open.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrProbeInFlight gates operations while the HALF_OPEN probe has not
	// settled.
	ErrProbeInFlight = errors.New("breaker probe in flight")

	// ErrLoginRejected is returned once the login handshake has exhausted
	// its attempts.
	ErrLoginRejected = errors.New("sip2 login rejected")
)

// CircuitOpenError carries the earliest retry time so callers can surface
// it; the HTTP layer turns it into a Retry-After header.
type CircuitOpenError struct {
	Branch    string
	NextRetry time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("branch %s: circuit open until %s", e.Branch, e.NextRetry.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrCircuitOpen) hold.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}
