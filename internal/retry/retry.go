// Package retry implements the reconnection policy for the notification
// stream: exponential backoff with random jitter and a bounded attempt
// budget.
package retry

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	// DefaultInitialDelay is the backoff base for attempt 0.
	DefaultInitialDelay = 1 * time.Second
	// DefaultMaxDelay caps the exponential growth.
	DefaultMaxDelay = 30 * time.Second
	// DefaultJitterMax is the upper bound (exclusive) of the random jitter
	// added to every delay, spreading reconnects across many clients.
	DefaultJitterMax = 1 * time.Second
	// DefaultMaxAttempts is the consecutive-failure budget. Once spent, no
	// further reconnects are scheduled until the caller resets eagerly
	// (user re-engagement).
	DefaultMaxAttempts = 10
)

// Policy computes reconnect delays. The zero value is not valid; use
// DefaultPolicy or fill every field.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	JitterMax    time.Duration
	MaxAttempts  int
}

// DefaultPolicy returns the production reconnection policy.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterMax:    DefaultJitterMax,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// Delay returns the backoff for the given 0-indexed attempt:
// min(InitialDelay·2^attempt, MaxDelay) plus a uniformly random jitter in
// [0, JitterMax).
func (p Policy) Delay(attempt int) time.Duration {
	return p.Base(attempt) + p.jitter()
}

// Base returns the deterministic part of the delay for an attempt.
func (p Policy) Base(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Guard the shift against overflow; anything past 62 doublings is
	// beyond any sane MaxDelay anyway.
	if attempt > 62 {
		return p.MaxDelay
	}
	delay := p.InitialDelay << uint(attempt)
	if delay <= 0 || delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted reports whether the attempt budget is spent for the given
// consecutive-failure count.
func (p Policy) Exhausted(failures int) bool {
	return failures >= p.MaxAttempts
}

// jitter draws from [0, JitterMax) using crypto/rand so many clients never
// share a PRNG sequence; on rare read failure it degrades to zero jitter.
func (p Policy) jitter() time.Duration {
	if p.JitterMax <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(p.JitterMax.Nanoseconds()))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
