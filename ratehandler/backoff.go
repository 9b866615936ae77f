// ratehandler/backoff.go
/* Package ratehandler implements the retry timing policy of the scheduler: capped
exponential backoff with full jitter, per-item retry state with a non-decreasing delay
sequence, and parsing of server supplied rate-limit hints. */
package ratehandler

import (
	"math/rand"
	"time"
)

const (
	// DefaultBaseDelay is the backoff ceiling of the first retry.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps every backoff delay.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMaxRetries is the retry cap applied independently of the deadline.
	DefaultMaxRetries = 5
)

// Policy holds the backoff parameters shared by all work items of a scheduler.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// Ceiling returns min(BaseDelay * 2^attempt, MaxDelay), the upper bound of the jittered
// delay for the given zero-based attempt.
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	ceiling := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if ceiling >= p.MaxDelay || ceiling > (1<<62)/2 {
			break
		}
		ceiling *= 2
	}
	if p.MaxDelay > 0 && ceiling > p.MaxDelay {
		ceiling = p.MaxDelay
	}
	return ceiling
}

// CalculateBackoff returns a full-jitter delay, uniformly drawn from [0, Ceiling(attempt)].
// rng may be nil, in which case the package level source is used. rng is not safe for
// concurrent use, so callers sharing one must serialise access.
func (p Policy) CalculateBackoff(attempt int, rng *rand.Rand) time.Duration {
	ceiling := p.Ceiling(attempt)
	if ceiling <= 0 {
		return 0
	}
	if rng == nil {
		return time.Duration(rand.Int63n(int64(ceiling) + 1))
	}
	return time.Duration(rng.Int63n(int64(ceiling) + 1))
}

// RetryState tracks the retry progress of a single work item.
type RetryState struct {
	// Attempt counts retryable outcomes seen so far.
	Attempt int

	// NextDelay is the jittered delay of the most recent retry, excluding any server hint.
	// Successive values never decrease.
	NextDelay time.Duration

	// Deadline is the absolute time after which no further retries are attempted.
	Deadline time.Time
}

// NewRetryState creates the retry state for an item that must finish by deadline.
func NewRetryState(deadline time.Time) *RetryState {
	return &RetryState{Deadline: deadline}
}

// Exhausted reports whether the retry cap has been reached.
func (r *RetryState) Exhausted(p Policy) bool {
	return r.Attempt >= p.MaxRetries
}

// Advance records a retryable outcome and returns the delay before the next attempt.
// The delay is drawn with full jitter from [0, Ceiling(Attempt)] and then raised to the
// previous jittered delay so the sequence is non-decreasing. A server hint raises only the
// returned delay, bounded by MaxDelay; it does not carry into later attempts.
func (r *RetryState) Advance(p Policy, rng *rand.Rand, retryAfter time.Duration) time.Duration {
	floor := p.CalculateBackoff(r.Attempt, rng)
	if floor < r.NextDelay {
		floor = r.NextDelay
	}
	r.Attempt++
	r.NextDelay = floor

	delay := floor
	if retryAfter > 0 {
		hint := retryAfter
		if p.MaxDelay > 0 && hint > p.MaxDelay {
			hint = p.MaxDelay
		}
		if hint > delay {
			delay = hint
		}
	}
	return delay
}

// FitsBeforeDeadline reports whether a retry started after delay from now would still
// begin before the deadline. A zero deadline never expires.
func (r *RetryState) FitsBeforeDeadline(now time.Time, delay time.Duration) bool {
	if r.Deadline.IsZero() {
		return true
	}
	return now.Add(delay).Before(r.Deadline)
}
