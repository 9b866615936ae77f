// outcome/outcome.go
/* Package outcome defines the four-variant result of a single backend invocation and
the terminal result handed back to callers of the scheduler. Exactly one variant is
populated; Throttled and TransientError are retryable, Success and FatalError are
terminal. */
package outcome

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies which variant of an Outcome is populated.
type Kind int

const (
	// KindUnknown marks a zero or malformed Outcome.
	KindUnknown Kind = iota
	KindSuccess
	KindThrottled
	KindTransientError
	KindFatalError
)

// String returns the variant name used in logs, events and metric labels.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "Success"
	case KindThrottled:
		return "Throttled"
	case KindTransientError:
		return "TransientError"
	case KindFatalError:
		return "FatalError"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the scheduler may retry an outcome of this kind.
func (k Kind) Retryable() bool {
	return k == KindThrottled || k == KindTransientError
}

// Terminal reports whether an outcome of this kind ends the work item's lifecycle.
func (k Kind) Terminal() bool {
	return k == KindSuccess || k == KindFatalError
}

// Outcome is the typed result of one backend call. Use the constructors; a zero
// Outcome is invalid.
type Outcome struct {
	Kind Kind

	// Value is the backend's result. Success only.
	Value any

	// Latency is the wall-clock duration of the backend call. Success and TransientError.
	Latency time.Duration

	// RetryAfter is an optional server hint for when to retry. Throttled only; zero when absent.
	RetryAfter time.Duration

	// Cause describes the failure. TransientError and FatalError.
	Cause error
}

// Success returns a successful outcome carrying the backend's value.
func Success(value any, latency time.Duration) Outcome {
	return Outcome{Kind: KindSuccess, Value: value, Latency: latency}
}

// Throttled returns an outcome for a backend over-capacity signal. retryAfter may be zero.
func Throttled(retryAfter time.Duration) Outcome {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Outcome{Kind: KindThrottled, RetryAfter: retryAfter}
}

// Transient returns an outcome for a retryable failure (network, timeout, 5xx).
func Transient(cause error, latency time.Duration) Outcome {
	if cause == nil {
		cause = ErrUnspecified
	}
	return Outcome{Kind: KindTransientError, Cause: cause, Latency: latency}
}

// Fatal returns an outcome for a permanent failure that must never be retried.
func Fatal(cause error) Outcome {
	if cause == nil {
		cause = ErrUnspecified
	}
	return Outcome{Kind: KindFatalError, Cause: cause}
}

// Retryable reports whether the outcome may be retried.
func (o Outcome) Retryable() bool {
	return o.Kind.Retryable()
}

// Terminal reports whether the outcome ends the work item's lifecycle.
func (o Outcome) Terminal() bool {
	return o.Kind.Terminal()
}

// Err returns the outcome as an error: nil for Success, ErrThrottled for Throttled and
// the cause otherwise.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindThrottled:
		return ErrThrottled
	case KindTransientError, KindFatalError:
		return o.Cause
	default:
		return ErrInvalidOutcome
	}
}

// Validate checks that exactly one variant is populated.
func (o Outcome) Validate() error {
	switch o.Kind {
	case KindSuccess:
		if o.Cause != nil || o.RetryAfter != 0 {
			return fmt.Errorf("%w: success carries failure fields", ErrInvalidOutcome)
		}
	case KindThrottled:
		if o.Cause != nil || o.Value != nil {
			return fmt.Errorf("%w: throttled carries value or cause", ErrInvalidOutcome)
		}
	case KindTransientError, KindFatalError:
		if o.Cause == nil {
			return fmt.Errorf("%w: %s without cause", ErrInvalidOutcome, o.Kind)
		}
		if o.Value != nil || o.RetryAfter != 0 {
			return fmt.Errorf("%w: %s carries success fields", ErrInvalidOutcome, o.Kind)
		}
	default:
		return ErrInvalidOutcome
	}
	return nil
}

// String renders the outcome for logs.
func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("Success{latency=%s}", o.Latency)
	case KindThrottled:
		return fmt.Sprintf("Throttled{retryAfter=%s}", o.RetryAfter)
	case KindTransientError:
		return fmt.Sprintf("TransientError{cause=%v, latency=%s}", o.Cause, o.Latency)
	case KindFatalError:
		return fmt.Sprintf("FatalError{cause=%v}", o.Cause)
	default:
		return "Unknown{}"
	}
}

// Is reports whether the outcome is a FatalError caused by target.
func (o Outcome) Is(target error) bool {
	return o.Cause != nil && errors.Is(o.Cause, target)
}
