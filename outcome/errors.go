package outcome

import "errors"

var (
	// ErrDeadlineExceeded is the cause of a FatalError for items whose maximum total
	// wait (queue plus retries) elapsed.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrRetriesExhausted is the cause of a FatalError for items that hit the retry cap.
	ErrRetriesExhausted = errors.New("retry attempts exhausted")

	// ErrCancelled is the cause of a FatalError for items cancelled by their submitter.
	ErrCancelled = errors.New("work item cancelled")

	// ErrSchedulerClosed is returned by Submit after Close, and is the cause of a FatalError
	// for items still pending when the scheduler shut down.
	ErrSchedulerClosed = errors.New("scheduler closed")

	// ErrBackendPanic is the cause of a FatalError when the backend client panicked.
	ErrBackendPanic = errors.New("backend client panicked")

	// ErrThrottled is the error form of a Throttled outcome.
	ErrThrottled = errors.New("backend throttled the request")

	// ErrInvalidOutcome marks an Outcome with no or more than one variant populated.
	ErrInvalidOutcome = errors.New("invalid outcome")

	// ErrUnspecified stands in for a missing failure cause.
	ErrUnspecified = errors.New("unspecified backend failure")
)
