// scheduler/events.go
package scheduler

import (
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/outcome"
)

// EventType identifies a work item lifecycle transition.
type EventType int

const (
	EventQueued EventType = iota
	EventAdmitted
	EventThrottled
	EventTransientFailure
	EventRetried
	EventTerminal
)

// String returns the event name used in logs and metric labels.
func (t EventType) String() string {
	switch t {
	case EventQueued:
		return "queued"
	case EventAdmitted:
		return "admitted"
	case EventThrottled:
		return "throttled"
	case EventTransientFailure:
		return "transient_failure"
	case EventRetried:
		return "retried"
	case EventTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Event describes one transition of a work item.
type Event struct {
	CorrelationID string
	Type          EventType
	State         State
	Attempt       int
	Timestamp     time.Time

	// Capacity is the pool capacity the attempt ran under. Admitted, Throttled and
	// TransientFailure only.
	Capacity int

	// QueueWait is the time spent queued before admission. Admitted only.
	QueueWait time.Duration

	// Kind is the outcome that triggered the event. Throttled, TransientFailure and Terminal.
	Kind outcome.Kind

	// RetryAfter is the backend's hint. Throttled only.
	RetryAfter time.Duration

	// Delay is the backoff before the next attempt. Retried only.
	Delay time.Duration

	// Err is the failure cause, if any.
	Err error
}

// EventSink receives scheduler events. Events are delivered synchronously from scheduler
// goroutines, outside of scheduler locks; implementations must be safe for concurrent use
// and must not block.
type EventSink interface {
	HandleEvent(Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

// HandleEvent calls f(e).
func (f EventSinkFunc) HandleEvent(e Event) {
	f(e)
}
