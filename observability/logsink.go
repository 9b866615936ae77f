// observability/logsink.go
package observability

import (
	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"github.com/deploymenttheory/go-api-admission-scheduler/probe"
	"github.com/deploymenttheory/go-api-admission-scheduler/scheduler"
	"go.uber.org/zap"
)

// LogSink writes scheduler events to a structured logger.
type LogSink struct {
	log logger.Logger
}

// NewLogSink returns a sink that logs events to log.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// HandleEvent implements scheduler.EventSink.
func (l *LogSink) HandleEvent(e scheduler.Event) {
	switch e.Type {
	case scheduler.EventQueued:
		l.log.Debug("Work item queued",
			zap.String("event", e.Type.String()),
			zap.String("correlation_id", e.CorrelationID),
			zap.Int("attempt", e.Attempt),
		)
	case scheduler.EventAdmitted:
		logger.LogAdmission(l.log, e.CorrelationID, e.Attempt, e.QueueWait)
	case scheduler.EventThrottled:
		logger.LogThrottled(l.log, e.CorrelationID, e.Attempt, e.RetryAfter)
	case scheduler.EventTransientFailure:
		l.log.Warn("Transient backend failure",
			zap.String("event", e.Type.String()),
			zap.String("correlation_id", e.CorrelationID),
			zap.Int("attempt", e.Attempt),
			zap.Error(e.Err),
		)
	case scheduler.EventRetried:
		logger.LogRetryAttempt(l.log, e.CorrelationID, e.Attempt, e.Kind.String(), e.Delay)
	case scheduler.EventTerminal:
		logger.LogTerminal(l.log, e.CorrelationID, e.Kind.String(), e.Attempt, e.Err)
	}
}

// ProbeLevelLogger returns a probe observer that logs each finished level.
func ProbeLevelLogger(log logger.Logger) probe.Observer {
	return func(r probe.LevelResult) {
		logger.LogProbeLevel(log, r.Capacity, r.SuccessRate, r.P95, r.Passed)
	}
}
