// fields.go
package logger

import (
	"time"

	"go.uber.org/zap"
)

// LogAdmission logs a work item being granted an execution slot.
func LogAdmission(log Logger, correlationID string, attempt int, queueWait time.Duration) {
	log.Debug("Work item admitted",
		zap.String("event", "admitted"),
		zap.String("correlation_id", correlationID),
		zap.Int("attempt", attempt),
		zap.Duration("queue_wait", queueWait),
	)
}

// LogThrottled logs a backend throttling signal for a work item.
func LogThrottled(log Logger, correlationID string, attempt int, retryAfter time.Duration) {
	log.Warn("Backend throttled request",
		zap.String("event", "throttled"),
		zap.String("correlation_id", correlationID),
		zap.Int("attempt", attempt),
		zap.Duration("retry_after", retryAfter),
	)
}

// LogRetryAttempt logs a retry being scheduled, including the reason and the backoff delay.
func LogRetryAttempt(log Logger, correlationID string, attempt int, reason string, delay time.Duration) {
	log.Warn("Work item retry scheduled",
		zap.String("event", "retry_attempt"),
		zap.String("correlation_id", correlationID),
		zap.Int("attempt", attempt),
		zap.String("reason", reason),
		zap.Duration("delay", delay),
	)
}

// LogTerminal logs the final outcome of a work item. Failures are logged at error level.
func LogTerminal(log Logger, correlationID string, kind string, attempts int, err error) {
	fields := []zap.Field{
		zap.String("event", "terminal"),
		zap.String("correlation_id", correlationID),
		zap.String("outcome", kind),
		zap.Int("attempts", attempts),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		log.Error("Work item failed", fields...)
		return
	}
	log.Info("Work item completed", fields...)
}

// LogProbeLevel logs the aggregate result of one probe level.
func LogProbeLevel(log Logger, capacity int, successRate float64, p95 time.Duration, passed bool) {
	log.Info("Probe level finished",
		zap.String("event", "probe_level"),
		zap.Int("capacity", capacity),
		zap.Float64("success_rate", successRate),
		zap.Duration("p95_latency", p95),
		zap.Bool("passed", passed),
	)
}
