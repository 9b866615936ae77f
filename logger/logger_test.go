// logger_test.go
package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level LogLevel) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New(zap.New(core), level), logs
}

// TestParseLogLevelFromString tests the conversion from string to LogLevel
func TestParseLogLevelFromString(t *testing.T) {
	tests := []struct {
		levelStr      string
		expectedLevel LogLevel
	}{
		{"LogLevelDebug", LogLevelDebug},
		{"LogLevelInfo", LogLevelInfo},
		{"LogLevelWarn", LogLevelWarn},
		{"LogLevelError", LogLevelError},
		{"LogLevelDPanic", LogLevelDPanic},
		{"LogLevelPanic", LogLevelPanic},
		{"LogLevelFatal", LogLevelFatal},
		{"Invalid", LogLevelNone},
	}

	for _, tt := range tests {
		t.Run(tt.levelStr, func(t *testing.T) {
			assert.Equal(t, tt.expectedLevel, ParseLogLevelFromString(tt.levelStr))
		})
	}
}

// TestConvertToZapLevel tests the conversion from custom LogLevel to zapcore.Level
func TestConvertToZapLevel(t *testing.T) {
	tests := []struct {
		name          string
		inputLevel    LogLevel
		expectedLevel zapcore.Level
	}{
		{"DebugLevel", LogLevelDebug, zap.DebugLevel},
		{"InfoLevel", LogLevelInfo, zap.InfoLevel},
		{"WarnLevel", LogLevelWarn, zap.WarnLevel},
		{"ErrorLevel", LogLevelError, zap.ErrorLevel},
		{"DPanicLevel", LogLevelDPanic, zap.DPanicLevel},
		{"PanicLevel", LogLevelPanic, zap.PanicLevel},
		{"FatalLevel", LogLevelFatal, zap.FatalLevel},
		{"UnknownLevel", LogLevel(999), zap.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedLevel, convertToZapLevel(tt.inputLevel))
		})
	}
}

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	log, logs := newObservedLogger(LogLevelWarn)

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	err := log.Error("error message")

	assert.EqualError(t, err, "error message")
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "warn message", logs.All()[0].Message)
	assert.Equal(t, "error message", logs.All()[1].Message)
}

func TestDefaultLoggerSetLevel(t *testing.T) {
	log, logs := newObservedLogger(LogLevelError)

	log.Info("dropped")
	log.SetLevel(LogLevelDebug)
	log.Debug("kept")

	assert.Equal(t, LogLevelDebug, log.GetLogLevel())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestDefaultLoggerWith(t *testing.T) {
	log, logs := newObservedLogger(LogLevelInfo)

	child := log.With(zap.String("component", "scheduler"))
	child.Info("hello")

	assert.Equal(t, LogLevelInfo, child.GetLogLevel())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "scheduler", logs.All()[0].ContextMap()["component"])
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.Warn("nothing")
	assert.Equal(t, LogLevelNone, log.GetLogLevel())
	assert.Error(t, log.Error("still returned"))
}

func TestDomainFieldHelpers(t *testing.T) {
	log, logs := newObservedLogger(LogLevelDebug)

	LogAdmission(log, "item-1", 0, 10*time.Millisecond)
	LogThrottled(log, "item-1", 0, time.Second)
	LogRetryAttempt(log, "item-1", 1, "throttled", 200*time.Millisecond)
	LogTerminal(log, "item-1", "Success", 2, nil)
	LogTerminal(log, "item-2", "FatalError", 1, errors.New("boom"))
	LogProbeLevel(log, 6, 1.0, 120*time.Millisecond, true)

	entries := logs.All()
	require.Len(t, entries, 6)

	events := make([]string, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.ContextMap()["event"].(string))
	}
	assert.Equal(t, []string{"admitted", "throttled", "retry_attempt", "terminal", "terminal", "probe_level"}, events)
	assert.Equal(t, zapcore.InfoLevel, entries[3].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[4].Level)
	assert.Equal(t, int64(6), entries[5].ContextMap()["capacity"])
}

func TestBuildLoggerEncodings(t *testing.T) {
	for _, encoding := range []string{LogOutputJSON, LogOutputHumanReadable, "unknown"} {
		t.Run(encoding, func(t *testing.T) {
			log := BuildLogger(LogLevelInfo, encoding, "\t", "")
			require.NotNil(t, log)
			assert.Equal(t, LogLevelInfo, log.GetLogLevel())
		})
	}
}

func TestEnsureLogFilePath(t *testing.T) {
	dir := t.TempDir()

	path, err := EnsureLogFilePath(dir)

	require.NoError(t, err)
	assert.Contains(t, path, dir)
	assert.Contains(t, path, "admission_")
}
