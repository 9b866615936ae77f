package logger

import (
	"go.uber.org/zap/zapcore"
)

// customCore appends a fixed set of trailing fields (application, version) to every
// entry so the per-event fields (correlation id, attempt, ...) are read first.
type customCore struct {
	zapcore.Core
	trailing []zapcore.Field
}

func newCustomCore(core zapcore.Core, trailing ...zapcore.Field) *customCore {
	return &customCore{Core: core, trailing: trailing}
}

// With adds structured context to the Core.
func (c *customCore) With(fields []zapcore.Field) zapcore.Core {
	return &customCore{Core: c.Core.With(fields), trailing: c.trailing}
}

// Write drops call-site fields that collide with the trailing keys, appends the
// trailing fields and hands the entry to the wrapped core.
func (c *customCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	reordered := make([]zapcore.Field, 0, len(fields)+len(c.trailing))
	for _, field := range fields {
		if !c.isTrailingKey(field.Key) {
			reordered = append(reordered, field)
		}
	}
	reordered = append(reordered, c.trailing...)
	return c.Core.Write(entry, reordered)
}

// Check determines whether the supplied Entry should be logged.
func (c *customCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, c)
	}
	return checkedEntry
}

// Sync flushes buffered logs (if any).
func (c *customCore) Sync() error {
	return c.Core.Sync()
}

func (c *customCore) isTrailingKey(key string) bool {
	for _, f := range c.trailing {
		if f.Key == key {
			return true
		}
	}
	return false
}
