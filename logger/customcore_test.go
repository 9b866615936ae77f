package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MockCore is a mock implementation of zapcore.Core for testing purposes
type MockCore struct {
	mock.Mock
	zapcore.Core
}

func (m *MockCore) With(fields []zapcore.Field) zapcore.Core {
	args := m.Called(fields)
	return args.Get(0).(zapcore.Core)
}

func (m *MockCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	args := m.Called(entry, fields)
	return args.Error(0)
}

func (m *MockCore) Enabled(level zapcore.Level) bool {
	args := m.Called(level)
	return args.Bool(0)
}

func (m *MockCore) Sync() error {
	args := m.Called()
	return args.Error(0)
}

// TestCustomCoreWith tests the With method of customCore
func TestCustomCoreWith(t *testing.T) {
	mockCore := new(MockCore)
	cCore := newCustomCore(mockCore, zap.String("application", "app"))

	mockCore.On("With", mock.Anything).Return(mockCore)

	fields := []zapcore.Field{zap.String("key", "value")}
	newCore := cCore.With(fields)

	mockCore.AssertCalled(t, "With", fields)
	assert.IsType(t, &customCore{}, newCore, "Expected newCore to be of type *customCore")
	assert.Len(t, newCore.(*customCore).trailing, 1, "Trailing fields should survive With")
}

// TestCustomCoreWrite tests that the trailing fields end up last and replace call-site duplicates
func TestCustomCoreWrite(t *testing.T) {
	mockCore := new(MockCore)
	cCore := newCustomCore(mockCore, zap.String("application", "testApp"), zap.String("version", "1.0"))

	mockCore.On("Write", mock.Anything, mock.AnythingOfType("[]zapcore.Field")).Return(nil)

	entry := zapcore.Entry{}
	fields := []zapcore.Field{
		zap.String("correlation_id", "abc"),
		zap.String("application", "spoofed"),
		zap.Int("attempt", 2),
	}

	err := cCore.Write(entry, fields)

	assert.NoError(t, err)
	mockCore.AssertCalled(t, "Write", entry, mock.MatchedBy(func(f []zapcore.Field) bool {
		return len(f) == 4 &&
			f[0].Key == "correlation_id" &&
			f[1].Key == "attempt" &&
			f[2].Key == "application" && f[2].String == "testApp" &&
			f[3].Key == "version"
	}))
}

// TestCustomCoreCheck verifies that enabled entries are routed back through the custom core
func TestCustomCoreCheck(t *testing.T) {
	mockCore := new(MockCore)
	cCore := newCustomCore(mockCore)

	mockCore.On("Enabled", zapcore.InfoLevel).Return(true)
	mockCore.On("Enabled", zapcore.DebugLevel).Return(false)

	assert.NotNil(t, cCore.Check(zapcore.Entry{Level: zapcore.InfoLevel}, nil))
	assert.Nil(t, cCore.Check(zapcore.Entry{Level: zapcore.DebugLevel}, nil))
}

// TestCustomCoreSync tests the Sync method of customCore
func TestCustomCoreSync(t *testing.T) {
	mockCore := new(MockCore)
	cCore := newCustomCore(mockCore)

	mockCore.On("Sync").Return(nil)

	err := cCore.Sync()

	assert.NoError(t, err)
	mockCore.AssertCalled(t, "Sync")
}
