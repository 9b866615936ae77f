// cmd/admissionctl/cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/config"
	"github.com/deploymenttheory/go-api-admission-scheduler/probe"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "LogLevelNone"}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestProbeCommandSimulated(t *testing.T) {
	out, err := run(t, "probe",
		"--simulate",
		"--sim-safe-concurrency", "6",
		"--sim-throttle-fraction", "0.7",
		"--sim-latency", "20ms",
		"--sim-seed", "7",
		"--levels", "2,6,10,15,20",
		"--sample-size", "20",
		"--threshold", "0.95",
	)
	require.NoError(t, err)

	var report struct {
		probe.Report
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Found)
	assert.Equal(t, 6, report.Recommended)
	assert.Empty(t, report.Error)
	require.Len(t, report.Levels, 3)
	assert.True(t, report.Levels[1].Passed)
	assert.False(t, report.Levels[2].Passed)
}

func TestProbeCommandNoSustainableConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	_, err := run(t, "probe",
		"--simulate",
		"--sim-safe-concurrency", "1",
		"--sim-throttle-fraction", "1",
		"--sim-latency", "20ms",
		"--levels", "8,10",
		"--sample-size", "8",
		"--output", path,
	)
	require.ErrorIs(t, err, probe.ErrNoSustainableConcurrency)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, false, report["found"])
	assert.Contains(t, report["error"], "no sustainable concurrency")
}

func TestLoadtestCommandSimulated(t *testing.T) {
	out, err := run(t, "loadtest",
		"--simulate",
		"--capacity", "2",
		"--sim-latency", "10ms",
		"--count", "10",
		"--rate", "1000",
		"--burst", "5",
	)
	require.NoError(t, err)

	var summary loadtestSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 10, summary.Submitted)
	assert.Equal(t, 10, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 10, summary.Attempts)
	assert.GreaterOrEqual(t, summary.P95, summary.P50)
	assert.Equal(t, int64(10), summary.Scheduler.Succeeded)
	assert.Equal(t, 2, summary.Scheduler.Capacity)
	assert.Positive(t, summary.Throughput)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"HTTPWithoutURL", []string{"probe"}},
		{"InvalidPayload", []string{"loadtest", "--simulate", "--payload", "{"}},
		{"ZeroCount", []string{"loadtest", "--simulate", "--count", "0"}},
		{"UnknownStrategy", []string{"probe", "--simulate", "--strategy", "random"}},
		{"MissingConfigFile", []string{"probe", "--config", "/does/not/exist.json"}},
		{"UnexpectedArgument", []string{"loadtest", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ADMISSION_BACKEND_URL", "")
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"scheduler": {"capacity": 2, "max_retries": 7},
		"backend": {"mode": "http", "url": "http://file.example.com"}
	}`), 0o600))
	t.Setenv("ADMISSION_CAPACITY", "3")
	t.Setenv("ADMISSION_BACKEND_URL", "http://env.example.com")

	tests := []struct {
		name         string
		args         []string
		wantCapacity int
		wantURL      string
		wantMode     string
	}{
		{"FileAndEnv", nil, 3, "http://env.example.com", config.BackendModeHTTP},
		{"FlagsWin", []string{"--capacity", "5", "--url", "http://flag.example.com"}, 5, "http://flag.example.com", config.BackendModeHTTP},
		{"Simulate", []string{"--simulate"}, 3, "http://env.example.com", config.BackendModeSimulated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			root := newRootCommand(v)
			require.NoError(t, root.PersistentFlags().Parse(append([]string{"--config", path}, tt.args...)))

			cfg, err := loadConfig(v)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCapacity, cfg.Scheduler.Capacity)
			assert.Equal(t, 7, cfg.Scheduler.MaxRetries)
			assert.Equal(t, tt.wantURL, cfg.Backend.URL)
			assert.Equal(t, tt.wantMode, cfg.Backend.Mode)
		})
	}
}
