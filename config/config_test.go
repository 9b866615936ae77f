// config/config_test.go
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"github.com/deploymenttheory/go-api-admission-scheduler/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"log": {"level": "LogLevelDebug", "output_format": "console", "console_separator": "  "},
		"scheduler": {"capacity": 6, "max_retries": 3, "base_delay": "250ms", "max_delay": "10s", "default_max_wait": "90s", "queue_limit": 100},
		"backend": {
			"mode": "http",
			"url": "https://render.example.com/v1/generate",
			"headers": {"Authorization": "Bearer xxxxxxxx"},
			"timeout": "45s",
			"hide_sensitive_data": true
		},
		"probe": {"levels": [2, 6, 10], "sample_size": 10, "success_threshold": 0.9, "strategy": "bisect", "cooldown": "5s"},
		"metrics": {"enabled": true, "listen_address": ":9100"}
	}`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "LogLevelDebug", config.Log.Level)
	assert.Equal(t, "console", config.Log.OutputFormat)
	assert.Equal(t, "  ", config.Log.ConsoleSeparator)
	assert.Equal(t, 6, config.Scheduler.Capacity)
	assert.Equal(t, 3, config.Scheduler.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, config.Scheduler.BaseDelay.Duration())
	assert.Equal(t, 90*time.Second, config.Scheduler.DefaultMaxWait.Duration())
	assert.Equal(t, "https://render.example.com/v1/generate", config.Backend.URL)
	assert.Equal(t, "Bearer xxxxxxxx", config.Backend.Headers["Authorization"])
	assert.True(t, config.Backend.HideSensitiveData)
	assert.Equal(t, []int{2, 6, 10}, config.Probe.Levels)
	assert.Equal(t, "bisect", config.Probe.Strategy)
	assert.True(t, config.Metrics.Enabled)

	SetDefaultValues(config)
	require.NoError(t, config.Validate())

	probeConfig, err := config.ProbeConfig()
	require.NoError(t, err)
	assert.Equal(t, probe.StrategyBisect, probeConfig.Strategy)
	assert.Equal(t, 5*time.Second, probeConfig.Cooldown)
	assert.Equal(t, probe.DefaultSafetyMargin, probeConfig.SafetyMargin)

	schedulerConfig := config.SchedulerConfig()
	assert.Equal(t, 6, schedulerConfig.Capacity)
	assert.Equal(t, 100, schedulerConfig.QueueLimit)
	assert.Equal(t, 10*time.Second, schedulerConfig.MaxDelay)

	httpConfig := config.HTTPBackendConfig()
	assert.Equal(t, 45*time.Second, httpConfig.Timeout)
	assert.True(t, httpConfig.HideSensitiveData)
}

func TestLoadConfigFromFileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"Missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.json") }},
		{"WrongExtension", func(t *testing.T) string { return writeConfig(t, "config.yaml", "{}") }},
		{"InvalidJSON", func(t *testing.T) string { return writeConfig(t, "config.json", "{") }},
		{"InvalidDuration", func(t *testing.T) string {
			return writeConfig(t, "config.json", `{"scheduler": {"base_delay": "soon"}}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromFile(tt.path(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ADMISSION_LOG_LEVEL", "LogLevelWarn")
	t.Setenv("ADMISSION_CAPACITY", "8")
	t.Setenv("ADMISSION_MAX_RETRIES", "-1")
	t.Setenv("ADMISSION_BASE_DELAY", "100ms")
	t.Setenv("ADMISSION_BACKEND_MODE", "simulated")
	t.Setenv("ADMISSION_SIMULATED_SAFE_CONCURRENCY", "12")
	t.Setenv("ADMISSION_SIMULATED_THROTTLE_FRACTION", "0.5")
	t.Setenv("ADMISSION_BACKEND_HEADERS", "X-Api-Key=abc; X-Tenant = blue")
	t.Setenv("ADMISSION_BACKEND_MAX_REDIRECTS", "3")
	t.Setenv("ADMISSION_BACKEND_PROXY_URL", "http://proxy.example.com:3128")
	t.Setenv("ADMISSION_BACKEND_MAX_RESPONSE_BYTES", "1048576")
	t.Setenv("ADMISSION_PROBE_LEVELS", "4, 8,16")
	t.Setenv("ADMISSION_PROBE_APPLY_RECOMMENDATION", "true")
	t.Setenv("ADMISSION_METRICS_ENABLED", "true")

	config, err := LoadConfigFromEnv(&Config{Scheduler: SchedulerConfig{QueueLimit: 50}})
	require.NoError(t, err)

	assert.Equal(t, "LogLevelWarn", config.Log.Level)
	assert.Equal(t, logger.LogLevelWarn, config.LogLevel())
	assert.Equal(t, 8, config.Scheduler.Capacity)
	assert.Equal(t, -1, config.Scheduler.MaxRetries)
	assert.Equal(t, 50, config.Scheduler.QueueLimit)
	assert.Equal(t, 100*time.Millisecond, config.Scheduler.BaseDelay.Duration())
	assert.Equal(t, DefaultMaxDelay, config.Scheduler.MaxDelay)
	assert.Equal(t, BackendModeSimulated, config.Backend.Mode)
	assert.Equal(t, map[string]string{"X-Api-Key": "abc", "X-Tenant": "blue"}, config.Backend.Headers)
	assert.Equal(t, []int{4, 8, 16}, config.Probe.Levels)
	assert.Equal(t, 3, config.HTTPBackendConfig().MaxRedirects)
	assert.Equal(t, "http://proxy.example.com:3128", config.HTTPBackendConfig().ProxyURL)
	assert.Equal(t, int64(1<<20), config.HTTPBackendConfig().MaxResponseBytes)
	assert.True(t, config.Probe.ApplyRecommendation)
	assert.Equal(t, DefaultMetricsListenAddress, config.Metrics.ListenAddress)

	sim := config.SimulatedBackendConfig()
	assert.Equal(t, 12, sim.SafeConcurrency)
	assert.Equal(t, 0.5, sim.ThrottleFraction)
	assert.Equal(t, DefaultSimulatedLatency.Duration(), sim.Latency)
}

func TestLoadConfigFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"BadLevels", map[string]string{"ADMISSION_PROBE_LEVELS": "2,x"}},
		{"HTTPWithoutURL", map[string]string{"ADMISSION_BACKEND_MODE": "http"}},
		{"UnknownMode", map[string]string{"ADMISSION_BACKEND_MODE": "grpc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfigFromEnv(nil)
			assert.Error(t, err)
		})
	}
}

func TestSetDefaultValues(t *testing.T) {
	config := &Config{}
	SetDefaultValues(config)

	assert.Equal(t, DefaultLogLevel, config.Log.Level)
	assert.Equal(t, DefaultLogOutputFormat, config.Log.OutputFormat)
	assert.Equal(t, DefaultCapacity, config.Scheduler.Capacity)
	assert.Equal(t, DefaultBackendMode, config.Backend.Mode)
	assert.Equal(t, DefaultProbeLevels, config.Probe.Levels)
	assert.Equal(t, DefaultProbeStrategy, config.Probe.Strategy)

	config.Probe.Levels[0] = 99
	assert.Equal(t, 2, DefaultProbeLevels[0], "defaults are copied")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		config := Config{Backend: BackendConfig{URL: "http://localhost:8080/generate"}}
		SetDefaultValues(&config)
		return config
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"LogLevel", func(c *Config) { c.Log.Level = "verbose" }},
		{"LogFormat", func(c *Config) { c.Log.OutputFormat = "xml" }},
		{"Capacity", func(c *Config) { c.Scheduler.Capacity = -1 }},
		{"DelayOrder", func(c *Config) { c.Scheduler.MaxDelay = JSONDuration(time.Millisecond) }},
		{"URLScheme", func(c *Config) { c.Backend.URL = "ftp://example.com" }},
		{"ProxyURL", func(c *Config) { c.Backend.ProxyURL = "proxy:3128" }},
		{"MaxResponseBytes", func(c *Config) { c.Backend.MaxResponseBytes = -1 }},
		{"Fraction", func(c *Config) {
			c.Backend.Mode = BackendModeSimulated
			c.Backend.Simulated.ThrottleFraction = 1.5
		}},
		{"Strategy", func(c *Config) { c.Probe.Strategy = "random" }},
		{"Threshold", func(c *Config) { c.Probe.SuccessThreshold = 2 }},
		{"MetricsAddress", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = " "
		}},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestJSONDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"String", `"1m30s"`, 90 * time.Second, false},
		{"Nanoseconds", `1000000`, time.Millisecond, false},
		{"Invalid", `"later"`, 0, true},
		{"WrongType", `true`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d JSONDuration
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}

	out, err := json.Marshal(JSONDuration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
	assert.Equal(t, JSONDuration(time.Second), ParseJSONDuration("bogus", JSONDuration(time.Second)))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("ADMISSION_TEST_ENV_VAR", "test_value")
	assert.Equal(t, "test_value", getEnvOrDefault("TEST_ENV_VAR", "default_value"))
	assert.Equal(t, "default_value", getEnvOrDefault("NON_EXISTENT_ENV_VAR", "default_value"))

	assert.True(t, parseBool("true"))
	assert.False(t, parseBool("invalid_value"))
	assert.Equal(t, 42, parseInt("42", 10))
	assert.Equal(t, 10, parseInt("invalid_value", 10))
	assert.Equal(t, 0.25, parseFloat("0.25", 1))
	assert.Equal(t, 1.0, parseFloat("", 1))
}
