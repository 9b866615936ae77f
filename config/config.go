// config/config.go
/* Package config holds the file and environment driven configuration of the admission
scheduler, its backend, the concurrency probe and the metrics endpoint, and converts it
into the typed configurations of those packages. */
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/backend/httpbackend"
	"github.com/deploymenttheory/go-api-admission-scheduler/backend/simulated"
	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"github.com/deploymenttheory/go-api-admission-scheduler/observability"
	"github.com/deploymenttheory/go-api-admission-scheduler/probe"
	"github.com/deploymenttheory/go-api-admission-scheduler/ratehandler"
	"github.com/deploymenttheory/go-api-admission-scheduler/scheduler"
)

const (
	BackendModeHTTP      = "http"
	BackendModeSimulated = "simulated"
)

const (
	DefaultLogLevel             = "LogLevelInfo"
	DefaultLogOutputFormat      = logger.LogOutputJSON
	DefaultLogConsoleSeparator  = "\t"
	DefaultCapacity             = 4
	DefaultBaseDelay            = JSONDuration(ratehandler.DefaultBaseDelay)
	DefaultMaxDelay             = JSONDuration(ratehandler.DefaultMaxDelay)
	DefaultMaxWait              = JSONDuration(scheduler.DefaultMaxWait)
	DefaultBackendMode          = BackendModeHTTP
	DefaultBackendTimeout       = JSONDuration(httpbackend.DefaultTimeout)
	DefaultSafeConcurrency      = 6
	DefaultThrottleFraction     = 0.7
	DefaultSimulatedLatency     = JSONDuration(200 * time.Millisecond)
	DefaultThrottleLatency      = JSONDuration(20 * time.Millisecond)
	DefaultProbeStrategy        = "ascending"
	DefaultMetricsListenAddress = ":9090"
	ConfigFileExtension         = ".json"
)

// DefaultProbeLevels are the capacities probed when none are configured.
var DefaultProbeLevels = []int{2, 6, 10, 15, 20}

// Config is the top-level configuration.
type Config struct {
	Log       LogConfig       `json:"log"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Backend   BackendConfig   `json:"backend"`
	Probe     ProbeConfig     `json:"probe"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string `json:"level"`
	OutputFormat     string `json:"output_format"`
	ConsoleSeparator string `json:"console_separator"`
	ExportPath       string `json:"export_path"`
}

// SchedulerConfig configures admission, queueing and retries.
type SchedulerConfig struct {
	Capacity       int          `json:"capacity"`
	MaxRetries     int          `json:"max_retries"`
	BaseDelay      JSONDuration `json:"base_delay"`
	MaxDelay       JSONDuration `json:"max_delay"`
	DefaultMaxWait JSONDuration `json:"default_max_wait"`
	QueueLimit     int          `json:"queue_limit"`
}

// BackendConfig selects and configures the backend client.
type BackendConfig struct {
	Mode              string            `json:"mode"`
	URL               string            `json:"url"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers"`
	Timeout           JSONDuration      `json:"timeout"`
	HideSensitiveData bool              `json:"hide_sensitive_data"`
	MaxRedirects      int               `json:"max_redirects"`
	ProxyURL          string            `json:"proxy_url"`
	MaxResponseBytes  int64             `json:"max_response_bytes"`
	Simulated         SimulatedConfig   `json:"simulated"`
}

// SimulatedConfig configures the simulated backend.
type SimulatedConfig struct {
	SafeConcurrency   int          `json:"safe_concurrency"`
	ThrottleFraction  float64      `json:"throttle_fraction"`
	TransientFraction float64      `json:"transient_fraction"`
	Latency           JSONDuration `json:"latency"`
	LatencyJitter     JSONDuration `json:"latency_jitter"`
	ThrottleLatency   JSONDuration `json:"throttle_latency"`
	RetryAfter        JSONDuration `json:"retry_after"`
	Seed              int64        `json:"seed"`
}

// ProbeConfig configures the concurrency probe.
type ProbeConfig struct {
	Levels              []int        `json:"levels"`
	SampleSize          int          `json:"sample_size"`
	SuccessThreshold    float64      `json:"success_threshold"`
	PerLevelTimeout     JSONDuration `json:"per_level_timeout"`
	SafetyMargin        int          `json:"safety_margin"`
	Strategy            string       `json:"strategy"`
	Cooldown            JSONDuration `json:"cooldown"`
	ApplyRecommendation bool         `json:"apply_recommendation"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listen_address"`
	Prefix        string `json:"prefix"`
}

// SetDefaultValues fills unset fields with their defaults.
func SetDefaultValues(config *Config) {
	setLoggerDefaultValues(config)

	s := &config.Scheduler
	if s.Capacity == 0 {
		s.Capacity = DefaultCapacity
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = ratehandler.DefaultMaxRetries
	}
	if s.BaseDelay == 0 {
		s.BaseDelay = DefaultBaseDelay
	}
	if s.MaxDelay == 0 {
		s.MaxDelay = DefaultMaxDelay
	}
	if s.DefaultMaxWait == 0 {
		s.DefaultMaxWait = DefaultMaxWait
	}

	b := &config.Backend
	if b.Mode == "" {
		b.Mode = DefaultBackendMode
	}
	if b.Timeout == 0 {
		b.Timeout = DefaultBackendTimeout
	}
	if b.Simulated.SafeConcurrency == 0 {
		b.Simulated.SafeConcurrency = DefaultSafeConcurrency
	}
	if b.Simulated.ThrottleFraction == 0 {
		b.Simulated.ThrottleFraction = DefaultThrottleFraction
	}
	if b.Simulated.Latency == 0 {
		b.Simulated.Latency = DefaultSimulatedLatency
	}
	if b.Simulated.ThrottleLatency == 0 {
		b.Simulated.ThrottleLatency = DefaultThrottleLatency
	}

	p := &config.Probe
	if len(p.Levels) == 0 {
		p.Levels = slices.Clone(DefaultProbeLevels)
	}
	if p.SampleSize == 0 {
		p.SampleSize = probe.DefaultSampleSize
	}
	if p.SuccessThreshold == 0 {
		p.SuccessThreshold = probe.DefaultSuccessThreshold
	}
	if p.PerLevelTimeout == 0 {
		p.PerLevelTimeout = JSONDuration(probe.DefaultPerLevelTimeout)
	}
	if p.SafetyMargin == 0 {
		p.SafetyMargin = probe.DefaultSafetyMargin
	}
	if p.Strategy == "" {
		p.Strategy = DefaultProbeStrategy
	}

	m := &config.Metrics
	if m.ListenAddress == "" {
		m.ListenAddress = DefaultMetricsListenAddress
	}
	if m.Prefix == "" {
		m.Prefix = observability.DefaultMetricsPrefix
	}
}

func setLoggerDefaultValues(config *Config) {
	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}
	if config.Log.OutputFormat == "" {
		config.Log.OutputFormat = DefaultLogOutputFormat
	}
	if config.Log.ConsoleSeparator == "" {
		config.Log.ConsoleSeparator = DefaultLogConsoleSeparator
	}
}

// Validate checks the configuration and returns the first problem found.
func (c Config) Validate() error {
	if !slices.Contains(logger.ValidLogLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	validLogFormats := []string{logger.LogOutputJSON, logger.LogOutputHumanReadable}
	if !slices.Contains(validLogFormats, c.Log.OutputFormat) {
		return fmt.Errorf("invalid log output format: %s", c.Log.OutputFormat)
	}

	if err := c.SchedulerConfig().Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	switch c.Backend.Mode {
	case BackendModeHTTP:
		if c.Backend.URL == "" {
			return errors.New("backend: url is required in http mode")
		}
		parsed, err := url.Parse(c.Backend.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("backend: invalid url: %s", c.Backend.URL)
		}
		if c.Backend.Timeout < 0 {
			return errors.New("backend: timeout cannot be less than 0 seconds")
		}
		if c.Backend.MaxResponseBytes < 0 {
			return errors.New("backend: max response bytes cannot be negative")
		}
		if c.Backend.ProxyURL != "" {
			if proxy, err := url.Parse(c.Backend.ProxyURL); err != nil || proxy.Host == "" {
				return errors.New("backend: invalid proxy url")
			}
		}
	case BackendModeSimulated:
		sim := c.Backend.Simulated
		if sim.SafeConcurrency < 0 {
			return errors.New("backend: simulated safe concurrency cannot be negative")
		}
		if sim.ThrottleFraction < 0 || sim.ThrottleFraction > 1 || sim.TransientFraction < 0 || sim.TransientFraction > 1 {
			return errors.New("backend: simulated fractions must be between 0 and 1")
		}
	default:
		return fmt.Errorf("backend: unknown mode %q", c.Backend.Mode)
	}

	probeConfig, err := c.ProbeConfig()
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if err := probeConfig.Validate(); err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.ListenAddress) == "" {
		return errors.New("metrics: listen address is required when metrics are enabled")
	}
	return nil
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() logger.LogLevel {
	return logger.ParseLogLevelFromString(c.Log.Level)
}

// BuildLogger builds the logger described by the log configuration.
func (c Config) BuildLogger() logger.Logger {
	return logger.BuildLogger(c.LogLevel(), c.Log.OutputFormat, c.Log.ConsoleSeparator, c.Log.ExportPath)
}

// SchedulerConfig returns the scheduler configuration.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Capacity:       c.Scheduler.Capacity,
		MaxRetries:     c.Scheduler.MaxRetries,
		BaseDelay:      c.Scheduler.BaseDelay.Duration(),
		MaxDelay:       c.Scheduler.MaxDelay.Duration(),
		DefaultMaxWait: c.Scheduler.DefaultMaxWait.Duration(),
		QueueLimit:     c.Scheduler.QueueLimit,
	}
}

// HTTPBackendConfig returns the HTTP backend configuration.
func (c Config) HTTPBackendConfig() httpbackend.Config {
	return httpbackend.Config{
		URL:               c.Backend.URL,
		Method:            c.Backend.Method,
		Headers:           c.Backend.Headers,
		Timeout:           c.Backend.Timeout.Duration(),
		HideSensitiveData: c.Backend.HideSensitiveData,
		MaxRedirects:      c.Backend.MaxRedirects,
		ProxyURL:          c.Backend.ProxyURL,
		MaxResponseBytes:  c.Backend.MaxResponseBytes,
	}
}

// SimulatedBackendConfig returns the simulated backend configuration.
func (c Config) SimulatedBackendConfig() simulated.Config {
	sim := c.Backend.Simulated
	return simulated.Config{
		SafeConcurrency:   sim.SafeConcurrency,
		ThrottleFraction:  sim.ThrottleFraction,
		TransientFraction: sim.TransientFraction,
		Latency:           sim.Latency.Duration(),
		LatencyJitter:     sim.LatencyJitter.Duration(),
		ThrottleLatency:   sim.ThrottleLatency.Duration(),
		RetryAfter:        sim.RetryAfter.Duration(),
		Seed:              sim.Seed,
	}
}

// ProbeConfig returns the probe configuration. It fails only on an unknown strategy.
func (c Config) ProbeConfig() (probe.Config, error) {
	strategy, err := probe.ParseStrategy(c.Probe.Strategy)
	if err != nil {
		return probe.Config{}, err
	}
	return probe.Config{
		Levels:              slices.Clone(c.Probe.Levels),
		SampleSize:          c.Probe.SampleSize,
		SuccessThreshold:    c.Probe.SuccessThreshold,
		PerLevelTimeout:     c.Probe.PerLevelTimeout.Duration(),
		SafetyMargin:        c.Probe.SafetyMargin,
		Strategy:            strategy,
		Cooldown:            c.Probe.Cooldown.Duration(),
		ApplyRecommendation: c.Probe.ApplyRecommendation,
	}, nil
}
