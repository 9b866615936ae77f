// config/load.go
// Description: Functions to load configuration values from a JSON file or environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable read by LoadConfigFromEnv.
const EnvPrefix = "ADMISSION_"

// LoadConfigFromFile reads a JSON configuration file. Defaults are not applied, so that
// environment variables can still override unset values before SetDefaultValues runs.
func LoadConfigFromFile(path string) (*Config, error) {
	path, err := validateFilePath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to clean/validate filepath (%s): %w", path, err)
	}

	fileBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the configuration file: %s, error: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(fileBytes, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the configuration file: %s, error: %w", path, err)
	}
	return &config, nil
}

// LoadConfigFromEnv overlays ADMISSION_* environment variables on config, applies defaults
// and validates the result. A nil config starts from an empty one.
func LoadConfigFromEnv(config *Config) (*Config, error) {
	if config == nil {
		config = &Config{}
	}
	if err := ApplyEnvOverrides(config); err != nil {
		return nil, err
	}
	SetDefaultValues(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnvOverrides overlays ADMISSION_* environment variables on config without applying
// defaults. Unparseable numeric values leave the existing value in place.
func ApplyEnvOverrides(config *Config) error {
	config.Log.Level = getEnvOrDefault("LOG_LEVEL", config.Log.Level)
	config.Log.OutputFormat = getEnvOrDefault("LOG_OUTPUT_FORMAT", config.Log.OutputFormat)
	config.Log.ConsoleSeparator = getEnvOrDefault("LOG_CONSOLE_SEPARATOR", config.Log.ConsoleSeparator)
	config.Log.ExportPath = getEnvOrDefault("LOG_EXPORT_PATH", config.Log.ExportPath)

	// Scheduler
	s := &config.Scheduler
	s.Capacity = parseInt(getEnvOrDefault("CAPACITY", ""), s.Capacity)
	s.MaxRetries = parseInt(getEnvOrDefault("MAX_RETRIES", ""), s.MaxRetries)
	s.BaseDelay = ParseJSONDuration(getEnvOrDefault("BASE_DELAY", ""), s.BaseDelay)
	s.MaxDelay = ParseJSONDuration(getEnvOrDefault("MAX_DELAY", ""), s.MaxDelay)
	s.DefaultMaxWait = ParseJSONDuration(getEnvOrDefault("DEFAULT_MAX_WAIT", ""), s.DefaultMaxWait)
	s.QueueLimit = parseInt(getEnvOrDefault("QUEUE_LIMIT", ""), s.QueueLimit)

	// Backend
	b := &config.Backend
	b.Mode = getEnvOrDefault("BACKEND_MODE", b.Mode)
	b.URL = getEnvOrDefault("BACKEND_URL", b.URL)
	b.Method = getEnvOrDefault("BACKEND_METHOD", b.Method)
	b.Timeout = ParseJSONDuration(getEnvOrDefault("BACKEND_TIMEOUT", ""), b.Timeout)
	b.HideSensitiveData = parseBool(getEnvOrDefault("HIDE_SENSITIVE_DATA", strconv.FormatBool(b.HideSensitiveData)))
	b.MaxRedirects = parseInt(getEnvOrDefault("BACKEND_MAX_REDIRECTS", ""), b.MaxRedirects)
	b.ProxyURL = getEnvOrDefault("BACKEND_PROXY_URL", b.ProxyURL)
	b.MaxResponseBytes = int64(parseInt(getEnvOrDefault("BACKEND_MAX_RESPONSE_BYTES", ""), int(b.MaxResponseBytes)))
	if headers := getEnvOrDefault("BACKEND_HEADERS", ""); headers != "" {
		b.Headers = parseHeadersFromString(headers)
	}

	sim := &b.Simulated
	sim.SafeConcurrency = parseInt(getEnvOrDefault("SIMULATED_SAFE_CONCURRENCY", ""), sim.SafeConcurrency)
	sim.ThrottleFraction = parseFloat(getEnvOrDefault("SIMULATED_THROTTLE_FRACTION", ""), sim.ThrottleFraction)
	sim.TransientFraction = parseFloat(getEnvOrDefault("SIMULATED_TRANSIENT_FRACTION", ""), sim.TransientFraction)
	sim.Latency = ParseJSONDuration(getEnvOrDefault("SIMULATED_LATENCY", ""), sim.Latency)
	sim.Seed = int64(parseInt(getEnvOrDefault("SIMULATED_SEED", ""), int(sim.Seed)))

	// Probe
	p := &config.Probe
	if levels := getEnvOrDefault("PROBE_LEVELS", ""); levels != "" {
		parsed, err := parseLevels(levels)
		if err != nil {
			return err
		}
		p.Levels = parsed
	}
	p.SampleSize = parseInt(getEnvOrDefault("PROBE_SAMPLE_SIZE", ""), p.SampleSize)
	p.SuccessThreshold = parseFloat(getEnvOrDefault("PROBE_SUCCESS_THRESHOLD", ""), p.SuccessThreshold)
	p.PerLevelTimeout = ParseJSONDuration(getEnvOrDefault("PROBE_PER_LEVEL_TIMEOUT", ""), p.PerLevelTimeout)
	p.SafetyMargin = parseInt(getEnvOrDefault("PROBE_SAFETY_MARGIN", ""), p.SafetyMargin)
	p.Strategy = getEnvOrDefault("PROBE_STRATEGY", p.Strategy)
	p.Cooldown = ParseJSONDuration(getEnvOrDefault("PROBE_COOLDOWN", ""), p.Cooldown)
	p.ApplyRecommendation = parseBool(getEnvOrDefault("PROBE_APPLY_RECOMMENDATION", strconv.FormatBool(p.ApplyRecommendation)))

	// Metrics
	m := &config.Metrics
	m.Enabled = parseBool(getEnvOrDefault("METRICS_ENABLED", strconv.FormatBool(m.Enabled)))
	m.ListenAddress = getEnvOrDefault("METRICS_LISTEN_ADDRESS", m.ListenAddress)
	m.Prefix = getEnvOrDefault("METRICS_PREFIX", m.Prefix)
	return nil
}

// validateFilePath cleans path and checks it names a .json file without traversal patterns.
func validateFilePath(path string) (string, error) {
	cleanPath := filepath.Clean(path)

	absPath, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		return "", fmt.Errorf("unable to resolve the absolute path of the configuration file: %s, error: %w", path, err)
	}

	if strings.Contains(absPath, "..") {
		return "", fmt.Errorf("invalid path, path traversal patterns detected: %s", path)
	}

	if filepath.Ext(absPath) != ConfigFileExtension {
		return "", fmt.Errorf("invalid file extension for configuration file: %s, expected .json", path)
	}

	return absPath, nil
}

// Helper function to get a prefixed environment variable or default value
func getEnvOrDefault(envKey string, defaultValue string) string {
	if value, exists := os.LookupEnv(EnvPrefix + envKey); exists {
		return value
	}
	return defaultValue
}

// Helper function to parse boolean from environment variable
func parseBool(value string) bool {
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return result
}

// Helper function to parse int from environment variable
func parseInt(value string, defaultVal int) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultVal
	}
	return result
}

func parseFloat(value string, defaultVal float64) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultVal
	}
	return result
}

// parseLevels parses a comma separated list of capacities such as "2,6,10".
func parseLevels(value string) ([]int, error) {
	var levels []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		level, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid probe level %q: %w", part, err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// parseHeadersFromString parses a semi-colon separated string of key=value pairs into a map.
func parseHeadersFromString(headerStr string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			headers[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return headers
}
