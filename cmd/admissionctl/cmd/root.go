// cmd/admissionctl/cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deploymenttheory/go-api-admission-scheduler/config"
	"github.com/deploymenttheory/go-api-admission-scheduler/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand builds the admissionctl command tree. Each call returns an independent tree
// with its own flag bindings.
func NewRootCommand() *cobra.Command {
	return newRootCommand(viper.New())
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "admissionctl",
		Short: "Probe and load test a rate-limited backend through the admission scheduler",
		Long: `
Command line utility that drives a backend through the bounded-concurrency admission
scheduler.

Configuration is read from a JSON file (--config), then ADMISSION_* environment variables,
then command line flags, each layer overriding the previous one.

Example config.json:

{
  "scheduler": {"capacity": 4, "max_retries": 5, "base_delay": "500ms", "max_delay": "30s"},
  "backend": {"mode": "http", "url": "https://render.example.com/v1/generate", "timeout": "60s"},
  "probe": {"levels": [2, 6, 10, 15, 20], "sample_size": 20, "success_threshold": 0.95}
}
`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a JSON configuration file")
	flags.String("log-level", "", "Log level, e.g. LogLevelDebug or LogLevelInfo")
	flags.String("log-format", "", "Log output format: json or console")
	flags.String("url", "", "Backend URL")
	flags.Int("capacity", 0, "Maximum number of concurrent backend invocations")
	flags.Int("max-retries", 0, "Retry cap per item, negative disables retries")
	flags.Bool("simulate", false, "Use the simulated backend instead of HTTP")
	flags.Int("sim-safe-concurrency", 0, "Concurrency the simulated backend tolerates")
	flags.Float64("sim-throttle-fraction", 0, "Probability that a simulated call above the safe concurrency is throttled")
	flags.Duration("sim-latency", 0, "Latency of a simulated call")
	flags.Int64("sim-seed", 0, "Seed of the simulated backend")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	for _, name := range []string{
		"config", "log-level", "log-format", "url", "capacity", "max-retries", "simulate",
		"sim-safe-concurrency", "sim-throttle-fraction", "sim-latency", "sim-seed", "metrics-addr",
	} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(newProbeCommand(v), newLoadtestCommand(v))
	return rootCmd
}

// Execute runs the command tree and exits non-zero on failure. It is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and the flags bound to v, then
// applies defaults and validates.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := &config.Config{}
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if v.IsSet("log-level") {
		cfg.Log.Level = v.GetString("log-level")
	}
	if v.IsSet("log-format") {
		cfg.Log.OutputFormat = v.GetString("log-format")
	}
	if v.IsSet("url") {
		cfg.Backend.URL = v.GetString("url")
		cfg.Backend.Mode = config.BackendModeHTTP
	}
	if v.IsSet("capacity") {
		cfg.Scheduler.Capacity = v.GetInt("capacity")
	}
	if v.IsSet("max-retries") {
		cfg.Scheduler.MaxRetries = v.GetInt("max-retries")
	}
	if v.GetBool("simulate") {
		cfg.Backend.Mode = config.BackendModeSimulated
	}
	if v.IsSet("sim-safe-concurrency") {
		cfg.Backend.Simulated.SafeConcurrency = v.GetInt("sim-safe-concurrency")
	}
	if v.IsSet("sim-throttle-fraction") {
		cfg.Backend.Simulated.ThrottleFraction = v.GetFloat64("sim-throttle-fraction")
	}
	if v.IsSet("sim-latency") {
		cfg.Backend.Simulated.Latency = config.JSONDuration(v.GetDuration("sim-latency"))
	}
	if v.IsSet("sim-seed") {
		cfg.Backend.Simulated.Seed = v.GetInt64("sim-seed")
	}
	if v.IsSet("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = v.GetString("metrics-addr")
	}

	config.SetDefaultValues(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
