// cmd/admissionctl/cmd/probe.go
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/config"
	"github.com/deploymenttheory/go-api-admission-scheduler/observability"
	"github.com/deploymenttheory/go-api-admission-scheduler/probe"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// probeOutput is the JSON document written by the probe command.
type probeOutput struct {
	probe.Report
	Error string `json:"error,omitempty"`
}

func newProbeCommand(v *viper.Viper) *cobra.Command {
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Discover the sustainable concurrency of the backend",
		Long: `Fire waves of synthetic requests at increasing concurrency levels and recommend the
highest level the backend sustains.

Each level passes when the share of successful samples meets --threshold and the backend
did not throttle more than it served. The recommendation sits --safety-margin levels
below the first failing level.

Do not run a probe against a backend that is serving production traffic through the same
scheduler.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if v.IsSet("probe.levels") {
				cfg.Probe.Levels = v.GetIntSlice("probe.levels")
			}
			if v.IsSet("probe.sample-size") {
				cfg.Probe.SampleSize = v.GetInt("probe.sample-size")
			}
			if v.IsSet("probe.threshold") {
				cfg.Probe.SuccessThreshold = v.GetFloat64("probe.threshold")
			}
			if v.IsSet("probe.per-level-timeout") {
				cfg.Probe.PerLevelTimeout = jsonDuration(v.GetDuration("probe.per-level-timeout"))
			}
			if v.IsSet("probe.safety-margin") {
				cfg.Probe.SafetyMargin = v.GetInt("probe.safety-margin")
			}
			if v.IsSet("probe.strategy") {
				cfg.Probe.Strategy = v.GetString("probe.strategy")
			}
			if v.IsSet("probe.cooldown") {
				cfg.Probe.Cooldown = jsonDuration(v.GetDuration("probe.cooldown"))
			}
			if v.IsSet("probe.apply") {
				cfg.Probe.ApplyRecommendation = v.GetBool("probe.apply")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			probeConfig, err := cfg.ProbeConfig()
			if err != nil {
				return err
			}

			log := cfg.BuildLogger()
			rt, err := newRuntime(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close() }()

			p := probe.New(rt.scheduler, nil,
				observability.ProbeLevelLogger(log),
				rt.metrics.ObserveProbeLevel,
			)
			log.Info("Starting concurrency probe",
				zap.Ints("levels", probeConfig.Levels),
				zap.Int("sample_size", probeConfig.SampleSize),
				zap.Float64("success_threshold", probeConfig.SuccessThreshold),
				zap.String("strategy", probeConfig.Strategy.String()),
			)
			report, runErr := p.Run(cmd.Context(), probeConfig)
			rt.metrics.ObserveProbeReport(report)

			out := probeOutput{Report: report}
			if runErr != nil {
				out.Error = runErr.Error()
			}
			if err := writeJSON(cmd.OutOrStdout(), v.GetString("probe.output"), out); err != nil {
				return err
			}

			switch {
			case runErr == nil:
				log.Info("Probe finished", zap.Int("recommended_capacity", report.Recommended))
				return nil
			case errors.Is(runErr, probe.ErrNoSustainableConcurrency):
				return fmt.Errorf("probe tested %d levels: %w", len(report.Levels), runErr)
			default:
				return fmt.Errorf("probe interrupted after %d levels: %w", len(report.Levels), runErr)
			}
		},
	}

	flags := probeCmd.Flags()
	flags.IntSlice("levels", nil, "Concurrency levels to test, e.g. 2,6,10,15,20")
	flags.Int("sample-size", 0, "Synthetic requests per level")
	flags.Float64("threshold", 0, "Success rate a level needs to pass")
	flags.Duration("per-level-timeout", 0, "Time budget of each level")
	flags.Int("safety-margin", 0, "Levels to step back from the first failing level")
	flags.String("strategy", "", "Level search strategy: ascending or bisect")
	flags.Duration("cooldown", 0, "Pause between levels")
	flags.Bool("apply", false, "Leave the scheduler at the recommended capacity")
	flags.StringP("output", "o", "-", "Write the JSON report to this file, - for stdout")
	for _, name := range []string{
		"levels", "sample-size", "threshold", "per-level-timeout", "safety-margin",
		"strategy", "cooldown", "apply", "output",
	} {
		_ = v.BindPFlag("probe."+name, flags.Lookup(name))
	}
	return probeCmd
}

// writeJSON writes doc as indented JSON to path, or to stdout when path is "-" or empty.
func writeJSON(stdout io.Writer, path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func jsonDuration(d time.Duration) config.JSONDuration {
	return config.JSONDuration(d)
}
