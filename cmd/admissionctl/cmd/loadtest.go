// cmd/admissionctl/cmd/loadtest.go
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/outcome"
	"github.com/deploymenttheory/go-api-admission-scheduler/scheduler"
	"github.com/influxdata/tdigest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultLoadtestPayload = `{"prompt":"admission scheduler load test"}`

// loadtestSummary is the JSON document written by the loadtest command.
type loadtestSummary struct {
	Submitted        int             `json:"submitted"`
	Rejected         int             `json:"rejected"`
	Succeeded        int             `json:"succeeded"`
	Failed           int             `json:"failed"`
	DeadlineExceeded int             `json:"deadline_exceeded"`
	RetriesExhausted int             `json:"retries_exhausted"`
	Cancelled        int             `json:"cancelled"`
	Attempts         int             `json:"attempts"`
	Elapsed          time.Duration   `json:"elapsed"`
	Throughput       float64         `json:"throughput_per_second"`
	P50              time.Duration   `json:"p50_latency"`
	P95              time.Duration   `json:"p95_latency"`
	P99              time.Duration   `json:"p99_latency"`
	Scheduler        scheduler.Stats `json:"scheduler"`
}

type completion struct {
	out      outcome.Outcome
	attempts int
	latency  time.Duration
}

func newLoadtestCommand(v *viper.Viper) *cobra.Command {
	loadtestCmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Submit a burst of work items and report how the scheduler handled them",
		Long: `Submit --count work items through the scheduler, optionally paced at --rate items per
second, wait for every item to reach a terminal outcome and print a JSON summary of the
outcomes, retries and end-to-end latencies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			count := v.GetInt("loadtest.count")
			if count < 1 {
				return fmt.Errorf("count must be at least 1, got %d", count)
			}
			payload := json.RawMessage(v.GetString("loadtest.payload"))
			if !json.Valid(payload) {
				return errors.New("payload must be valid JSON")
			}

			limit := rate.Inf
			if r := v.GetFloat64("loadtest.rate"); r > 0 {
				limit = rate.Limit(r)
			}
			burst := v.GetInt("loadtest.burst")
			if burst < 1 {
				burst = 1
			}
			limiter := rate.NewLimiter(limit, burst)

			log := cfg.BuildLogger()
			rt, err := newRuntime(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close() }()

			log.Info("Starting load test",
				zap.Int("count", count),
				zap.Float64("rate", float64(limit)),
				zap.Int("capacity", cfg.Scheduler.Capacity),
			)

			ctx := cmd.Context()
			maxWait := v.GetDuration("loadtest.max-wait")
			summary, err := runLoadtest(ctx, rt.scheduler, limiter, count, payload, maxWait)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), v.GetString("loadtest.output"), summary); err != nil {
				return err
			}
			log.Info("Load test finished",
				zap.Int("succeeded", summary.Succeeded),
				zap.Int("failed", summary.Failed),
				zap.Duration("elapsed", summary.Elapsed),
			)
			return ctx.Err()
		},
	}

	flags := loadtestCmd.Flags()
	flags.Int("count", 20, "Number of work items to submit")
	flags.Float64("rate", 0, "Submissions per second, 0 submits as fast as possible")
	flags.Int("burst", 1, "Submissions allowed at once when pacing")
	flags.Duration("max-wait", 0, "Per-item deadline measured from submission, 0 uses the scheduler default")
	flags.String("payload", defaultLoadtestPayload, "JSON payload sent with every item")
	flags.StringP("output", "o", "-", "Write the JSON summary to this file, - for stdout")
	for _, name := range []string{"count", "rate", "burst", "max-wait", "payload", "output"} {
		_ = v.BindPFlag("loadtest."+name, flags.Lookup(name))
	}
	return loadtestCmd
}

// runLoadtest submits count items paced by limiter and waits for all of them. Submission
// stops early when ctx is done; items already submitted are cancelled through ctx.
func runLoadtest(ctx context.Context, s *scheduler.Scheduler, limiter *rate.Limiter, count int, payload json.RawMessage, maxWait time.Duration) (loadtestSummary, error) {
	var summary loadtestSummary
	var mu sync.Mutex
	completions := make([]completion, 0, count)

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		var deadline time.Time
		submitted := time.Now()
		if maxWait > 0 {
			deadline = submitted.Add(maxWait)
		}
		h, err := s.Submit(ctx, scheduler.WorkItem{Payload: payload}, deadline)
		if errors.Is(err, scheduler.ErrQueueFull) {
			summary.Rejected++
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("submit item %d: %w", i, err)
		}
		summary.Submitted++

		g.Go(func() error {
			out, err := h.Result(context.Background())
			if err != nil {
				return err
			}
			mu.Lock()
			completions = append(completions, completion{out: out, attempts: h.Attempts(), latency: time.Since(submitted)})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	summary.Elapsed = time.Since(start)

	td := tdigest.NewWithCompression(100)
	for _, c := range completions {
		summary.Attempts += c.attempts
		switch {
		case c.out.Kind == outcome.KindSuccess:
			summary.Succeeded++
			td.Add(float64(c.latency), 1)
			continue
		case c.out.Is(outcome.ErrDeadlineExceeded):
			summary.DeadlineExceeded++
		case c.out.Is(outcome.ErrRetriesExhausted):
			summary.RetriesExhausted++
		case c.out.Is(outcome.ErrCancelled):
			summary.Cancelled++
		}
		summary.Failed++
	}
	if summary.Succeeded > 0 {
		summary.P50 = time.Duration(td.Quantile(0.5))
		summary.P95 = time.Duration(td.Quantile(0.95))
		summary.P99 = time.Duration(td.Quantile(0.99))
	}
	if seconds := summary.Elapsed.Seconds(); seconds > 0 {
		summary.Throughput = float64(summary.Succeeded) / seconds
	}
	summary.Scheduler = s.Stats()
	return summary, nil
}
