// probe/probe.go
/* Package probe discovers the sustainable concurrency of a backend. It drives a scheduler
through a sequence of capacity levels, fires a wave of single-attempt samples at each,
and accepts a level when the aggregate success rate meets the threshold and the
scheduler's confidence in that capacity is not negative. The recommendation steps a
safety margin below the first failing level.

A probe needs exclusive control of the scheduler's capacity. Do not run it against a
scheduler that is serving live traffic. */
package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/outcome"
	"github.com/deploymenttheory/go-api-admission-scheduler/scheduler"
	"github.com/influxdata/tdigest"
	"golang.org/x/sync/errgroup"
)

// ErrNoSustainableConcurrency is returned when not even the lowest tested level passes.
var ErrNoSustainableConcurrency = errors.New("no sustainable concurrency found")

// Strategy selects the order in which levels are tested.
type Strategy int

const (
	// StrategyAscending tests levels from lowest to highest and stops at the first failure.
	StrategyAscending Strategy = iota

	// StrategyBisect binary-searches the sorted levels for the first failing one,
	// assuming success degrades monotonically with capacity.
	StrategyBisect
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyAscending:
		return "ascending"
	case StrategyBisect:
		return "bisect"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a strategy name into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "ascending":
		return StrategyAscending, nil
	case "bisect":
		return StrategyBisect, nil
	default:
		return 0, fmt.Errorf("unknown probe strategy %q", name)
	}
}

const (
	DefaultSampleSize       = 20
	DefaultSuccessThreshold = 0.95
	DefaultPerLevelTimeout  = 2 * time.Minute
	DefaultSafetyMargin     = 1
)

// Config describes one probe run.
type Config struct {
	// Levels are the capacities to try. They are tested in ascending order.
	Levels []int

	// SampleSize is the number of synthetic requests fired at each level.
	SampleSize int

	// SuccessThreshold is the fraction of samples that must succeed for a level to pass.
	SuccessThreshold float64

	// PerLevelTimeout bounds each level. Samples still running when it elapses count as
	// timed out.
	PerLevelTimeout time.Duration

	// SafetyMargin is how many levels below the first failing level the recommendation
	// sits. One recommends the highest passing level.
	SafetyMargin int

	Strategy Strategy

	// Cooldown is a pause between levels that lets the backend recover.
	Cooldown time.Duration

	// ApplyRecommendation leaves the scheduler at the recommended capacity instead of
	// restoring its original capacity.
	ApplyRecommendation bool
}

// SetDefaultValues fills zero fields with their defaults.
func (c *Config) SetDefaultValues() {
	if c.SampleSize == 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.PerLevelTimeout == 0 {
		c.PerLevelTimeout = DefaultPerLevelTimeout
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Levels) == 0 {
		return errors.New("at least one probe level is required")
	}
	for _, level := range c.Levels {
		if level < 1 {
			return fmt.Errorf("probe levels must be positive, got %d", level)
		}
	}
	if c.SampleSize < 1 {
		return fmt.Errorf("sample size must be at least 1, got %d", c.SampleSize)
	}
	if c.SuccessThreshold <= 0 || c.SuccessThreshold > 1 {
		return fmt.Errorf("success threshold must be in (0, 1], got %v", c.SuccessThreshold)
	}
	if c.PerLevelTimeout <= 0 {
		return errors.New("per-level timeout must be positive")
	}
	if c.SafetyMargin < 1 {
		return fmt.Errorf("safety margin must be at least 1, got %d", c.SafetyMargin)
	}
	if c.Cooldown < 0 {
		return errors.New("cooldown cannot be negative")
	}
	if c.Strategy != StrategyAscending && c.Strategy != StrategyBisect {
		return fmt.Errorf("unknown probe strategy %d", c.Strategy)
	}
	return nil
}

// LevelResult aggregates the samples fired at one capacity.
type LevelResult struct {
	Capacity    int           `json:"capacity"`
	Samples     int           `json:"samples"`
	Succeeded   int           `json:"succeeded"`
	Throttled   int           `json:"throttled"`
	Transient   int           `json:"transient"`
	Fatal       int           `json:"fatal"`
	TimedOut    int           `json:"timed_out"`
	SuccessRate float64       `json:"success_rate"`
	P50         time.Duration `json:"p50_latency"`
	P95         time.Duration `json:"p95_latency"`
	Confidence  int           `json:"confidence"`
	Passed      bool          `json:"passed"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Report is the result of a probe run. Levels holds completed levels in the order they
// were tested.
type Report struct {
	Levels      []LevelResult `json:"levels"`
	Recommended int           `json:"recommended"`
	Found       bool          `json:"found"`
	Partial     bool          `json:"partial"`
	Err         error         `json:"-"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Level returns the result recorded for capacity, if it was tested.
func (r Report) Level(capacity int) (LevelResult, bool) {
	for _, l := range r.Levels {
		if l.Capacity == capacity {
			return l, true
		}
	}
	return LevelResult{}, false
}

// PayloadFunc builds the synthetic payload of one sample.
type PayloadFunc func(level, sample int) any

// Observer is notified after each completed level.
type Observer func(LevelResult)

// Probe runs capacity experiments against a scheduler.
type Probe struct {
	scheduler *scheduler.Scheduler
	payload   PayloadFunc
	observers []Observer
}

// New creates a probe. payload may be nil, in which case samples carry no payload.
func New(s *scheduler.Scheduler, payload PayloadFunc, observers ...Observer) *Probe {
	if payload == nil {
		payload = func(int, int) any { return nil }
	}
	return &Probe{scheduler: s, payload: payload, observers: observers}
}

// Run executes the probe. When ctx is done mid-run the report holds the completed levels,
// Partial is set and ctx's error is returned. When no level passes the error is
// ErrNoSustainableConcurrency.
func (p *Probe) Run(ctx context.Context, cfg Config) (Report, error) {
	cfg.SetDefaultValues()
	report := Report{StartedAt: time.Now()}
	if err := cfg.Validate(); err != nil {
		report.Err = err
		report.FinishedAt = time.Now()
		return report, err
	}

	levels := sortedUnique(cfg.Levels)
	original := p.scheduler.Capacity()

	passed := make(map[int]bool, len(levels))
	test := func(idx int) (bool, error) {
		if len(report.Levels) > 0 && cfg.Cooldown > 0 {
			if err := sleep(ctx, cfg.Cooldown); err != nil {
				return false, err
			}
		}
		result, err := p.runLevel(ctx, cfg, levels[idx])
		if err != nil {
			return false, err
		}
		report.Levels = append(report.Levels, result)
		passed[levels[idx]] = result.Passed
		for _, observe := range p.observers {
			observe(result)
		}
		return result.Passed, nil
	}

	var firstFailing int
	var runErr error
	switch cfg.Strategy {
	case StrategyBisect:
		firstFailing, runErr = bisect(len(levels), test)
	default:
		firstFailing, runErr = ascend(len(levels), test)
	}

	report.FinishedAt = time.Now()
	if runErr != nil {
		report.Partial = true
		report.Err = runErr
		p.restore(original)
		return report, runErr
	}

	if firstFailing == 0 {
		report.Err = ErrNoSustainableConcurrency
		p.restore(original)
		return report, ErrNoSustainableConcurrency
	}

	idx := firstFailing - cfg.SafetyMargin
	if idx < 0 {
		idx = 0
	}
	report.Recommended = levels[idx]
	report.Found = true

	if cfg.ApplyRecommendation {
		if err := p.scheduler.Resize(report.Recommended); err != nil {
			report.Err = err
			return report, err
		}
	} else {
		p.restore(original)
	}
	return report, nil
}

// ascend tests levels in order and returns the index of the first failing one, or n.
func ascend(n int, test func(int) (bool, error)) (int, error) {
	for i := 0; i < n; i++ {
		ok, err := test(i)
		if err != nil {
			return 0, err
		}
		if !ok {
			return i, nil
		}
	}
	return n, nil
}

// bisect binary-searches for the first failing index, or n when every level passes.
func bisect(n int, test func(int) (bool, error)) (int, error) {
	lo, hi := 0, n
	for lo < hi {
		mid := lo + (hi-lo)/2
		ok, err := test(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

type sample struct {
	out      outcome.Outcome
	latency  time.Duration
	timedOut bool
}

// runLevel resizes the scheduler and fires one wave of samples. It only returns an
// error when ctx itself is done.
func (p *Probe) runLevel(ctx context.Context, cfg Config, level int) (LevelResult, error) {
	if err := p.scheduler.Resize(level); err != nil {
		return LevelResult{}, err
	}
	p.scheduler.ResetConfidence(level)

	start := time.Now()
	levelCtx, cancel := context.WithTimeout(ctx, cfg.PerLevelTimeout)
	defer cancel()

	results := make(chan sample, cfg.SampleSize)
	g, gctx := errgroup.WithContext(levelCtx)
	for i := 0; i < cfg.SampleSize; i++ {
		payload := p.payload(level, i)
		g.Go(func() error {
			began := time.Now()
			out := p.scheduler.Execute(gctx, payload)
			results <- sample{
				out:      out,
				latency:  time.Since(began),
				timedOut: out.Kind == outcome.KindFatalError && levelCtx.Err() != nil,
			}
			// Only cancellation of the whole run aborts the level.
			return ctx.Err()
		})
	}

	// Samples observe levelCtx, so once it is done the wave ends promptly. Waiting for
	// it keeps late samples from holding slots into the next level.
	if err := g.Wait(); err != nil {
		return LevelResult{}, err
	}
	close(results)

	result := LevelResult{Capacity: level, Samples: cfg.SampleSize}
	td := tdigest.NewWithCompression(100)
	for s := range results {
		classify(&result, s, td)
	}

	result.SuccessRate = float64(result.Succeeded) / float64(result.Samples)
	if result.Succeeded > 0 {
		result.P50 = time.Duration(td.Quantile(0.5))
		result.P95 = time.Duration(td.Quantile(0.95))
	}
	result.Confidence = p.scheduler.Confidence(level)
	result.Passed = result.SuccessRate >= cfg.SuccessThreshold && result.Confidence >= 0
	result.Elapsed = time.Since(start)
	return result, nil
}

func classify(result *LevelResult, s sample, td *tdigest.TDigest) {
	switch s.out.Kind {
	case outcome.KindSuccess:
		result.Succeeded++
		latency := s.out.Latency
		if latency <= 0 {
			latency = s.latency
		}
		td.Add(float64(latency), 1)
	case outcome.KindThrottled:
		result.Throttled++
	case outcome.KindTransientError:
		result.Transient++
	default:
		if s.timedOut || s.out.Is(outcome.ErrDeadlineExceeded) || s.out.Is(context.DeadlineExceeded) {
			result.TimedOut++
			return
		}
		result.Fatal++
	}
}

func (p *Probe) restore(capacity int) {
	// The capacity was valid when read, so Resize cannot fail.
	_ = p.scheduler.Resize(capacity)
}

func sortedUnique(levels []int) []int {
	out := append([]int(nil), levels...)
	sort.Ints(out)
	n := 0
	for i, l := range out {
		if i == 0 || l != out[n-1] {
			out[n] = l
			n++
		}
	}
	return out[:n]
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
