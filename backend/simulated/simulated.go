// backend/simulated/simulated.go
/* Package simulated provides an in-process backend with a hidden concurrency ceiling.
Calls that arrive while more than SafeConcurrency calls are active are throttled with a
configurable probability, mimicking a generative service that silently sheds load once
too many requests are in flight. Used by tests and by the CLI's dry-run mode. */
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/outcome"
)

// ErrSimulatedFailure is the cause of simulated transient failures.
var ErrSimulatedFailure = errors.New("simulated transient backend failure")

// Config describes the simulated backend's behaviour.
type Config struct {
	// SafeConcurrency is the number of simultaneously active calls the backend tolerates.
	// Zero means unlimited.
	SafeConcurrency int

	// ThrottleFraction is the probability that a call arriving above SafeConcurrency is throttled.
	ThrottleFraction float64

	// TransientFraction is the probability that any call fails with a transient error.
	TransientFraction float64

	// Latency is the time a successful or failing call takes.
	Latency time.Duration

	// LatencyJitter adds a uniform random [0, LatencyJitter) to each call's latency.
	LatencyJitter time.Duration

	// ThrottleLatency is the time taken to reject a throttled call.
	ThrottleLatency time.Duration

	// RetryAfter is the hint carried by throttled outcomes.
	RetryAfter time.Duration

	// Seed makes the random decisions reproducible.
	Seed int64
}

// Stats counts the calls observed by the backend.
type Stats struct {
	Calls           int64
	Succeeded       int64
	Throttled       int64
	Transient       int64
	Cancelled       int64
	Active          int
	PeakConcurrency int
}

// Backend is a simulated backend client. It is safe for concurrent use.
type Backend struct {
	cfg Config

	mu    sync.Mutex
	rng   *rand.Rand
	stats Stats
}

// New creates a simulated backend.
func New(cfg Config) *Backend {
	return &Backend{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Invoke simulates one backend call.
func (b *Backend) Invoke(ctx context.Context, payload any) outcome.Outcome {
	b.mu.Lock()
	b.stats.Calls++
	b.stats.Active++
	if b.stats.Active > b.stats.PeakConcurrency {
		b.stats.PeakConcurrency = b.stats.Active
	}
	over := b.cfg.SafeConcurrency > 0 && b.stats.Active > b.cfg.SafeConcurrency
	throttle := over && b.rng.Float64() < b.cfg.ThrottleFraction
	transient := !throttle && b.cfg.TransientFraction > 0 && b.rng.Float64() < b.cfg.TransientFraction
	latency := b.cfg.Latency
	if b.cfg.LatencyJitter > 0 {
		latency += time.Duration(b.rng.Int63n(int64(b.cfg.LatencyJitter)))
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.stats.Active--
		b.mu.Unlock()
	}()

	if throttle {
		latency = b.cfg.ThrottleLatency
	}

	start := time.Now()
	if err := sleep(ctx, latency); err != nil {
		b.count(func(s *Stats) { s.Cancelled++ })
		return outcome.Fatal(fmt.Errorf("request cancelled: %w", err))
	}
	elapsed := time.Since(start)

	switch {
	case throttle:
		b.count(func(s *Stats) { s.Throttled++ })
		return outcome.Throttled(b.cfg.RetryAfter)
	case transient:
		b.count(func(s *Stats) { s.Transient++ })
		return outcome.Transient(ErrSimulatedFailure, elapsed)
	default:
		b.count(func(s *Stats) { s.Succeeded++ })
		return outcome.Success(payload, elapsed)
	}
}

// Stats returns a snapshot of the call counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset clears the call counters.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	active := b.stats.Active
	b.stats = Stats{Active: active, PeakConcurrency: active}
}

func (b *Backend) count(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
