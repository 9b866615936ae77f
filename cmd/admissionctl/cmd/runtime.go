// cmd/admissionctl/cmd/runtime.go
package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/backend"
	"github.com/deploymenttheory/go-api-admission-scheduler/backend/httpbackend"
	"github.com/deploymenttheory/go-api-admission-scheduler/backend/simulated"
	"github.com/deploymenttheory/go-api-admission-scheduler/config"
	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"github.com/deploymenttheory/go-api-admission-scheduler/observability"
	"github.com/deploymenttheory/go-api-admission-scheduler/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// runtime is the wired scheduler stack shared by the commands.
type runtime struct {
	cfg       *config.Config
	log       logger.Logger
	client    backend.Client
	scheduler *scheduler.Scheduler
	metrics   *observability.Metrics
	server    *http.Server
}

func newRuntime(cfg *config.Config, log logger.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}

	switch cfg.Backend.Mode {
	case config.BackendModeSimulated:
		rt.client = simulated.New(cfg.SimulatedBackendConfig())
		log.Info("Using simulated backend", zap.Int("safe_concurrency", cfg.Backend.Simulated.SafeConcurrency))
	default:
		client, err := httpbackend.New(cfg.HTTPBackendConfig(), httpbackend.WithLogger(log))
		if err != nil {
			return nil, err
		}
		rt.client = client
		log.Info("Using HTTP backend", zap.String("url", cfg.Backend.URL))
	}

	sched, err := scheduler.New(cfg.SchedulerConfig(), rt.client,
		scheduler.WithEventSink(observability.NewLogSink(log)),
		scheduler.WithSlotPoolLogger(log),
	)
	if err != nil {
		return nil, err
	}
	rt.scheduler = sched

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = observability.NewMetrics(registry, cfg.Metrics.Prefix, sched)
	sched.Subscribe(rt.metrics)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		rt.server = &http.Server{
			Addr:              cfg.Metrics.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				_ = log.Error("Metrics server failed", zap.Error(err))
			}
		}()
		log.Info("Serving metrics", zap.String("address", cfg.Metrics.ListenAddress))
	}
	return rt, nil
}

// close drains the scheduler and stops the metrics server.
func (rt *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := rt.scheduler.Close(ctx)
	if rt.server != nil {
		err = errors.Join(err, rt.server.Shutdown(ctx))
	}
	_ = rt.log.Sync()
	return err
}
