// observability/metrics.go
/* Package observability turns scheduler events and probe results into structured logs
and Prometheus metrics. */
package observability

import (
	"strconv"

	"github.com/deploymenttheory/go-api-admission-scheduler/probe"
	"github.com/deploymenttheory/go-api-admission-scheduler/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultMetricsPrefix prefixes every metric name.
const DefaultMetricsPrefix = "admission_"

// StatsSource provides point-in-time scheduler gauges.
type StatsSource interface {
	Stats() scheduler.Stats
}

// Metrics records scheduler events and probe results as Prometheus metrics.
type Metrics struct {
	queued      prometheus.Counter
	admitted    prometheus.Counter
	failures    *prometheus.CounterVec
	retries     *prometheus.CounterVec
	terminal    *prometheus.CounterVec
	queueWait   prometheus.Histogram
	retryDelay  prometheus.Histogram
	retryAfter  prometheus.Histogram
	levelRate   *prometheus.GaugeVec
	levelP95    *prometheus.GaugeVec
	recommended prometheus.Gauge
}

// NewMetrics registers the scheduler metrics with reg. When source is non-nil the queue,
// backoff, in-flight and capacity gauges are read from it at scrape time.
func NewMetrics(reg prometheus.Registerer, prefix string, source StatsSource) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		queued: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "items_queued_total",
			Help: "Number of times a work item entered the queue, including requeues after backoff",
		}),
		admitted: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "admissions_total",
			Help: "Number of work item attempts granted an execution slot",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "attempt_failures_total",
			Help: "Number of retryable attempt failures grouped by kind and capacity",
		}, []string{"kind", "capacity"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "retries_total",
			Help: "Number of retries scheduled grouped by the failure that caused them",
		}, []string{"reason"}),
		terminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "items_completed_total",
			Help: "Number of work items that reached a terminal outcome grouped by outcome kind",
		}, []string{"outcome"}),
		queueWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "queue_wait_seconds",
			Help:    "Time spent queued before admission",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		retryDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "retry_delay_seconds",
			Help:    "Backoff delay applied before a retry",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		retryAfter: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "throttle_retry_after_seconds",
			Help:    "Retry-After hints carried by throttled responses",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		levelRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "probe_success_rate",
			Help: "Success rate observed at each probed capacity",
		}, []string{"capacity"}),
		levelP95: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "probe_p95_latency_seconds",
			Help: "95th percentile latency of successful samples at each probed capacity",
		}, []string{"capacity"}),
		recommended: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "probe_recommended_capacity",
			Help: "Concurrency recommended by the last probe run",
		}),
	}

	if source != nil {
		gauge := func(name, help string, read func(scheduler.Stats) int) {
			factory.NewGaugeFunc(prometheus.GaugeOpts{Name: prefix + name, Help: help}, func() float64 {
				return float64(read(source.Stats()))
			})
		}
		gauge("queue_length", "Work items waiting for a slot", func(s scheduler.Stats) int { return s.Queued })
		gauge("backing_off", "Work items waiting out a retry delay", func(s scheduler.Stats) int { return s.BackingOff })
		gauge("in_flight", "Slots currently held", func(s scheduler.Stats) int { return s.InFlight })
		gauge("capacity", "Current slot pool capacity", func(s scheduler.Stats) int { return s.Capacity })
	}
	return m
}

// HandleEvent implements scheduler.EventSink.
func (m *Metrics) HandleEvent(e scheduler.Event) {
	switch e.Type {
	case scheduler.EventQueued:
		m.queued.Inc()
	case scheduler.EventAdmitted:
		m.admitted.Inc()
		m.queueWait.Observe(e.QueueWait.Seconds())
	case scheduler.EventThrottled:
		m.failures.WithLabelValues(e.Kind.String(), strconv.Itoa(e.Capacity)).Inc()
		if e.RetryAfter > 0 {
			m.retryAfter.Observe(e.RetryAfter.Seconds())
		}
	case scheduler.EventTransientFailure:
		m.failures.WithLabelValues(e.Kind.String(), strconv.Itoa(e.Capacity)).Inc()
	case scheduler.EventRetried:
		m.retries.WithLabelValues(e.Kind.String()).Inc()
		m.retryDelay.Observe(e.Delay.Seconds())
	case scheduler.EventTerminal:
		m.terminal.WithLabelValues(e.Kind.String()).Inc()
	}
}

// ObserveProbeLevel records one finished probe level. It satisfies probe.Observer.
func (m *Metrics) ObserveProbeLevel(r probe.LevelResult) {
	capacity := strconv.Itoa(r.Capacity)
	m.levelRate.WithLabelValues(capacity).Set(r.SuccessRate)
	m.levelP95.WithLabelValues(capacity).Set(r.P95.Seconds())
}

// ObserveProbeReport records the recommendation of a finished probe run.
func (m *Metrics) ObserveProbeReport(r probe.Report) {
	if r.Found {
		m.recommended.Set(float64(r.Recommended))
	}
}
