// Package telemetry exposes proxymon's own health as Prometheus metrics on a
// private registry, served over HTTP together with health and readiness
// endpoints.
package telemetry

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/poller"
	"github.com/vpbank/proxymon/snmp/ber"
)

// Namespace prefixes every metric name.
const Namespace = "proxymon"

// Metrics holds the collector's self-metrics. All methods are safe for
// concurrent use, and safe to call on a nil *Metrics (they do nothing).
type Metrics struct {
	registry *prometheus.Registry

	cycles           prometheus.Counter
	cycleDuration    prometheus.Histogram
	cycleErrors      prometheus.Counter
	outcomes         *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	targets          prometheus.Gauge
	cacheEntries     prometheus.Gauge
	lastCycle        prometheus.Gauge
	reloads          *prometheus.CounterVec

	ready atomic.Bool
}

// New creates and registers all metrics on a fresh registry. Go runtime and
// process collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycles_total",
			Help:      "Total number of completed collection cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one collection cycle across all targets",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cycle_errors_total",
			Help:      "Cycles that hit failures outside the outcome taxonomy",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outcomes_total",
			Help:      "Metric outcomes by kind and failure reason",
		}, []string{"kind", "reason"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "snmp_exchange_duration_seconds",
			Help:      "Duration of single SNMP GET exchanges by result",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		targets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "targets",
			Help:      "Number of configured targets",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "counter_cache_entries",
			Help:      "Interface counters held in the rate cache",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time at which the last cycle completed",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reloads by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.cycleDuration,
		m.cycleErrors,
		m.outcomes,
		m.exchangeDuration,
		m.targets,
		m.cacheEntries,
		m.lastCycle,
		m.reloads,
	)
	return m
}

// Registry returns the private registry, for serving or testing.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveExchange records one SNMP exchange. Its signature matches
// poller.ExchangeObserver.
func (m *Metrics) ObserveExchange(_ string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.exchangeDuration.WithLabelValues(exchangeResult(err)).Observe(elapsed.Seconds())
}

// ObserveCycle records a completed cycle and the outcomes it produced.
func (m *Metrics) ObserveCycle(elapsed time.Duration, snaps []models.ResourceSnapshot, err error) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	m.lastCycle.SetToCurrentTime()
	if err != nil {
		m.cycleErrors.Inc()
	}
	for _, s := range snaps {
		for _, o := range s.Metrics {
			m.countOutcome(o)
		}
		for _, it := range s.Interfaces {
			m.countOutcome(it.In)
			m.countOutcome(it.Out)
		}
	}
	m.ready.Store(true)
}

// SetTargets records the number of configured targets.
func (m *Metrics) SetTargets(n int) {
	if m == nil {
		return
	}
	m.targets.Set(float64(n))
}

// SetCacheEntries records the size of the counter cache.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// ObserveReload records a configuration reload attempt.
func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}

// Ready reports whether at least one cycle has completed.
func (m *Metrics) Ready() bool {
	return m != nil && m.ready.Load()
}

func (m *Metrics) countOutcome(o models.Outcome) {
	reason := ""
	if o.Failure != nil {
		reason = string(o.Failure.Reason)
	}
	m.outcomes.WithLabelValues(string(o.Kind), reason).Inc()
}

func exchangeResult(err error) string {
	var agentErr *ber.AgentError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, poller.ErrTimeout):
		return "timeout"
	case errors.As(err, &agentErr):
		return "agent_error"
	case errors.Is(err, ber.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}
