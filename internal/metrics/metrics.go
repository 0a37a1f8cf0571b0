package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "rulesync"

// Metrics tracks synchronization passes and the compiled ruleset.
//
// Metrics:
//   - rulesync_sync_passes_total: passes by result (success, failed, disabled, skipped)
//   - rulesync_sync_duration_seconds: wall time of a pass
//   - rulesync_compiled_rules: rules installed by the last successful pass
//   - rulesync_compile_diagnostics_total: skipped rules and dropped headers
//   - rulesync_rule_applied_total: rule-applied notifications that passed de-dup
type Metrics struct {
	registry *prometheus.Registry

	passesTotal      *prometheus.CounterVec
	passDuration     prometheus.Histogram
	compiledRules    *prometheus.GaugeVec
	diagnosticsTotal prometheus.Counter
	appliedTotal     prometheus.Counter
}

// New registers the collectors with registry, or with a fresh registry that
// also carries the Go and process collectors when registry is nil.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		passesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "passes_total",
				Help:      "Total number of synchronization passes by result",
			},
			[]string{"result"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "duration_seconds",
				Help:      "Duration of a synchronization pass in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		compiledRules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "compiled_rules",
				Help:      "Number of compiled rules installed by the last pass",
			},
			[]string{"action"},
		),
		diagnosticsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compile_diagnostics_total",
				Help:      "Total number of rules or headers left out of compiled sets",
			},
		),
		appliedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_applied_total",
				Help:      "Total number of de-duplicated rule-applied notifications",
			},
		),
	}

	registry.MustRegister(
		m.passesTotal,
		m.passDuration,
		m.compiledRules,
		m.diagnosticsTotal,
		m.appliedTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPass records a finished pass. result is one of success, failed,
// disabled or skipped; skipped passes carry no duration.
func (m *Metrics) RecordPass(result string, d time.Duration) {
	m.passesTotal.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.passDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SetCompiled(redirects, headers int) {
	m.compiledRules.WithLabelValues("redirect").Set(float64(redirects))
	m.compiledRules.WithLabelValues("modifyHeaders").Set(float64(headers))
}

func (m *Metrics) AddDiagnostics(n int) {
	m.diagnosticsTotal.Add(float64(n))
}

func (m *Metrics) IncApplied() {
	m.appliedTotal.Inc()
}
