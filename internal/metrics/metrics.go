// Package metrics records purge and apply counters in a private Prometheus
// registry. Runs are short lived, so the registry is written to a
// node_exporter textfile instead of being scraped.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sweep"

// Metrics implements purge.Observer and counts applied changes.
type Metrics struct {
	enumerated *prometheus.CounterVec
	excluded   *prometheus.CounterVec
	marked     *prometheus.CounterVec
	applied    *prometheus.CounterVec
	failed     *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		enumerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "purge",
				Name:      "enumerated_instances_total",
				Help:      "Live instances listed by purge policies",
			},
			[]string{"type"},
		),
		excluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "purge",
				Name:      "excluded_instances_total",
				Help:      "Live instances kept by an exclusion rule",
			},
			[]string{"type", "rule"},
		),
		marked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "purge",
				Name:      "candidates_total",
				Help:      "Live instances marked for removal",
			},
			[]string{"type"},
		),
		applied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "changes_applied_total",
				Help:      "Resource changes applied successfully",
			},
			[]string{"type", "action", "purge"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "changes_failed_total",
				Help:      "Resource changes that returned an error",
			},
			[]string{"type", "action"},
		),
	}

	m.registry.MustRegister(m.enumerated, m.excluded, m.marked, m.applied, m.failed)
	return m
}

func (m *Metrics) Enumerated(typ string, n int) {
	m.enumerated.WithLabelValues(typ).Add(float64(n))
}

func (m *Metrics) Excluded(typ, rule string) {
	m.excluded.WithLabelValues(typ, rule).Inc()
}

func (m *Metrics) Marked(typ string) {
	m.marked.WithLabelValues(typ).Inc()
}

// Applied records the outcome of one change.
func (m *Metrics) Applied(typ, action string, purge bool, err error) {
	if err != nil {
		m.failed.WithLabelValues(typ, action).Inc()
		return
	}
	m.applied.WithLabelValues(typ, action, fmt.Sprint(purge)).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes every metric to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
