// Package metrics exposes Prometheus collectors for the Policy Decision
// Core: mailbox depth, decision outcomes, translator path choice, and
// reload counts.
//
// Registry/collector construction grounded on
// tommaduri-AuthZ/internal/metrics/prometheus.go's PrometheusMetrics
// (namespaced CounterVec/Gauge/Histogram registered against a dedicated
// prometheus.Registry rather than the global default registerer),
// trimmed to the four concerns this domain's dispatcher actually has —
// the teacher's embedding/vector-store metric groups have no equivalent
// here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds every collector the dispatcher and watcher update.
type Metrics struct {
	Registry *prometheus.Registry

	MailboxDepth   prometheus.Gauge
	Decisions      *prometheus.CounterVec // label "decision": allow|deny
	TranslatorPath *prometheus.CounterVec // label "path": concrete|residual
	Reloads        *prometheus.CounterVec // label "outcome": success|parse_error
}

// New constructs and registers the full collector set under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: registry,
		MailboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mailbox_depth",
			Help:      "Current number of buffered commands in the Policy Decision Core's mailbox",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by outcome",
		}, []string{"decision"}),
		TranslatorPath: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "translator",
			Name:      "path_total",
			Help:      "Total number of GetLists evaluations by whether the partial evaluator short-circuited to a concrete decision or produced a residual",
		}, []string{"path"}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "reloads_total",
			Help:      "Total number of policy hot-reload attempts by outcome",
		}, []string{"outcome"}),
	}

	registry.MustRegister(m.MailboxDepth, m.Decisions, m.TranslatorPath, m.Reloads)
	return m
}
