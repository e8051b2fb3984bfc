// Package metrics exposes Prometheus counters for the refund tracker on a
// private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "refund"

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so tests and one-shot commands can skip it.
type Metrics struct {
	registry *prometheus.Registry

	statusDerivations  *prometheus.CounterVec
	requirementsIssued *prometheus.CounterVec
	alerts             *prometheus.CounterVec
	casesCreated       prometheus.Counter
}

// New registers all collectors, plus Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}),
	)

	m := &Metrics{
		registry: reg,
		statusDerivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_derivations_total",
			Help:      "Computed case statuses by label.",
		}, []string{"label"}),
		requirementsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requirements_issued_total",
			Help:      "Requirements issued by slot.",
		}, []string{"slot"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by kind.",
		}, []string{"kind"}),
		casesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_created_total",
			Help:      "Refund cases created.",
		}),
	}
	reg.MustRegister(m.statusDerivations, m.requirementsIssued, m.alerts, m.casesCreated)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) StatusDerived(label string) {
	if m == nil {
		return
	}
	m.statusDerivations.WithLabelValues(label).Inc()
}

func (m *Metrics) RequirementIssued(slot string) {
	if m == nil {
		return
	}
	m.requirementsIssued.WithLabelValues(slot).Inc()
}

func (m *Metrics) AlertRaised(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) CaseCreated() {
	if m == nil {
		return
	}
	m.casesCreated.Inc()
}
