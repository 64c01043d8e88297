// Package metrics exposes coordinator and dispatch counters through
// Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/appclient"
	"github.com/g960059/opsdash/internal/command"
)

const namespace = "opsdash"

// Metrics implements resource.Recorder and dispatch.Observer on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	commands *prometheus.CounterVec
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	stale    *prometheus.CounterVec
	inflight *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands routed by the dispatcher.",
		}, []string{"resource", "op", "phase"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote calls finished by coordinators, by outcome.",
		}, []string{"resource", "op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote call latency.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"resource", "op"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Results dropped because a newer request of the same op was issued.",
		}, []string{"resource", "op"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_pending",
			Help:      "Requests dispatched and not yet answered by a terminal command.",
		}, []string{"resource", "op"}),
	}
	m.registry.MustRegister(m.commands, m.calls, m.latency, m.stale, m.inflight)
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe counts a routed command. Superseded requests are answered by a
// single terminal command, so the pending gauge is set rather than summed.
func (m *Metrics) Observe(c command.Command) {
	resource, op, phase, ok := c.Kind.Parse()
	if !ok {
		return
	}
	phaseLabel := string(phase)
	if phase == command.PhaseNone {
		phaseLabel = "NONE"
	}
	m.commands.WithLabelValues(resource, string(op), phaseLabel).Inc()
	switch {
	case phase == command.PhaseRequest:
		m.inflight.WithLabelValues(resource, string(op)).Set(1)
	case phase.Terminal():
		m.inflight.WithLabelValues(resource, string(op)).Set(0)
	case op == command.OpReset:
		m.inflight.DeletePartialMatch(prometheus.Labels{"resource": resource})
	}
}

func (m *Metrics) ObserveCall(resource string, op command.Op, elapsed time.Duration, err error) {
	m.calls.WithLabelValues(resource, string(op), outcomeOf(err)).Inc()
	m.latency.WithLabelValues(resource, string(op)).Observe(elapsed.Seconds())
}

func (m *Metrics) IncStale(resource string, op command.Op) {
	m.stale.WithLabelValues(resource, string(op)).Inc()
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var domainErr *api.DomainError
	if errors.As(err, &domainErr) {
		return "rejected"
	}
	var reqErr *appclient.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.StatusCode >= 500 {
			return "server_error"
		}
		return "client_error"
	}
	return "transport_error"
}
