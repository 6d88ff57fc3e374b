package observer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentbus/core"
)

// Call statuses used as the "status" label.
const (
	StatusSuccess  = "success"
	StatusTransfer = "transfer"
	StatusError    = "error"
)

// PrometheusOptions configures a Prometheus observer.
type PrometheusOptions struct {
	// Namespace prefixes every metric name.
	Namespace string

	// Registerer receives the collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Buckets of the call duration histogram.
	Buckets []float64
}

// WithNamespace sets PrometheusOptions.Namespace.
func WithNamespace(ns string) func(o *PrometheusOptions) {
	return func(o *PrometheusOptions) { o.Namespace = ns }
}

// WithRegisterer sets PrometheusOptions.Registerer.
func WithRegisterer(r prometheus.Registerer) func(o *PrometheusOptions) {
	return func(o *PrometheusOptions) { o.Registerer = r }
}

// Prometheus counts agent calls and records their duration.
//
// Metrics:
//   - <ns>_agent_calls_total{agent, status}
//   - <ns>_agent_calls_in_flight{agent}
//   - <ns>_agent_call_duration_seconds{agent, status}
type Prometheus struct {
	calls    *prometheus.CounterVec
	inFlight *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them. It panics if a
// collector with the same name is already registered, like
// prometheus.MustRegister.
func NewPrometheus(optFns ...func(o *PrometheusOptions)) *Prometheus {
	opts := PrometheusOptions{
		Namespace:  "agentbus",
		Registerer: prometheus.DefaultRegisterer,
		Buckets:    prometheus.DefBuckets,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	p := &Prometheus{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "agent_calls_total",
				Help:      "Total number of agent calls by agent and status",
			},
			[]string{"agent", "status"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: opts.Namespace,
				Name:      "agent_calls_in_flight",
				Help:      "Number of agent calls currently running",
			},
			[]string{"agent"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Name:      "agent_call_duration_seconds",
				Help:      "Duration of agent calls in seconds",
				Buckets:   opts.Buckets,
			},
			[]string{"agent", "status"},
		),
	}

	opts.Registerer.MustRegister(p.calls, p.inFlight, p.duration)
	return p
}

// CallStart implements core.Observer.
func (p *Prometheus) CallStart(_ context.Context, info core.CallInfo) {
	p.inFlight.WithLabelValues(info.Agent).Inc()
}

// CallEnd implements core.Observer.
func (p *Prometheus) CallEnd(_ context.Context, info core.CallInfo, outcome core.CallOutcome) {
	status := Status(outcome)

	p.inFlight.WithLabelValues(info.Agent).Dec()
	p.calls.WithLabelValues(info.Agent, status).Inc()
	p.duration.WithLabelValues(info.Agent, status).Observe(outcome.Duration.Seconds())
}

// Status classifies an outcome as success, transfer or error.
func Status(outcome core.CallOutcome) string {
	switch {
	case outcome.Err != nil:
		return StatusError
	case outcome.Transfer != "":
		return StatusTransfer
	default:
		return StatusSuccess
	}
}

var _ core.Observer = (*Prometheus)(nil)
