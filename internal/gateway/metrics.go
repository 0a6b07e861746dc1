package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
)

// Metrics exports gateway and dispatch activity as prometheus series:
//
//	gateway_decisions_total{result,risk,category}
//	gateway_decision_seconds
//	gateway_lifecycle_total{event}
//	gateway_alerts_total{event}
//	dispatch_outcomes_total{tier,status}
//	dispatch_missing_total{responder,required}
//	dispatch_seconds{tier}
type Metrics struct {
	decisions *prometheus.CounterVec
	latency   prometheus.Histogram
	lifecycle *prometheus.CounterVec
	alerts    *prometheus.CounterVec

	outcomes *prometheus.CounterVec
	missing  *prometheus.CounterVec
	dispatch *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_decisions_total",
				Help: "Command validation decisions",
			},
			[]string{"result", "risk", "category"},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_decision_seconds",
				Help:    "Time spent validating one command",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
		),
		lifecycle: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_lifecycle_total",
				Help: "Confirmation lifecycle transitions",
			},
			[]string{"event"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_alerts_total",
				Help: "Events that warranted an operator alert",
			},
			[]string{"event"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_outcomes_total",
				Help: "Dispatch cycles by tier and status",
			},
			[]string{"tier", "status"},
		),
		missing: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_missing_total",
				Help: "Responders that missed a dispatch window",
			},
			[]string{"responder", "required"},
		),
		dispatch: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_seconds",
				Help:    "Wall time of one dispatch cycle",
				Buckets: []float64{.01, .05, .1, .2, .3, .45, .6, 1},
			},
			[]string{"tier"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.latency, m.lifecycle, m.alerts, m.outcomes, m.missing, m.dispatch)
	}
	return m
}

// Handle implements Sink.
func (m *Metrics) Handle(e Event) {
	if e.Alert() {
		m.alerts.WithLabelValues(string(e.Type)).Inc()
	}
	if e.Type != EventDecision {
		m.lifecycle.WithLabelValues(string(e.Type)).Inc()
		return
	}
	if e.Decision == nil {
		return
	}
	d := e.Decision
	risk := "none"
	if d.RiskLevel != command.RiskUnset {
		risk = string(d.RiskLevel)
	}
	category := string(d.Category)
	if category == "" {
		category = "none"
	}
	m.decisions.WithLabelValues(string(d.Result), risk, category).Inc()
	m.latency.Observe(d.ProcessingTime.Seconds())
}

// ObserveDispatch implements dispatch.Observer.
func (m *Metrics) ObserveDispatch(o dispatch.Outcome) {
	tier := o.Tier.String()
	m.outcomes.WithLabelValues(tier, string(o.Status)).Inc()
	for _, n := range o.MissingRequired {
		m.missing.WithLabelValues(n, "true").Inc()
	}
	for _, n := range o.MissingOptional {
		m.missing.WithLabelValues(n, "false").Inc()
	}
	if !o.CompletedAt.IsZero() {
		m.dispatch.WithLabelValues(tier).Observe(o.CompletedAt.Sub(o.StartedAt).Seconds())
	}
}
