// Package dispatch fans a signal out to the responders named by its routing
// rule and collects their answers under a single deadline.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// Response is one responder's answer to a signal.
type Response struct {
	Responder      string           `json:"responder"`
	Recommendation string           `json:"recommendation"`
	Confidence     float64          `json:"confidence"`
	Command        *command.Command `json:"command,omitempty"`
	Note           string           `json:"note,omitempty"`
	Latency        time.Duration    `json:"latency"`
}

// Responder is a subsystem able to act on signals.
type Responder interface {
	Name() string
	Respond(ctx context.Context, sig topology.Signal) (Response, error)
}

// ResponderFunc adapts a function into a Responder.
type ResponderFunc struct {
	ID string
	Fn func(ctx context.Context, sig topology.Signal) (Response, error)
}

func (f ResponderFunc) Name() string { return f.ID }

func (f ResponderFunc) Respond(ctx context.Context, sig topology.Signal) (Response, error) {
	return f.Fn(ctx, sig)
}

// Status classifies a finished dispatch cycle.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusDegraded Status = "degraded"
)

// Outcome is the terminal result of one dispatch cycle.
type Outcome struct {
	SignalKind        topology.Kind       `json:"kind"`
	Tier              topology.Tier       `json:"tier"`
	Status            Status              `json:"status"`
	RespondedRequired []string            `json:"responded_required"`
	RespondedOptional []string            `json:"responded_optional"`
	MissingRequired   []string            `json:"missing_required"`
	MissingOptional   []string            `json:"missing_optional"`
	Responses         map[string]Response `json:"responses"`
	RequireConsensus  bool                `json:"require_consensus"`
	ConsensusReached  bool                `json:"consensus_reached"`
	Recommendation    string              `json:"recommendation,omitempty"`
	Authoritative     *Response           `json:"authoritative,omitempty"`
	StartedAt         time.Time           `json:"started_at"`
	CompletedAt       time.Time           `json:"completed_at"`
}

// Degraded reports whether a required responder missed its window.
func (o Outcome) Degraded() bool { return o.Status == StatusDegraded }

// Actionable reports whether the outcome carries a usable recommendation.
func (o Outcome) Actionable() bool {
	if o.Tier == topology.TierCritical {
		return o.Authoritative != nil
	}
	if o.Degraded() {
		return false
	}
	return !o.RequireConsensus || o.ConsensusReached
}

// Observer receives every finished outcome.
type Observer interface {
	ObserveDispatch(Outcome)
}

// Dispatcher routes signals to registered responders.
type Dispatcher struct {
	registry  *topology.Registry
	agree     AgreementFunc
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer
	clock     func() time.Time

	mu         sync.RWMutex
	responders map[string]Responder
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAgreement overrides how two recommendations are compared.
func WithAgreement(fn AgreementFunc) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.agree = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithObserver adds an outcome observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// New creates a dispatcher over the given registry.
func New(registry *topology.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		agree:      SameRecommendation,
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/GoPolymarket/trading-gateway/internal/dispatch"),
		clock:      time.Now,
		responders: make(map[string]Responder),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	return d
}

// Register adds or replaces a responder.
func (d *Dispatcher) Register(r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responders[r.Name()] = r
}

// Registered returns the names of registered responders.
func (d *Dispatcher) Registered() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.responders))
	for n := range d.responders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type answer struct {
	name string
	resp Response
	err  error
}

// Dispatch runs one cycle for sig. It returns once every required responder
// has answered or the rule timeout elapses. Caller cancellation does not
// abort a started cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, sig topology.Signal) Outcome {
	rule := d.registry.Resolve(sig.Kind)
	started := d.clock()

	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("signal.kind", string(sig.Kind)),
			attribute.Int("signal.tier", int(rule.Tier)),
		))
	defer span.End()

	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rule.Timeout)
	defer cancel()

	required := make(map[string]bool, len(rule.Required))
	for _, n := range rule.Required {
		required[n] = true
	}
	targets := append(append([]string(nil), rule.Required...), rule.Optional...)

	answers := make(chan answer, len(targets))
	pendingTotal := 0
	for _, name := range targets {
		r := d.responder(name)
		if r == nil {
			d.logger.Debug("responder not registered", "responder", name, "kind", sig.Kind)
			continue
		}
		pendingTotal++
		go d.invoke(cycleCtx, r, sig, answers)
	}

	responses := make(map[string]Response, len(targets))
	pendingRequired := len(rule.Required)

collect:
	for pendingTotal > 0 {
		if len(rule.Required) > 0 && pendingRequired == 0 {
			break
		}
		select {
		case a := <-answers:
			pendingTotal--
			if a.err != nil {
				d.logger.Warn("responder failed", "responder", a.name, "kind", sig.Kind, "error", a.err)
				continue
			}
			if cycleCtx.Err() != nil {
				// Answer raced the deadline.
				continue
			}
			responses[a.name] = a.resp
			if required[a.name] {
				pendingRequired--
			}
		case <-cycleCtx.Done():
			break collect
		}
	}

	out := d.classify(rule, responses)
	out.StartedAt = started
	out.CompletedAt = d.clock()

	span.SetAttributes(
		attribute.String("dispatch.status", string(out.Status)),
		attribute.Bool("dispatch.consensus", out.ConsensusReached),
		attribute.Int("dispatch.missing_required", len(out.MissingRequired)),
	)
	if out.Degraded() {
		d.logger.Warn("dispatch degraded", "kind", sig.Kind, "tier", rule.Tier.String(), "missing", out.MissingRequired)
	}
	for _, o := range d.observers {
		o.ObserveDispatch(out)
	}
	return out
}

func (d *Dispatcher) responder(name string) Responder {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.responders[name]
}

// invoke calls one responder and folds panics into errors.
func (d *Dispatcher) invoke(ctx context.Context, r Responder, sig topology.Signal, out chan<- answer) {
	start := time.Now()
	a := answer{name: r.Name()}
	defer func() {
		if p := recover(); p != nil {
			a.err = fmt.Errorf("responder %s panicked: %v", r.Name(), p)
		}
		out <- a
	}()
	resp, err := r.Respond(ctx, sig)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	resp.Responder = r.Name()
	resp.Latency = time.Since(start)
	a.resp, a.err = resp, err
}

func (d *Dispatcher) classify(rule topology.RoutingRule, responses map[string]Response) Outcome {
	out := Outcome{
		SignalKind:       rule.Kind,
		Tier:             rule.Tier,
		Responses:        responses,
		RequireConsensus: rule.RequireConsensus,
	}
	for _, n := range rule.Required {
		if _, ok := responses[n]; ok {
			out.RespondedRequired = append(out.RespondedRequired, n)
		} else {
			out.MissingRequired = append(out.MissingRequired, n)
		}
	}
	for _, n := range rule.Optional {
		if _, ok := responses[n]; ok {
			out.RespondedOptional = append(out.RespondedOptional, n)
		} else {
			out.MissingOptional = append(out.MissingOptional, n)
		}
	}
	sort.Strings(out.RespondedRequired)
	sort.Strings(out.RespondedOptional)
	sort.Strings(out.MissingRequired)
	sort.Strings(out.MissingOptional)

	switch {
	case len(out.MissingRequired) > 0:
		out.Status = StatusDegraded
	case len(out.MissingOptional) > 0:
		out.Status = StatusPartial
	default:
		out.Status = StatusComplete
	}

	if rule.Tier == topology.TierCritical {
		for _, n := range rule.Required {
			c, _ := d.registry.CapabilitiesOf(n)
			if !c.Protective {
				continue
			}
			if resp, ok := responses[n]; ok {
				resp := resp
				out.Authoritative = &resp
				out.Recommendation = resp.Recommendation
			}
			break
		}
	}

	if rule.RequireConsensus {
		required := make([]Response, 0, len(rule.Required))
		for _, n := range rule.Required {
			if resp, ok := responses[n]; ok {
				required = append(required, resp)
			}
		}
		out.Recommendation, out.ConsensusReached = Consensus(rule.Agreement, len(rule.Required), required, d.agree)
	} else {
		out.ConsensusReached = true
	}
	return out
}
