// Package gateway validates proposed commands through the blocklist,
// safelist, rate limit, risk rules, conflict families, market override,
// confirmation and auto-approve stages, and owns the confirmation workflow
// that follows.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoPolymarket/trading-gateway/internal/advisor"
	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/ledger"
	"github.com/GoPolymarket/trading-gateway/internal/market"
	"github.com/GoPolymarket/trading-gateway/internal/ratelimit"
	"github.com/GoPolymarket/trading-gateway/internal/rules"
)

// AutoApprove decides which risk levels skip manual review.
type AutoApprove struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	SafeOnly       bool `yaml:"safe_only" json:"safe_only"`
	LowRiskAllowed bool `yaml:"low_risk_allowed" json:"low_risk_allowed"`
}

// Permits reports whether level may be approved without an operator.
// Medium and above never qualify.
func (a AutoApprove) Permits(level command.RiskLevel) bool {
	if !a.Enabled {
		return false
	}
	switch level {
	case command.RiskSafe:
		return true
	case command.RiskLow:
		return a.LowRiskAllowed && !a.SafeOnly
	}
	return false
}

// Config tunes the validation pipeline.
type Config struct {
	StrictMode    bool
	AutoApprove   AutoApprove
	RateLimit     ratelimit.Config
	Confirmation  ledger.Config
	SweepInterval time.Duration
	Override      advisor.Thresholds
	HistorySize   int
}

// DefaultConfig mirrors the shipped configuration file.
func DefaultConfig() Config {
	return Config{
		AutoApprove:   AutoApprove{Enabled: true, LowRiskAllowed: true},
		RateLimit:     ratelimit.Config{MaxPerMinute: 60, MaxPerHour: 1000},
		Confirmation:  ledger.DefaultConfig(),
		SweepInterval: 10 * time.Second,
		Override:      advisor.DefaultThresholds(),
		HistorySize:   200,
	}
}

// Deps are the collaborators a Gateway is built from. Nil members are
// created from Config.
type Deps struct {
	Rules   *rules.Set
	Ledger  *ledger.Ledger
	Limiter *ratelimit.Limiter
	Books   *market.Books
	Sinks   []Sink
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Gateway is safe for concurrent use.
type Gateway struct {
	cfg     Config
	rules   *rules.Set
	ledger  *ledger.Ledger
	limiter *ratelimit.Limiter
	books   *market.Books
	sinks   []Sink
	logger  *slog.Logger
	clock   func() time.Time
	tracer  trace.Tracer
	stats   *stats
}

// New builds a gateway.
func New(cfg Config, deps Deps) (*Gateway, error) {
	if err := cfg.Override.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	rs := deps.Rules
	if rs == nil {
		var err error
		if rs, err = rules.New(logger); err != nil {
			return nil, err
		}
	}
	led := deps.Ledger
	if led == nil {
		led = ledger.New(cfg.Confirmation, ledger.WithClock(clock))
	}
	lim := deps.Limiter
	if lim == nil {
		lim = ratelimit.New(cfg.RateLimit, ratelimit.WithClock(clock))
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Gateway{
		cfg:     cfg,
		rules:   rs,
		ledger:  led,
		limiter: lim,
		books:   deps.Books,
		sinks:   deps.Sinks,
		logger:  logger.With("component", "gateway"),
		clock:   clock,
		tracer:  otel.Tracer("github.com/GoPolymarket/trading-gateway/internal/gateway"),
		stats:   newStats(cfg.HistorySize),
	}, nil
}

// Rules exposes the live rule tables for runtime edits.
func (g *Gateway) Rules() *rules.Set { return g.rules }

// Validate runs cmd through the pipeline and returns exactly one decision.
func (g *Gateway) Validate(ctx context.Context, cmd command.Command) command.Decision {
	started := time.Now()
	cmd = cmd.Clone()
	cmd.EnsureID()
	now := g.clock()
	if cmd.SubmittedAt.IsZero() {
		cmd.SubmittedAt = now
	}

	_, span := g.tracer.Start(ctx, "gateway.validate",
		trace.WithAttributes(
			attribute.String("command.id", cmd.ID),
			attribute.String("command.category", string(cmd.Category)),
			attribute.String("command.action", cmd.Action),
		))
	defer span.End()

	dec := command.Decision{
		CommandID: cmd.ID,
		Category:  cmd.Category,
		DecidedAt: now,
	}
	g.decide(&cmd, &dec)
	dec.ProcessingTime = time.Since(started)

	span.SetAttributes(
		attribute.String("decision.result", string(dec.Result)),
		attribute.Int("decision.severity", dec.Severity),
	)
	g.stats.record(dec)

	level := slog.LevelDebug
	if dec.Result == command.ResultBlocked {
		level = slog.LevelWarn
	}
	g.logger.Log(ctx, level, "command decided",
		"id", cmd.ID,
		"category", cmd.Category,
		"action", cmd.Action,
		"result", dec.Result,
		"risk", dec.RiskLevel,
		"severity", dec.Severity,
		"reason", dec.Reason,
	)

	ev := newEvent(EventDecision, now)
	ev.CommandID = cmd.ID
	ev.Command = &cmd
	d := dec
	ev.Decision = &d
	ev.Severity = dec.Severity
	ev.Reason = dec.Reason
	g.emit(ev)
	return dec
}

func (g *Gateway) decide(cmd *command.Command, dec *command.Decision) {
	// 1. Blocklist wins over everything, safelist included.
	if token, ok := g.rules.Blocked(*cmd); ok {
		block(dec, command.RiskCritical, 100, 1, fmt.Sprintf("blocklisted token %q", token), "blocklist:"+token)
		return
	}

	// 2. Safelist membership is noted now and honoured after the rate check.
	safe := g.rules.Safe(cmd.Action)

	// 3. Rate limiting.
	if v := g.limiter.Allow(); !v.Allowed {
		dec.Result = command.ResultRejected
		dec.Action = command.ActionBlock
		dec.RiskLevel = command.RiskHigh
		dec.Severity = command.RiskHigh.Severity()
		dec.Confidence = 1
		dec.Reason = v.Reason()
		dec.TriggeredRules = []string{"rate_limit:" + v.Window}
		return
	}
	if safe {
		dec.Result = command.ResultApproved
		dec.Action = command.ActionAllow
		dec.RiskLevel = command.RiskSafe
		dec.Severity = 0
		dec.Confidence = 1
		dec.Reason = "safelisted action"
		dec.TriggeredRules = []string{"safelist"}
		return
	}

	// 4. Risk assessment.
	a := g.rules.Assess(*cmd)
	cmd.RiskLevel = a.Risk
	dec.RiskLevel = a.Risk
	dec.Severity = a.Risk.Severity()
	dec.Confidence = a.Confidence
	dec.TriggeredRules = append(dec.TriggeredRules, a.Matched...)
	dec.Action = command.ActionAllow

	families := g.rules.ConflictsFor(*cmd)
	review := g.marketReview(*cmd)

	// 5-8 share one ledger transaction so the conflict count and the insert
	// that follows cannot interleave with another validation.
	err := g.ledger.Tx(func(tx *ledger.Txn) error {
		for _, fam := range families {
			if n := tx.CountActive(fam); n >= fam.MaxConcurrent {
				dec.Result = command.ResultRejected
				dec.Action = command.ActionBlock
				dec.Reason = fmt.Sprintf("conflict family %s at capacity (%d/%d active)", fam.Name, n, fam.MaxConcurrent)
				dec.TriggeredRules = append(dec.TriggeredRules, "conflict:"+fam.Name)
				return nil
			}
		}

		if review != nil {
			for _, tr := range review.Triggers {
				dec.TriggeredRules = append(dec.TriggeredRules, "market:"+tr.Rule)
			}
			switch review.Action {
			case command.ActionBlock:
				dec.Result = command.ResultBlocked
				dec.Action = command.ActionBlock
				dec.Severity = maxInt(dec.Severity, review.Severity)
				dec.Reason = review.Reason
				dec.Modifications = review.Modifications
				return nil
			case command.ActionModify:
				dec.Action = command.ActionModify
				dec.Severity = maxInt(dec.Severity, review.Severity)
				dec.Modifications = review.Modifications
			}
		}

		if a.Risk.AtLeast(command.RiskHigh) || a.RequiresConfirmation {
			dec.RequiresConfirmation = true
			if tx.Full() {
				dec.Result = command.ResultRejected
				dec.Action = command.ActionBlock
				dec.Reason = "confirmation queue full"
				return nil
			}
			dec.Result = command.ResultRequiresConfirmation
			dec.Reason = fmt.Sprintf("%s risk requires operator confirmation", a.Risk)
			dec.ExpiresAt = tx.Now().Add(g.ledger.Config().Timeout)
			_, err := tx.AddPending(*cmd, *dec)
			return err
		}

		if g.cfg.AutoApprove.Permits(a.Risk) {
			if _, err := tx.Activate(*cmd); err != nil {
				return err
			}
			dec.Result = command.ResultApproved
			dec.Reason = fmt.Sprintf("%s risk auto-approved", a.Risk)
			return nil
		}
		if g.cfg.StrictMode {
			dec.Result = command.ResultRejected
			dec.Action = command.ActionBlock
			dec.Reason = fmt.Sprintf("%s risk is not auto-approvable in strict mode", a.Risk)
			return nil
		}
		dec.Result = command.ResultQueued
		dec.Reason = fmt.Sprintf("%s risk queued for manual review", a.Risk)
		return nil
	})
	if err != nil {
		// Duplicate ids are the only way to get here.
		dec.Result = command.ResultRejected
		dec.Action = command.ActionBlock
		dec.RequiresConfirmation = false
		dec.ExpiresAt = time.Time{}
		if errors.Is(err, ledger.ErrExists) {
			dec.Reason = "command id already tracked"
		} else {
			dec.Reason = err.Error()
		}
	}
}

// marketReview scores a trade against the stored book for its asset_id.
func (g *Gateway) marketReview(cmd command.Command) *advisor.Result {
	if g.books == nil || cmd.Category != command.CategoryTrade {
		return nil
	}
	assetID, ok := cmd.String("asset_id")
	if !ok || assetID == "" {
		return nil
	}
	amount, _ := cmd.Float("amount")
	conds, err := g.books.Conditions(assetID, tradeSide(cmd), amount)
	if err != nil {
		g.logger.Debug("no market conditions", "asset_id", assetID, "error", err)
		return nil
	}
	stop, _ := cmd.Float("stop_loss_pct")
	positionID, _ := cmd.String("position_id")
	res := advisor.Review(g.rules.MarketRules(), conds, advisor.Subject{
		Amount:      amount,
		StopLossPct: stop,
		PositionID:  positionID,
	}, g.cfg.Override)
	return &res
}

func tradeSide(cmd command.Command) string {
	if side, ok := cmd.String("side"); ok && side != "" {
		return strings.ToLower(side)
	}
	action := strings.ToLower(cmd.Action)
	if strings.Contains(action, "sell") || strings.Contains(action, "short") {
		return "sell"
	}
	return "buy"
}

func block(dec *command.Decision, risk command.RiskLevel, severity int, confidence float64, reason, rule string) {
	dec.Result = command.ResultBlocked
	dec.Action = command.ActionBlock
	dec.RiskLevel = risk
	dec.Severity = severity
	dec.Confidence = confidence
	dec.Reason = reason
	dec.TriggeredRules = []string{rule}
}

// Confirm activates a pending command after checking its conflict families
// again. It fails with ledger.ErrNotFound for unknown or expired ids and
// with ledger.ErrConflict when a family filled up while the command waited;
// the entry then stays pending.
func (g *Gateway) Confirm(ctx context.Context, id string) error {
	active, err := g.ledger.Approve(id, g.rules.ConflictsFor)
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			g.logger.WarnContext(ctx, "confirmation refused", "id", id, "error", err)
		}
		return err
	}
	g.stats.bump(EventConfirmed)
	g.logger.InfoContext(ctx, "command confirmed", "id", id)
	ev := newEvent(EventConfirmed, g.clock())
	ev.CommandID = id
	ev.Command = &active.Command
	g.emit(ev)
	return nil
}

// Approve is Confirm reporting only success.
func (g *Gateway) Approve(ctx context.Context, id string) bool {
	return g.Confirm(ctx, id) == nil
}

// Reject drops a pending command. Unknown or expired ids return false.
func (g *Gateway) Reject(ctx context.Context, id, reason string) bool {
	p, ok := g.ledger.Reject(id)
	if !ok {
		return false
	}
	if reason == "" {
		reason = "rejected by operator"
	}
	g.stats.bump(EventRejected)
	g.logger.InfoContext(ctx, "command rejected", "id", id, "reason", reason)
	ev := newEvent(EventRejected, g.clock())
	ev.CommandID = id
	ev.Command = &p.Command
	ev.Severity = p.Decision.Severity
	ev.Reason = reason
	g.emit(ev)
	return true
}

// Complete releases an active command from its conflict families.
func (g *Gateway) Complete(ctx context.Context, id string) bool {
	active, ok := g.ledger.Complete(id)
	if !ok {
		return false
	}
	g.stats.bump(EventCompleted)
	g.logger.DebugContext(ctx, "command completed", "id", id)
	ev := newEvent(EventCompleted, g.clock())
	ev.CommandID = id
	ev.Command = &active.Command
	g.emit(ev)
	return true
}

// SweepExpired drops confirmations past their expiry and counts them as
// rejected.
func (g *Gateway) SweepExpired(ctx context.Context) int {
	expired := g.ledger.SweepExpired()
	for _, p := range expired {
		g.stats.bump(EventExpired)
		g.logger.InfoContext(ctx, "confirmation expired", "id", p.CommandID)
		ev := newEvent(EventExpired, g.clock())
		ev.CommandID = p.CommandID
		ev.Command = &p.Command
		ev.Severity = p.Decision.Severity
		ev.Reason = "confirmation expired"
		g.emit(ev)
	}
	return len(expired)
}

// Run sweeps expired confirmations until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.SweepExpired(ctx)
		}
	}
}

// Publish delivers an externally raised event to the sinks.
func (g *Gateway) Publish(e Event) {
	if e.ID == "" {
		e.ID = newEvent(e.Type, e.At).ID
	}
	if e.At.IsZero() {
		e.At = g.clock()
	}
	g.emit(e)
}

func (g *Gateway) emit(e Event) {
	for _, s := range g.sinks {
		s.Handle(e)
	}
}

// State is the read-only export of gateway internals.
type State struct {
	Pending     []ledger.Pending   `json:"pending"`
	Active      []ledger.Active    `json:"active"`
	History     []command.Decision `json:"history"`
	Counters    Counters           `json:"counters"`
	RateUsage   ratelimit.Usage    `json:"rate_usage"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Snapshot returns the current state.
func (g *Gateway) Snapshot() State {
	return State{
		Pending:     g.ledger.PendingEntries(),
		Active:      g.ledger.ActiveEntries(),
		History:     g.stats.recent(),
		Counters:    g.stats.counters(),
		RateUsage:   g.limiter.Usage(),
		GeneratedAt: g.clock(),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
