// Package app wires the routing topology, the responders and the command
// gateway into one process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/GoPolymarket/trading-gateway/internal/audit"
	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/config"
	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
	"github.com/GoPolymarket/trading-gateway/internal/gateway"
	"github.com/GoPolymarket/trading-gateway/internal/market"
	"github.com/GoPolymarket/trading-gateway/internal/notify"
	"github.com/GoPolymarket/trading-gateway/internal/responders"
	"github.com/GoPolymarket/trading-gateway/internal/risk"
	"github.com/GoPolymarket/trading-gateway/internal/rules"
	"github.com/GoPolymarket/trading-gateway/internal/strategy"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// Route is what happened to one ingested signal.
type Route struct {
	Outcome  dispatch.Outcome  `json:"outcome"`
	Command  *command.Command  `json:"command,omitempty"`
	Decision *command.Decision `json:"decision,omitempty"`
	Fallback bool              `json:"fallback,omitempty"`
}

type options struct {
	clock      func() time.Time
	sender     notify.Sender
	registry   *prometheus.Registry
	responders []dispatch.Responder
}

// Option customises New.
type Option func(*options)

// WithClock overrides the wall clock for every time-dependent component.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithSender replaces the Telegram client used for alerts.
func WithSender(s notify.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithRegistry collects metrics into reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithResponder registers an extra responder, replacing a built-in one
// with the same name.
func WithResponder(r dispatch.Responder) Option {
	return func(o *options) { o.responders = append(o.responders, r) }
}

type App struct {
	cfg    config.Config
	logger *slog.Logger
	clock  func() time.Time

	riskMgr  *risk.Manager
	books    *market.Books
	flow     *strategy.FlowTracker
	journal  *responders.Journal
	registry *topology.Registry

	dispatcher *dispatch.Dispatcher
	gateway    *gateway.Gateway
	metrics    *gateway.Metrics
	promReg    *prometheus.Registry

	audit   *audit.Log
	auditDB *sql.DB
	alerter *notify.Alerter

	mu      sync.RWMutex
	running bool
}

// New builds every component from cfg. The returned App owns the audit
// database, released by Close.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:    cfg,
		logger: logger.With("component", "app"),
		clock:  o.clock,
	}

	ruleSet, err := rules.New(logger)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	if cfg.RulesFile != "" {
		tables, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("rules file: %w", err)
		}
		if err := ruleSet.Apply(tables); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", cfg.RulesFile, err)
		}
	}

	a.registry = topology.New(cfg.Budgets(), logger)
	a.riskMgr = risk.New(cfg.Risk, o.clock)
	a.books = market.NewBooks(market.NewTracker(cfg.Windows.Volatility, o.clock))
	a.flow = strategy.NewFlowTracker(cfg.Windows.Flow, o.clock)
	a.journal = responders.NewJournal(a.riskMgr, cfg.Windows.Journal)

	sinks := []gateway.Sink{gateway.SinkFunc(a.trackExposure)}
	if cfg.Metrics.Enabled {
		a.promReg = o.registry
		if a.promReg == nil {
			a.promReg = prometheus.NewRegistry()
			a.promReg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		a.metrics = gateway.NewMetrics(a.promReg)
		sinks = append(sinks, a.metrics)
	}
	if cfg.Audit.Enabled {
		db, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		log, err := audit.New(db, logger, cfg.Audit.Queue)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("audit: %w", err)
		}
		a.audit, a.auditDB = log, db
		sinks = append(sinks, log)
	}
	sender := o.sender
	if sender == nil && cfg.Telegram.Enabled {
		if tg := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID); tg.Enabled() {
			sender = tg
		}
	}
	if sender != nil {
		a.alerter = notify.NewAlerter(sender, logger, 0,
			notify.WithDigest(cfg.Telegram.DigestInterval, a.counters),
			notify.WithSendTimeout(cfg.Telegram.SendTimeout))
		sinks = append(sinks, a.alerter)
	}

	gw, err := gateway.New(cfg.Gateway(), gateway.Deps{
		Rules:  ruleSet,
		Books:  a.books,
		Sinks:  sinks,
		Logger: logger,
		Clock:  o.clock,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("gateway: %w", err)
	}
	a.gateway = gw

	dopts := []dispatch.Option{dispatch.WithLogger(logger), dispatch.WithClock(o.clock)}
	if a.metrics != nil {
		dopts = append(dopts, dispatch.WithObserver(a.metrics))
	}
	a.dispatcher = dispatch.New(a.registry, dopts...)
	a.dispatcher.Register(responders.NewShield(a.riskMgr, logger))
	a.dispatcher.Register(responders.NewRisk(a.riskMgr, cfg.Market.DefaultAmount))
	a.dispatcher.Register(responders.NewMarket(a.books, cfg.Market))
	a.dispatcher.Register(responders.NewStrategy(a.books, strategy.NewImbalance(cfg.Strategy, o.clock), a.flow))
	a.dispatcher.Register(responders.NewSentiment(a.flow))
	a.dispatcher.Register(a.journal)
	for _, r := range o.responders {
		a.dispatcher.Register(r)
	}
	return a, nil
}

// Ingest dispatches sig and submits any execution-affecting proposal the
// outcome carries to the gateway.
func (a *App) Ingest(ctx context.Context, sig topology.Signal) Route {
	if sig.EmittedAt.IsZero() {
		sig.EmittedAt = a.clock()
	}
	out := a.dispatcher.Dispatch(ctx, sig)
	route := Route{Outcome: out}

	cmd := a.proposal(out, sig)
	if out.Tier == topology.TierCritical && out.Degraded() {
		reason := fmt.Sprintf("%s dispatch missing %s", sig.Kind, strings.Join(out.MissingRequired, ","))
		a.gateway.Publish(gateway.Event{
			Type:     gateway.EventDegraded,
			Severity: command.RiskCritical.Severity(),
			Reason:   reason,
		})
		if cmd == nil {
			cmd = responders.HaltCommand("dispatch", reason, payloadString(sig, responders.KeyAssetID))
			route.Fallback = true
		}
	}
	if cmd == nil {
		return route
	}
	dec := a.Submit(ctx, *cmd)
	route.Command = cmd
	route.Decision = &dec
	return route
}

// proposal picks the command an outcome asks for, if any. Tier 1 follows
// the protective responder alone; tier 2 needs consensus on a side.
func (a *App) proposal(out dispatch.Outcome, sig topology.Signal) *command.Command {
	switch out.Tier {
	case topology.TierCritical:
		if out.Authoritative == nil || out.Authoritative.Command == nil {
			return nil
		}
		cmd := out.Authoritative.Command.Clone()
		return &cmd

	case topology.TierOpportunity:
		if !out.Actionable() {
			return nil
		}
		rec := out.Recommendation
		if rec != responders.RecBuy && rec != responders.RecSell {
			return nil
		}
		if s, ok := out.Responses[topology.ResponderStrategy]; ok && s.Command != nil && s.Recommendation == rec {
			cmd := s.Command.Clone()
			return &cmd
		}
		amount, ok := payloadFloat(sig, responders.KeyAmount)
		if !ok || amount <= 0 {
			amount = a.cfg.Market.DefaultAmount
		}
		price, _ := payloadFloat(sig, responders.KeyPrice)
		return responders.EntryCommand("consensus", rec, payloadString(sig, responders.KeyAssetID), amount, price)
	}
	return nil
}

// Submit validates cmd through the gateway.
func (a *App) Submit(ctx context.Context, cmd command.Command) command.Decision {
	return a.gateway.Validate(ctx, cmd)
}

// trackExposure books approved trade commands against the risk manager so
// later opportunity checks see the open exposure.
func (a *App) trackExposure(e gateway.Event) {
	if e.Command == nil || e.Command.Category != command.CategoryTrade {
		return
	}
	switch e.Type {
	case gateway.EventDecision:
		if e.Decision == nil || !e.Decision.Allowed() {
			return
		}
	case gateway.EventConfirmed:
	default:
		return
	}
	asset, _ := e.Command.String(responders.KeyAssetID)
	if asset == "" {
		return
	}
	amount, _ := e.Command.Float(responders.KeyAmount)
	if e.Decision != nil && e.Decision.Modifications != nil && e.Decision.Modifications.AdjustedAmount > 0 {
		amount = e.Decision.Modifications.AdjustedAmount
	}
	switch strings.ToLower(e.Command.Action) {
	case responders.RecBuy:
		a.riskMgr.AddPosition(asset, amount)
	case "close":
		if amount <= 0 {
			amount = a.riskMgr.Exposure(asset)
		}
		a.riskMgr.RemovePosition(asset, amount)
	}
}

// Run drives the background loops until ctx is cancelled: the confirmation
// sweeper, the audit writer, the alert sender and the daily risk reset.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.gateway.Run(ctx) })
	if a.audit != nil {
		g.Go(func() error { return a.audit.Run(ctx) })
	}
	if a.alerter != nil {
		g.Go(func() error { return a.alerter.Run(ctx) })
	}
	g.Go(func() error { return a.dailyReset(ctx) })

	a.logger.Info("gateway running",
		"strict", a.cfg.StrictMode,
		"profile", a.cfg.Profile,
		"responders", a.dispatcher.Registered(),
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) dailyReset(ctx context.Context) error {
	timer := time.NewTimer(timeUntilMidnightUTC(a.clock()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			a.riskMgr.ResetDaily()
			c := a.counters()
			a.logger.Info("daily risk reset", "decisions", c.Total, "blocked", c.Blocked)
			timer.Reset(timeUntilMidnightUTC(a.clock()))
		}
	}
}

// Close releases the audit database.
func (a *App) Close() error {
	if a.auditDB == nil {
		return nil
	}
	return a.auditDB.Close()
}

func (a *App) counters() gateway.Counters { return a.gateway.Snapshot().Counters }

// IsRunning reports whether Run is active.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

func (a *App) Config() config.Config { return a.cfg }
func (a *App) Gateway() *gateway.Gateway { return a.gateway }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }
func (a *App) Registry() *topology.Registry { return a.registry }
func (a *App) Books() *market.Books { return a.books }
func (a *App) Risk() *risk.Manager { return a.riskMgr }
func (a *App) Journal() *responders.Journal { return a.journal }
func (a *App) Audit() *audit.Log { return a.audit }
func (a *App) Metrics() *prometheus.Registry { return a.promReg }
func (a *App) Flow() *strategy.FlowTracker { return a.flow }

// SetEmergencyStop latches or clears the protective stop.
func (a *App) SetEmergencyStop(stop bool, reason string) {
	a.riskMgr.SetEmergencyStop(stop, reason)
	a.logger.Warn("emergency stop toggled", "stop", stop, "reason", reason)
}

func payloadString(sig topology.Signal, key string) string {
	v, _ := sig.Payload[key].(string)
	return strings.TrimSpace(v)
}

func payloadFloat(sig topology.Signal, key string) (float64, bool) {
	v, ok := sig.Payload[key]
	if !ok {
		return 0, false
	}
	return command.ToFloat(v)
}

// timeUntilMidnightUTC returns the duration until the next UTC midnight.
func timeUntilMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(now)
}
