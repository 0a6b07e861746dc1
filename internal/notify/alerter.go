package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/trading-gateway/internal/gateway"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, msg string) error
}

// Alerter is a gateway.Sink forwarding alert-worthy events to a Sender.
// Handle never blocks; Run performs delivery.
type Alerter struct {
	sender  Sender
	logger  *slog.Logger
	queue   chan string
	timeout time.Duration
	dropped atomic.Int64

	digestEvery time.Duration
	counters    func() gateway.Counters
}

// AlerterOption configures an Alerter.
type AlerterOption func(*Alerter)

// WithDigest sends RenderSummary(counters()) every interval.
func WithDigest(interval time.Duration, counters func() gateway.Counters) AlerterOption {
	return func(a *Alerter) {
		a.digestEvery = interval
		a.counters = counters
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) AlerterOption {
	return func(a *Alerter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAlerter creates an alerter with a queue of the given size.
func NewAlerter(sender Sender, logger *slog.Logger, queue int, opts ...AlerterOption) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	if queue <= 0 {
		queue = 64
	}
	a := &Alerter{
		sender:  sender,
		logger:  logger.With("component", "notify"),
		queue:   make(chan string, queue),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle implements gateway.Sink.
func (a *Alerter) Handle(e gateway.Event) {
	if !e.Alert() {
		return
	}
	select {
	case a.queue <- RenderEvent(e):
	default:
		n := a.dropped.Add(1)
		a.logger.Warn("alert queue full, alert dropped", "event", e.ID, "type", e.Type, "dropped", n)
	}
}

// Dropped returns how many alerts were discarded.
func (a *Alerter) Dropped() int64 { return a.dropped.Load() }

// Run delivers queued alerts until ctx is done.
func (a *Alerter) Run(ctx context.Context) error {
	var digest <-chan time.Time
	if a.digestEvery > 0 && a.counters != nil {
		t := time.NewTicker(a.digestEvery)
		defer t.Stop()
		digest = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.queue:
			a.deliver(ctx, msg)
		case <-digest:
			a.deliver(ctx, RenderSummary(a.counters()))
		}
	}
}

func (a *Alerter) deliver(ctx context.Context, msg string) {
	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.sender.Send(sctx, msg); err != nil {
		a.logger.Error("alert delivery failed", "error", err)
	}
}
