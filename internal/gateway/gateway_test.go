package gateway

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/ledger"
	"github.com/GoPolymarket/trading-gateway/internal/market"
	"github.com/GoPolymarket/trading-gateway/internal/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	gw    *Gateway
	clock *fakeClock
	rec   *recorder
	books *market.Books
}

func newHarness(t *testing.T, mutate func(*Config), extra ...Sink) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Confirmation = ledger.Config{Timeout: 5 * time.Minute, MaxPending: 50}
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{clock: newFakeClock(), rec: &recorder{}}
	h.books = market.NewBooks(nil)
	gw, err := New(cfg, Deps{
		Books:  h.books,
		Sinks:  append([]Sink{h.rec}, extra...),
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Clock:  h.clock.Now,
	})
	require.NoError(t, err)
	h.gw = gw
	return h
}

func trade(action string, params map[string]any) command.Command {
	return command.Command{Category: command.CategoryTrade, Action: action, Parameters: params}
}

func TestLargeTradeConfirmationScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	dec := h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 15000}))
	assert.Equal(t, command.ResultRequiresConfirmation, dec.Result)
	assert.Equal(t, command.RiskCritical, dec.RiskLevel)
	assert.Equal(t, 100, dec.Severity)
	assert.True(t, dec.RequiresConfirmation)
	assert.Contains(t, dec.TriggeredRules, "trade_large_notional")
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), dec.ExpiresAt)
	require.NotEmpty(t, dec.CommandID)

	state := h.gw.Snapshot()
	require.Len(t, state.Pending, 1)
	assert.Empty(t, state.Active)
	assert.Equal(t, dec.CommandID, state.Pending[0].CommandID)

	require.True(t, h.gw.Approve(ctx, dec.CommandID))
	state = h.gw.Snapshot()
	assert.Empty(t, state.Pending)
	require.Len(t, state.Active, 1)

	assert.False(t, h.gw.Approve(ctx, dec.CommandID), "second approve is a no-op")
	assert.False(t, h.gw.Reject(ctx, dec.CommandID, ""), "reject after approve is a no-op")

	require.True(t, h.gw.Complete(ctx, dec.CommandID))
	state = h.gw.Snapshot()
	assert.Empty(t, state.Pending)
	assert.Empty(t, state.Active)
	assert.Equal(t, int64(1), state.Counters.Confirmed)
	assert.Equal(t, int64(1), state.Counters.Completed)

	assert.Len(t, h.rec.ofType(EventConfirmed), 1)
	assert.Len(t, h.rec.ofType(EventCompleted), 1)
}

func TestSafelistedBurstHitsRateLimit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		dec := h.gw.Validate(ctx, command.Command{Category: command.CategoryData, Action: "price"})
		require.Equal(t, command.ResultApproved, dec.Result, "command %d", i+1)
		assert.Equal(t, command.RiskSafe, dec.RiskLevel)
		assert.Zero(t, dec.Severity)
		h.clock.Advance(100 * time.Millisecond)
	}
	dec := h.gw.Validate(ctx, command.Command{Category: command.CategoryData, Action: "price"})
	assert.Equal(t, command.ResultRejected, dec.Result)
	assert.Contains(t, dec.Reason, "rate limit")
	assert.Equal(t, 75, dec.Severity)

	state := h.gw.Snapshot()
	assert.Empty(t, state.Active, "safelisted commands are not tracked as active")
	assert.Equal(t, int64(60), state.Counters.Approved)
	assert.Equal(t, int64(1), state.Counters.Rejected)
	assert.Equal(t, 60, state.RateUsage.Minute)
}

func TestDefaultConfigAdmitsFullMinuteAtOnce(t *testing.T) {
	clock := newFakeClock()
	gw, err := New(DefaultConfig(), Deps{
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Clock:  clock.Now,
	})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		dec := gw.Validate(ctx, command.Command{Category: command.CategoryData, Action: "price"})
		require.Equal(t, command.ResultApproved, dec.Result, "command %d: %s", i+1, dec.Reason)
	}
	dec := gw.Validate(ctx, command.Command{Category: command.CategoryData, Action: "price"})
	assert.Equal(t, command.ResultRejected, dec.Result)
	assert.Contains(t, dec.TriggeredRules, "rate_limit:minute")
}

func TestBlocklistPrecedence(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cases := []command.Command{
		{Category: command.CategoryData, Action: "price", Parameters: map[string]any{"symbol": "BTC; rm -rf /"}},
		{Category: command.CategoryData, Action: "price && rm -rf ~"},
		trade("buy", map[string]any{"amount": 5, "note": "<script>alert(1)</script>"}),
	}
	for _, cmd := range cases {
		dec := h.gw.Validate(ctx, cmd)
		assert.Equal(t, command.ResultBlocked, dec.Result, "action %q", cmd.Action)
		assert.Equal(t, command.ActionBlock, dec.Action)
		assert.Equal(t, 100, dec.Severity)
		assert.InDelta(t, 1.0, dec.Confidence, 1e-9)
		require.Len(t, dec.TriggeredRules, 1)
		assert.True(t, strings.HasPrefix(dec.TriggeredRules[0], "blocklist:"))
	}
	assert.Zero(t, h.gw.Snapshot().RateUsage.Minute, "blocked commands spend no rate budget")
	assert.Len(t, h.rec.ofType(EventDecision), 3)
	for _, e := range h.rec.ofType(EventDecision) {
		assert.True(t, e.Alert())
	}
}

func TestConflictCap(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		dec := h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 100}))
		require.Equal(t, command.ResultApproved, dec.Result)
		assert.Equal(t, command.RiskLow, dec.RiskLevel)
		ids = append(ids, dec.CommandID)
	}

	dec := h.gw.Validate(ctx, trade("sell", map[string]any{"amount": 100}))
	assert.Equal(t, command.ResultRejected, dec.Result)
	assert.Contains(t, dec.Reason, "concurrent_trades")
	assert.Contains(t, dec.TriggeredRules, "conflict:concurrent_trades")
	assert.Equal(t, command.RiskLow.Severity(), dec.Severity)

	require.True(t, h.gw.Complete(ctx, ids[0]))
	dec = h.gw.Validate(ctx, trade("sell", map[string]any{"amount": 100}))
	assert.Equal(t, command.ResultApproved, dec.Result)
}

func TestApproveRechecksConflictCap(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		dec := h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 5000}))
		require.Equal(t, command.ResultRequiresConfirmation, dec.Result)
		ids = append(ids, dec.CommandID)
	}
	for _, id := range ids[:3] {
		require.NoError(t, h.gw.Confirm(ctx, id))
	}

	err := h.gw.Confirm(ctx, ids[3])
	require.ErrorIs(t, err, ledger.ErrConflict)
	assert.False(t, h.gw.Approve(ctx, ids[3]))

	state := h.gw.Snapshot()
	assert.Len(t, state.Active, 3)
	require.Len(t, state.Pending, 1)
	assert.Equal(t, ids[3], state.Pending[0].CommandID)
	assert.Equal(t, int64(3), state.Counters.Confirmed)

	require.True(t, h.gw.Complete(ctx, ids[0]))
	assert.True(t, h.gw.Approve(ctx, ids[3]))
	assert.Len(t, h.gw.Snapshot().Active, 3)
}

func TestReusedIDWhilePendingIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := trade("buy", map[string]any{"amount": 5000})
	first.ID = "x"
	require.Equal(t, command.ResultRequiresConfirmation, h.gw.Validate(ctx, first).Result)

	second := trade("buy", map[string]any{"amount": 10})
	second.ID = "x"
	dec := h.gw.Validate(ctx, second)
	assert.Equal(t, command.ResultRejected, dec.Result)
	assert.Equal(t, "command id already tracked", dec.Reason)

	state := h.gw.Snapshot()
	assert.Len(t, state.Pending, 1)
	assert.Empty(t, state.Active)
}

func TestConflictLeaseExpires(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Equal(t, command.ResultApproved, h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 100})).Result)
	}
	require.Equal(t, command.ResultRejected, h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 100})).Result)

	// concurrent_trades has a 10 minute cooldown lease.
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, command.ResultApproved, h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 100})).Result)
}

func TestConcurrentValidationRespectsCap(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RateLimit = ratelimit.Config{} })
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec := h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 50}))
			if dec.Result == command.ResultApproved {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, approved)
	assert.Len(t, h.gw.Snapshot().Active, 3)
}

func TestConfirmationExpiry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	dec := h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 2000}))
	require.Equal(t, command.ResultRequiresConfirmation, dec.Result)
	assert.Equal(t, command.RiskHigh, dec.RiskLevel)

	h.clock.Advance(5 * time.Minute)
	assert.False(t, h.gw.Approve(ctx, dec.CommandID), "expired entries cannot be approved")
	assert.Equal(t, 1, h.gw.SweepExpired(ctx))
	assert.Zero(t, h.gw.SweepExpired(ctx))

	state := h.gw.Snapshot()
	assert.Empty(t, state.Pending)
	assert.Empty(t, state.Active)
	assert.Equal(t, int64(1), state.Counters.Expired)
	assert.Equal(t, int64(1), state.Counters.Rejected, "expiry counts as rejected")

	expired := h.rec.ofType(EventExpired)
	require.Len(t, expired, 1)
	assert.True(t, expired[0].Alert())
}

func TestOperatorReject(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	dec := h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 2000}))
	require.True(t, h.gw.Reject(ctx, dec.CommandID, "too big"))
	assert.False(t, h.gw.Approve(ctx, dec.CommandID))

	ev := h.rec.ofType(EventRejected)
	require.Len(t, ev, 1)
	assert.Equal(t, "too big", ev[0].Reason)
	assert.Equal(t, int64(1), h.gw.Snapshot().Counters.OperatorRejected)
}

func TestConfirmationQueueFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Confirmation.MaxPending = 2 })
	ctx := context.Background()

	withdraw := command.Command{Category: command.CategoryFinancial, Action: "withdraw"}
	for i := 0; i < 2; i++ {
		require.Equal(t, command.ResultRequiresConfirmation, h.gw.Validate(ctx, withdraw).Result)
	}

	dec := h.gw.Validate(ctx, withdraw)
	assert.Equal(t, command.ResultRejected, dec.Result)
	assert.Equal(t, "confirmation queue full", dec.Reason)
	assert.True(t, dec.RequiresConfirmation)
	assert.Len(t, h.gw.Snapshot().Pending, 2)
}

func TestStrictAndPermissiveModes(t *testing.T) {
	ctx := context.Background()
	medium := command.Command{Category: command.CategorySystem, Action: "inspect workers"}

	permissive := newHarness(t, nil)
	dec := permissive.gw.Validate(ctx, medium)
	assert.Equal(t, command.ResultQueued, dec.Result)
	assert.Equal(t, command.RiskMedium, dec.RiskLevel)
	assert.Empty(t, permissive.gw.Snapshot().Pending, "queued commands are not pending confirmations")

	strict := newHarness(t, func(c *Config) { c.StrictMode = true })
	dec = strict.gw.Validate(ctx, medium)
	assert.Equal(t, command.ResultRejected, dec.Result)
	assert.Contains(t, dec.Reason, "strict mode")
}

func TestAutoApprovePolicy(t *testing.T) {
	ctx := context.Background()
	low := trade("buy", map[string]any{"amount": 10})

	safeOnly := newHarness(t, func(c *Config) { c.AutoApprove.SafeOnly = true })
	assert.Equal(t, command.ResultQueued, safeOnly.gw.Validate(ctx, low).Result)
	assert.Equal(t, command.ResultApproved,
		safeOnly.gw.Validate(ctx, command.Command{Category: command.CategoryData, Action: "report"}).Result)

	disabled := newHarness(t, func(c *Config) { c.AutoApprove.Enabled = false })
	assert.Equal(t, command.ResultQueued,
		disabled.gw.Validate(ctx, command.Command{Category: command.CategoryData, Action: "report"}).Result)
}

func TestExplicitConfirmationOnMediumRisk(t *testing.T) {
	h := newHarness(t, nil)
	dec := h.gw.Validate(context.Background(), command.Command{Category: command.CategoryExternal, Action: "send webhook"})
	assert.Equal(t, command.ResultRequiresConfirmation, dec.Result)
	assert.Equal(t, command.RiskMedium, dec.RiskLevel)
}

func book(assetID, bid, ask string) ws.OrderbookEvent {
	return ws.OrderbookEvent{
		AssetID: assetID,
		Bids:    []ws.OrderbookLevel{{Price: bid, Size: "1000"}},
		Asks:    []ws.OrderbookLevel{{Price: ask, Size: "1000"}},
	}
}

func TestMarketOverrideModifies(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.books.Update(book("tok", "0.49", "0.51")))

	// 400 bps spread and 200 bps slippage: 25 + 20 = 45.
	dec := h.gw.Validate(context.Background(), trade("buy", map[string]any{"amount": 10, "asset_id": "tok"}))
	assert.Equal(t, command.ResultApproved, dec.Result)
	assert.Equal(t, command.ActionModify, dec.Action)
	assert.Equal(t, 45, dec.Severity)
	require.NotNil(t, dec.Modifications)
	assert.InDelta(t, 0.75, dec.Modifications.SizeMultiplier, 1e-9)
	assert.Equal(t, 2, dec.Modifications.Splits)
	assert.Contains(t, dec.TriggeredRules, "market:wide_spread")
	assert.Equal(t, int64(1), h.gw.Snapshot().Counters.Modified)
}

func TestMarketOverrideBlocksAndCloses(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.books.Update(book("tok", "0.40", "0.60")))

	dec := h.gw.Validate(context.Background(), trade("sell", map[string]any{
		"amount": 10, "asset_id": "tok", "position_id": "pos-1",
	}))
	assert.Equal(t, command.ResultBlocked, dec.Result)
	assert.Equal(t, command.ActionBlock, dec.Action)
	assert.GreaterOrEqual(t, dec.Severity, 80)
	require.NotNil(t, dec.Modifications)
	assert.True(t, dec.Modifications.ClosePosition)
	assert.Empty(t, h.gw.Snapshot().Active)
}

func TestMarketOverrideIgnoresUnknownAsset(t *testing.T) {
	h := newHarness(t, nil)
	dec := h.gw.Validate(context.Background(), trade("buy", map[string]any{"amount": 10, "asset_id": "ghost"}))
	assert.Equal(t, command.ResultApproved, dec.Result)
	assert.Equal(t, command.ActionAllow, dec.Action)
	assert.Nil(t, dec.Modifications)
}

func TestSeverityAndConfidenceStaySeparate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	dec := h.gw.Validate(ctx, command.Command{Category: command.CategoryAuth, Action: "login"})
	assert.Equal(t, 100, dec.Severity)
	assert.InDelta(t, 0.5, dec.Confidence, 1e-9, "category default is a low-confidence guess")

	dec = h.gw.Validate(ctx, command.Command{Category: command.CategoryAuth, Action: "rotate api key"})
	assert.Equal(t, 100, dec.Severity)
	assert.InDelta(t, 0.75, dec.Confidence, 1e-9)
}

func TestSnapshotCountersAndHistory(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HistorySize = 3 })
	ctx := context.Background()

	h.gw.Validate(ctx, command.Command{Category: command.CategoryData, Action: "price"})
	h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 10}))
	h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 15000}))
	last := h.gw.Validate(ctx, command.Command{Category: command.CategorySystem, Action: "inspect"})

	state := h.gw.Snapshot()
	require.Len(t, state.History, 3)
	assert.Equal(t, last.CommandID, state.History[2].CommandID)
	assert.Equal(t, int64(4), state.Counters.Total)
	assert.Equal(t, int64(2), state.Counters.Approved)
	assert.Equal(t, int64(1), state.Counters.RequiresConfirmation)
	assert.Equal(t, int64(1), state.Counters.Queued)
	assert.Equal(t, int64(2), state.Counters.ByCategory[command.CategoryTrade])
	assert.Equal(t, int64(1), state.Counters.ByRisk[command.RiskCritical])
	assert.Equal(t, int64(1), state.Counters.ByRisk[command.RiskSafe])
}

func TestAssignsIDAndKeepsCallerCommand(t *testing.T) {
	h := newHarness(t, nil)
	cmd := trade("buy", map[string]any{"amount": 10})
	dec := h.gw.Validate(context.Background(), cmd)
	assert.NotEmpty(t, dec.CommandID)
	assert.Empty(t, cmd.ID)

	cmd.ID = "fixed-id"
	dec = h.gw.Validate(context.Background(), cmd)
	assert.Equal(t, "fixed-id", dec.CommandID)
	dec = h.gw.Validate(context.Background(), cmd)
	assert.Equal(t, command.ResultRejected, dec.Result)
	assert.Equal(t, "command id already tracked", dec.Reason)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SweepInterval = 5 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())

	dec := h.gw.Validate(ctx, trade("buy", map[string]any{"amount": 2000}))
	require.Equal(t, command.ResultRequiresConfirmation, dec.Result)
	h.clock.Advance(time.Hour)

	done := make(chan error, 1)
	go func() { done <- h.gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(h.gw.Snapshot().Pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestPublishFillsMetadata(t *testing.T) {
	h := newHarness(t, nil)
	h.gw.Publish(Event{Type: EventDegraded, Reason: "shield silent"})

	ev := h.rec.ofType(EventDegraded)
	require.Len(t, ev, 1)
	assert.NotEmpty(t, ev[0].ID)
	assert.Equal(t, h.clock.Now(), ev[0].At)
	assert.True(t, ev[0].Alert())
}

func TestNewRejectsBadThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Override.Modify = 90
	_, err := New(cfg, Deps{})
	assert.Error(t, err)
}
