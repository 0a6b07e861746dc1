package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/config"
	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
	"github.com/GoPolymarket/trading-gateway/internal/responders"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.API.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	a, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Books().Update(ws.OrderbookEvent{
		AssetID: "tok-a",
		Bids:    []ws.OrderbookLevel{{Price: "0.500", Size: "4000"}, {Price: "0.499", Size: "3000"}},
		Asks:    []ws.OrderbookLevel{{Price: "0.501", Size: "800"}, {Price: "0.502", Size: "800"}},
	}))
	return a
}

func TestNewRegistersBuiltinResponders(t *testing.T) {
	a := newTestApp(t, testConfig())
	assert.ElementsMatch(t, []string{
		topology.ResponderShield,
		topology.ResponderRisk,
		topology.ResponderMarket,
		topology.ResponderStrategy,
		topology.ResponderSentiment,
		topology.ResponderJournal,
	}, a.Dispatcher().Registered())
	assert.NotNil(t, a.Metrics())
	assert.Nil(t, a.Audit())
}

func TestNewFailsOnMissingRulesFile(t *testing.T) {
	cfg := testConfig()
	cfg.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestIngestOpportunityConsensusSubmitsStrategyEntry(t *testing.T) {
	a := newTestApp(t, testConfig())

	route := a.Ingest(context.Background(), topology.Signal{
		Kind:    topology.KindOpportunity,
		Payload: map[string]any{"asset_id": "tok-a", "side": "buy", "amount": 25.0},
	})

	require.True(t, route.Outcome.ConsensusReached, "responses: %+v", route.Outcome.Responses)
	assert.Equal(t, responders.RecBuy, route.Outcome.Recommendation)
	require.NotNil(t, route.Command)
	assert.Equal(t, topology.ResponderStrategy, route.Command.Source)
	assert.Equal(t, "buy", route.Command.Action)
	require.NotNil(t, route.Decision)
	assert.Equal(t, command.ResultApproved, route.Decision.Result)
	assert.InDelta(t, 25, a.Risk().Exposure("tok-a"), 1e-9)
}

func TestIngestOpportunityWithoutConsensusSubmitsNothing(t *testing.T) {
	a := newTestApp(t, testConfig())

	route := a.Ingest(context.Background(), topology.Signal{
		Kind:    topology.KindOpportunity,
		Payload: map[string]any{"asset_id": "tok-missing", "side": "buy"},
	})

	assert.False(t, route.Outcome.ConsensusReached)
	assert.Nil(t, route.Command)
	assert.Nil(t, route.Decision)
	assert.Zero(t, a.Gateway().Snapshot().Counters.Total)
}

func TestIngestEmergencyStopHaltsThroughGateway(t *testing.T) {
	a := newTestApp(t, testConfig())

	route := a.Ingest(context.Background(), topology.Signal{
		Kind:    topology.KindEmergencyStop,
		Payload: map[string]any{"reason": "operator"},
	})

	assert.Equal(t, topology.TierCritical, route.Outcome.Tier)
	require.NotNil(t, route.Outcome.Authoritative)
	require.NotNil(t, route.Command)
	assert.Equal(t, "cancel_all", route.Command.Action)
	assert.False(t, route.Fallback)
	require.NotNil(t, route.Decision)
	assert.True(t, route.Decision.Allowed())
	assert.True(t, a.Risk().EmergencyStop())
}

func TestIngestDegradedCriticalFallsBackToHalt(t *testing.T) {
	broken := dispatch.ResponderFunc{
		ID: topology.ResponderShield,
		Fn: func(context.Context, topology.Signal) (dispatch.Response, error) {
			return dispatch.Response{}, errors.New("shield offline")
		},
	}
	a := newTestApp(t, testConfig(), WithResponder(broken))

	route := a.Ingest(context.Background(), topology.Signal{
		Kind:    topology.KindFlashCrash,
		Payload: map[string]any{"asset_id": "tok-a"},
	})

	assert.True(t, route.Outcome.Degraded())
	assert.True(t, route.Fallback)
	require.NotNil(t, route.Command)
	assert.Equal(t, "cancel_all", route.Command.Action)
	asset, _ := route.Command.String("asset_id")
	assert.Equal(t, "tok-a", asset)
	require.NotNil(t, route.Decision)
	assert.Equal(t, command.ResultApproved, route.Decision.Result)

	n, err := testutil.GatherAndCount(a.Metrics(), "gateway_alerts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestLearningRecordsOutcome(t *testing.T) {
	a := newTestApp(t, testConfig())

	route := a.Ingest(context.Background(), topology.Signal{
		Kind:    topology.KindTradeOutcome,
		Payload: map[string]any{"asset_id": "tok-a", "pnl": -5.0, "side": "sell", "size": 10.0, "price": 0.5},
	})

	assert.Equal(t, topology.TierLearning, route.Outcome.Tier)
	assert.Nil(t, route.Command)
	assert.Equal(t, 1, a.Journal().Stats().Trades)
	assert.InDelta(t, -5, a.Risk().DailyPnL(), 1e-9)
}

func TestSubmitBlocklistedCommand(t *testing.T) {
	a := newTestApp(t, testConfig())

	dec := a.Submit(context.Background(), command.Command{
		Category: command.CategorySystem,
		Action:   "cleanup",
		Parameters: map[string]any{
			"cmd": "rm -rf /",
		},
	})
	assert.Equal(t, command.ResultBlocked, dec.Result)
	assert.Equal(t, 100, dec.Severity)
}

func TestCloseReleasesExposure(t *testing.T) {
	a := newTestApp(t, testConfig())
	a.Risk().AddPosition("tok-a", 40)

	dec := a.Submit(context.Background(), *responders.CloseCommand("operator", "tok-a", "", 0))
	require.True(t, dec.Allowed(), "decision: %+v", dec)
	assert.Zero(t, a.Risk().Exposure("tok-a"))
}

func TestRunWritesAuditAndStops(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.db")
	a := newTestApp(t, cfg)
	require.NotNil(t, a.Audit())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	require.Eventually(t, a.IsRunning, time.Second, 5*time.Millisecond)

	dec := a.Submit(context.Background(), command.Command{Category: command.CategoryData, Action: "price"})
	require.Equal(t, command.ResultApproved, dec.Result)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.False(t, a.IsRunning())

	entries, err := a.Audit().ForCommand(context.Background(), dec.CommandID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "approved", entries[0].Result)
}

func TestTimeUntilMidnightUTC(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, timeUntilMidnightUTC(now))
}
