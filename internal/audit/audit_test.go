package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/gateway"
)

func newTestLog(t *testing.T, queue int) *Log {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := New(db, nil, queue)
	require.NoError(t, err)
	return l
}

func decisionEvent(id, cmdID string, at time.Time, result command.Result) gateway.Event {
	return gateway.Event{
		ID:        id,
		Type:      gateway.EventDecision,
		At:        at,
		CommandID: cmdID,
		Severity:  75,
		Reason:    "matched funds_movement",
		Decision: &command.Decision{
			CommandID: cmdID,
			Result:    result,
			RiskLevel: command.RiskHigh,
			Severity:  75,
		},
	}
}

func TestRecordAndRecent(t *testing.T) {
	l := newTestLog(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, decisionEvent("e1", "c1", base, command.ResultRequiresConfirmation)))
	require.NoError(t, l.Record(ctx, gateway.Event{ID: "e2", Type: gateway.EventConfirmed, At: base.Add(500 * time.Millisecond), CommandID: "c1"}))
	require.NoError(t, l.Record(ctx, decisionEvent("e3", "c2", base.Add(time.Second), command.ResultBlocked)))

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "e3", recent[0].EventID)
	assert.Equal(t, "e2", recent[1].EventID)
	assert.Equal(t, "blocked", recent[0].Result)
	assert.Equal(t, "high", recent[0].Risk)
	assert.True(t, recent[0].At.Equal(base.Add(time.Second)))

	var decoded gateway.Event
	require.NoError(t, json.Unmarshal(recent[0].Payload, &decoded))
	require.NotNil(t, decoded.Decision)
	assert.Equal(t, "c2", decoded.Decision.CommandID)
}

func TestForCommandOrdersLifecycle(t *testing.T) {
	l := newTestLog(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, decisionEvent("e1", "c1", base, command.ResultRequiresConfirmation)))
	require.NoError(t, l.Record(ctx, gateway.Event{ID: "e2", Type: gateway.EventConfirmed, At: base.Add(time.Minute), CommandID: "c1"}))
	require.NoError(t, l.Record(ctx, gateway.Event{ID: "e3", Type: gateway.EventCompleted, At: base.Add(2 * time.Minute), CommandID: "c1"}))
	require.NoError(t, l.Record(ctx, decisionEvent("e4", "c9", base, command.ResultApproved)))

	entries, err := l.ForCommand(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"decision", "confirmed", "completed"},
		[]string{entries[0].Type, entries[1].Type, entries[2].Type})
}

func TestCountByResult(t *testing.T) {
	l := newTestLog(t, 0)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	results := []command.Result{command.ResultApproved, command.ResultApproved, command.ResultBlocked}
	for i, r := range results {
		require.NoError(t, l.Record(ctx, decisionEvent(fmt.Sprintf("e%d", i), fmt.Sprintf("c%d", i), at, r)))
	}
	require.NoError(t, l.Record(ctx, gateway.Event{ID: "x", Type: gateway.EventExpired, At: at}))

	counts, err := l.CountByResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"approved": 2, "blocked": 1}, counts)
}

func TestDuplicateEventIDFails(t *testing.T) {
	l := newTestLog(t, 0)
	ctx := context.Background()
	e := decisionEvent("dup", "c1", time.Now(), command.ResultApproved)
	require.NoError(t, l.Record(ctx, e))
	assert.Error(t, l.Record(ctx, e))
}

func TestRunDrainsQueueOnShutdown(t *testing.T) {
	l := newTestLog(t, 8)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Handle(decisionEvent(fmt.Sprintf("e%d", i), "c", at.Add(time.Duration(i)*time.Second), command.ResultApproved))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))

	recent, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 5)
}

func TestHandleDropsWhenFull(t *testing.T) {
	l := newTestLog(t, 2)
	at := time.Now()
	for i := 0; i < 5; i++ {
		l.Handle(decisionEvent(fmt.Sprintf("e%d", i), "c", at, command.ResultApproved))
	}
	assert.Equal(t, int64(3), l.Dropped())
}
