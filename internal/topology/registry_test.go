package topology

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestResolveEveryKindWithinTierBand(t *testing.T) {
	reg := New(DefaultBudgets(), quietLogger())
	require.NotEmpty(t, reg.Kinds())

	for _, kind := range reg.Kinds() {
		rule := reg.Resolve(kind)
		lo, hi := rule.Tier.Band()
		assert.GreaterOrEqual(t, rule.Timeout, lo, "kind %s", kind)
		assert.LessOrEqual(t, rule.Timeout, hi, "kind %s", kind)

		for _, name := range rule.Required {
			c, ok := reg.CapabilitiesOf(name)
			require.True(t, ok)
			assert.GreaterOrEqual(t, rule.Timeout, c.ResponseBudget, "kind %s responder %s", kind, name)
			assert.True(t, c.Handles(kind), "required %s does not handle %s", name, kind)
		}
	}
}

func TestCriticalTierRequiresShield(t *testing.T) {
	reg := New(DefaultBudgets(), quietLogger())
	for _, kind := range criticalKinds {
		rule := reg.Resolve(kind)
		assert.Equal(t, TierCritical, rule.Tier)
		assert.Contains(t, rule.Required, ResponderShield)
		assert.False(t, rule.RequireConsensus)
	}
}

func TestOpportunityTierNeedsConsensus(t *testing.T) {
	reg := New(DefaultBudgets(), quietLogger())
	for _, kind := range opportunityKinds {
		rule := reg.Resolve(kind)
		assert.Equal(t, TierOpportunity, rule.Tier)
		assert.True(t, rule.RequireConsensus)
		assert.GreaterOrEqual(t, len(rule.Required), 2)
	}
	assert.Equal(t, AgreementUnanimous, reg.Resolve(KindArbitrageWindow).Agreement)
}

func TestLearningTierNeverBlocks(t *testing.T) {
	reg := New(DefaultBudgets(), quietLogger())
	for _, kind := range learningKinds {
		rule := reg.Resolve(kind)
		assert.Equal(t, TierLearning, rule.Tier)
		assert.Empty(t, rule.Required)
		assert.NotEmpty(t, rule.Optional)
		for _, name := range rule.Optional {
			c, _ := reg.CapabilitiesOf(name)
			assert.True(t, c.Handles(kind))
		}
	}
}

func TestUnknownKindDefaults(t *testing.T) {
	reg := New(DefaultBudgets(), quietLogger())
	rule := reg.Resolve("mood_swing")
	assert.Equal(t, TierLearning, rule.Tier)
	assert.Empty(t, rule.Required)
	assert.Empty(t, rule.Optional)
	assert.Equal(t, time.Second, rule.Timeout)
	assert.False(t, reg.Known("mood_swing"))
}

func TestBroadcastAllAddsHandlers(t *testing.T) {
	reg := New(DefaultBudgets(), quietLogger())
	rule := reg.Resolve(KindEmergencyStop)
	assert.True(t, rule.BroadcastAll)
	assert.Contains(t, rule.Optional, ResponderRisk)
	assert.Contains(t, rule.Optional, ResponderJournal)
	assert.NotContains(t, rule.Optional, ResponderShield)
}

func TestBudgetsClampedIntoBand(t *testing.T) {
	reg := New(TierBudgets{
		Critical:    20 * time.Millisecond,
		Opportunity: 5 * time.Second,
		Learning:    0,
	}, quietLogger())

	assert.Equal(t, 100*time.Millisecond, reg.Resolve(KindThreatDetected).Timeout)
	// risk is required here and its budget exceeds the clamped tier budget.
	assert.Equal(t, 150*time.Millisecond, reg.Resolve(KindStopLossHit).Timeout)
	assert.Equal(t, 500*time.Millisecond, reg.Resolve(KindOpportunity).Timeout)
	assert.Equal(t, 550*time.Millisecond, reg.Resolve(KindTelemetry).Timeout)
}

func TestMalformedRulesAreRepaired(t *testing.T) {
	caps := []Capability{
		{Name: "guard", Kinds: []Kind{"breach"}, ResponseBudget: 200 * time.Millisecond, Protective: true},
		{Name: "slow", Kinds: []Kind{"breach", "tick"}, ResponseBudget: 280 * time.Millisecond},
	}
	rules := []RoutingRule{
		{Kind: "breach", Tier: TierCritical, Required: []string{"slow", "ghost"}, Timeout: 120 * time.Millisecond, RequireConsensus: true},
		{Kind: "tick", Tier: TierLearning, Required: []string{"slow"}},
		{Kind: "weird", Tier: Tier(9)},
	}
	reg := NewWithTables(DefaultBudgets(), caps, rules, quietLogger())

	breach := reg.Resolve("breach")
	assert.Equal(t, []string{"guard", "slow"}, breach.Required)
	assert.Equal(t, 280*time.Millisecond, breach.Timeout)
	assert.False(t, breach.RequireConsensus)

	tick := reg.Resolve("tick")
	assert.Empty(t, tick.Required)
	assert.Equal(t, []string{"slow"}, tick.Optional)
	assert.Equal(t, 550*time.Millisecond, tick.Timeout)

	assert.Equal(t, TierLearning, reg.Resolve("weird").Tier)
}

func TestResolveReturnsCopies(t *testing.T) {
	reg := New(DefaultBudgets(), quietLogger())
	rule := reg.Resolve(KindStopLossHit)
	rule.Required[0] = "mutated"
	assert.Equal(t, ResponderShield, reg.Resolve(KindStopLossHit).Required[0])
}
