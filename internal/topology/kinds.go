// Package topology holds the static signal routing tables: which tier a
// signal kind belongs to, which responders must and may answer it, and how
// long a dispatch cycle may take.
package topology

import (
	"fmt"
	"time"
)

// Tier is one of three fixed priority classes.
type Tier int

const (
	TierCritical    Tier = 1
	TierOpportunity Tier = 2
	TierLearning    Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierOpportunity:
		return "opportunity"
	case TierLearning:
		return "learning"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Band is the permitted timeout range for a tier.
func (t Tier) Band() (min, max time.Duration) {
	switch t {
	case TierCritical:
		return 100 * time.Millisecond, 300 * time.Millisecond
	case TierOpportunity:
		return 300 * time.Millisecond, 500 * time.Millisecond
	default:
		return 400 * time.Millisecond, 600 * time.Millisecond
	}
}

// Kind enumerates signal kinds.
type Kind string

const (
	KindThreatDetected  Kind = "threat_detected"
	KindDrawdownBreach  Kind = "drawdown_breach"
	KindStopLossHit     Kind = "stop_loss_hit"
	KindFlashCrash      Kind = "flash_crash"
	KindEmergencyStop   Kind = "emergency_stop"
	KindAnomalyDetected Kind = "anomaly_detected"

	KindOpportunity       Kind = "opportunity_detected"
	KindPriceBreakout     Kind = "price_breakout"
	KindSpreadOpportunity Kind = "spread_opportunity"
	KindArbitrageWindow   Kind = "arbitrage_window"
	KindMomentumShift     Kind = "momentum_shift"

	KindTradeOutcome     Kind = "trade_outcome"
	KindSessionSummary   Kind = "session_summary"
	KindFeedbackReceived Kind = "feedback_received"
	KindPatternLearned   Kind = "pattern_learned"
	KindTelemetry        Kind = "telemetry"
)

// Signal is an immutable event routed to responders.
type Signal struct {
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Origin    string         `json:"origin,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Agreement selects how consensus is counted.
type Agreement string

const (
	AgreementMajority  Agreement = "majority"
	AgreementUnanimous Agreement = "unanimous"
)

// RoutingRule describes how one signal kind is dispatched.
type RoutingRule struct {
	Kind             Kind          `json:"kind"`
	Tier             Tier          `json:"tier"`
	Required         []string      `json:"required"`
	Optional         []string      `json:"optional"`
	BroadcastAll     bool          `json:"broadcast_all"`
	RequireConsensus bool          `json:"require_consensus"`
	Agreement        Agreement     `json:"agreement,omitempty"`
	Timeout          time.Duration `json:"timeout"`
}

// Capability describes a responder.
type Capability struct {
	Name           string        `json:"name"`
	Kinds          []Kind        `json:"kinds"`
	ResponseBudget time.Duration `json:"response_budget"`
	Expertise      []string      `json:"expertise,omitempty"`
	Protective     bool          `json:"protective"`
}

// Handles reports whether the responder declares the kind.
func (c Capability) Handles(kind Kind) bool {
	for _, k := range c.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Responder names used by the built-in tables.
const (
	ResponderShield    = "shield"
	ResponderRisk      = "risk"
	ResponderMarket    = "market"
	ResponderStrategy  = "strategy"
	ResponderSentiment = "sentiment"
	ResponderJournal   = "journal"
)

// DefaultUnknownTimeout applies to kinds missing from the tables.
const DefaultUnknownTimeout = time.Second

var criticalKinds = []Kind{
	KindThreatDetected, KindDrawdownBreach, KindStopLossHit,
	KindFlashCrash, KindEmergencyStop, KindAnomalyDetected,
}

var opportunityKinds = []Kind{
	KindOpportunity, KindPriceBreakout, KindSpreadOpportunity,
	KindArbitrageWindow, KindMomentumShift,
}

var learningKinds = []Kind{
	KindTradeOutcome, KindSessionSummary, KindFeedbackReceived,
	KindPatternLearned, KindTelemetry,
}

func defaultCapabilities() []Capability {
	all := append(append(append([]Kind{}, criticalKinds...), opportunityKinds...), learningKinds...)
	return []Capability{
		{
			Name:           ResponderShield,
			Kinds:          criticalKinds,
			ResponseBudget: 80 * time.Millisecond,
			Expertise:      []string{"threat containment", "emergency halt", "drawdown protection"},
			Protective:     true,
		},
		{
			Name:           ResponderRisk,
			Kinds:          append(append([]Kind{}, criticalKinds...), opportunityKinds...),
			ResponseBudget: 150 * time.Millisecond,
			Expertise:      []string{"exposure", "position limits", "loss streaks"},
		},
		{
			Name:           ResponderMarket,
			Kinds:          append(append([]Kind{KindFlashCrash, KindAnomalyDetected}, opportunityKinds...), KindTelemetry),
			ResponseBudget: 250 * time.Millisecond,
			Expertise:      []string{"order book", "spread", "liquidity"},
		},
		{
			Name:           ResponderStrategy,
			Kinds:          append(append([]Kind{}, opportunityKinds...), KindTradeOutcome, KindPatternLearned),
			ResponseBudget: 300 * time.Millisecond,
			Expertise:      []string{"entry timing", "imbalance", "momentum"},
		},
		{
			Name:           ResponderSentiment,
			Kinds:          append(append([]Kind{}, opportunityKinds...), KindFeedbackReceived, KindSessionSummary),
			ResponseBudget: 400 * time.Millisecond,
			Expertise:      []string{"crowd mood", "news flow"},
		},
		{
			Name:           ResponderJournal,
			Kinds:          all,
			ResponseBudget: 500 * time.Millisecond,
			Expertise:      []string{"outcome statistics", "session review"},
		},
	}
}

func defaultRules(b TierBudgets, caps []Capability) []RoutingRule {
	var out []RoutingRule
	for _, k := range criticalKinds {
		r := RoutingRule{
			Kind:     k,
			Tier:     TierCritical,
			Required: []string{ResponderShield},
			Optional: []string{ResponderRisk, ResponderJournal},
			Timeout:  b.Critical,
		}
		switch k {
		case KindDrawdownBreach, KindStopLossHit:
			r.Required = []string{ResponderShield, ResponderRisk}
			r.Optional = []string{ResponderJournal}
		case KindFlashCrash, KindAnomalyDetected:
			r.Optional = []string{ResponderRisk, ResponderMarket, ResponderJournal}
		case KindEmergencyStop:
			r.BroadcastAll = true
		}
		out = append(out, r)
	}
	for _, k := range opportunityKinds {
		r := RoutingRule{
			Kind:             k,
			Tier:             TierOpportunity,
			Required:         []string{ResponderMarket, ResponderStrategy, ResponderRisk},
			Optional:         []string{ResponderSentiment, ResponderJournal},
			RequireConsensus: true,
			Agreement:        AgreementMajority,
			Timeout:          b.Opportunity,
		}
		if k == KindArbitrageWindow {
			r.Required = []string{ResponderMarket, ResponderRisk}
			r.Agreement = AgreementUnanimous
		}
		out = append(out, r)
	}
	for _, k := range learningKinds {
		var optional []string
		for _, c := range caps {
			if c.Handles(k) && !c.Protective {
				optional = append(optional, c.Name)
			}
		}
		out = append(out, RoutingRule{
			Kind:     k,
			Tier:     TierLearning,
			Optional: optional,
			Timeout:  b.Learning,
		})
	}
	return out
}
