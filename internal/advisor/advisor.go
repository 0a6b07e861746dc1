// Package advisor scores market conditions for a trade and, in the band
// between the modify and critical thresholds, proposes bounded adjustments
// instead of a block.
package advisor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/rules"
)

// Modification bounds.
const (
	MinSizeMultiplier = 0.25
	MaxSplits         = 5
	MaxDelay          = 30 * time.Second

	// DefaultStopLossPct is assumed when the subject carries no stop.
	DefaultStopLossPct = 0.10
)

// Thresholds split the severity scale into allow, modify and block bands.
type Thresholds struct {
	Modify   int `yaml:"modify_threshold" json:"modify_threshold"`
	Critical int `yaml:"critical_threshold" json:"critical_threshold"`
}

// DefaultThresholds returns modify at 40 and block at 80.
func DefaultThresholds() Thresholds {
	return Thresholds{Modify: 40, Critical: 80}
}

// Validate checks 0 < modify < critical <= 100.
func (t Thresholds) Validate() error {
	if t.Modify <= 0 || t.Critical > 100 || t.Modify >= t.Critical {
		return fmt.Errorf("override thresholds must satisfy 0 < modify (%d) < critical (%d) <= 100", t.Modify, t.Critical)
	}
	return nil
}

// Trigger is one market rule that fired.
type Trigger struct {
	Rule     string      `json:"rule"`
	Issue    rules.Issue `json:"issue"`
	Metric   string      `json:"metric"`
	Value    float64     `json:"value"`
	Severity int         `json:"severity"`
}

// Subject is the trade being adjusted.
type Subject struct {
	Amount      float64
	StopLossPct float64
	PositionID  string
}

// Metrics resolves a market metric by name.
type Metrics interface {
	Metric(name string) (float64, bool)
}

// Evaluate returns the rules that fire on m and their summed severity,
// capped at 100.
func Evaluate(rs []rules.MarketRule, m Metrics) ([]Trigger, int) {
	var (
		out   []Trigger
		total int
	)
	for _, r := range rs {
		v, ok := m.Metric(r.Metric)
		if !ok || !r.Triggered(v) {
			continue
		}
		out = append(out, Trigger{Rule: r.Name, Issue: r.Issue, Metric: r.Metric, Value: v, Severity: r.Severity})
		total += r.Severity
	}
	if total > 100 {
		total = 100
	}
	return out, total
}

// Classify maps severity onto an action.
func Classify(severity int, t Thresholds) command.Action {
	switch {
	case severity >= t.Critical:
		return command.ActionBlock
	case severity >= t.Modify:
		return command.ActionModify
	default:
		return command.ActionAllow
	}
}

// Advise builds the adjustments for the triggered issues. Each issue class
// applies once regardless of how many of its rules fired.
func Advise(triggered []Trigger, subject Subject) command.Modifications {
	mods := command.Modifications{SizeMultiplier: 1, Splits: 1}

	issues := make(map[rules.Issue]bool, len(triggered))
	for _, tr := range triggered {
		issues[tr.Issue] = true
	}

	if issues[rules.IssueSpread] || issues[rules.IssueSlippage] {
		mods.SizeMultiplier *= 0.75
		mods.Splits = maxInt(mods.Splits, 2)
		mods.Notes = append(mods.Notes, "wide spread or slippage: reduce size and split the order")
	}
	if issues[rules.IssueVolatility] {
		mods.SizeMultiplier *= 0.7
		stop := subject.StopLossPct
		if stop <= 0 {
			stop = DefaultStopLossPct
		}
		mods.StopLossPct = stop * 0.5
		mods.Notes = append(mods.Notes, "elevated volatility: reduce size and tighten the stop")
	}
	if issues[rules.IssueLiquidity] {
		mods.SizeMultiplier *= 0.5
		mods.Splits = maxInt(mods.Splits+1, 3)
		mods.Delay += 5 * time.Second
		mods.Notes = append(mods.Notes, "thin liquidity: reduce size, split further and delay execution")
	}

	if mods.SizeMultiplier < MinSizeMultiplier {
		mods.SizeMultiplier = MinSizeMultiplier
	}
	if mods.Splits > MaxSplits {
		mods.Splits = MaxSplits
	}
	if mods.Delay > MaxDelay {
		mods.Delay = MaxDelay
	}
	if subject.Amount > 0 {
		mods.AdjustedAmount = subject.Amount * mods.SizeMultiplier
	}
	return mods
}

// Result is the advisor verdict for one trade.
type Result struct {
	Action        command.Action
	Severity      int
	Triggers      []Trigger
	Modifications *command.Modifications
	Reason        string
}

// Review evaluates rs against m and decides between allow, modify and block.
// At or above the critical threshold an open position is closed outright.
func Review(rs []rules.MarketRule, m Metrics, subject Subject, t Thresholds) Result {
	triggers, severity := Evaluate(rs, m)
	res := Result{
		Action:   Classify(severity, t),
		Severity: severity,
		Triggers: triggers,
	}
	switch res.Action {
	case command.ActionBlock:
		res.Reason = fmt.Sprintf("market risk %d at or above critical threshold %d (%s)", severity, t.Critical, ruleNames(triggers))
		if subject.PositionID != "" {
			res.Modifications = &command.Modifications{
				SizeMultiplier: 0,
				ClosePosition:  true,
				Notes:          []string{"close position " + subject.PositionID},
			}
		}
	case command.ActionModify:
		mods := Advise(triggers, subject)
		res.Modifications = &mods
		res.Reason = fmt.Sprintf("market risk %d in modification band (%s)", severity, ruleNames(triggers))
	}
	return res
}

func ruleNames(triggers []Trigger) string {
	names := make([]string, 0, len(triggers))
	for _, tr := range triggers {
		names = append(names, tr.Rule)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
