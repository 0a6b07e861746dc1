// Package rules holds the editable rule tables consulted by the validation
// gateway: command risk rules, conflict families, market risk rules, and the
// block and safe lists.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/trading-gateway/internal/command"
)

var (
	ErrDuplicate = errors.New("rule already exists")
	ErrNotFound  = errors.New("rule not found")
)

// AnyCategory matches every command category.
const AnyCategory command.Category = "*"

// Predicate is a programmatic condition over the full command.
type Predicate func(command.Command) bool

// CommandRule assigns a risk level to matching commands.
type CommandRule struct {
	Name                 string            `yaml:"name" json:"name"`
	Category             command.Category  `yaml:"category" json:"category"`
	Pattern              string            `yaml:"pattern" json:"pattern"`
	Conditions           []string          `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Predicates           []Predicate       `yaml:"-" json:"-"`
	Risk                 command.RiskLevel `yaml:"risk" json:"risk"`
	RequiresConfirmation bool              `yaml:"requires_confirmation" json:"requires_confirmation"`
	Description          string            `yaml:"description,omitempty" json:"description,omitempty"`
}

// ConflictRule caps how many commands of one family may be active at once.
type ConflictRule struct {
	Name          string             `yaml:"name" json:"name"`
	Categories    []command.Category `yaml:"categories" json:"categories"`
	Keywords      []string           `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	MaxConcurrent int                `yaml:"max_concurrent" json:"max_concurrent"`
	// Cooldown bounds how long an active command counts toward the family.
	// Zero means it counts until completed.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// Matches reports whether cmd belongs to the family.
func (r ConflictRule) Matches(cmd command.Command) bool {
	if len(r.Categories) > 0 {
		found := false
		for _, c := range r.Categories {
			if c == AnyCategory || c == cmd.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.Keywords) == 0 {
		return true
	}
	action := strings.ToLower(cmd.Action)
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(action, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Issue names the class of market problem a MarketRule detects.
type Issue string

const (
	IssueSpread     Issue = "spread"
	IssueSlippage   Issue = "slippage"
	IssueVolatility Issue = "volatility"
	IssueLiquidity  Issue = "liquidity"
)

// Market metrics available to MarketRule.
const (
	MetricSpreadBps     = "spread_bps"
	MetricSlippageBps   = "slippage_bps"
	MetricVolatilityPct = "volatility_pct"
	MetricDepthRatio    = "depth_ratio"
)

// MarketRule contributes Severity when Metric crosses Threshold.
type MarketRule struct {
	Name      string  `yaml:"name" json:"name"`
	Issue     Issue   `yaml:"issue" json:"issue"`
	Metric    string  `yaml:"metric" json:"metric"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// Below flips the comparison so the rule fires under the threshold.
	Below    bool `yaml:"below,omitempty" json:"below,omitempty"`
	Severity int  `yaml:"severity" json:"severity"`
}

// Triggered reports whether value crosses the rule threshold.
func (r MarketRule) Triggered(value float64) bool {
	if r.Below {
		return value < r.Threshold
	}
	return value > r.Threshold
}

// Assessment is the outcome of risk rule matching.
type Assessment struct {
	Risk                 command.RiskLevel
	RequiresConfirmation bool
	Matched              []string
	// Confidence is how certain the classification is, not how dangerous
	// the command is.
	Confidence float64
	Defaulted  bool
}

type compiledRule struct {
	rule CommandRule
	re   *regexp.Regexp
}

// Set is the live rule table. It is safe for concurrent use.
type Set struct {
	logger *slog.Logger
	conds  *conditions

	mu        sync.RWMutex
	commands  []compiledRule
	conflicts []ConflictRule
	market    []MarketRule
	blocklist []string
	safelist  map[string]struct{}
}

// NewSet returns an empty rule set.
func NewSet(logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conds, err := newConditions()
	if err != nil {
		return nil, err
	}
	return &Set{
		logger:   logger.With("component", "rules"),
		conds:    conds,
		safelist: make(map[string]struct{}),
	}, nil
}

// New returns a set loaded with the built-in tables.
func New(logger *slog.Logger) (*Set, error) {
	s, err := NewSet(logger)
	if err != nil {
		return nil, err
	}
	if err := s.Apply(Defaults()); err != nil {
		return nil, fmt.Errorf("load default rules: %w", err)
	}
	return s, nil
}

func (s *Set) compile(r CommandRule) (compiledRule, error) {
	if strings.TrimSpace(r.Name) == "" {
		return compiledRule{}, fmt.Errorf("command rule name is required")
	}
	if r.Risk.Rank() == 0 {
		return compiledRule{}, fmt.Errorf("command rule %s: unknown risk %q", r.Name, r.Risk)
	}
	if r.Category == "" {
		r.Category = AnyCategory
	}
	cr := compiledRule{rule: r}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return compiledRule{}, fmt.Errorf("command rule %s: %w", r.Name, err)
		}
		cr.re = re
	}
	for _, expr := range r.Conditions {
		if _, err := s.conds.compile(expr); err != nil {
			return compiledRule{}, fmt.Errorf("command rule %s: %w", r.Name, err)
		}
	}
	return cr, nil
}

// AddCommandRule appends a risk rule.
func (s *Set) AddCommandRule(r CommandRule) error {
	cr, err := s.compile(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.commands {
		if existing.rule.Name == r.Name {
			return fmt.Errorf("command rule %s: %w", r.Name, ErrDuplicate)
		}
	}
	s.commands = append(s.commands, cr)
	return nil
}

// RemoveCommandRule deletes the named risk rule.
func (s *Set) RemoveCommandRule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.commands {
		if existing.rule.Name == name {
			s.commands = append(s.commands[:i], s.commands[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("command rule %s: %w", name, ErrNotFound)
}

// AddConflictRule appends a conflict family.
func (s *Set) AddConflictRule(r ConflictRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("conflict rule name is required")
	}
	if r.MaxConcurrent < 1 {
		return fmt.Errorf("conflict rule %s: max_concurrent must be >= 1", r.Name)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("conflict rule %s: cooldown must be >= 0", r.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conflicts {
		if existing.Name == r.Name {
			return fmt.Errorf("conflict rule %s: %w", r.Name, ErrDuplicate)
		}
	}
	s.conflicts = append(s.conflicts, r)
	return nil
}

// RemoveConflictRule deletes the named conflict family.
func (s *Set) RemoveConflictRule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.conflicts {
		if existing.Name == name {
			s.conflicts = append(s.conflicts[:i], s.conflicts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("conflict rule %s: %w", name, ErrNotFound)
}

// AddMarketRule appends a market risk rule.
func (s *Set) AddMarketRule(r MarketRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("market rule name is required")
	}
	switch r.Metric {
	case MetricSpreadBps, MetricSlippageBps, MetricVolatilityPct, MetricDepthRatio:
	default:
		return fmt.Errorf("market rule %s: unknown metric %q", r.Name, r.Metric)
	}
	if r.Severity < 0 || r.Severity > 100 {
		return fmt.Errorf("market rule %s: severity must be in [0,100]", r.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.market {
		if existing.Name == r.Name {
			return fmt.Errorf("market rule %s: %w", r.Name, ErrDuplicate)
		}
	}
	s.market = append(s.market, r)
	return nil
}

// RemoveMarketRule deletes the named market rule.
func (s *Set) RemoveMarketRule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.market {
		if existing.Name == name {
			s.market = append(s.market[:i], s.market[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("market rule %s: %w", name, ErrNotFound)
}

// Block adds a dangerous token. Tokens are matched case-insensitively.
func (s *Set) Block(token string) error {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return fmt.Errorf("blocklist token is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.blocklist {
		if existing == token {
			return fmt.Errorf("blocklist token %q: %w", token, ErrDuplicate)
		}
	}
	s.blocklist = append(s.blocklist, token)
	return nil
}

// Unblock removes a dangerous token.
func (s *Set) Unblock(token string) error {
	token = strings.ToLower(strings.TrimSpace(token))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.blocklist {
		if existing == token {
			s.blocklist = append(s.blocklist[:i], s.blocklist[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("blocklist token %q: %w", token, ErrNotFound)
}

// Allow adds an action to the safelist. Actions match exactly.
func (s *Set) Allow(action string) error {
	if strings.TrimSpace(action) == "" {
		return fmt.Errorf("safelist action is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.safelist[action]; ok {
		return fmt.Errorf("safelist action %q: %w", action, ErrDuplicate)
	}
	s.safelist[action] = struct{}{}
	return nil
}

// Disallow removes an action from the safelist.
func (s *Set) Disallow(action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.safelist[action]; !ok {
		return fmt.Errorf("safelist action %q: %w", action, ErrNotFound)
	}
	delete(s.safelist, action)
	return nil
}

// Blocked returns the first blocklisted token found in the action or the
// serialized parameters.
func (s *Set) Blocked(cmd command.Command) (string, bool) {
	haystack := strings.ToLower(cmd.Action)
	if len(cmd.Parameters) > 0 {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(cmd.Parameters); err != nil {
			// Unserializable parameters fall back to their printed form.
			buf.Reset()
			fmt.Fprint(&buf, cmd.Parameters)
		}
		haystack += "\n" + strings.ToLower(buf.String())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, token := range s.blocklist {
		if strings.Contains(haystack, token) {
			return token, true
		}
	}
	return "", false
}

// Safe reports whether action is safelisted.
func (s *Set) Safe(action string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.safelist[action]
	return ok
}

// Assess matches cmd against the risk rules. The most severe match wins;
// ties keep table order. Without a match the category default applies.
func (s *Set) Assess(cmd command.Command) Assessment {
	s.mu.RLock()
	rules := make([]compiledRule, len(s.commands))
	copy(rules, s.commands)
	s.mu.RUnlock()

	var (
		out       Assessment
		bestRank  int
		bestConds bool
	)
	for _, cr := range rules {
		if !s.matches(cr, cmd) {
			continue
		}
		out.Matched = append(out.Matched, cr.rule.Name)
		if cr.rule.RequiresConfirmation {
			out.RequiresConfirmation = true
		}
		if rank := cr.rule.Risk.Rank(); rank > bestRank {
			bestRank = rank
			out.Risk = cr.rule.Risk
			bestConds = len(cr.rule.Conditions) > 0 || len(cr.rule.Predicates) > 0
		}
	}

	switch {
	case out.Risk == command.RiskUnset:
		out.Risk = cmd.Category.DefaultRisk()
		out.Defaulted = true
		out.Confidence = 0.5
	case bestConds:
		out.Confidence = 0.9
	default:
		out.Confidence = 0.75
	}
	return out
}

func (s *Set) matches(cr compiledRule, cmd command.Command) bool {
	if cr.rule.Category != AnyCategory && cr.rule.Category != cmd.Category {
		return false
	}
	if cr.re != nil && !cr.re.MatchString(cmd.Action) {
		return false
	}
	for _, expr := range cr.rule.Conditions {
		ok, err := s.conds.eval(expr, cmd)
		if err != nil {
			s.logger.Debug("condition not satisfied", "rule", cr.rule.Name, "error", err)
			return false
		}
		if !ok {
			return false
		}
	}
	for _, p := range cr.rule.Predicates {
		if p == nil || !p(cmd) {
			return false
		}
	}
	return true
}

// ConflictsFor returns the conflict families cmd belongs to.
func (s *Set) ConflictsFor(cmd command.Command) []ConflictRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ConflictRule
	for _, r := range s.conflicts {
		if r.Matches(cmd) {
			out = append(out, r)
		}
	}
	return out
}

// MarketRules returns a copy of the market risk rules.
func (s *Set) MarketRules() []MarketRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MarketRule(nil), s.market...)
}

// Tables exports the current rule tables.
func (s *Set) Tables() Tables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := Tables{
		ConflictRules: append([]ConflictRule(nil), s.conflicts...),
		MarketRules:   append([]MarketRule(nil), s.market...),
		Blocklist:     append([]string(nil), s.blocklist...),
	}
	for _, cr := range s.commands {
		r := cr.rule
		r.Predicates = nil
		t.CommandRules = append(t.CommandRules, r)
	}
	for a := range s.safelist {
		t.Safelist = append(t.Safelist, a)
	}
	sort.Strings(t.Safelist)
	return t
}
