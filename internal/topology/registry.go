package topology

import (
	"log/slog"
	"sort"
	"time"
)

// TierBudgets are the configured per-tier dispatch timeouts.
type TierBudgets struct {
	Critical    time.Duration
	Opportunity time.Duration
	Learning    time.Duration
}

// DefaultBudgets sit inside every tier band.
func DefaultBudgets() TierBudgets {
	return TierBudgets{
		Critical:    250 * time.Millisecond,
		Opportunity: 450 * time.Millisecond,
		Learning:    550 * time.Millisecond,
	}
}

// Registry resolves signal kinds to routing rules. It is immutable after New.
type Registry struct {
	rules map[Kind]RoutingRule
	caps  map[string]Capability
	kinds []Kind
}

// New builds the registry from the built-in tables. Malformed entries are
// logged and repaired to the most conservative setting.
func New(budgets TierBudgets, logger *slog.Logger) *Registry {
	return build(budgets, defaultCapabilities(), nil, logger)
}

// NewWithTables builds a registry from caller-supplied tables, applying the
// same validation as New. Rules with a zero Timeout take the tier budget.
func NewWithTables(budgets TierBudgets, caps []Capability, rules []RoutingRule, logger *slog.Logger) *Registry {
	return build(budgets, caps, rules, logger)
}

func build(budgets TierBudgets, caps []Capability, rules []RoutingRule, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "topology")
	budgets = clampBudgets(budgets, logger)

	r := &Registry{
		rules: make(map[Kind]RoutingRule),
		caps:  make(map[string]Capability, len(caps)),
	}
	for _, c := range caps {
		r.caps[c.Name] = c
	}
	if rules == nil {
		rules = defaultRules(budgets, caps)
	}
	for _, rule := range rules {
		if rule.Timeout <= 0 {
			rule.Timeout = budgets.forTier(rule.Tier)
		}
		r.rules[rule.Kind] = r.normalize(rule, logger)
		r.kinds = append(r.kinds, rule.Kind)
	}
	sort.Slice(r.kinds, func(i, j int) bool { return r.kinds[i] < r.kinds[j] })
	return r
}

func (b TierBudgets) forTier(t Tier) time.Duration {
	switch t {
	case TierCritical:
		return b.Critical
	case TierOpportunity:
		return b.Opportunity
	default:
		return b.Learning
	}
}

func clampBudgets(b TierBudgets, logger *slog.Logger) TierBudgets {
	clamp := func(t Tier, v time.Duration) time.Duration {
		lo, hi := t.Band()
		switch {
		case v <= 0:
			return DefaultBudgets().forTier(t)
		case v < lo:
			logger.Warn("tier timeout below band, clamping", "tier", t.String(), "timeout", v, "min", lo)
			return lo
		case v > hi:
			logger.Warn("tier timeout above band, clamping", "tier", t.String(), "timeout", v, "max", hi)
			return hi
		}
		return v
	}
	return TierBudgets{
		Critical:    clamp(TierCritical, b.Critical),
		Opportunity: clamp(TierOpportunity, b.Opportunity),
		Learning:    clamp(TierLearning, b.Learning),
	}
}

// normalize repairs one rule so it satisfies the tier constraints.
func (r *Registry) normalize(rule RoutingRule, logger *slog.Logger) RoutingRule {
	log := logger.With("kind", string(rule.Kind))

	if rule.Tier < TierCritical || rule.Tier > TierLearning {
		log.Warn("rule has invalid tier, defaulting to learning", "tier", int(rule.Tier))
		rule.Tier = TierLearning
	}

	rule.Required = r.knownOnly(rule.Required, log, "required")
	rule.Optional = r.knownOnly(rule.Optional, log, "optional")
	for _, n := range rule.Required {
		rule.Optional = remove(rule.Optional, n)
	}

	switch rule.Tier {
	case TierCritical:
		if shield := r.protective(); shield != "" && !contains(rule.Required, shield) {
			log.Warn("critical rule missing protective responder, adding it", "responder", shield)
			rule.Required = append([]string{shield}, rule.Required...)
			rule.Optional = remove(rule.Optional, shield)
		}
		rule.RequireConsensus = false
	case TierLearning:
		if len(rule.Required) > 0 {
			log.Warn("learning rule must not block, demoting required responders", "responders", rule.Required)
			rule.Optional = append(rule.Optional, rule.Required...)
			rule.Required = nil
		}
		rule.RequireConsensus = false
	}
	if rule.RequireConsensus && rule.Agreement == "" {
		rule.Agreement = AgreementMajority
	}

	if rule.BroadcastAll {
		for _, name := range r.capabilityNames() {
			c := r.caps[name]
			if c.Handles(rule.Kind) && !contains(rule.Required, name) && !contains(rule.Optional, name) {
				rule.Optional = append(rule.Optional, name)
			}
		}
	}

	for _, name := range rule.Required {
		if budget := r.caps[name].ResponseBudget; budget > rule.Timeout {
			log.Warn("timeout below required responder budget, raising it", "responder", name, "timeout", rule.Timeout, "budget", budget)
			rule.Timeout = budget
		}
	}
	return rule
}

func (r *Registry) knownOnly(names []string, log *slog.Logger, role string) []string {
	var out []string
	for _, n := range names {
		if _, ok := r.caps[n]; !ok {
			log.Warn("rule references unknown responder, dropping it", "responder", n, "role", role)
			continue
		}
		if !contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func (r *Registry) protective() string {
	for _, name := range r.capabilityNames() {
		if r.caps[name].Protective {
			return name
		}
	}
	return ""
}

func (r *Registry) capabilityNames() []string {
	names := make([]string, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the routing rule for kind. Unknown kinds get the lowest
// tier, no responders and a one second timeout.
func (r *Registry) Resolve(kind Kind) RoutingRule {
	rule, ok := r.rules[kind]
	if !ok {
		return RoutingRule{Kind: kind, Tier: TierLearning, Timeout: DefaultUnknownTimeout}
	}
	rule.Required = append([]string(nil), rule.Required...)
	rule.Optional = append([]string(nil), rule.Optional...)
	return rule
}

// Known reports whether kind has an explicit routing rule.
func (r *Registry) Known(kind Kind) bool {
	_, ok := r.rules[kind]
	return ok
}

// Tier returns the tier for kind.
func (r *Registry) Tier(kind Kind) Tier { return r.Resolve(kind).Tier }

// RequiredResponders returns the ordered required responders for kind.
func (r *Registry) RequiredResponders(kind Kind) []string { return r.Resolve(kind).Required }

// OptionalResponders returns the ordered optional responders for kind.
func (r *Registry) OptionalResponders(kind Kind) []string { return r.Resolve(kind).Optional }

// CapabilitiesOf returns the declared capability of a responder.
func (r *Registry) CapabilitiesOf(responder string) (Capability, bool) {
	c, ok := r.caps[responder]
	return c, ok
}

// Capabilities returns all capabilities sorted by name.
func (r *Registry) Capabilities() []Capability {
	out := make([]Capability, 0, len(r.caps))
	for _, n := range r.capabilityNames() {
		out = append(out, r.caps[n])
	}
	return out
}

// Kinds returns every kind with an explicit rule, sorted.
func (r *Registry) Kinds() []Kind { return append([]Kind(nil), r.kinds...) }

// Rules returns all routing rules sorted by tier then kind.
func (r *Registry) Rules() []RoutingRule {
	out := make([]RoutingRule, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, r.Resolve(k))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
