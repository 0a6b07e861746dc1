package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tables is the serializable form of a rule set.
type Tables struct {
	CommandRules  []CommandRule  `yaml:"command_rules" json:"command_rules"`
	ConflictRules []ConflictRule `yaml:"conflict_rules" json:"conflict_rules"`
	MarketRules   []MarketRule   `yaml:"market_rules" json:"market_rules"`
	Blocklist     []string       `yaml:"blocklist" json:"blocklist"`
	Safelist      []string       `yaml:"safelist" json:"safelist"`
}

// LoadFile reads rule tables from a YAML file.
func LoadFile(path string) (Tables, error) {
	var t Tables
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse rules file: %w", err)
	}
	return t, nil
}

// Apply merges t into the set. Entries with an existing name replace it;
// new entries are appended. Every entry is validated before anything
// changes.
func (s *Set) Apply(t Tables) error {
	compiled := make([]compiledRule, 0, len(t.CommandRules))
	for _, r := range t.CommandRules {
		cr, err := s.compile(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, cr)
	}
	for _, r := range t.ConflictRules {
		if strings.TrimSpace(r.Name) == "" || r.MaxConcurrent < 1 || r.Cooldown < 0 {
			return fmt.Errorf("conflict rule %q: name, max_concurrent >= 1 and cooldown >= 0 are required", r.Name)
		}
	}
	for _, r := range t.MarketRules {
		switch r.Metric {
		case MetricSpreadBps, MetricSlippageBps, MetricVolatilityPct, MetricDepthRatio:
		default:
			return fmt.Errorf("market rule %s: unknown metric %q", r.Name, r.Metric)
		}
		if strings.TrimSpace(r.Name) == "" || r.Severity < 0 || r.Severity > 100 {
			return fmt.Errorf("market rule %q: name and severity in [0,100] are required", r.Name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cr := range compiled {
		replaced := false
		for i := range s.commands {
			if s.commands[i].rule.Name == cr.rule.Name {
				s.commands[i] = cr
				replaced = true
				break
			}
		}
		if !replaced {
			s.commands = append(s.commands, cr)
		}
	}
	for _, r := range t.ConflictRules {
		replaced := false
		for i := range s.conflicts {
			if s.conflicts[i].Name == r.Name {
				s.conflicts[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			s.conflicts = append(s.conflicts, r)
		}
	}
	for _, r := range t.MarketRules {
		replaced := false
		for i := range s.market {
			if s.market[i].Name == r.Name {
				s.market[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			s.market = append(s.market, r)
		}
	}
	for _, token := range t.Blocklist {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" || containsString(s.blocklist, token) {
			continue
		}
		s.blocklist = append(s.blocklist, token)
	}
	for _, action := range t.Safelist {
		if strings.TrimSpace(action) == "" {
			continue
		}
		s.safelist[action] = struct{}{}
	}

	s.logger.Debug("rule tables applied",
		"command_rules", len(s.commands),
		"conflict_rules", len(s.conflicts),
		"market_rules", len(s.market),
		"blocklist", len(s.blocklist),
		"safelist", len(s.safelist),
	)
	return nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
