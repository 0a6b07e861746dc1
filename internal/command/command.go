// Package command defines the proposed actions that flow through the
// validation gateway and the decisions returned for them.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category groups commands by the kind of system they touch.
type Category string

const (
	CategoryData      Category = "data"
	CategoryFinancial Category = "financial"
	CategoryTrade     Category = "trade"
	CategorySystem    Category = "system"
	CategoryExternal  Category = "external"
	CategoryConfig    Category = "config"
	CategoryAuth      Category = "auth"
)

// Categories lists every known category in safe→critical default order.
var Categories = []Category{
	CategoryData,
	CategoryFinancial,
	CategoryTrade,
	CategorySystem,
	CategoryExternal,
	CategoryConfig,
	CategoryAuth,
}

// ParseCategory normalizes s into a known category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command category %q", s)
}

// DefaultRisk is the fallback risk level when no rule matches.
func (c Category) DefaultRisk() RiskLevel {
	switch c {
	case CategoryData, CategoryFinancial:
		return RiskSafe
	case CategoryTrade:
		return RiskLow
	case CategorySystem, CategoryExternal:
		return RiskMedium
	case CategoryConfig:
		return RiskHigh
	case CategoryAuth:
		return RiskCritical
	default:
		// Unknown categories get the highest scrutiny.
		return RiskCritical
	}
}

// RiskLevel is the inherent danger assigned to a command during validation.
type RiskLevel string

const (
	RiskUnset    RiskLevel = ""
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevels lists the assignable levels in ascending order.
var RiskLevels = []RiskLevel{RiskSafe, RiskLow, RiskMedium, RiskHigh, RiskCritical}

// ParseRiskLevel normalizes s into a known risk level.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range RiskLevels {
		if r == known {
			return r, nil
		}
	}
	return RiskUnset, fmt.Errorf("unknown risk level %q", s)
}

// Rank orders levels; unset ranks below safe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskSafe:
		return 1
	case RiskLow:
		return 2
	case RiskMedium:
		return 3
	case RiskHigh:
		return 4
	case RiskCritical:
		return 5
	default:
		return 0
	}
}

// Severity maps the level onto the 0–100 severity scale.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskLow:
		return 25
	case RiskMedium:
		return 50
	case RiskHigh:
		return 75
	case RiskCritical:
		return 100
	default:
		return 0
	}
}

// AtLeast reports whether r is as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool { return r.Rank() >= other.Rank() }

// Command is a proposed action awaiting a verdict.
type Command struct {
	ID          string         `json:"id"`
	Category    Category       `json:"category"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Source      string         `json:"source,omitempty"`
	RiskLevel   RiskLevel      `json:"risk_level,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// EnsureID assigns a fresh id when the command has none.
func (c *Command) EnsureID() {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.New().String()
	}
}

// Float returns a numeric parameter as float64.
func (c Command) Float(key string) (float64, bool) {
	v, ok := c.Parameters[key]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// String returns a string parameter.
func (c Command) String(key string) (string, bool) {
	v, ok := c.Parameters[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a copy with its own parameter map.
func (c Command) Clone() Command {
	out := c
	if c.Parameters != nil {
		out.Parameters = make(map[string]any, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// ToFloat converts the numeric types produced by JSON, YAML and Go callers.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
