package config

import (
	"fmt"
	"strings"
	"time"
)

// ApplyProfile applies a named safety preset to the config.
// Supported profiles:
// - permissive: auto-approve safe and low risk, queue the rest
// - strict:     auto-approve safe only, reject anything else not confirmed
// - lockdown:   nothing auto-approves, tight rate caps, early market override
func ApplyProfile(cfg *Config, profile string) error {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return nil
	}

	switch p {
	case "permissive":
		cfg.StrictMode = false
		cfg.AutoApprove = AutoApproveConfig{Enabled: true, LowRiskAllowed: true}
	case "strict":
		cfg.StrictMode = true
		cfg.AutoApprove = AutoApproveConfig{Enabled: true, SafeOnly: true}
	case "lockdown":
		cfg.StrictMode = true
		cfg.AutoApprove = AutoApproveConfig{}

		clampMaxInt(&cfg.RateLimit.MaxPerMinute, 10)
		clampMaxInt(&cfg.RateLimit.MaxPerHour, 100)
		if cfg.RateLimit.Burst > cfg.RateLimit.MaxPerMinute {
			cfg.RateLimit.Burst = cfg.RateLimit.MaxPerMinute
		}
		clampMaxInt(&cfg.Confirmation.MaxPending, 10)
		clampMaxDuration(&cfg.Confirmation.Timeout, 2*time.Minute)
		clampMaxInt(&cfg.Override.ModifyThreshold, 25)
		clampMaxInt(&cfg.Override.CriticalThreshold, 60)
		clampMaxFloat(&cfg.Risk.MaxPositionPerMarket, 100)
	default:
		return fmt.Errorf("unknown profile %q (supported: permissive|strict|lockdown)", profile)
	}
	cfg.Profile = p
	return nil
}

func clampMaxFloat(v *float64, max float64) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}

func clampMaxInt(v *int, max int) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}

func clampMaxDuration(v *time.Duration, max time.Duration) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}
