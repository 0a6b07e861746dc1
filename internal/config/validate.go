package config

import (
	"fmt"
	"strings"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be 'text' or 'json', got %q", c.LogFormat)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be > 0, got %d", c.HistorySize)
	}

	if c.Tiers.CriticalTimeout < 0 || c.Tiers.OpportunityTimeout < 0 || c.Tiers.LearningTimeout < 0 {
		return fmt.Errorf("tiers timeouts must be >= 0")
	}

	if c.RateLimit.MaxPerMinute < 0 || c.RateLimit.MaxPerHour < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must be >= 0")
	}
	if c.RateLimit.MaxPerMinute > 0 && c.RateLimit.MaxPerHour > 0 && c.RateLimit.MaxPerHour < c.RateLimit.MaxPerMinute {
		return fmt.Errorf("rate_limit.max_per_hour (%d) must be >= max_per_minute (%d)", c.RateLimit.MaxPerHour, c.RateLimit.MaxPerMinute)
	}
	// A smaller bucket would refuse commands the minute window still admits.
	if c.RateLimit.Burst > 0 && c.RateLimit.Burst < c.RateLimit.MaxPerMinute {
		return fmt.Errorf("rate_limit.burst (%d) must be 0 or >= max_per_minute (%d)", c.RateLimit.Burst, c.RateLimit.MaxPerMinute)
	}

	if c.Confirmation.Timeout <= 0 {
		return fmt.Errorf("confirmation.timeout must be > 0, got %v", c.Confirmation.Timeout)
	}
	if c.Confirmation.MaxPending <= 0 {
		return fmt.Errorf("confirmation.max_pending must be > 0, got %d", c.Confirmation.MaxPending)
	}
	if c.Confirmation.SweepInterval <= 0 {
		return fmt.Errorf("confirmation.sweep_interval must be > 0, got %v", c.Confirmation.SweepInterval)
	}

	o := c.Override
	if o.ModifyThreshold < 0 || o.CriticalThreshold > 100 || o.ModifyThreshold >= o.CriticalThreshold {
		return fmt.Errorf("override thresholds must satisfy 0 <= modify < critical <= 100, got %d/%d", o.ModifyThreshold, o.CriticalThreshold)
	}

	if c.Risk.MaxDailyLossPct < 0 || c.Risk.MaxDailyLossPct > 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be within [0,1], got %f", c.Risk.MaxDailyLossPct)
	}
	if c.Risk.MaxDrawdownPct < 0 || c.Risk.MaxDrawdownPct > 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be within [0,1], got %f", c.Risk.MaxDrawdownPct)
	}

	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		return fmt.Errorf("audit.path is required when audit is enabled")
	}
	if c.Telegram.SendTimeout < 0 {
		return fmt.Errorf("telegram.send_timeout must be >= 0, got %v", c.Telegram.SendTimeout)
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}
	if c.API.Enabled && strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api.addr is required when the api is enabled")
	}
	return nil
}
