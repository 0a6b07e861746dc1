package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoPolymarket/trading-gateway/internal/advisor"
	"github.com/GoPolymarket/trading-gateway/internal/gateway"
	"github.com/GoPolymarket/trading-gateway/internal/ledger"
	"github.com/GoPolymarket/trading-gateway/internal/ratelimit"
	"github.com/GoPolymarket/trading-gateway/internal/responders"
	"github.com/GoPolymarket/trading-gateway/internal/risk"
	"github.com/GoPolymarket/trading-gateway/internal/strategy"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

type Config struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	Profile     string `yaml:"profile"`
	StrictMode  bool   `yaml:"strict_mode"`
	HistorySize int    `yaml:"history_size"`
	RulesFile   string `yaml:"rules_file"`

	Tiers        TiersConfig        `yaml:"tiers"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	AutoApprove  AutoApproveConfig  `yaml:"auto_approve"`
	Override     OverrideConfig     `yaml:"override"`

	Risk     risk.Config              `yaml:"risk"`
	Market   responders.MarketConfig  `yaml:"market"`
	Strategy strategy.ImbalanceConfig `yaml:"strategy"`
	Windows  WindowsConfig            `yaml:"windows"`

	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type TiersConfig struct {
	CriticalTimeout    time.Duration `yaml:"critical_timeout"`
	OpportunityTimeout time.Duration `yaml:"opportunity_timeout"`
	LearningTimeout    time.Duration `yaml:"learning_timeout"`
}

type RateLimitConfig struct {
	MaxPerMinute int `yaml:"max_per_minute"`
	MaxPerHour   int `yaml:"max_per_hour"`
	Burst        int `yaml:"burst"`
}

type ConfirmationConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxPending    int           `yaml:"max_pending"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type AutoApproveConfig struct {
	Enabled        bool `yaml:"enabled"`
	SafeOnly       bool `yaml:"safe_only"`
	LowRiskAllowed bool `yaml:"low_risk_allowed"`
}

type OverrideConfig struct {
	ModifyThreshold   int `yaml:"modify_threshold"`
	CriticalThreshold int `yaml:"critical_threshold"`
}

// WindowsConfig sizes the rolling windows the responders read.
type WindowsConfig struct {
	Volatility time.Duration `yaml:"volatility"`
	Flow       time.Duration `yaml:"flow"`
	Journal    int           `yaml:"journal"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Queue   int    `yaml:"queue"`
}

type TelegramConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BotToken       string        `yaml:"bot_token"`
	ChatID         string        `yaml:"chat_id"`
	DigestInterval time.Duration `yaml:"digest_interval"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
}

func Default() Config {
	budgets := topology.DefaultBudgets()
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		HistorySize: 200,
		Tiers: TiersConfig{
			CriticalTimeout:    budgets.Critical,
			OpportunityTimeout: budgets.Opportunity,
			LearningTimeout:    budgets.Learning,
		},
		RateLimit: RateLimitConfig{
			MaxPerMinute: 60,
			MaxPerHour:   1000,
		},
		Confirmation: ConfirmationConfig{
			Timeout:       5 * time.Minute,
			MaxPending:    50,
			SweepInterval: 10 * time.Second,
		},
		AutoApprove: AutoApproveConfig{
			Enabled:        true,
			LowRiskAllowed: true,
		},
		Override: OverrideConfig{
			ModifyThreshold:   40,
			CriticalThreshold: 80,
		},
		Risk:     risk.DefaultConfig(),
		Market:   responders.DefaultMarketConfig(),
		Strategy: strategy.DefaultImbalanceConfig(),
		Windows: WindowsConfig{
			Volatility: 10 * time.Minute,
			Flow:       2 * time.Minute,
			Journal:    responders.DefaultJournalWindow,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Metrics: MetricsConfig{Enabled: true},
		Audit: AuditConfig{
			Path:  "gateway-audit.db",
			Queue: 256,
		},
		Telegram: TelegramConfig{
			DigestInterval: 24 * time.Hour,
			SendTimeout:    10 * time.Second,
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("GATEWAY_LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("GATEWAY_LOG_FORMAT")); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("GATEWAY_PROFILE")); v != "" {
		c.Profile = strings.ToLower(v)
	}
	if v := os.Getenv("GATEWAY_STRICT_MODE"); v != "" {
		c.StrictMode = envBool(v)
	}
	if v := os.Getenv("GATEWAY_RULES_FILE"); v != "" {
		c.RulesFile = v
	}
	if v := os.Getenv("GATEWAY_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("GATEWAY_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.MaxPerMinute = n
		}
	}
	if v := os.Getenv("GATEWAY_AUDIT_PATH"); v != "" {
		c.Audit.Enabled = true
		c.Audit.Path = v
	}
	if v := os.Getenv("GATEWAY_TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("GATEWAY_TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
}

func envBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

// Budgets returns the dispatch timeouts per tier.
func (c Config) Budgets() topology.TierBudgets {
	return topology.TierBudgets{
		Critical:    c.Tiers.CriticalTimeout,
		Opportunity: c.Tiers.OpportunityTimeout,
		Learning:    c.Tiers.LearningTimeout,
	}
}

// Gateway returns the validation pipeline settings.
func (c Config) Gateway() gateway.Config {
	return gateway.Config{
		StrictMode: c.StrictMode,
		AutoApprove: gateway.AutoApprove{
			Enabled:        c.AutoApprove.Enabled,
			SafeOnly:       c.AutoApprove.SafeOnly,
			LowRiskAllowed: c.AutoApprove.LowRiskAllowed,
		},
		RateLimit: ratelimit.Config{
			MaxPerMinute: c.RateLimit.MaxPerMinute,
			MaxPerHour:   c.RateLimit.MaxPerHour,
			Burst:        c.RateLimit.Burst,
		},
		Confirmation: ledger.Config{
			Timeout:    c.Confirmation.Timeout,
			MaxPending: c.Confirmation.MaxPending,
		},
		SweepInterval: c.Confirmation.SweepInterval,
		Override: advisor.Thresholds{
			Modify:   c.Override.ModifyThreshold,
			Critical: c.Override.CriticalThreshold,
		},
		HistorySize: c.HistorySize,
	}
}
