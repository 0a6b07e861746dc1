package rules

import (
	"time"

	"github.com/GoPolymarket/trading-gateway/internal/command"
)

// LargeTradeThreshold is the notional above which a trade is critical.
const LargeTradeThreshold = 10000.0

const tradeVerbs = `(?i)\b(buy|sell|long|short|order|trade|swap|close)\b`

// Defaults returns the built-in rule tables.
func Defaults() Tables {
	return Tables{
		CommandRules: []CommandRule{
			{
				Name:                 "trade_large_notional",
				Category:             command.CategoryTrade,
				Pattern:              tradeVerbs,
				Conditions:           []string{`has(params.amount) && params.amount > 10000.0`},
				Risk:                 command.RiskCritical,
				RequiresConfirmation: true,
				Description:          "trade notional above $10k",
			},
			{
				Name:        "trade_medium_notional",
				Category:    command.CategoryTrade,
				Pattern:     tradeVerbs,
				Conditions:  []string{`has(params.amount) && params.amount > 1000.0`},
				Risk:        command.RiskHigh,
				Description: "trade notional above $1k",
			},
			{
				Name:        "trade_leverage",
				Category:    command.CategoryTrade,
				Conditions:  []string{`has(params.leverage) && params.leverage > 3.0`},
				Risk:        command.RiskHigh,
				Description: "leveraged position above 3x",
			},
			{
				Name:        "trade_market_order",
				Category:    command.CategoryTrade,
				Pattern:     `(?i)market`,
				Risk:        command.RiskMedium,
				Description: "market orders accept any fill price",
			},
			{
				Name:                 "funds_movement",
				Category:             command.CategoryFinancial,
				Pattern:              `(?i)(withdraw|transfer|deposit|bridge)`,
				Risk:                 command.RiskHigh,
				RequiresConfirmation: true,
				Description:          "moves funds between wallets",
			},
			{
				Name:        "data_export",
				Category:    command.CategoryData,
				Pattern:     `(?i)(export|dump|download)`,
				Risk:        command.RiskMedium,
				Description: "bulk data leaves the process",
			},
			{
				Name:        "system_restart",
				Category:    command.CategorySystem,
				Pattern:     `(?i)(restart|shutdown|stop|reload)`,
				Risk:        command.RiskHigh,
				Description: "interrupts running services",
			},
			{
				Name:        "system_destructive",
				Category:    command.CategorySystem,
				Pattern:     `(?i)(delete|drop|purge|wipe|truncate)`,
				Risk:        command.RiskCritical,
				Description: "irreversible system change",
			},
			{
				Name:                 "external_outbound",
				Category:             command.CategoryExternal,
				Pattern:              `(?i)(webhook|post|send|publish)`,
				Risk:                 command.RiskMedium,
				RequiresConfirmation: true,
				Description:          "pushes data to a third party",
			},
			{
				Name:        "config_risk_limits",
				Category:    command.CategoryConfig,
				Pattern:     `(?i)(risk|limit|leverage|stop)`,
				Risk:        command.RiskCritical,
				Description: "changes protective limits",
			},
			{
				Name:        "auth_credentials",
				Category:    command.CategoryAuth,
				Pattern:     `(?i)(key|secret|token|credential|password)`,
				Risk:        command.RiskCritical,
				Description: "touches credentials",
			},
		},
		ConflictRules: []ConflictRule{
			{
				Name:          "concurrent_trades",
				Categories:    []command.Category{command.CategoryTrade},
				Keywords:      []string{"buy", "sell", "order", "trade", "swap"},
				MaxConcurrent: 3,
				Cooldown:      10 * time.Minute,
			},
			{
				Name:          "funds_movement",
				Categories:    []command.Category{command.CategoryFinancial},
				Keywords:      []string{"withdraw", "transfer", "bridge"},
				MaxConcurrent: 1,
				Cooldown:      30 * time.Minute,
			},
			{
				Name:          "system_maintenance",
				Categories:    []command.Category{command.CategorySystem},
				Keywords:      []string{"restart", "shutdown", "deploy", "reload"},
				MaxConcurrent: 1,
				Cooldown:      5 * time.Minute,
			},
			{
				Name:          "config_changes",
				Categories:    []command.Category{command.CategoryConfig, command.CategoryAuth},
				MaxConcurrent: 1,
				Cooldown:      2 * time.Minute,
			},
		},
		MarketRules: []MarketRule{
			{Name: "wide_spread", Issue: IssueSpread, Metric: MetricSpreadBps, Threshold: 200, Severity: 25},
			{Name: "extreme_spread", Issue: IssueSpread, Metric: MetricSpreadBps, Threshold: 800, Severity: 40},
			{Name: "expected_slippage", Issue: IssueSlippage, Metric: MetricSlippageBps, Threshold: 100, Severity: 20},
			{Name: "high_volatility", Issue: IssueVolatility, Metric: MetricVolatilityPct, Threshold: 5, Severity: 30},
			{Name: "extreme_volatility", Issue: IssueVolatility, Metric: MetricVolatilityPct, Threshold: 15, Severity: 40},
			{Name: "thin_liquidity", Issue: IssueLiquidity, Metric: MetricDepthRatio, Threshold: 0.25, Severity: 30},
			{Name: "exhausts_liquidity", Issue: IssueLiquidity, Metric: MetricDepthRatio, Threshold: 1, Severity: 50},
		},
		Blocklist: []string{
			"rm -rf",
			"drop table",
			"drop database",
			"delete from",
			"truncate table",
			"union select",
			"' or '1'='1",
			"<script",
			"javascript:",
			"$(",
			"; shutdown",
			"/etc/passwd",
			"../",
			"mkfs",
			"chmod 777",
			":(){",
		},
		Safelist: []string{
			"price",
			"quote",
			"orderbook",
			"balance",
			"positions",
			"history",
			"status",
			"ping",
			"markets",
		},
	}
}
