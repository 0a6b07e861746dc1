package market

import "github.com/GoPolymarket/trading-gateway/internal/rules"

// Conditions is the market state a trade command is judged against.
type Conditions struct {
	AssetID       string  `json:"asset_id"`
	Mid           float64 `json:"mid"`
	SpreadBps     float64 `json:"spread_bps"`
	SlippageBps   float64 `json:"slippage_bps"`
	VolatilityPct float64 `json:"volatility_pct"`
	DepthRatio    float64 `json:"depth_ratio"`
}

// Metric looks up a value by its market rule metric name.
func (c Conditions) Metric(name string) (float64, bool) {
	switch name {
	case rules.MetricSpreadBps:
		return c.SpreadBps, true
	case rules.MetricSlippageBps:
		return c.SlippageBps, true
	case rules.MetricVolatilityPct:
		return c.VolatilityPct, true
	case rules.MetricDepthRatio:
		return c.DepthRatio, true
	}
	return 0, false
}
