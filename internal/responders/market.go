package responders

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
	"github.com/GoPolymarket/trading-gateway/internal/market"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

type MarketConfig struct {
	MaxSpreadBps     float64 `yaml:"max_spread_bps" json:"max_spread_bps"`
	MaxDepthRatio    float64 `yaml:"max_depth_ratio" json:"max_depth_ratio"`
	HaltVolatility   float64 `yaml:"halt_volatility_pct" json:"halt_volatility_pct"`
	DepthLevels      int     `yaml:"depth_levels" json:"depth_levels"`
	DefaultAmount    float64 `yaml:"default_amount" json:"default_amount"`
	MinImbalanceSide float64 `yaml:"min_imbalance_side" json:"min_imbalance_side"`
}

func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		MaxSpreadBps:     300,
		MaxDepthRatio:    0.5,
		HaltVolatility:   15,
		DepthLevels:      market.DefaultDepthLevels,
		DefaultAmount:    25,
		MinImbalanceSide: 0.1,
	}
}

// Market judges whether the book can absorb a proposal.
type Market struct {
	books *market.Books
	cfg   MarketConfig
}

func NewMarket(books *market.Books, cfg MarketConfig) *Market {
	return &Market{books: books, cfg: cfg}
}

func (m *Market) Name() string { return topology.ResponderMarket }

func (m *Market) Respond(_ context.Context, sig topology.Signal) (dispatch.Response, error) {
	asset := str(sig, KeyAssetID)
	switch sig.Kind {
	case topology.KindFlashCrash, topology.KindAnomalyDetected:
		if asset == "" {
			return dispatch.Response{Recommendation: RecHold, Confidence: 0.4, Note: "no asset"}, nil
		}
		conds, err := m.books.Conditions(asset, RecSell, 0)
		if err != nil {
			return dispatch.Response{}, err
		}
		if conds.VolatilityPct >= m.cfg.HaltVolatility {
			return dispatch.Response{
				Recommendation: RecHalt,
				Confidence:     0.9,
				Note:           fmt.Sprintf("volatility %.1f%%", conds.VolatilityPct),
			}, nil
		}
		return dispatch.Response{Recommendation: RecHold, Confidence: 0.6, Note: fmt.Sprintf("spread %.0f bps", conds.SpreadBps)}, nil

	case topology.KindTelemetry:
		mid, err := m.books.Mid(asset)
		if err != nil {
			return dispatch.Response{Recommendation: RecAck, Confidence: 0.3, Note: "no book"}, nil
		}
		return dispatch.Response{Recommendation: RecAck, Confidence: 1, Note: fmt.Sprintf("mid %.4f", mid)}, nil
	}

	if !isOpportunity(sig.Kind) {
		return dispatch.Response{Recommendation: RecAck, Confidence: 0.5}, nil
	}
	if asset == "" {
		return dispatch.Response{Recommendation: RecSkip, Confidence: 0.5, Note: "no asset"}, nil
	}
	dir := side(sig)
	if dir == "" {
		imb := m.books.Imbalance(asset, m.cfg.DepthLevels)
		switch {
		case imb >= m.cfg.MinImbalanceSide:
			dir = RecBuy
		case imb <= -m.cfg.MinImbalanceSide:
			dir = RecSell
		default:
			return dispatch.Response{Recommendation: RecHold, Confidence: 0.5, Note: "balanced book"}, nil
		}
	}
	amount, ok := num(sig, KeyAmount)
	if !ok {
		amount = m.cfg.DefaultAmount
	}
	conds, err := m.books.Conditions(asset, dir, amount)
	if err != nil {
		return dispatch.Response{}, err
	}
	if conds.SpreadBps > m.cfg.MaxSpreadBps {
		return dispatch.Response{Recommendation: RecSkip, Confidence: 0.9, Note: fmt.Sprintf("spread %.0f bps", conds.SpreadBps)}, nil
	}
	if m.cfg.MaxDepthRatio > 0 && conds.DepthRatio > m.cfg.MaxDepthRatio {
		return dispatch.Response{Recommendation: RecSkip, Confidence: 0.9, Note: fmt.Sprintf("order is %.0f%% of depth", conds.DepthRatio*100)}, nil
	}
	confidence := 1.0
	if m.cfg.MaxSpreadBps > 0 {
		confidence = clamp01(1 - conds.SpreadBps/m.cfg.MaxSpreadBps/2)
	}
	return dispatch.Response{
		Recommendation: dir,
		Confidence:     confidence,
		Note:           fmt.Sprintf("spread %.0f bps, slippage %.0f bps", conds.SpreadBps, conds.SlippageBps),
	}, nil
}
