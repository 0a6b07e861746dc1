package responders

import (
	"context"

	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
	"github.com/GoPolymarket/trading-gateway/internal/risk"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// Risk checks proposals against account limits.
type Risk struct {
	risk          *risk.Manager
	defaultAmount float64
}

func NewRisk(m *risk.Manager, defaultAmount float64) *Risk {
	return &Risk{risk: m, defaultAmount: defaultAmount}
}

func (r *Risk) Name() string { return topology.ResponderRisk }

func (r *Risk) Respond(_ context.Context, sig topology.Signal) (dispatch.Response, error) {
	asset := str(sig, KeyAssetID)
	switch sig.Kind {
	case topology.KindDrawdownBreach:
		realized, _ := num(sig, KeyRealizedPnL)
		unrealized, _ := num(sig, KeyUnrealizedPnL)
		if r.risk.DrawdownBreached(realized, unrealized) {
			return dispatch.Response{Recommendation: RecHalt, Confidence: 1, Note: "drawdown beyond limit"}, nil
		}
		return dispatch.Response{Recommendation: RecReduce, Confidence: 0.7}, nil
	case topology.KindStopLossHit:
		return dispatch.Response{
			Recommendation: RecClose,
			Confidence:     0.9,
			Note:           "exposure " + formatUSDC(r.risk.Exposure(asset)),
		}, nil
	}

	if isOpportunity(sig.Kind) {
		dir := side(sig)
		if dir == "" {
			return dispatch.Response{Recommendation: RecSkip, Confidence: 0.5, Note: "no side proposed"}, nil
		}
		amount, ok := num(sig, KeyAmount)
		if !ok {
			amount = r.defaultAmount
		}
		if err := r.risk.Allow(asset, amount); err != nil {
			return dispatch.Response{Recommendation: RecSkip, Confidence: 1, Note: err.Error()}, nil
		}
		return dispatch.Response{Recommendation: dir, Confidence: 0.8, Note: "within limits"}, nil
	}

	// Remaining critical kinds: report whether new risk is allowed at all.
	if err := r.risk.Allow(asset, 0); err != nil {
		return dispatch.Response{Recommendation: RecHalt, Confidence: 0.9, Note: err.Error()}, nil
	}
	return dispatch.Response{Recommendation: RecReduce, Confidence: 0.6}, nil
}

func isOpportunity(k topology.Kind) bool {
	switch k {
	case topology.KindOpportunity, topology.KindPriceBreakout, topology.KindSpreadOpportunity,
		topology.KindArbitrageWindow, topology.KindMomentumShift:
		return true
	}
	return false
}
