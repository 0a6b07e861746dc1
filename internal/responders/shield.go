package responders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
	"github.com/GoPolymarket/trading-gateway/internal/risk"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// ThreatHaltSeverity is the threat severity at which the shield latches the
// emergency stop instead of only halting the asset.
const ThreatHaltSeverity = 0.9

// Shield is the protective responder. It owns the emergency stop.
type Shield struct {
	risk   *risk.Manager
	logger *slog.Logger
}

func NewShield(m *risk.Manager, logger *slog.Logger) *Shield {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shield{risk: m, logger: logger.With("component", "shield")}
}

func (s *Shield) Name() string { return topology.ResponderShield }

func (s *Shield) Respond(_ context.Context, sig topology.Signal) (dispatch.Response, error) {
	asset := str(sig, KeyAssetID)
	switch sig.Kind {
	case topology.KindEmergencyStop:
		reason := str(sig, KeyReason)
		if reason == "" {
			reason = "emergency stop signal"
		}
		s.latch(reason)
		return s.halt(reason, "", 1), nil

	case topology.KindThreatDetected:
		severity, ok := num(sig, KeySeverity)
		if !ok {
			severity = ThreatHaltSeverity
		}
		reason := fmt.Sprintf("threat detected (severity %.2f)", severity)
		if severity >= ThreatHaltSeverity {
			s.latch(reason)
			return s.halt(reason, "", 1), nil
		}
		return s.halt(reason, asset, clamp01(0.5+severity/2)), nil

	case topology.KindDrawdownBreach:
		realized, _ := num(sig, KeyRealizedPnL)
		unrealized, _ := num(sig, KeyUnrealizedPnL)
		if s.risk.DrawdownBreached(realized, unrealized) {
			reason := fmt.Sprintf("drawdown limit breached (pnl %.2f)", realized+unrealized)
			s.latch(reason)
			return s.halt(reason, "", 1), nil
		}
		return dispatch.Response{
			Recommendation: RecReduce,
			Confidence:     0.7,
			Note:           "drawdown reported below the configured limit",
		}, nil

	case topology.KindStopLossHit:
		pnl, ok := num(sig, KeyPnL)
		confidence := 0.8
		if ok && s.risk.StopLossHit(pnl) {
			confidence = 1
		}
		amount, _ := num(sig, KeyAmount)
		return dispatch.Response{
			Recommendation: RecClose,
			Confidence:     confidence,
			Command:        CloseCommand(s.Name(), asset, str(sig, KeyPositionID), amount),
			Note:           fmt.Sprintf("stop loss on %s", asset),
		}, nil

	case topology.KindFlashCrash:
		return s.halt("flash crash", asset, 0.9), nil

	case topology.KindAnomalyDetected:
		if s.risk.EmergencyStop() {
			return s.halt("anomaly while emergency stop is latched", asset, 0.9), nil
		}
		return dispatch.Response{Recommendation: RecHold, Confidence: 0.6, Note: "anomaly observed"}, nil
	}
	return dispatch.Response{Recommendation: RecHold, Confidence: 0.5}, nil
}

func (s *Shield) latch(reason string) {
	if !s.risk.EmergencyStop() {
		s.logger.Warn("emergency stop latched", "reason", reason)
	}
	s.risk.SetEmergencyStop(true, reason)
}

func (s *Shield) halt(reason, asset string, confidence float64) dispatch.Response {
	return dispatch.Response{
		Recommendation: RecHalt,
		Confidence:     confidence,
		Command:        HaltCommand(s.Name(), reason, asset),
		Note:           reason,
	}
}
