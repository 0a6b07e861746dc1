// Package responders holds the built-in subsystems that answer dispatched
// signals.
package responders

import (
	"fmt"
	"strings"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// Recommendations shared by the built-in responders. Opportunity answers
// are a side ("buy" or "sell") so consensus compares directions.
const (
	RecHalt   = "halt"
	RecClose  = "close"
	RecReduce = "reduce"
	RecHold   = "hold"
	RecBuy    = "buy"
	RecSell   = "sell"
	RecSkip   = "skip"
	RecAck    = "ack"
)

// Payload keys read from signals.
const (
	KeyAssetID       = "asset_id"
	KeyPositionID    = "position_id"
	KeySide          = "side"
	KeyAmount        = "amount"
	KeyPrice         = "price"
	KeySize          = "size"
	KeyPnL           = "pnl"
	KeyRealizedPnL   = "realized_pnl"
	KeyUnrealizedPnL = "unrealized_pnl"
	KeySeverity      = "severity"
	KeySentiment     = "sentiment"
	KeyReason        = "reason"
)

func num(sig topology.Signal, key string) (float64, bool) {
	v, ok := sig.Payload[key]
	if !ok {
		return 0, false
	}
	return command.ToFloat(v)
}

func str(sig topology.Signal, key string) string {
	s, _ := sig.Payload[key].(string)
	return strings.TrimSpace(s)
}

// side normalizes the payload side; empty when absent or unknown.
func side(sig topology.Signal) string {
	switch strings.ToLower(str(sig, KeySide)) {
	case "buy", "long", "yes":
		return RecBuy
	case "sell", "short", "no":
		return RecSell
	}
	return ""
}

// HaltCommand cancels every working order, optionally on one asset.
func HaltCommand(source, reason, assetID string) *command.Command {
	params := map[string]any{KeyReason: reason}
	if assetID != "" {
		params[KeyAssetID] = assetID
	}
	return &command.Command{
		Category:   command.CategoryTrade,
		Action:     "cancel_all",
		Parameters: params,
		Source:     source,
	}
}

// CloseCommand flattens a position.
func CloseCommand(source, assetID, positionID string, amount float64) *command.Command {
	params := map[string]any{KeySide: RecSell}
	if assetID != "" {
		params[KeyAssetID] = assetID
	}
	if positionID != "" {
		params[KeyPositionID] = positionID
	}
	if amount > 0 {
		params[KeyAmount] = amount
	}
	return &command.Command{
		Category:   command.CategoryTrade,
		Action:     "close",
		Parameters: params,
		Source:     source,
	}
}

// EntryCommand opens a position on side.
func EntryCommand(source, side, assetID string, amount, limitPrice float64) *command.Command {
	params := map[string]any{KeySide: side, KeyAmount: amount}
	if assetID != "" {
		params[KeyAssetID] = assetID
	}
	if limitPrice > 0 {
		params["limit_price"] = limitPrice
	}
	return &command.Command{
		Category:   command.CategoryTrade,
		Action:     side,
		Parameters: params,
		Source:     source,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatUSDC(v float64) string { return fmt.Sprintf("%.2f USDC", v) }
