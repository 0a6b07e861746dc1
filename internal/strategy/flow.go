package strategy

import (
	"strings"
	"sync"
	"time"
)

type fill struct {
	buy   bool
	size  float64
	price float64
	at    time.Time
}

// Flow summarises reported trades for one asset inside the window.
type Flow struct {
	BuySize  float64 `json:"buy_size"`
	SellSize float64 `json:"sell_size"`
	Notional float64 `json:"notional"`
	Trades   int     `json:"trades"`
}

// Net is buy minus sell size over total size, in [-1, 1].
func (f Flow) Net() float64 {
	total := f.BuySize + f.SellSize
	if total == 0 {
		return 0
	}
	return (f.BuySize - f.SellSize) / total
}

// VWAP is the size weighted price, zero without trades.
func (f Flow) VWAP() float64 {
	total := f.BuySize + f.SellSize
	if total == 0 {
		return 0
	}
	return f.Notional / total
}

// FlowTracker keeps a rolling window of reported trades per asset. The
// sentiment responder reads it as a crowd signal and the strategy
// responder feeds it from trade signals.
type FlowTracker struct {
	mu     sync.Mutex
	window time.Duration
	clock  func() time.Time
	fills  map[string][]fill
}

func NewFlowTracker(window time.Duration, clock func() time.Time) *FlowTracker {
	if clock == nil {
		clock = time.Now
	}
	return &FlowTracker{window: window, clock: clock, fills: make(map[string][]fill)}
}

// Record adds one trade. Sides other than buy count as sells.
func (ft *FlowTracker) Record(assetID, side string, size, price float64) {
	if size <= 0 {
		return
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	now := ft.clock()
	ft.fills[assetID] = append(ft.trim(assetID, now), fill{
		buy:   strings.EqualFold(side, "buy"),
		size:  size,
		price: price,
		at:    now,
	})
}

// Summary returns the windowed flow for assetID.
func (ft *FlowTracker) Summary(assetID string) Flow {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var f Flow
	for _, s := range ft.trim(assetID, ft.clock()) {
		if s.buy {
			f.BuySize += s.size
		} else {
			f.SellSize += s.size
		}
		f.Notional += s.size * s.price
		f.Trades++
	}
	return f
}

// NetFlow is Summary(assetID).Net().
func (ft *FlowTracker) NetFlow(assetID string) float64 { return ft.Summary(assetID).Net() }

// VWAP is Summary(assetID).VWAP().
func (ft *FlowTracker) VWAP(assetID string) float64 { return ft.Summary(assetID).VWAP() }

// trim drops fills older than the window and returns what is left.
// Caller holds ft.mu.
func (ft *FlowTracker) trim(assetID string, now time.Time) []fill {
	fills := ft.fills[assetID]
	cutoff := now.Add(-ft.window)
	i := 0
	for i < len(fills) && fills[i].at.Before(cutoff) {
		i++
	}
	switch {
	case i == len(fills) && i > 0:
		delete(ft.fills, assetID)
		return nil
	case i > 0:
		fills = fills[i:]
		ft.fills[assetID] = fills
	}
	return fills
}
