// Package strategy turns order book and flow state into entry ideas for the
// opportunity responders.
package strategy

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"
)

type ImbalanceConfig struct {
	MinImbalance   float64       `yaml:"min_imbalance" json:"min_imbalance"`
	DepthLevels    int           `yaml:"depth_levels" json:"depth_levels"`
	AmountUSDC     float64       `yaml:"amount_usdc" json:"amount_usdc"`
	MaxSlippageBps float64       `yaml:"max_slippage_bps" json:"max_slippage_bps"`
	Cooldown       time.Duration `yaml:"cooldown" json:"cooldown"`
}

func DefaultImbalanceConfig() ImbalanceConfig {
	return ImbalanceConfig{
		MinImbalance:   0.15,
		DepthLevels:    3,
		AmountUSDC:     25,
		MaxSlippageBps: 50,
		Cooldown:       30 * time.Second,
	}
}

// Idea is a proposed entry.
type Idea struct {
	AssetID    string  `json:"asset_id"`
	Side       string  `json:"side"` // "buy" or "sell"
	AmountUSDC float64 `json:"amount_usdc"`
	LimitPrice float64 `json:"limit_price"`
	Mid        float64 `json:"mid"`
	Imbalance  float64 `json:"imbalance"`
}

// Imbalance proposes entries in the direction of resting depth.
type Imbalance struct {
	cfg   ImbalanceConfig
	clock func() time.Time

	mu     sync.Mutex
	lastAt map[string]time.Time
}

func NewImbalance(cfg ImbalanceConfig, clock func() time.Time) *Imbalance {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &Imbalance{cfg: cfg, clock: clock, lastAt: make(map[string]time.Time)}
}

// Evaluate returns nil without error when the book is balanced or the
// asset is cooling down.
func (s *Imbalance) Evaluate(book ws.OrderbookEvent) (*Idea, error) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return nil, fmt.Errorf("empty book for %s", book.AssetID)
	}

	s.mu.Lock()
	last, ok := s.lastAt[book.AssetID]
	s.mu.Unlock()
	if ok && s.clock().Sub(last) < s.cfg.Cooldown {
		return nil, nil
	}

	bidDepth := depth(book.Bids, s.cfg.DepthLevels)
	askDepth := depth(book.Asks, s.cfg.DepthLevels)
	total := bidDepth + askDepth
	if total == 0 {
		return nil, nil
	}
	imbalance := (bidDepth - askDepth) / total
	if math.Abs(imbalance) < s.cfg.MinImbalance {
		return nil, nil
	}

	bestBid, err := strconv.ParseFloat(book.Bids[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("bad bid price: %w", err)
	}
	bestAsk, err := strconv.ParseFloat(book.Asks[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("bad ask price: %w", err)
	}
	mid := (bestBid + bestAsk) / 2

	side := "buy"
	delta := mid * s.cfg.MaxSlippageBps / 10000
	limit := mid + delta
	if imbalance < 0 {
		side = "sell"
		limit = mid - delta
		if limit <= 0 {
			limit = 0.01
		}
	}

	return &Idea{
		AssetID:    book.AssetID,
		Side:       side,
		AmountUSDC: s.cfg.AmountUSDC,
		LimitPrice: limit,
		Mid:        mid,
		Imbalance:  imbalance,
	}, nil
}

// RecordEntry starts the cooldown for assetID.
func (s *Imbalance) RecordEntry(assetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAt[assetID] = s.clock()
}

func depth(levels []ws.OrderbookLevel, n int) float64 {
	var sum float64
	for i := 0; i < n && i < len(levels); i++ {
		size, _ := strconv.ParseFloat(levels[i].Size, 64)
		sum += size
	}
	return sum
}
