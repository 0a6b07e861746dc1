// Package market keeps the latest order book per asset and derives the
// conditions the gateway scores trade commands against.
package market

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"
)

// DefaultDepthLevels is how many book levels count as visible depth.
const DefaultDepthLevels = 5

// Books holds an in-memory order book snapshot per asset.
type Books struct {
	mu     sync.RWMutex
	books  map[string]ws.OrderbookEvent
	levels int
	vol    *Tracker
}

// NewBooks creates an empty snapshot store. tracker may be nil.
func NewBooks(tracker *Tracker) *Books {
	return &Books{
		books:  make(map[string]ws.OrderbookEvent),
		levels: DefaultDepthLevels,
		vol:    tracker,
	}
}

// Update replaces the book for event.AssetID and feeds its mid to the
// volatility tracker.
func (s *Books) Update(event ws.OrderbookEvent) error {
	if event.AssetID == "" {
		return fmt.Errorf("order book without asset id")
	}
	s.mu.Lock()
	s.books[event.AssetID] = event
	s.mu.Unlock()

	if s.vol != nil {
		if mid, err := s.Mid(event.AssetID); err == nil {
			s.vol.Record(event.AssetID, mid)
		}
	}
	return nil
}

// Get returns the stored book.
func (s *Books) Get(assetID string) (ws.OrderbookEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[assetID]
	return b, ok
}

// Mid returns the midpoint of the best bid and ask.
func (s *Books) Mid(assetID string) (float64, error) {
	bid, ask, err := s.Top(assetID)
	if err != nil {
		return 0, err
	}
	return (bid + ask) / 2, nil
}

// Top returns the best bid and ask.
func (s *Books) Top(assetID string) (bid, ask float64, err error) {
	s.mu.RLock()
	b, ok := s.books[assetID]
	s.mu.RUnlock()
	if !ok {
		return 0, 0, fmt.Errorf("no book for %s", assetID)
	}
	return top(b)
}

func top(b ws.OrderbookEvent) (bid, ask float64, err error) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, fmt.Errorf("no book for %s", b.AssetID)
	}
	bid, err = strconv.ParseFloat(b.Bids[0].Price, 64)
	if err != nil {
		return 0, 0, err
	}
	ask, err = strconv.ParseFloat(b.Asks[0].Price, 64)
	if err != nil {
		return 0, 0, err
	}
	return bid, ask, nil
}

// Depth returns total bid and ask size over the top n levels.
func (s *Books) Depth(assetID string, levels int) (bidDepth, askDepth float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[assetID]
	if !ok {
		return 0, 0
	}
	return sumSize(b.Bids, levels), sumSize(b.Asks, levels)
}

// Imbalance is (bid depth - ask depth) / total depth over the top n levels,
// in [-1, 1].
func (s *Books) Imbalance(assetID string, levels int) float64 {
	bid, ask := s.Depth(assetID, levels)
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}

// AssetIDs returns all tracked assets, sorted.
func (s *Books) AssetIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.books))
	for id := range s.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Conditions derives spread, slippage, depth and volatility for an order of
// notional USDC on side ("buy" or "sell") against the stored book. Every
// figure comes from the same snapshot.
func (s *Books) Conditions(assetID, side string, notional float64) (Conditions, error) {
	s.mu.RLock()
	book, ok := s.books[assetID]
	s.mu.RUnlock()
	if !ok {
		return Conditions{}, fmt.Errorf("no book for %s", assetID)
	}
	bid, ask, err := top(book)
	if err != nil {
		return Conditions{}, err
	}
	mid := (bid + ask) / 2
	if mid <= 0 {
		return Conditions{}, fmt.Errorf("invalid mid for %s", assetID)
	}

	levels := book.Asks
	if isSell(side) {
		levels = book.Bids
	}

	c := Conditions{
		AssetID:   assetID,
		Mid:       mid,
		SpreadBps: (ask - bid) / mid * 10000,
	}
	if notional > 0 {
		shares := notional / mid
		if depth := sumSize(levels, s.levels); depth > 0 {
			c.DepthRatio = shares / depth
		} else {
			c.DepthRatio = shares
		}
		c.SlippageBps = slippageBps(levels, shares, mid)
	}
	if s.vol != nil {
		c.VolatilityPct = s.vol.Volatility(assetID)
	}
	return c, nil
}

// slippageBps walks the book filling shares and returns the distance of the
// average fill from mid. Unfilled size is priced at the last level.
func slippageBps(levels []ws.OrderbookLevel, shares, mid float64) float64 {
	if len(levels) == 0 || shares <= 0 {
		return 0
	}
	remaining := shares
	var notional, filled, last float64
	for _, lvl := range levels {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		size, _ := strconv.ParseFloat(lvl.Size, 64)
		last = price
		take := size
		if take > remaining {
			take = remaining
		}
		notional += take * price
		filled += take
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 && last > 0 {
		notional += remaining * last
		filled += remaining
	}
	if filled == 0 {
		return 0
	}
	avg := notional / filled
	diff := avg - mid
	if diff < 0 {
		diff = -diff
	}
	return diff / mid * 10000
}

func sumSize(levels []ws.OrderbookLevel, n int) float64 {
	var total float64
	for i := 0; i < n && i < len(levels); i++ {
		size, _ := strconv.ParseFloat(levels[i].Size, 64)
		total += size
	}
	return total
}

func isSell(side string) bool {
	switch side {
	case "sell", "SELL", "Sell", "short", "SHORT":
		return true
	}
	return false
}
