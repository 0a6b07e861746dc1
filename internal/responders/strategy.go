package responders

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
	"github.com/GoPolymarket/trading-gateway/internal/market"
	"github.com/GoPolymarket/trading-gateway/internal/strategy"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// Strategy proposes concrete entries from book imbalance and feeds executed
// trades into the flow tracker.
type Strategy struct {
	books *market.Books
	ideas *strategy.Imbalance
	flow  *strategy.FlowTracker
}

func NewStrategy(books *market.Books, ideas *strategy.Imbalance, flow *strategy.FlowTracker) *Strategy {
	return &Strategy{books: books, ideas: ideas, flow: flow}
}

func (s *Strategy) Name() string { return topology.ResponderStrategy }

func (s *Strategy) Respond(_ context.Context, sig topology.Signal) (dispatch.Response, error) {
	asset := str(sig, KeyAssetID)
	switch sig.Kind {
	case topology.KindTradeOutcome:
		size, _ := num(sig, KeySize)
		price, _ := num(sig, KeyPrice)
		if asset != "" && size > 0 && s.flow != nil {
			s.flow.Record(asset, str(sig, KeySide), size, price)
		}
		return dispatch.Response{Recommendation: RecAck, Confidence: 1}, nil
	case topology.KindPatternLearned:
		return dispatch.Response{Recommendation: RecAck, Confidence: 0.5}, nil
	}

	if !isOpportunity(sig.Kind) {
		return dispatch.Response{Recommendation: RecAck, Confidence: 0.5}, nil
	}
	book, ok := s.books.Get(asset)
	if !ok {
		return dispatch.Response{Recommendation: RecHold, Confidence: 0.3, Note: "no book for " + asset}, nil
	}
	idea, err := s.ideas.Evaluate(book)
	if err != nil {
		return dispatch.Response{}, err
	}
	if idea == nil {
		return dispatch.Response{Recommendation: RecHold, Confidence: 0.5, Note: "no edge"}, nil
	}
	amount := idea.AmountUSDC
	if v, ok := num(sig, KeyAmount); ok && v > 0 {
		amount = v
	}
	s.ideas.RecordEntry(asset)
	return dispatch.Response{
		Recommendation: idea.Side,
		Confidence:     clamp01(0.5 + absf(idea.Imbalance)/2),
		Command:        EntryCommand(s.Name(), idea.Side, asset, amount, idea.LimitPrice),
		Note:           fmt.Sprintf("imbalance %.2f at mid %.4f", idea.Imbalance, idea.Mid),
	}, nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
