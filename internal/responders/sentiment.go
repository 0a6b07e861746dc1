package responders

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
	"github.com/GoPolymarket/trading-gateway/internal/strategy"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// SentimentThreshold is the blended score needed to lean one way.
const SentimentThreshold = 0.2

// Sentiment blends an external mood score with recent order flow.
type Sentiment struct {
	flow *strategy.FlowTracker
}

func NewSentiment(flow *strategy.FlowTracker) *Sentiment {
	return &Sentiment{flow: flow}
}

func (s *Sentiment) Name() string { return topology.ResponderSentiment }

func (s *Sentiment) Respond(_ context.Context, sig topology.Signal) (dispatch.Response, error) {
	if !isOpportunity(sig.Kind) {
		return dispatch.Response{Recommendation: RecAck, Confidence: 0.5}, nil
	}
	score := s.Score(str(sig, KeyAssetID), sig)
	switch {
	case score >= SentimentThreshold:
		return dispatch.Response{Recommendation: RecBuy, Confidence: clamp01(score), Note: fmt.Sprintf("score %.2f", score)}, nil
	case score <= -SentimentThreshold:
		return dispatch.Response{Recommendation: RecSell, Confidence: clamp01(-score), Note: fmt.Sprintf("score %.2f", score)}, nil
	}
	return dispatch.Response{Recommendation: RecHold, Confidence: 0.5, Note: fmt.Sprintf("score %.2f", score)}, nil
}

// Score is in [-1, 1]. With both inputs present they weigh equally.
func (s *Sentiment) Score(asset string, sig topology.Signal) float64 {
	mood, hasMood := num(sig, KeySentiment)
	if mood > 1 {
		mood = 1
	} else if mood < -1 {
		mood = -1
	}
	var flow float64
	hasFlow := false
	if s.flow != nil && asset != "" {
		flow = s.flow.NetFlow(asset)
		hasFlow = flow != 0
	}
	switch {
	case hasMood && hasFlow:
		return (mood + flow) / 2
	case hasMood:
		return mood
	default:
		return flow
	}
}
