package responders

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoPolymarket/trading-gateway/internal/dispatch"
	"github.com/GoPolymarket/trading-gateway/internal/risk"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// DefaultJournalWindow is how many trade outcomes the rolling stats cover.
const DefaultJournalWindow = 100

// JournalStats summarizes the rolling outcome window.
type JournalStats struct {
	Trades  int                   `json:"trades"`
	Wins    int                   `json:"wins"`
	Losses  int                   `json:"losses"`
	WinRate float64               `json:"win_rate"`
	NetPnL  float64               `json:"net_pnl"`
	AvgPnL  float64               `json:"avg_pnl"`
	Signals map[topology.Kind]int `json:"signals"`
}

// Journal is the learning responder: it keeps rolling trade statistics and
// books outcomes into the risk manager.
type Journal struct {
	risk   *risk.Manager
	window int

	mu      sync.Mutex
	pnls    []float64
	signals map[topology.Kind]int
}

func NewJournal(m *risk.Manager, window int) *Journal {
	if window <= 0 {
		window = DefaultJournalWindow
	}
	return &Journal{risk: m, window: window, signals: make(map[topology.Kind]int)}
}

func (j *Journal) Name() string { return topology.ResponderJournal }

func (j *Journal) Respond(_ context.Context, sig topology.Signal) (dispatch.Response, error) {
	j.mu.Lock()
	j.signals[sig.Kind]++
	if sig.Kind == topology.KindTradeOutcome {
		if pnl, ok := num(sig, KeyPnL); ok {
			j.pnls = append(j.pnls, pnl)
			if len(j.pnls) > j.window {
				j.pnls = j.pnls[len(j.pnls)-j.window:]
			}
			if j.risk != nil {
				j.risk.RecordTradeResult(pnl)
			}
		}
	}
	st := j.statsLocked()
	j.mu.Unlock()

	return dispatch.Response{
		Recommendation: RecAck,
		Confidence:     st.WinRate,
		Note:           fmt.Sprintf("%d trades, win rate %.0f%%, net %s", st.Trades, st.WinRate*100, formatUSDC(st.NetPnL)),
	}, nil
}

// Stats returns the current rolling statistics.
func (j *Journal) Stats() JournalStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.statsLocked()
}

func (j *Journal) statsLocked() JournalStats {
	st := JournalStats{Trades: len(j.pnls), Signals: make(map[topology.Kind]int, len(j.signals))}
	for k, v := range j.signals {
		st.Signals[k] = v
	}
	for _, p := range j.pnls {
		st.NetPnL += p
		if p > 0 {
			st.Wins++
		} else if p < 0 {
			st.Losses++
		}
	}
	if st.Trades > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Trades)
		st.AvgPnL = st.NetPnL / float64(st.Trades)
	}
	return st
}
