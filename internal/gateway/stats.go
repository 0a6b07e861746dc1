package gateway

import (
	"sync"
	"time"

	"github.com/GoPolymarket/trading-gateway/internal/command"
)

// Counters aggregates decisions since start.
type Counters struct {
	Total                int64                       `json:"total"`
	Approved             int64                       `json:"approved"`
	Rejected             int64                       `json:"rejected"`
	Blocked              int64                       `json:"blocked"`
	Queued               int64                       `json:"queued"`
	RequiresConfirmation int64                       `json:"requires_confirmation"`
	Modified             int64                       `json:"modified"`
	Confirmed            int64                       `json:"confirmed"`
	OperatorRejected     int64                       `json:"operator_rejected"`
	Expired              int64                       `json:"expired"`
	Completed            int64                       `json:"completed"`
	ByRisk               map[command.RiskLevel]int64 `json:"by_risk"`
	ByCategory           map[command.Category]int64  `json:"by_category"`
	AvgProcessing        time.Duration               `json:"avg_processing"`
}

type stats struct {
	mu        sync.Mutex
	c         Counters
	totalTime time.Duration
	history   []command.Decision
	next      int
	full      bool
}

func newStats(historySize int) *stats {
	if historySize <= 0 {
		historySize = 200
	}
	return &stats{
		c: Counters{
			ByRisk:     make(map[command.RiskLevel]int64),
			ByCategory: make(map[command.Category]int64),
		},
		history: make([]command.Decision, historySize),
	}
}

func (s *stats) record(d command.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Total++
	switch d.Result {
	case command.ResultApproved:
		s.c.Approved++
	case command.ResultRejected:
		s.c.Rejected++
	case command.ResultBlocked:
		s.c.Blocked++
	case command.ResultQueued:
		s.c.Queued++
	case command.ResultRequiresConfirmation:
		s.c.RequiresConfirmation++
	}
	if d.Action == command.ActionModify {
		s.c.Modified++
	}
	if d.RiskLevel != command.RiskUnset {
		s.c.ByRisk[d.RiskLevel]++
	}
	if d.Category != "" {
		s.c.ByCategory[d.Category]++
	}
	s.totalTime += d.ProcessingTime

	s.history[s.next] = d
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
}

func (s *stats) bump(t EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t {
	case EventConfirmed:
		s.c.Confirmed++
	case EventRejected:
		// Operator rejections count as rejected decisions too.
		s.c.OperatorRejected++
		s.c.Rejected++
	case EventExpired:
		s.c.Expired++
		s.c.Rejected++
	case EventCompleted:
		s.c.Completed++
	}
}

func (s *stats) counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.c
	out.ByRisk = make(map[command.RiskLevel]int64, len(s.c.ByRisk))
	for k, v := range s.c.ByRisk {
		out.ByRisk[k] = v
	}
	out.ByCategory = make(map[command.Category]int64, len(s.c.ByCategory))
	for k, v := range s.c.ByCategory {
		out.ByCategory[k] = v
	}
	if s.c.Total > 0 {
		out.AvgProcessing = s.totalTime / time.Duration(s.c.Total)
	}
	return out
}

// recent returns history oldest first.
func (s *stats) recent() []command.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return append([]command.Decision(nil), s.history[:s.next]...)
	}
	out := make([]command.Decision, 0, len(s.history))
	out = append(out, s.history[s.next:]...)
	out = append(out, s.history[:s.next]...)
	return out
}
