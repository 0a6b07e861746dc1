package api

import (
	"net/http"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"

	"github.com/GoPolymarket/trading-gateway/internal/market"
)

type bookSummary struct {
	AssetID   string  `json:"asset_id"`
	Mid       float64 `json:"mid"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	SpreadBps float64 `json:"spread_bps"`
	Imbalance float64 `json:"imbalance"`
}

// GET /api/books: top of book for every tracked asset.
func (s *Server) handleBooks(w http.ResponseWriter, _ *http.Request) {
	books := s.appState.Books()
	out := make([]bookSummary, 0)
	for _, id := range books.AssetIDs() {
		bid, ask, err := books.Top(id)
		if err != nil {
			continue
		}
		sum := bookSummary{AssetID: id, Bid: bid, Ask: ask, Mid: (bid + ask) / 2}
		if sum.Mid > 0 {
			sum.SpreadBps = (ask - bid) / sum.Mid * 10000
		}
		sum.Imbalance = books.Imbalance(id, market.DefaultDepthLevels)
		out = append(out, sum)
	}
	s.writeJSON(w, map[string]interface{}{"books": out})
}

// POST /api/books: replace the snapshot for one asset.
func (s *Server) handleBookUpdate(w http.ResponseWriter, r *http.Request) {
	var event ws.OrderbookEvent
	if err := decodeBody(w, r, &event); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.appState.Books().Update(event); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := map[string]interface{}{"asset_id": event.AssetID}
	if mid, err := s.appState.Books().Mid(event.AssetID); err == nil {
		resp["mid"] = mid
	}
	s.writeJSON(w, resp)
}
