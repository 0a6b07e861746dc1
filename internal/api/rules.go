package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/GoPolymarket/trading-gateway/internal/rules"
)

// Rule tables addressable under /api/rules/{table}.
const (
	tableCommand   = "command"
	tableConflict  = "conflict"
	tableMarket    = "market"
	tableBlocklist = "blocklist"
	tableSafelist  = "safelist"
)

// GET /api/rules: every rule table.
func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.appState.Gateway().Rules().Tables())
}

// POST /api/rules/{table}: add one entry. Blocklist and safelist take
// {"value": "..."}; the other tables take the rule itself.
func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	set := s.appState.Gateway().Rules()
	table := r.PathValue("table")

	var err error
	switch table {
	case tableCommand:
		var rule rules.CommandRule
		if err = decodeBody(w, r, &rule); err == nil {
			err = set.AddCommandRule(rule)
		}
	case tableConflict:
		var rule rules.ConflictRule
		if err = decodeBody(w, r, &rule); err == nil {
			err = set.AddConflictRule(rule)
		}
	case tableMarket:
		var rule rules.MarketRule
		if err = decodeBody(w, r, &rule); err == nil {
			err = set.AddMarketRule(rule)
		}
	case tableBlocklist, tableSafelist:
		var body struct {
			Value string `json:"value"`
		}
		if err = decodeBody(w, r, &body); err == nil {
			if table == tableBlocklist {
				err = set.Block(body.Value)
			} else {
				err = set.Allow(body.Value)
			}
		}
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown rule table %q", table))
		return
	}
	if err != nil {
		s.writeError(w, ruleStatus(err), err)
		return
	}
	s.logger.Info("rule added", "table", table)
	s.writeJSONStatus(w, http.StatusCreated, map[string]string{"table": table, "status": "added"})
}

// DELETE /api/rules/{table}/{name}
func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	set := s.appState.Gateway().Rules()
	table, name := r.PathValue("table"), r.PathValue("name")

	var err error
	switch table {
	case tableCommand:
		err = set.RemoveCommandRule(name)
	case tableConflict:
		err = set.RemoveConflictRule(name)
	case tableMarket:
		err = set.RemoveMarketRule(name)
	case tableBlocklist:
		err = set.Unblock(name)
	case tableSafelist:
		err = set.Disallow(name)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown rule table %q", table))
		return
	}
	if err != nil {
		s.writeError(w, ruleStatus(err), err)
		return
	}
	s.logger.Info("rule removed", "table", table, "name", name)
	s.writeJSON(w, map[string]string{"table": table, "name": name, "status": "removed"})
}

func ruleStatus(err error) int {
	switch {
	case errors.Is(err, rules.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, rules.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
