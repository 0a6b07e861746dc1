package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoPolymarket/trading-gateway/internal/app"
	"github.com/GoPolymarket/trading-gateway/internal/audit"
	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/gateway"
	"github.com/GoPolymarket/trading-gateway/internal/ledger"
	"github.com/GoPolymarket/trading-gateway/internal/market"
	"github.com/GoPolymarket/trading-gateway/internal/responders"
	"github.com/GoPolymarket/trading-gateway/internal/risk"
	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

const maxBodyBytes = 1 << 20

// AppState exposes the gateway process to the API layer.
type AppState interface {
	IsRunning() bool
	Ingest(ctx context.Context, sig topology.Signal) app.Route
	Submit(ctx context.Context, cmd command.Command) command.Decision
	SetEmergencyStop(stop bool, reason string)
	Gateway() *gateway.Gateway
	Registry() *topology.Registry
	Books() *market.Books
	Risk() *risk.Manager
	Journal() *responders.Journal
	Audit() *audit.Log
	Metrics() *prometheus.Registry
}

// Server is a lightweight HTTP API over the gateway.
type Server struct {
	httpServer *http.Server
	appState   AppState
	logger     *slog.Logger
	startedAt  time.Time
}

// NewServer creates a new API server bound to addr.
func NewServer(addr string, appState AppState, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		appState:  appState,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/risk", s.handleRisk)
	mux.HandleFunc("GET /api/topology", s.handleTopology)

	mux.HandleFunc("POST /api/signals", s.handleSignal)
	mux.HandleFunc("POST /api/commands", s.handleSubmit)
	mux.HandleFunc("POST /api/commands/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/commands/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/commands/{id}/complete", s.handleComplete)

	mux.HandleFunc("GET /api/rules", s.handleRules)
	mux.HandleFunc("POST /api/rules/{table}", s.handleAddRule)
	mux.HandleFunc("DELETE /api/rules/{table}/{name}", s.handleRemoveRule)

	mux.HandleFunc("GET /api/books", s.handleBooks)
	mux.HandleFunc("POST /api/books", s.handleBookUpdate)

	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("GET /api/audit/{id}", s.handleAuditCommand)

	mux.HandleFunc("POST /api/emergency-stop", s.handleEmergencyStop)

	if reg := appState.Metrics(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("api server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// GET /api/health: liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// GET /api/ready: readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.appState.IsRunning()
	resp := map[string]interface{}{
		"ready":    ready,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	}
	if !ready {
		resp["reason"] = "app_not_running"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, resp)
}

// GET /api/state: pending, active, history and counters.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.appState.Gateway().Snapshot())
}

// GET /api/risk: protective state and learning statistics.
func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	snap := s.appState.Risk().Snapshot()
	remaining := snap.DailyLossLimit + snap.DailyPnL
	if remaining < 0 {
		remaining = 0
	}
	s.writeJSON(w, map[string]interface{}{
		"risk":                      snap,
		"daily_loss_remaining_usdc": remaining,
		"in_cooldown":               s.appState.Risk().InCooldown(),
		"journal":                   s.appState.Journal().Stats(),
	})
}

// GET /api/topology: routing table and responder capabilities.
func (s *Server) handleTopology(w http.ResponseWriter, _ *http.Request) {
	reg := s.appState.Registry()
	s.writeJSON(w, map[string]interface{}{
		"rules":        reg.Rules(),
		"capabilities": reg.Capabilities(),
	})
}

// POST /api/signals: dispatch a signal. Unknown kinds run on the learning
// tier with the default timeout.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var sig topology.Signal
	if err := decodeBody(w, r, &sig); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(string(sig.Kind)) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("kind is required"))
		return
	}
	if !s.appState.Registry().Known(sig.Kind) {
		s.logger.Warn("unknown signal kind, routing to learning tier", "kind", sig.Kind)
	}
	s.writeJSON(w, s.appState.Ingest(r.Context(), sig))
}

// POST /api/commands: validate a command.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var cmd command.Command
	if err := decodeBody(w, r, &cmd); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(cmd.Action) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("action is required"))
		return
	}
	category, err := command.ParseCategory(string(cmd.Category))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd.Category = category
	s.writeJSON(w, s.appState.Submit(r.Context(), cmd))
}

// POST /api/commands/{id}/approve
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.appState.Gateway().Confirm(r.Context(), id); err != nil {
		status := http.StatusNotFound
		if errors.Is(err, ledger.ErrConflict) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err)
		return
	}
	s.writeJSON(w, map[string]string{"id": id, "status": "approved"})
}

// POST /api/commands/{id}/reject: optional body {"reason": "..."}.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &body); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if !s.appState.Gateway().Reject(r.Context(), id, body.Reason) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no pending confirmation %q", id))
		return
	}
	s.writeJSON(w, map[string]string{"id": id, "status": "rejected"})
}

// POST /api/commands/{id}/complete
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.appState.Gateway().Complete(r.Context(), id) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no active command %q", id))
		return
	}
	s.writeJSON(w, map[string]string{"id": id, "status": "completed"})
}

// POST /api/emergency-stop: body {"stop": bool, "reason": "..."}; an empty
// body latches the stop.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Stop   bool   `json:"stop"`
		Reason string `json:"reason"`
	}{Stop: true, Reason: "api"}
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &body); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	s.appState.SetEmergencyStop(body.Stop, body.Reason)
	status := "emergency_stop_cleared"
	if body.Stop {
		status = "emergency_stop_activated"
	}
	s.writeJSON(w, map[string]string{"status": status})
}

// GET /api/audit?limit=N: newest audit entries.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	log := s.appState.Audit()
	if log == nil {
		s.writeError(w, http.StatusNotFound, errors.New("audit log disabled"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	entries, err := log.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	byResult, err := log.CountByResult(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"entries": entries, "by_result": byResult})
}

// GET /api/audit/{id}: lifecycle of one command.
func (s *Server) handleAuditCommand(w http.ResponseWriter, r *http.Request) {
	log := s.appState.Audit()
	if log == nil {
		s.writeError(w, http.StatusNotFound, errors.New("audit log disabled"))
		return
	}
	entries, err := log.ForCommand(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(entries) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no audit entries for %q", r.PathValue("id")))
		return
	}
	s.writeJSON(w, map[string]interface{}{"entries": entries})
}
