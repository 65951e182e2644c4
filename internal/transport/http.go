// Package transport provides the HTTP API: stress test control, live progress
// over SSE and WebSocket, network snapshots, run history and health probes.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/chainbench/internal/broadcast"
	"github.com/gateway-fm/chainbench/internal/monitor"
	"github.com/gateway-fm/chainbench/internal/network"
	"github.com/gateway-fm/chainbench/internal/orchestrator"
	"github.com/gateway-fm/chainbench/internal/storage"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Input validation constants
const (
	maxDurationSec = 3600  // Maximum test duration: 1 hour
	maxTPS         = 10000 // Maximum target TPS
)

// validateRunRequest checks the bounds the HTTP API accepts. Semantic checks
// (known networks, supported kinds) are left to the orchestrator.
func validateRunRequest(req *types.RunRequest) error {
	if req.DurationSeconds <= 0 {
		return fmt.Errorf("duration must be positive, got %d", req.DurationSeconds)
	}
	if req.DurationSeconds > maxDurationSec {
		return fmt.Errorf("duration exceeds maximum of %d seconds", maxDurationSec)
	}
	if req.TargetTPS <= 0 {
		return fmt.Errorf("tps must be positive, got %d", req.TargetTPS)
	}
	if req.TargetTPS > maxTPS {
		return fmt.Errorf("tps exceeds maximum of %d", maxTPS)
	}
	if len(req.Networks) == 0 {
		return fmt.Errorf("networks must not be empty")
	}
	if req.TransactionKind != "" {
		if _, ok := types.ParseTransactionKind(string(req.TransactionKind)); !ok {
			return fmt.Errorf("invalid transactionType: %s", req.TransactionKind)
		}
	}
	return nil
}

// StressTester runs stress tests and reports per-network state.
type StressTester interface {
	Run(ctx context.Context, req types.RunRequest) (types.RunResult, error)
	States() map[string]types.RunState
	Busy() bool
}

// NetworkMonitor takes passive network snapshots.
type NetworkMonitor interface {
	Snapshot(ctx context.Context, network string) (*types.NetworkSnapshot, error)
}

// HealthChecker checks upstream dependencies for readiness.
type HealthChecker interface {
	// Check returns one error (nil if healthy) per named dependency.
	Check(ctx context.Context) map[string]error
}

// Server handles HTTP requests for chainbench.
type Server struct {
	runner   StressTester
	networks *network.Registry
	monitor  NetworkMonitor
	history  storage.Storage // nil when history is disabled
	hub      *broadcast.Hub
	health   HealthChecker
	gatherer prometheus.Gatherer
	runCtx   context.Context
	logger   *slog.Logger

	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string // Parsed list of allowed origins
	corsAllowAll       bool     // True if "*" or empty (allow all origins)
}

// ServerConfig for creating a Server.
type ServerConfig struct {
	Runner   StressTester
	Networks *network.Registry
	Monitor  NetworkMonitor
	History  storage.Storage
	Hub      *broadcast.Hub
	Health   HealthChecker
	// Gatherer backs /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer
	// RunContext bounds stress test runs. Runs outlive the request that
	// started them and stop only when this context is done.
	RunContext         context.Context
	CORSAllowedOrigins string
	Logger             *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runCtx := cfg.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	networks := cfg.Networks
	if networks == nil {
		networks = network.NewRegistry()
	}

	s := &Server{
		runner:    cfg.Runner,
		networks:  networks,
		monitor:   cfg.Monitor,
		history:   cfg.History,
		hub:       cfg.Hub,
		health:    cfg.Health,
		gatherer:  gatherer,
		runCtx:    runCtx,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  NewWebSocketServer(cfg.Hub, logger),
	}

	// Parse CORS allowed origins
	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Versioned API endpoints (v1)
	mux.HandleFunc("/v1/stress-test", s.corsMiddleware(s.handleStressTest))
	mux.HandleFunc("/v1/stress-test/status", s.corsMiddleware(s.handleEvents))
	mux.HandleFunc("/v1/state", s.corsMiddleware(s.handleState))
	mux.HandleFunc("/v1/networks", s.corsMiddleware(s.handleNetworks))
	mux.HandleFunc("/v1/networks/", s.corsMiddleware(s.handleNetworkDetail))
	mux.HandleFunc("/v1/history", s.corsMiddleware(s.handleHistory))
	mux.HandleFunc("/v1/history/", s.corsMiddleware(s.handleHistoryDetail))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Legacy dashboard endpoints
	mux.HandleFunc("/api/stress-test", s.corsMiddleware(s.handleStressTest))
	mux.HandleFunc("/api/stress-test/status", s.corsMiddleware(s.handleEvents))

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics (unversioned - standard path)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// writeJSON writes v as a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// runErrorStatus maps an orchestrator error to an HTTP status.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrUnknownNetwork):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleStressTest runs a stress test and responds with its results once
// every requested network has finished.
func (s *Server) handleStressTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := validateRunRequest(&req); err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.runner.Run(s.runCtx, req)
	if err != nil {
		status := runErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("Stress test failed", slog.String("error", err.Error()))
			s.writeJSONError(w, "Stress test failed: "+err.Error(), status)
			return
		}
		s.writeJSONError(w, err.Error(), status)
		return
	}

	s.writeJSON(w, result)
}

// handleEvents streams progress events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("SSE client connected", slog.String("subscriber", sub.ID), slog.Int("total_clients", s.hub.Count()))

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				// Dropped by the hub or shutting down.
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleState returns every network's run state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, map[string]any{
		"busy":     s.runner.Busy(),
		"networks": s.runner.States(),
	})
}

// handleNetworks lists the configured networks.
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	states := s.runner.States()
	infos := []types.NetworkInfo{}
	for _, n := range s.networks.All() {
		infos = append(infos, types.NetworkInfo{
			Name:    n.Name,
			ChainID: n.ChainID,
			RPCURL:  n.RPCURL,
			State:   states[n.Name],
		})
	}
	s.writeJSON(w, infos)
}

// handleNetworkDetail handles /v1/networks/{name}/metrics.
func (s *Server) handleNetworkDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/networks/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "metrics" {
		s.writeJSONError(w, "Not found", http.StatusNotFound)
		return
	}
	if s.monitor == nil {
		s.writeJSONError(w, "Network monitoring disabled", http.StatusNotImplemented)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	snap, err := s.monitor.Snapshot(ctx, parts[0])
	if errors.Is(err, monitor.ErrUnknownNetwork) {
		s.writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeJSONError(w, "Failed to get network metrics: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, snap)
}

// parsePagination reads limit and offset query parameters.
func parsePagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxLimit {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

// handleHistory returns stored runs with optional pagination.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "History disabled", http.StatusNotImplemented)
		return
	}

	limit, offset := parsePagination(r, 50, 100)
	result, err := s.history.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}

// handleHistoryDetail handles /v1/history/{id} and /v1/history/{id}/transactions.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSONError(w, "History disabled", http.StatusNotImplemented)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/history/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		s.writeJSONError(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	runID := parts[0]

	if len(parts) > 1 && parts[1] == "transactions" {
		s.handleRunTransactions(w, r, runID)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		err := s.history.DeleteRun(r.Context(), runID)
		if errors.Is(err, storage.ErrNotFound) {
			s.writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			s.writeJSONError(w, "Failed to delete run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]bool{"deleted": true})

	case http.MethodGet:
		run, err := s.history.GetRun(r.Context(), runID)
		if errors.Is(err, storage.ErrNotFound) {
			s.writeJSONError(w, "Run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			s.writeJSONError(w, "Failed to get run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, run)

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunTransactions handles GET /v1/history/{id}/transactions?network=name.
func (s *Server) handleRunTransactions(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	networkName := r.URL.Query().Get("network")
	if networkName == "" {
		s.writeJSONError(w, "Missing network parameter", http.StatusBadRequest)
		return
	}

	limit, offset := parsePagination(r, 100, 1000)
	result, err := s.history.GetTxLogs(r.Context(), runID, networkName, limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get transactions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "failed"
	Error  string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := s.health.Check(ctx)
		for _, name := range sortedKeys(results) {
			check := ReadinessCheck{Name: name, Status: "ok"}
			if err := results[name]; err != nil {
				check.Status = "failed"
				check.Error = err.Error()
				allHealthy = false
			}
			checks = append(checks, check)
		}
	}

	response := map[string]any{
		"ready":  allHealthy,
		"checks": checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// Close disconnects every streaming client.
func (s *Server) Close() {
	s.wsServer.Stop()
}
