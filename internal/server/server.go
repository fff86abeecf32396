package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"netinfo/internal/dispatch"
	"netinfo/internal/metrics"
	"netinfo/internal/models"
)

// Backend is the connectivity state the server exposes. Event stream clients
// are counted as remote listeners and fed through the emitter.
type Backend interface {
	CurrentState(filter string) models.Snapshot
	GatewayAddress(ctx context.Context) string
	SetEmitter(fn dispatch.Listener)
	AddListeners(n int)
	RemoveListeners(n int)
	Transitions(limit int) []models.Transition
	ProbeHistory(since time.Time, limit int) []models.ProbeResult
	LatestProbe() (models.ProbeResult, bool)
	Uptime() []metrics.ReachabilityUptime
}

// Server wraps HTTP serving of the JSON API, the event stream and metrics.
type Server struct {
	httpServer   *http.Server
	backend      Backend
	hub          *eventHub
	metrics      *metrics.Metrics
	logger       *slog.Logger
	historyLimit int
}

// New creates a configured HTTP server. m may be nil, in which case
// /metrics answers 404.
func New(addr string, backend Backend, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		backend:      backend,
		hub:          newEventHub(),
		metrics:      m,
		logger:       logger.With("component", "server"),
		historyLimit: 200,
	}
	backend.SetEmitter(s.hub.broadcast)
	s.registerRoutes(mux)
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/gateway", s.handleGateway)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/probe/history", s.handleProbeHistory)
	mux.HandleFunc("/api/probe/latest", s.handleProbeLatest)
	mux.HandleFunc("/api/uptime", s.handleUptime)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.Handle("/metrics", s.metrics.Handler())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("interface")
	writeJSON(w, http.StatusOK, s.backend.CurrentState(filter))
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	var gateway *string
	if addr := s.backend.GatewayAddress(r.Context()); addr != "" {
		gateway = &addr
	}
	writeJSON(w, http.StatusOK, map[string]*string{"gateway": gateway})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	history := s.backend.Transitions(limit)
	if history == nil {
		history = []models.Transition{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleProbeHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		since = parsed
	}
	limit := parseLimit(r, s.historyLimit)
	history := s.backend.ProbeHistory(since, limit)
	if history == nil {
		history = []models.ProbeResult{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleProbeLatest(w http.ResponseWriter, _ *http.Request) {
	var latest *models.ProbeResult
	if sample, ok := s.backend.LatestProbe(); ok {
		latest = &sample
	}
	writeJSON(w, http.StatusOK, map[string]*models.ProbeResult{"latest": latest})
}

func (s *Server) handleUptime(w http.ResponseWriter, _ *http.Request) {
	summary := s.backend.Uptime()
	if summary == nil {
		summary = []metrics.ReachabilityUptime{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
