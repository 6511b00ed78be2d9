package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/dsamentor/mentor/internal/background"
	"github.com/dsamentor/mentor/internal/config"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/evaluator"
	"github.com/dsamentor/mentor/internal/llm"
	"github.com/dsamentor/mentor/internal/metrics"
	"github.com/dsamentor/mentor/internal/operator"
)

// maxBodyBytes bounds request bodies; problem descriptions are the largest payload
const maxBodyBytes = 64 << 10

// EventStream serves push notifications over websocket
type EventStream interface {
	http.Handler
	Clients() int
}

// Server represents the mentor daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	server  *http.Server
	router  *http.ServeMux
	version string

	background Background
	evaluator  evaluator.EvaluatorService
	registry   llm.LLMRegistry
	events     EventStream
	metrics    *metrics.Metrics
	confirmer  Confirmer
}

// ServerConfig holds the collaborators for a new server
type ServerConfig struct {
	Config     *config.LocalConfig
	Background Background
	Evaluator  evaluator.EvaluatorService
	Registry   llm.LLMRegistry
	// Events is optional; nil disables GET /v1/events.
	Events EventStream
	// Metrics is optional; nil disables GET /metrics.
	Metrics   *metrics.Metrics
	Confirmer Confirmer
	Version   string
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("daemon: config is required")
	}
	if cfg.Background == nil {
		return nil, errors.New("daemon: background service is required")
	}
	if cfg.Confirmer == nil {
		cfg.Confirmer = operator.NewConfirmer(cfg.Config.Operator.SecretHash)
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:        cfg.Config,
		router:     http.NewServeMux(),
		version:    cfg.Version,
		background: cfg.Background,
		evaluator:  cfg.Evaluator,
		registry:   cfg.Registry,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		confirmer:  cfg.Confirmer,
	}
	s.setupRoutes()

	var handler http.Handler = s.router
	if s.metrics != nil {
		handler = metricsMiddleware(s.metrics, handler)
	}
	handler = corsMiddleware(s.cfg.Daemon.Origins)(handler)
	handler = correlationIDMiddleware(recoveryMiddleware(loggingMiddleware(handler)))

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Daemon.Bind, s.cfg.Daemon.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Evaluations wait on the model for up to the LLM timeout
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)
	s.router.HandleFunc("GET /v1/config", s.handleGetConfig)

	// Extension message protocol
	s.router.HandleFunc("POST /v1/messages", s.handleMessage)

	// Signals
	s.router.HandleFunc("POST /v1/signals/typing", s.handleTyping)
	s.router.HandleFunc("POST /v1/signals/run", s.handleRun)
	s.router.HandleFunc("POST /v1/signals/problem-info", s.handleProblemInfo)
	s.router.HandleFunc("POST /v1/signals/check-problem", s.handleCheckProblem)

	// State
	s.router.HandleFunc("GET /v1/state/app", s.handleGetAppState)
	s.router.HandleFunc("PATCH /v1/state/app", s.handlePatchAppState)
	s.router.HandleFunc("GET /v1/state/effort", s.handleGetEffortState)
	s.router.HandleFunc("POST /v1/effort/start", s.handleStartEffort)

	// Session counters
	s.router.HandleFunc("POST /v1/session/hint", s.handleGrantHint)
	s.router.HandleFunc("POST /v1/session/explanation", s.handleRecordExplanation)

	// Collaborator
	s.router.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	s.router.HandleFunc("POST /v1/hint", s.handleHint)

	// Operator
	s.router.HandleFunc("POST /v1/admin/reset", s.handleAdminReset)

	if s.events != nil {
		s.router.Handle("GET /v1/events", s.events)
	}
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("starting mentor daemon",
		"addr", ln.Addr().String(),
		"llm_providers", s.providerNames(),
		"storage", s.cfg.Storage.Driver,
	)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	return s.server.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	running, err := s.background.CountdownRunning(r.Context())
	if err != nil {
		s.jsonError(w, errorStatus(err), "background service unavailable", err)
		return
	}
	clients := 0
	if s.events != nil {
		clients = s.events.Clients()
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":           "running",
		"version":          s.version,
		"llm_providers":    s.providerNames(),
		"default_provider": s.defaultProvider(),
		"storage":          s.cfg.Storage.Driver,
		"effort_countdown": running,
		"event_clients":    clients,
		"operator_enabled": s.confirmer.Configured(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	providers := make([]map[string]any, 0, len(s.cfg.LLM.Providers))
	names := make([]string, 0, len(s.cfg.LLM.Providers))
	for name := range s.cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := s.cfg.LLM.Providers[name]
		providers = append(providers, map[string]any{
			"name":       name,
			"enabled":    p.Enabled,
			"model":      p.Model,
			"configured": p.APIKey != "" || name == "ollama",
		})
	}

	// Secrets and connection strings stay out of the response
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"daemon":           s.cfg.Daemon,
		"policy":           s.background.Policy(),
		"storage":          s.cfg.Storage.Driver,
		"default_provider": s.cfg.LLM.DefaultProvider,
		"providers":        providers,
	})
}

func (s *Server) providerNames() []string {
	if s.registry == nil {
		return []string{}
	}
	return s.registry.List()
}

func (s *Server) defaultProvider() string {
	if s.registry == nil {
		return ""
	}
	return s.registry.DefaultName()
}

// Helper methods

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// errorStatus maps domain, operator and lifecycle errors to HTTP statuses
func errorStatus(err error) int {
	switch {
	case domain.IsPolicyRejection(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, operator.ErrConfirmationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, operator.ErrInvalidConfirmation), errors.Is(err, operator.ErrNotConfigured):
		return http.StatusForbidden
	case errors.Is(err, background.ErrNotRunning):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
