package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/ports/repository"
	"ai-request-queue/internal/infra/logging"
	"ai-request-queue/internal/infra/metrics"
	"ai-request-queue/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes the queue's health and admin operations over HTTP.
type Server struct {
	scanner usecase.ScannerUseCase
	health  usecase.HealthUseCase
	queue   usecase.QueueUseCase
	history repository.TransitionLog
	auth    *AuthManager
	gate    bool // unhealthy /health answers 503
	timeout time.Duration
	log     *zerolog.Logger
}

func NewServer(
	scanner usecase.ScannerUseCase,
	health usecase.HealthUseCase,
	queue usecase.QueueUseCase,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	compLog := logger.With().Str("component", "AdminAPI").Logger()
	return &Server{
		scanner: scanner,
		health:  health,
		queue:   queue,
		auth:    auth,
		timeout: 30 * time.Second,
		log:     &compLog,
	}
}

// WithHistory exposes the transition log under /api/v1/admin/transitions.
func (s *Server) WithHistory(h repository.TransitionLog) *Server {
	s.history = h
	return s
}

// WithHealthGate makes /health answer 503 while the queue is unhealthy.
func (s *Server) WithHealthGate(on bool) *Server {
	s.gate = on
	return s
}

// Router builds the chi router with all routes and middlewares mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.RequireAdmin)
		r.Post("/requests", s.handleEnqueue)
		r.Get("/queue/{state}", s.handleList)
		r.Post("/admin/scan", s.handleScan)
		r.Post("/admin/force-cleanup", s.handleForceCleanup)
		r.Post("/admin/requeue-failed", s.handleRequeueFailed)
		r.Get("/admin/transitions", s.handleTransitions)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.health.Snapshot(r.Context())
	code := http.StatusOK
	if s.gate && snap.Status == model.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, snap)
}

type enqueueRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.queue.Enqueue(r.Context(), req.Prompt, req.SessionID)
	if err != nil {
		s.fail(w, r, "enqueue", err)
		return
	}
	metrics.IncAdminRequest("enqueue", "ok")
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	state, err := model.ParseQueueState(chi.URLParam(r, "state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	items, err := s.queue.List(r.Context(), state, limit)
	if err != nil {
		s.fail(w, r, "list", err)
		return
	}
	if items == nil {
		items = []model.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state, "items": items})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	dry := strings.EqualFold(r.URL.Query().Get("dry_run"), "true")

	var (
		report *model.ScanReport
		err    error
	)
	if dry {
		report, err = s.scanner.DryRun(r.Context())
	} else {
		report, err = s.scanner.Scan(r.Context())
	}
	if err != nil {
		s.fail(w, r, "scan", err)
		return
	}
	if !dry {
		metrics.ObserveScan(report)
	}
	metrics.IncAdminRequest("scan", "ok")
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleForceCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.scanner.ForceCleanupAll(r.Context())
	if err != nil {
		s.fail(w, r, "force-cleanup", err)
		return
	}
	metrics.ObserveForceCleanup(res)
	metrics.IncAdminRequest("force-cleanup", "ok")
	logging.With(r.Context(), s.log).Warn().
		Int("moved", res.Moved).
		Int("errors", res.Errors).
		Msg("force cleanup executed")
	writeJSON(w, http.StatusOK, res)
}

type requeueRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleRequeueFailed(w http.ResponseWriter, r *http.Request) {
	var req requeueRequest
	// An empty body requeues everything.
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	n, err := s.queue.RequeueFailed(r.Context(), req.IDs)
	if err != nil {
		s.fail(w, r, "requeue-failed", err)
		return
	}
	metrics.IncAdminRequest("requeue-failed", "ok")
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "transition history is not enabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, r, "transitions", err)
		return
	}
	if items == nil {
		items = []model.TransitionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, route string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrLockHeld):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("route", route).Msg("admin request failed")
	}
	metrics.IncAdminRequest(route, "error")
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
