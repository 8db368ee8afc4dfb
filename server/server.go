package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/checkers/checker"
	"github.com/liamcoop/checkers/internal/logger"
	"github.com/liamcoop/checkers/rules"
	"github.com/liamcoop/checkers/runner"
	"github.com/liamcoop/checkers/store"
)

// DefaultExecutionsLimit is the history size returned when no limit is given
const DefaultExecutionsLimit = 50

// Server is the HTTP API over the checker store and runner
type Server struct {
	store    store.CheckerStore
	runner   *runner.Runner
	health   func(ctx context.Context) error
	gatherer prometheus.Gatherer
	router   *chi.Mux
}

// Option configures a Server
type Option func(*Server)

// WithHealthCheck adds a dependency probe to GET /health, usually a
// database ping
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

// WithGatherer sets the registry served on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates the API server
func New(checkers store.CheckerStore, r *runner.Runner, opts ...Option) *Server {
	s := &Server{
		store:    checkers,
		runner:   r,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/rules/validate", s.handleValidateRule)

		r.Route("/checkers", func(r chi.Router) {
			r.Get("/", s.handleListCheckers)
			r.Post("/", s.handleCreateChecker)

			r.Route("/{checkerId}", func(r chi.Router) {
				r.Get("/", s.handleGetChecker)
				r.Put("/", s.handleUpdateChecker)
				r.Delete("/", s.handleDeleteChecker)
				r.Post("/run", s.handleRunChecker)
				r.Get("/executions", s.handleListExecutions)
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs every request at debug level
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:   "unhealthy",
				Counters: logger.Counters(),
				Error:    err.Error(),
			})
			return
		}
	}

	checkers, err := s.store.List(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "unhealthy",
			Counters: logger.Counters(),
			Error:    err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Checkers: len(checkers),
		Counters: logger.Counters(),
	})
}

// Validate rule handler
func (s *Server) handleValidateRule(w http.ResponseWriter, r *http.Request) {
	var req ValidateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Rule) == "" {
		respondError(w, http.StatusBadRequest, "rule is required", nil)
		return
	}

	sanitized, err := s.runner.Engine().Filter(r.Context(), rules.Rule{Source: req.Rule, Dialect: req.Dialect})
	if err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, ValidateRuleResponse{
			Valid:   false,
			Dropped: []rules.Dropped{},
			Error:   err.Error(),
		})
		return
	}

	dropped := sanitized.Dropped
	if dropped == nil {
		dropped = []rules.Dropped{}
	}
	respondJSON(w, http.StatusOK, ValidateRuleResponse{
		Valid:   true,
		Dialect: sanitized.Rule.Dialect,
		Dropped: dropped,
	})
}

// List checkers handler
func (s *Server) handleListCheckers(w http.ResponseWriter, r *http.Request) {
	checkers, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list checkers", err)
		return
	}

	resp := CheckersListResponse{Checkers: make([]CheckerResponse, 0, len(checkers))}
	for _, c := range checkers {
		resp.Checkers = append(resp.Checkers, toCheckerResponse(c))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create checker handler
func (s *Server) handleCreateChecker(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	c := &store.Checker{
		ID:          req.ID,
		Description: req.Description,
		Rule:        req.Rule,
		Dialect:     req.Dialect,
		Datasources: req.Datasources,
		Active:      true,
	}
	if req.Active != nil {
		c.Active = *req.Active
	}

	if err := s.validateChecker(r.Context(), c); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	if err := s.store.Add(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			respondError(w, http.StatusConflict, "checker already exists", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create checker", err)
		return
	}
	s.runner.Invalidate()

	logger.Info("checker created", "checker_id", c.ID, "active", c.Active)
	respondJSON(w, http.StatusCreated, toCheckerResponse(c))
}

// Get checker handler
func (s *Server) handleGetChecker(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadChecker(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toCheckerResponse(c))
}

// Update checker handler
func (s *Server) handleUpdateChecker(w http.ResponseWriter, r *http.Request) {
	var req UpdateCheckerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	c, ok := s.loadChecker(w, r)
	if !ok {
		return
	}

	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Rule != nil {
		c.Rule = *req.Rule
	}
	if req.Dialect != nil {
		c.Dialect = *req.Dialect
	}
	if req.Datasources != nil {
		c.Datasources = *req.Datasources
	}
	if req.Active != nil {
		c.Active = *req.Active
	}

	if err := s.validateChecker(r.Context(), c); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	if err := s.store.Update(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "checker not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update checker", err)
		return
	}
	s.runner.Invalidate()

	updated, err := s.store.Get(r.Context(), c.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload checker", err)
		return
	}
	respondJSON(w, http.StatusOK, toCheckerResponse(updated))
}

// Delete checker handler
func (s *Server) handleDeleteChecker(w http.ResponseWriter, r *http.Request) {
	checkerID := chi.URLParam(r, "checkerId")

	if err := s.store.Delete(r.Context(), checkerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "checker not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete checker", err)
		return
	}
	s.runner.Invalidate()

	logger.Info("checker deleted", "checker_id", checkerID)
	w.WriteHeader(http.StatusNoContent)
}

// Run checker handler. The cycle runs on the request context.
func (s *Server) handleRunChecker(w http.ResponseWriter, r *http.Request) {
	checkerID := chi.URLParam(r, "checkerId")

	report, err := s.runner.RunOnce(r.Context(), checkerID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "checker not found", err)
		return
	}
	if report == nil {
		respondError(w, http.StatusInternalServerError, "failed to run checker", err)
		return
	}

	resp := RunResponse{
		CheckerID:  report.CheckerID,
		Green:      report.Green(),
		Status:     store.StatusFor(report.Green()),
		Outcome:    report.Outcome.Kind.String(),
		State:      report.State.String(),
		Dropped:    report.Dropped,
		DurationMs: report.Duration.Milliseconds(),
	}
	if report.Cause != nil {
		resp.Cause = report.Cause.Error()
	}

	if err != nil {
		resp.Error = err.Error()
		status := http.StatusInternalServerError
		if checker.Classify(err) == checker.ErrNotifierFailure {
			status = http.StatusBadGateway
			// the status was not persisted
			if c, getErr := s.store.Get(r.Context(), checkerID); getErr == nil {
				resp.Status = c.Status
			}
		}
		respondJSON(w, status, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// List executions handler
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	checkerID := chi.URLParam(r, "checkerId")

	limit := DefaultExecutionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	executions, err := s.store.ListExecutions(r.Context(), checkerID, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "checker not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	if executions == nil {
		executions = []*store.Execution{}
	}
	respondJSON(w, http.StatusOK, ExecutionsListResponse{Executions: executions})
}

// loadChecker fetches the checker named in the URL, writing the error
// response itself when it cannot
func (s *Server) loadChecker(w http.ResponseWriter, r *http.Request) (*store.Checker, bool) {
	checkerID := chi.URLParam(r, "checkerId")

	c, err := s.store.Get(r.Context(), checkerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "checker not found", err)
			return nil, false
		}
		respondError(w, http.StatusInternalServerError, "failed to get checker", err)
		return nil, false
	}
	return c, true
}

// validateChecker checks the definition and runs the rule through the filter
func (s *Server) validateChecker(ctx context.Context, c *store.Checker) error {
	if err := store.ValidateChecker(c); err != nil {
		return err
	}
	if _, err := s.runner.Engine().Filter(ctx, c.RuleSpec()); err != nil {
		return err
	}
	return nil
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	logger.CountHTTPStatus(status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", "status", status, "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error(message, "status", status, "error", err)
	}
	respondJSON(w, status, response)
}
