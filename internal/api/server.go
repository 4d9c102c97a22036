// Package api exposes the HTTP interface for the extraction service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/jobs"
	"github.com/webextract/webextract/internal/metrics"
	"github.com/webextract/webextract/internal/pipeline"
	"github.com/webextract/webextract/internal/status"
)

// AuthConfig gates the API behind a shared key when enabled.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// Server wires HTTP handlers to the job manager and aggregator.
type Server struct {
	router     chi.Router
	manager    *jobs.Manager
	aggregator *status.Aggregator
	records    pipeline.RecordStore
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	manager *jobs.Manager,
	aggregator *status.Aggregator,
	records pipeline.RecordStore,
	auth AuthConfig,
	logger *zap.Logger,
) *Server {
	s := &Server{
		manager:    manager,
		aggregator: aggregator,
		records:    records,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/records", s.getJobRecords)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Get("/fleet/stats", s.getFleetStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitJobRequest struct {
	Name       string   `json:"name"`
	Purpose    string   `json:"purpose"`
	URLs       []string `json:"urls"`
	BatchSize  int      `json:"batch_size"`
	MaxWorkers int      `json:"max_workers"`
	Priority   int      `json:"priority"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// An omitted batch_size decodes to zero; treat it as "use the default".
	// Explicit out-of-range values still reach the manager and are rejected.
	if req.BatchSize == 0 {
		req.BatchSize = jobs.DefaultBatchSize
	}
	job, err := s.manager.Submit(r.Context(), jobs.SubmitRequest{
		Name:    req.Name,
		Purpose: req.Purpose,
		URLs:    req.URLs,
		Config: pipeline.JobConfig{
			BatchSize:  req.BatchSize,
			MaxWorkers: req.MaxWorkers,
			Priority:   req.Priority,
		},
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	progress, err := s.aggregator.JobProgress(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, progress)
}

func (s *Server) getJobRecords(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.manager.GetJob(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	records, err := s.records.ListRecords(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to fetch records")
		return
	}
	if records == nil {
		records = []pipeline.ExtractedRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  jobID,
		"records": records,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.manager.Cancel(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getFleetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.aggregator.FleetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to compute fleet stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// writeDomainError maps pipeline errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, pipeline.ErrQueueClosed):
		s.writeError(w, http.StatusServiceUnavailable, "service shutting down")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, msg string) {
	s.writeJSON(w, statusCode, map[string]string{"error": msg})
}
