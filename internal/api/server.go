package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/config"
	"github.com/JakeFAU/tracker-mirror/internal/jobs"
	"github.com/JakeFAU/tracker-mirror/internal/metrics"
)

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
)

// ReadinessChecker reports whether a downstream dependency is reachable.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the work queue and catalog.
type Server struct {
	router  chi.Router
	queue   catalog.Queue
	ids     catalog.IDGenerator
	checker ReadinessChecker
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. catalogHandler
// and checker are optional.
func NewServer(
	queue catalog.Queue,
	ids catalog.IDGenerator,
	catalogHandler *CatalogHandler,
	checker ReadinessChecker,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:   queue,
		ids:     ids,
		checker: checker,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/discover", s.enqueueTask(jobs.DiscoverIndex))
			r.Post("/feeds", s.enqueueTask(jobs.UpdateFeeds))
			r.Post("/map", s.enqueueTask(jobs.RebuildMap))
			r.Post("/dirty", s.enqueueTask(jobs.SweepDirty))
		})
		if catalogHandler != nil {
			r.Get("/status", catalogHandler.Status)
			r.Get("/categories", catalogHandler.ListCategories)
			r.Get("/entries", catalogHandler.LatestEntries)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.checker != nil {
		if err := s.checker.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// enqueueTask returns a handler that queues a payload-less job of the given name.
func (s *Server) enqueueTask(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := s.ids.NewID()
		if err != nil {
			s.logger.Error("generate job id failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create job")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
		defer cancel()
		if err := s.queue.Enqueue(ctx, catalog.Job{ID: jobID, Name: name}); err != nil {
			s.logger.Error("enqueue task failed", zap.String("job", name), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "failed to enqueue job")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "job": name})
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
