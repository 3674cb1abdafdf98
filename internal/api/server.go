package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockcrawler/internal/metrics"
	"github.com/JakeFAU/stockcrawler/internal/scheduler"
	"github.com/JakeFAU/stockcrawler/internal/storage/memory"
)

// Scheduler is the part of scheduler.Scheduler the API drives.
type Scheduler interface {
	Triggers() []scheduler.TriggerInfo
	HasTask(name string) bool
	RunNow(ctx context.Context, name string) error
}

// RunLog serves recorded runs.
type RunLog interface {
	Recent(limit int) []memory.RunRecord
	Last(task string) (memory.RunRecord, bool)
}

// Options holds optional server settings.
type Options struct {
	// APIKey, when set, is required on every /v1 request.
	APIKey string
	// Timeout bounds each request. Zero means one minute.
	Timeout time.Duration
}

// Server wires HTTP handlers to the scheduler and run log.
type Server struct {
	router    chi.Router
	scheduler Scheduler
	runs      RunLog
	logger    *zap.Logger

	// base is the parent context of manual runs.
	base context.Context
	wg   sync.WaitGroup
}

const defaultRunsLimit = 50

// NewServer constructs a Server with middleware and routes. Manual runs
// started through the API inherit base.
func NewServer(base context.Context, sched Scheduler, runs RunLog, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	s := &Server{
		scheduler: sched,
		runs:      runs,
		logger:    logger.Named("api"),
		base:      base,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.Timeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/tasks", s.listTasks)
		r.Post("/tasks/{name}/run", s.runTask)
		r.Get("/runs", s.listRuns)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every manual run accepted so far has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type taskView struct {
	Name     string            `json:"name"`
	Schedule string            `json:"schedule"`
	NextRun  time.Time         `json:"next_run,omitzero"`
	LastRun  *memory.RunRecord `json:"last_run,omitempty"`
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	var out []taskView
	for _, trig := range s.scheduler.Triggers() {
		for _, name := range trig.Tasks {
			v := taskView{Name: name, Schedule: trig.Expression, NextRun: trig.NextRun}
			if s.runs != nil {
				if last, ok := s.runs.Last(name); ok {
					v.LastRun = &last
				}
			}
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.scheduler.HasTask(name) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	logger := s.logger.With(zap.String("task", name), zap.String("request_id", requestID(r.Context())))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.scheduler.RunNow(s.base, name); err != nil {
			if errors.Is(err, scheduler.ErrStopped) {
				logger.Warn("manual run rejected, scheduler stopped")
				return
			}
			logger.Error("manual run failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"task": name, "status": "accepted"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if s.runs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []memory.RunRecord{}})
		return
	}

	task := r.URL.Query().Get("task")
	runs := make([]memory.RunRecord, 0, limit)
	for _, rec := range s.runs.Recent(0) {
		if task != "" && rec.Task != task {
			continue
		}
		runs = append(runs, rec)
		if len(runs) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
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

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
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
