package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
	"github.com/JakeFAU/hnarchiver/internal/metrics"
)

// CycleSource exposes the most recent cycle report.
type CycleSource interface {
	Latest() (crawler.CycleReport, bool)
}

// LedgerView lists archived story ids.
type LedgerView interface {
	IDs() []int64
}

// Server wires HTTP handlers to the poller and ledger.
type Server struct {
	router chi.Router
	cycles CycleSource
	ledger LedgerView
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cycles CycleSource, ledger LedgerView, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cycles: cycles,
		ledger: ledger,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cycles/latest", s.latestCycle)
		r.Get("/ledger", s.listLedger)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.cycles == nil || s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) latestCycle(w http.ResponseWriter, _ *http.Request) {
	if s.cycles == nil {
		s.writeError(w, http.StatusServiceUnavailable, "poller unavailable")
		return
	}
	report, ok := s.cycles.Latest()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no cycle has run yet")
		return
	}
	s.writeJSON(w, http.StatusOK, cycleDTO{
		CycleID:   report.CycleID,
		Iteration: report.Iteration,
		StartedAt: report.StartedAt,
		ElapsedMS: report.Elapsed.Milliseconds(),
		Fetches:   report.Fetches,
		Stories:   report.Stories,
		Skipped:   report.Skipped,
	})
}

func (s *Server) listLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	ids := s.ledger.IDs()
	if ids == nil {
		ids = []int64{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(ids), "ids": ids})
}

type cycleDTO struct {
	CycleID   string                `json:"cycle_id"`
	Iteration int                   `json:"iteration"`
	StartedAt time.Time             `json:"started_at"`
	ElapsedMS int64                 `json:"elapsed_ms"`
	Fetches   int64                 `json:"fetches"`
	Stories   []crawler.StoryReport `json:"stories"`
	Skipped   []int64               `json:"skipped"`
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
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
		s.logger.Debug("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
