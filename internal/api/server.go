// Package api exposes the HTTP interface for the screenshot service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/dedup"
	"github.com/pagelens/pagelens/internal/fingerprint"
	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/queue"
	"github.com/pagelens/pagelens/internal/quota"
	"github.com/pagelens/pagelens/internal/ratelimit"
	"github.com/pagelens/pagelens/internal/screenshot"
	"github.com/pagelens/pagelens/internal/storage"
)

// Captures resolves a fingerprinted request to a stored screenshot.
// *queue.Service is the production implementation.
type Captures interface {
	Execute(ctx context.Context, fp fingerprint.Fingerprint, req screenshot.CaptureRequest) (queue.Result, error)
}

// Server wires HTTP handlers to the capture pipeline and stores.
type Server struct {
	router      chi.Router
	captures    Captures
	coordinator *dedup.Coordinator[queue.Result]
	objects     storage.ObjectStore
	ledger      quota.Ledger
	limiter     *ratelimit.Limiter
	clock       screenshot.Clock
	logger      *zap.Logger
	cfg         config.Config
	ready       func(ctx context.Context) error
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	captures Captures,
	coordinator *dedup.Coordinator[queue.Result],
	objects storage.ObjectStore,
	ledger quota.Ledger,
	limiter *ratelimit.Limiter,
	clock screenshot.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if clock == nil {
		clock = screenshot.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		captures:    captures,
		coordinator: coordinator,
		objects:     objects,
		ledger:      ledger,
		limiter:     limiter,
		clock:       clock,
		logger:      logger,
		cfg:         cfg,
	}
	s.ready = func(ctx context.Context) error {
		return objects.HealthCheck(ctx)
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout()))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/screenshots", func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(s.apiKeyMiddleware)
			}
			r.Get("/take", s.takeScreenshot)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddReadyCheck chains an extra probe onto /readyz. Checks run in order;
// the first failure marks the server not ready.
func (s *Server) AddReadyCheck(check func(ctx context.Context) error) {
	prev := s.ready
	s.ready = func(ctx context.Context) error {
		if err := prev(ctx); err != nil {
			return err
		}
		return check(ctx)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.ready(ctx); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "storage unreachable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

// tenantIDFrom resolves the authenticated tenant. With auth disabled the
// caller names itself via tenant_id, falling back to a shared default.
func (s *Server) tenantIDFrom(r *http.Request) string {
	if tenant, ok := r.Context().Value(tenantKey{}).(string); ok && tenant != "" {
		return tenant
	}
	if tenant := r.URL.Query().Get("tenant_id"); tenant != "" {
		return tenant
	}
	return "default"
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
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
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
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

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		tenant, ok := s.cfg.Auth.APIKeys[key]
		if key == "" || !ok {
			writeError(s.logger, w, http.StatusUnauthorized, "invalid API key")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey{}, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

type tenantKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
