// Package api exposes the HTTP interface for the fetch service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tmorandi/stubborn/internal/config"
	"github.com/tmorandi/stubborn/internal/fetch"
	"github.com/tmorandi/stubborn/internal/metrics"
	"github.com/tmorandi/stubborn/internal/queue"
	"github.com/tmorandi/stubborn/internal/storage"
)

// Server wires HTTP handlers to the queue and trail store.
type Server struct {
	router chi.Router
	queue  queue.Queue
	trails storage.TrailStore
	idGen  fetch.IDGenerator
	clock  fetch.Clock
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	q queue.Queue,
	trails storage.TrailStore,
	idGen fetch.IDGenerator,
	clock fetch.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:  q,
		trails: trails,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Server.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.Server.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/fetches", func(r chi.Router) {
			r.Post("/", s.submitFetch)
			r.Get("/{fetch_id}", s.getFetch)
		})
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
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitFetchRequest struct {
	URL            string            `json:"url"`
	Scope          string            `json:"scope"`
	Headers        map[string]string `json:"headers"`
	MaxAttempts    *int              `json:"max_attempts"`
	TimeoutSeconds *int              `json:"timeout_seconds"`
}

func (s *Server) submitFetch(w http.ResponseWriter, r *http.Request) {
	var body submitFetchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := s.toFetchRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	submitted := s.clock.Now()
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, req); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, fmt.Sprintf("enqueue fetch: %v", err))
		return
	}
	metrics.SetQueueDepth(s.queue.Depth())
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id":   req.ID,
		"submitted_at": submitted,
	})
}

func (s *Server) getFetch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fetch_id")
	rec, err := s.trails.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "fetch not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "load fetch record failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"result":     rec.Result,
		"blob_uri":   rec.BlobURI,
		"created_at": rec.CreatedAt,
	})
}

func (s *Server) toFetchRequest(body submitFetchRequest) (fetch.Request, error) {
	if body.URL == "" {
		return fetch.Request{}, errors.New("url is required")
	}
	parsed, err := url.Parse(body.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fetch.Request{}, errors.New("url must be absolute http or https")
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return fetch.Request{}, fmt.Errorf("generate request id: %w", err)
	}

	req := fetch.Request{
		ID:    id,
		URL:   body.URL,
		Scope: body.Scope,
	}
	if len(body.Headers) > 0 {
		req.Headers = make(http.Header, len(body.Headers))
		for k, v := range body.Headers {
			req.Headers.Set(k, v)
		}
	}
	if body.MaxAttempts != nil {
		if *body.MaxAttempts < 1 {
			return fetch.Request{}, errors.New("max_attempts must be at least 1")
		}
		req.MaxAttempts = *body.MaxAttempts
	}
	if body.TimeoutSeconds != nil {
		if *body.TimeoutSeconds < 1 {
			return fetch.Request{}, errors.New("timeout_seconds must be at least 1")
		}
		req.Timeout = time.Duration(*body.TimeoutSeconds) * time.Second
	}
	return req, nil
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

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		metrics.ObserveHTTPRequest(r.Method, strconv.Itoa(ww.status))
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSONStatic(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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

func writeJSONStatic(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
