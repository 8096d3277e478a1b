// Package server provides the HTTP REST API for the resume screener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/resume-screener/internal/observability"
	"github.com/jonathan/resume-screener/internal/screening"
	"github.com/jonathan/resume-screener/internal/server/ratelimit"
)

const (
	// DefaultMaxUploadBytes bounds one multipart upload request
	DefaultMaxUploadBytes = 50 << 20
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second
)

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	service         *screening.Service
	rateLimiter     *ratelimit.Limiter
	logger          *zap.Logger
	allowedOrigins  map[string]bool
	allowAll        bool
	maxUploadBytes  int64
	shutdownTimeout time.Duration
}

// Config holds server configuration
type Config struct {
	Addr            string
	AllowedOrigins  []string
	RateLimit       float64
	RateBurst       int
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// New creates a new server instance over service
func New(cfg Config, service *screening.Service, logger *zap.Logger) *Server {
	s := &Server{
		service:         service,
		logger:          observability.OrNop(logger),
		rateLimiter:     ratelimit.NewLimiter(ratelimit.DefaultConfig(cfg.RateLimit, cfg.RateBurst)),
		allowedOrigins:  make(map[string]bool),
		maxUploadBytes:  cfg.MaxUploadBytes,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = DefaultMaxUploadBytes
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			s.allowAll = true
		}
		s.allowedOrigins[origin] = true
	}
	if len(cfg.AllowedOrigins) == 0 {
		s.allowAll = true
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second, // criteria generation can take minutes
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /screening/start", s.handleStartSession)
	mux.HandleFunc("GET /screening/{id}", s.handleGetSession)
	mux.HandleFunc("POST /screening/{id}/upload", s.handleUpload)
	mux.HandleFunc("POST /screening/{id}/criteria/refine", s.handleRefineCriteria)
	mux.HandleFunc("GET /screening/{id}/criteria/history", s.handleCriteriaHistory)
	mux.HandleFunc("POST /screening/{id}/process", s.handleProcess)
	mux.HandleFunc("GET /screening/{id}/results", s.handleResults)
	mux.HandleFunc("GET /screening/{id}/candidate/{candidate_id}", s.handleCandidateDetail)
	mux.HandleFunc("GET /screening/{id}/candidate/{candidate_id}/history", s.handleCandidateHistory)

	mux.HandleFunc("GET /config/llm", s.handleGetLLMConfig)
	mux.HandleFunc("POST /config/llm", s.handleUpdateLLMConfig)
	mux.HandleFunc("GET /config/llm/models", s.handleListModels)

	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withRateLimit(s.withLogging(s.withCORS(mux)))
}

// Start serves until ctx is cancelled, then drains HTTP connections and
// in-flight scoring runs.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.rateLimiter.Stop()

	if err := s.service.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Scoring runs did not finish before the deadline", zap.Error(err))
	}
	s.logger.Info("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case s.allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && s.allowedOrigins[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(extractClientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", fields...)
			return
		}
		s.logger.Debug("Request completed", fields...)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// serviceError maps a service error onto a status and writes it
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	s.errorResponse(w, status, errorMessage(status, err))
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr.
func extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	s.logger.Info("Rate limit exceeded",
		zap.String("client", extractClientID(r)),
		zap.String("path", r.URL.Path),
		zap.Int("limit", info.Limit))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
