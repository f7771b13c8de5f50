package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dustin/sitepulse/internal/analytics"
	"github.com/dustin/sitepulse/internal/config"
	"github.com/dustin/sitepulse/internal/contact"
	"github.com/dustin/sitepulse/internal/content"
	"github.com/dustin/sitepulse/internal/metrics"
	"github.com/dustin/sitepulse/internal/sse"
	"github.com/dustin/sitepulse/internal/version"
)

// Pinger reports whether the event store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the HTTP layer serves. Ingestor, Aggregator and
// Store are required; the rest fall back to config-derived defaults or are
// disabled when nil.
type Deps struct {
	Ingestor   *analytics.Ingestor
	Aggregator *analytics.Aggregator
	Store      Pinger
	Hub        *sse.Hub
	Contact    *contact.Service
	Content    *content.Store
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
}

type Server struct {
	cfg  config.Config
	deps Deps
	mux  *http.ServeMux

	rateLimiter    *RateLimiter
	contactLimiter *RateLimiter
	cors           corsPolicy

	streamKeepAlive time.Duration
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = sse.NewHub()
	}
	if deps.Contact == nil {
		deps.Contact = contact.NewService(cfg.Mail.Recipient, nil)
	}
	if deps.Content == nil {
		deps.Content = content.NewStore(cfg.GeneratedContentPath())
	}

	s := &Server{
		cfg:             cfg,
		deps:            deps,
		mux:             http.NewServeMux(),
		rateLimiter:     NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
		contactLimiter:  NewRateLimiter(cfg.ContactRateLimit, cfg.ContactRateWindow),
		cors:            corsPolicy{origins: cfg.AllowedOrigins},
		streamKeepAlive: 25 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("GET", "/health", s.handleHealth)
	s.handle("GET", "/robots.txt", s.handleRobotsTxt)

	s.handle("POST", "/api/track", s.handleTrack)
	s.handle("POST", "/track", s.handleTrack)
	s.handle("GET", "/api/analytics", s.handleAnalytics)
	s.handle("GET", "/analytics", s.handleAnalytics)
	s.handle("GET", "/api/analytics/stream", s.handleStream)

	s.handle("POST", "/api/contact", s.handleContact)
	s.handle("GET", "/api/ai-content", s.handleContent)

	if s.cfg.MetricsEnabled && s.deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", metrics.Handler(s.deps.Gatherer))
	}
}

// handle registers h for method and path, recording request metrics under
// the path as route label.
func (s *Server) handle(method, path string, h http.HandlerFunc) {
	s.mux.HandleFunc(method+" "+path, s.instrument(path, h))
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if s.deps.Metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.deps.Metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	if s.cors.apply(w, r) {
		return
	}

	if s.rateLimiter.enabled {
		ip := extractIP(r)
		if !s.rateLimiter.Allow(ip) {
			slog.Debug("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}
	}

	if s.cfg.MaxRequestBodyBytes > 0 && r.ContentLength > s.cfg.MaxRequestBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	if s.cfg.MaxRequestBodyBytes > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBodyBytes)
	}

	s.mux.ServeHTTP(w, r)
}

// Close stops the rate limiter sweeps.
func (s *Server) Close() {
	s.rateLimiter.Close()
	s.contactLimiter.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, storeStatus, code := "ok", "ok", http.StatusOK
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		status, storeStatus, code = "error", "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"store":   storeStatus,
		"version": version.Version,
	})
}

func (s *Server) handleRobotsTxt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("User-agent: *\nDisallow: /api/\n"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
