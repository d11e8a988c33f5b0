// Package http provides the HTTP interface for the progression engine.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/habitforge/progression-hub/internal/application/command"
	"github.com/habitforge/progression-hub/internal/application/query"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host to bind to.
	Host string

	// Port to listen on.
	Port int

	// ReadTimeout for reading the request.
	ReadTimeout time.Duration

	// WriteTimeout for writing the response.
	WriteTimeout time.Duration

	// IdleTimeout for keep-alive connections.
	IdleTimeout time.Duration

	// ShutdownTimeout for graceful shutdown.
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps the request body size.
	MaxBodyBytes int64

	// EnableCORS enables CORS headers.
	EnableCORS bool

	// AllowedOrigins for CORS. Empty means allow all.
	AllowedOrigins []string

	// RateLimitPerMin is requests per minute per client IP. Zero disables
	// rate limiting.
	RateLimitPerMin int

	// AdminTokenHash is the bcrypt hash of the bearer token that authorizes
	// challenge administration endpoints. Empty disables those endpoints.
	AdminTokenHash string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    1 << 20,
		EnableCORS:      true,
		RateLimitPerMin: 300,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ProgressionReadCache is the optional read-through cache in front of the
// progression query.
type ProgressionReadCache interface {
	GetProgression(ctx context.Context, userID shared.UserID) (*query.ProgressionDTO, bool)
	SetProgression(ctx context.Context, userID shared.UserID, dto *query.ProgressionDTO)
}

// Dependencies contains the handlers the server routes to.
type Dependencies struct {
	ApplyEvent      *command.ApplyEventHandler
	JoinChallenge   *command.JoinChallengeHandler
	CreateChallenge *command.CreateChallengeHandler
	EditChallenge   *command.EditChallengeHandler

	GetProgression *query.GetProgressionHandler
	GetStandings   *query.GetStandingsHandler
	ListChallenges *query.ListChallengesHandler

	// ProgressionCache is optional; nil disables the read-through path.
	ProgressionCache ProgressionReadCache

	// Checks are pinged by the readiness endpoint, keyed by dependency name.
	Checks map[string]HealthChecker

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP server for the progression engine API.
type Server struct {
	config  Config
	deps    Dependencies
	httpSrv *http.Server
	limiter *rateLimiter
	log     *logger.Logger
	started time.Time
}

// NewServer creates a new HTTP server.
func NewServer(config Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("http"))

	s := &Server{
		config: config,
		deps:   deps,
		log:    log,
	}
	if config.RateLimitPerMin > 0 {
		s.limiter = newRateLimiter(config.RateLimitPerMin, time.Minute)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:         config.Addr(),
		Handler:      s.buildMiddlewareChain(mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// registerRoutes wires the route table.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health endpoints.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	// Inbound event ingestion.
	mux.HandleFunc("POST /api/v1/events", s.handleApplyEvent)

	// Progression reads.
	mux.HandleFunc("GET /api/v1/users/{id}/progression", s.handleGetProgression)

	// Challenges.
	mux.HandleFunc("GET /api/v1/challenges", s.handleListChallenges)
	mux.HandleFunc("POST /api/v1/challenges/{id}/join", s.handleJoinChallenge)
	mux.HandleFunc("GET /api/v1/challenges/{id}/standings", s.handleGetStandings)

	// Challenge administration.
	mux.HandleFunc("POST /api/v1/challenges", s.requireAdmin(s.handleCreateChallenge))
	mux.HandleFunc("PATCH /api/v1/challenges/{id}", s.requireAdmin(s.handleEditChallenge))
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	s.started = time.Now().UTC()
	s.log.Info("http server starting", logger.String("addr", s.config.Addr()))

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine and reports startup errors on
// the returned channel.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server shutting down")

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.httpSrv.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the mux in the standard middleware stack.
// Order (outermost first): request id, logging, recovery, CORS, rate limit.
func (s *Server) buildMiddlewareChain(h http.Handler) http.Handler {
	h = s.rateLimitMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.recoveryMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.requestIDMiddleware(h)
	return h
}

type requestIDKey struct{}

// requestIDMiddleware assigns each request an id, honoring an inbound
// X-Request-ID header.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIDFrom extracts the request id from the context.
func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// loggingMiddleware logs each request with its latency and status.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.log.Info("request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rw.status),
			logger.Latency(time.Since(start)),
			logger.String("client_ip", getClientIP(r)),
			logger.String(logger.RequestIDKey, requestIDFrom(r.Context())),
		)
	})
}

// recoveryMiddleware converts panics into 500 responses.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler",
					logger.String("path", r.URL.Path),
					logger.Any("panic", fmt.Sprintf("%v", rec)),
				)
				s.writeJSONError(w, r, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.EnableCORS {
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed checks the origin against the allowlist.
func (s *Server) originAllowed(origin string) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// rateLimitMiddleware applies per-IP rate limiting.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(getClientIP(r)) {
			s.writeJSONError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin guards challenge administration endpoints with a bearer token
// checked against the configured bcrypt hash.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminTokenHash == "" {
			s.writeJSONError(w, r, http.StatusForbidden, "administration endpoints are disabled")
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			s.writeJSONError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.config.AdminTokenHash), []byte(token)); err != nil {
			s.writeJSONError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the standard response envelope.
type JSONResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a success response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	resp := JSONResponse{
		Success:   true,
		Data:      data,
		RequestID: requestIDFrom(r.Context()),
	}
	s.write(w, status, resp)
}

// writeJSONError writes an error response.
func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, status int, message string) {
	resp := JSONResponse{
		Success:   false,
		Error:     message,
		RequestID: requestIDFrom(r.Context()),
	}
	s.write(w, status, resp)
}

func (s *Server) write(w http.ResponseWriter, status int, resp JSONResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to encode response", logger.Err(err))
	}
}

// writeDomainError maps a domain error to an HTTP status. Internal failures
// are logged and masked.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsValidation(err):
		s.writeJSONError(w, r, http.StatusBadRequest, err.Error())
	case shared.IsNotFound(err):
		s.writeJSONError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, shared.ErrChallengeLocked):
		s.writeJSONError(w, r, http.StatusConflict, err.Error())
	case shared.IsAlreadyExists(err), shared.IsConflict(err), shared.IsUserFacing(err):
		s.writeJSONError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		s.writeJSONError(w, r, http.StatusUnauthorized, err.Error())
	default:
		s.log.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
			logger.String(logger.RequestIDKey, requestIDFrom(r.Context())),
		)
		s.writeJSONError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes a JSON request body with a size cap.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// responseWriter captures the response status for logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// getClientIP resolves the client IP, honoring proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// rateLimiter is a fixed-window per-key counter.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	counts  map[string]int
	resetAt time.Time
	done    chan struct{}
	once    sync.Once
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		limit:   limit,
		window:  window,
		counts:  make(map[string]int),
		resetAt: time.Now().Add(window),
		done:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.After(rl.resetAt) {
		rl.counts = make(map[string]int)
		rl.resetAt = now.Add(rl.window)
	}
	rl.counts[key]++
	return rl.counts[key] <= rl.limit
}

// cleanupLoop clears stale windows so idle servers do not hold counts.
func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			if time.Now().After(rl.resetAt) {
				rl.counts = make(map[string]int)
				rl.resetAt = time.Now().Add(rl.window)
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}
