// Package http serves the customer ledger JSON API.
//
// Every handler works against the in-memory ledger; durable writes and
// spreadsheet export ride behind it. Read endpoints that aggregate over
// the whole customer set are cached and the cache is dropped on any
// mutation.
package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"lufashion/internal/cache"
	"lufashion/internal/config"
	"lufashion/internal/core"
	"lufashion/internal/ledger"
	"lufashion/internal/log"
)

const (
	viewCacheSize     = 64
	viewCacheTTL      = 30 * time.Second
	mutationsPerMin   = 60
	readHeaderTimeout = 5 * time.Second
)

// Server is the HTTP front end. It embeds http.Server so callers drive
// ListenAndServe directly and shut down through Shutdown.
type Server struct {
	http.Server

	ledger     *ledger.Ledger
	logger     *log.StructuredLogger
	limiter    *rateLimiter
	metrics    *securityMetrics
	classifier core.Classifier

	authUser     string
	authPassword string

	statsCache   *cache.LRUCache[statsView]
	listCache    *cache.LRUCache[[]customerView]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer wires the API over the given ledger. The returned server is
// ready for ListenAndServe.
func NewServer(cfg *config.Config, led *ledger.Ledger, logger *log.Logger) *Server {
	s := &Server{
		ledger:       led,
		logger:       log.NewStructuredLogger(logger.WithComponent(log.ComponentHTTP)),
		limiter:      newRateLimiter(mutationsPerMin),
		metrics:      &securityMetrics{},
		classifier:   core.Classifier{DueSoonWindowDays: cfg.DueSoonWindowDays},
		authUser:     cfg.AuthUser,
		authPassword: cfg.AuthPassword,
		statsCache:   cache.NewLRUCache[statsView](viewCacheSize, viewCacheTTL),
		listCache:    cache.NewLRUCache[[]customerView](viewCacheSize, viewCacheTTL),
		cacheManager: cache.NewManager(),
	}
	s.cacheManager.Register(s.statsCache)
	s.cacheManager.Register(s.listCache)
	s.cacheManager.StartCleanup(time.Minute)

	mux := http.NewServeMux()
	s.routes(mux)

	s.Server = http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.withSecurityHeaders(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.withBasicAuth(h))
	}

	api("POST /api/customers", s.handleCreateCustomer)
	api("GET /api/customers", s.handleListCustomers)
	api("GET /api/customers/{id}", s.handleGetCustomer)
	api("PATCH /api/customers/{id}", s.handleUpdateCustomer)
	api("DELETE /api/customers/{id}", s.handleRemoveCustomer)

	api("POST /api/customers/{id}/charges", s.handleRecordCharge)
	api("POST /api/customers/{id}/payments", s.handleRecordPayment)
	api("PATCH /api/customers/{id}/transactions/{txID}", s.handleEditTransaction)
	api("DELETE /api/customers/{id}/transactions/{txID}", s.handleRemoveTransaction)

	api("GET /api/stats", s.handleStats)
	api("GET /api/overdue", s.handleOverdue)
	api("GET /api/due-soon", s.handleDueSoon)
}

// invalidateViews drops cached aggregate views after a mutation.
func (s *Server) invalidateViews() {
	s.statsCache.Clear()
	s.listCache.Clear()
}

// withSecurityHeaders is the outermost middleware: security headers,
// request tracing, request logging, and the mutation rate limit.
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Request-ID", requestID)

		ctx := log.WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		if detectSuspiciousRequest(r, s.metrics) {
			s.logger.LogError(ctx, "Suspicious request pattern", nil,
				log.ComponentSecurity, r.Method+" "+r.URL.Path, log.LogFields{})
		}

		if isMutation(r.Method) && !s.limiter.allow(clientIP, s.metrics) {
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		s.logger.LogHTTPStart(ctx, r, clientIP)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

// withBasicAuth gates the API when credentials are configured. Health
// endpoints stay open for probes.
func (s *Server) withBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authUser == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.authUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.authPassword)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="lufashion"`)
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown stops background goroutines and drains in-flight requests.
// Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.stop()
		s.cacheManager.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
