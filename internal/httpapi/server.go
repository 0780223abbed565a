// Package httpapi serves the management API and the WhatsApp webhook.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zapdeskhq/zapdesk/internal/agent"
	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

// Server is the HTTP front end: management endpoints under /v1 plus the
// Meta webhook at /webhook.
type Server struct {
	cfg     *config.Config
	stores  *store.Stores
	service *agent.Service

	limiter *ipRateLimiter

	// baseCtx is handed to background work started from request handlers.
	baseCtx context.Context

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the API server. service may be nil (webhook ingestion
// still stores messages but never triggers the agent).
func NewServer(ctx context.Context, cfg *config.Config, stores *store.Stores, service *agent.Service) *Server {
	return &Server{
		cfg:     cfg,
		stores:  stores,
		service: service,
		limiter: newIPRateLimiter(cfg.Server.RateLimitRPM),
		baseCtx: ctx,
	}
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	wh := &WebhookHandler{
		verifyToken: s.cfg.WhatsApp.VerifyToken,
		stores:      s.stores,
		service:     s.service,
		limiter:     s.limiter,
		baseCtx:     s.baseCtx,
	}
	wh.RegisterRoutes(mux)

	ah := &AgentsHandler{
		stores:  s.stores,
		service: s.service,
		token:   s.cfg.Server.AuthToken,
	}
	ah.RegisterRoutes(mux)

	s.mux = mux
	return mux
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.service != nil {
		resp["pending_batches"] = s.service.Coordinator().PendingCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ipRateLimiter keeps one token bucket per remote address.
type ipRateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	disabled bool
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		return &ipRateLimiter{disabled: true}
	}
	return &ipRateLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(rpm) / 60.0),
		burst:   5,
	}
}

func (l *ipRateLimiter) allow(key string) bool {
	if l.disabled {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

func remoteKey(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "error", err)
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
