package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"

	"github.com/snaplinkhq/snaplink/internal/extract"
	"github.com/snaplinkhq/snaplink/internal/handler"
	"github.com/snaplinkhq/snaplink/internal/messaging"
	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/server/middleware"
	"github.com/snaplinkhq/snaplink/internal/service"
	"github.com/snaplinkhq/snaplink/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	BaseURL         string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	KeyRateLimit    int // requests per minute per API key
	AuthRateLimit   int // requests per minute per IP on auth endpoints
	MaxBodySize     int64
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		BaseURL:         "http://localhost:8080",
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		KeyRateLimit:    60,
		AuthRateLimit:   10,
		MaxBodySize:     1 * 1024 * 1024, // 1MB
	}
}

// Server is the top-level HTTP server for Snaplink. It owns the Chi router,
// the store, the extractor registry, the messaging session registry, and the
// auth, quota, and usage services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	quota      *service.Quota
	recorder   *service.Recorder
	keyLimits  *middleware.KeyRateLimiter
	extractors *extract.Registry
	sessions   *messaging.Registry
	httpServer *http.Server
	cron       *cron.Cron
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, extractors *extract.Registry, sessions *messaging.Registry, logger *slog.Logger) *Server {
	quota := service.NewQuota(st)
	s := &Server{
		cfg:        cfg,
		store:      st,
		authSvc:    authSvc,
		quota:      quota,
		recorder:   service.NewRecorder(st, quota, model.UsageLogCap),
		keyLimits:  middleware.NewKeyRateLimiter(),
		extractors: extractors,
		sessions:   sessions,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(chimw.RequestSize(s.cfg.MaxBodySize))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	accountHandler := handler.NewAccountHandler(s.store, s.authSvc)
	adminHandler := handler.NewAdminHandler(s.store)
	mediaHandler := handler.NewMediaHandler(s.extractors)
	toolsHandler := handler.NewToolsHandler(s.store, s.cfg.BaseURL)
	messagesHandler := handler.NewMessagesHandler(s.sessions)

	// Public short link redirects.
	r.Get("/s/{code}", toolsHandler.Redirect)

	r.Route("/api/v1", func(r chi.Router) {

		// Registration and login, rate limited by IP to slow down
		// credential stuffing.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(s.cfg.AuthRateLimit))
			r.Post("/auth/register", accountHandler.Register)
			r.Post("/auth/login", accountHandler.Login)
		})

		// Account endpoints require a JWT session.
		r.Route("/account", func(r chi.Router) {
			r.Use(middleware.RequireUser(s.authSvc))
			r.Get("/", accountHandler.Me)
			r.Get("/keys", accountHandler.ListKeys)
			r.Post("/keys", accountHandler.CreateKey)
			r.Delete("/keys/{keyId}", accountHandler.RevokeKey)
			r.Get("/usage", accountHandler.Usage)
		})

		// Admin endpoints require a JWT session with the admin role.
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireUser(s.authSvc))
			r.Use(middleware.RequireAdmin)
			r.Get("/users", adminHandler.ListUsers)
			r.Delete("/users/{userId}", adminHandler.DeactivateUser)
			r.Get("/keys", adminHandler.ListKeys)
			r.Get("/usage", adminHandler.ListUsage)
		})

		// The metered API surface: API key required, per-key rate limit,
		// daily quota, every request logged.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByKey(s.cfg.KeyRateLimit))
			r.Use(middleware.RequireAPIKey(s.authSvc, s.quota, s.recorder, s.keyLimits, s.logger))
			r.Get("/media", mediaHandler.Platforms)
			r.Get("/media/{platform}", mediaHandler.Extract)
			r.Get("/tools/qr", toolsHandler.QR)
			r.Post("/tools/shorten", toolsHandler.Shorten)
			r.Post("/messages", messagesHandler.Send)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store answers a
// ping, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","error":"store unreachable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// startCron schedules the daily usage log prune. The append path already
// evicts beyond the cap; the sweep covers rows orphaned by revoked keys and
// runs at midnight UTC.
func (s *Server) startCron() {
	s.cron = cron.New(cron.WithLocation(time.UTC))
	s.cron.AddFunc("0 0 * * *", func() {
		pruned, err := s.store.PruneUsage(context.Background(), model.UsageLogCap)
		if err != nil {
			s.logger.Error("usage log prune failed", "error", err)
			return
		}
		if pruned > 0 {
			s.logger.Info("usage log pruned", "removed", pruned)
		}
	})
	s.cron.Start()
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store and messaging sessions.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.startCron()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.cron.Stop()
	s.sessions.CloseAll()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
