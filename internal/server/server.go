package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SiwatS/chronocrypt-kms/internal/audit"
	"github.com/SiwatS/chronocrypt-kms/internal/handler"
	"github.com/SiwatS/chronocrypt-kms/internal/openapi"
	"github.com/SiwatS/chronocrypt-kms/internal/server/middleware"
	"github.com/SiwatS/chronocrypt-kms/internal/service"
	"github.com/SiwatS/chronocrypt-kms/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	SessionTTL      time.Duration
	RequestsPerMin  int // global per-IP rate limit
	LoginPerMin     int // tighter limit on credential endpoints
	BcryptCost      int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		SessionTTL:      service.DefaultSessionTTL,
		RequestsPerMin:  300,
		LoginPerMin:     10,
		BcryptCost:      service.DefaultBcryptCost,
	}
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server is the top-level HTTP server for the console. It owns the Chi
// router and wires the store, session manager, authenticator, gateway, and
// audit trail into routes.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	sessions   *service.SessionManager
	auth       *service.APIKeyAuthenticator
	gateway    *service.AuthorizationGateway
	trail      *audit.Trail
	correlator *audit.Correlator
	keyholder  HealthChecker
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
// keyholder may be nil when the console runs without a reachability probe.
func New(cfg Config, st *store.Store, sessions *service.SessionManager, auth *service.APIKeyAuthenticator,
	gateway *service.AuthorizationGateway, trail *audit.Trail, correlator *audit.Correlator,
	keyholder HealthChecker, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		sessions:   sessions,
		auth:       auth,
		gateway:    gateway,
		trail:      trail,
		correlator: correlator,
		keyholder:  keyholder,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.RequestsPerMin > 0 {
		r.Use(middleware.RateLimit(s.cfg.RequestsPerMin))
	}

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- API description (no auth required) ---
	r.Get("/openapi.json", openapi.Handler())

	sysHandler := handler.NewSystemHandler(s.store, s.sessions, s.cfg.SessionTTL, s.cfg.BcryptCost)
	reqHandler := handler.NewRequesterHandler(s.store, s.auth)
	polHandler := handler.NewPolicyHandler(s.store)
	accHandler := handler.NewAccessHandler(s.gateway, s.correlator, s.store)
	audHandler := handler.NewAuditHandler(s.trail)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// Credential endpoints are unauthenticated but tightly rate limited.
		r.Group(func(r chi.Router) {
			if s.cfg.LoginPerMin > 0 {
				r.Use(middleware.LoginRateLimit(s.cfg.LoginPerMin))
			}
			r.Post("/system/setup", sysHandler.Setup)
			r.Post("/system/admin/session", sysHandler.Login)
		})

		// Key access submission requires an API key credential.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.auth, s.sessions, s.store))
			r.Post("/requests", accHandler.SubmitRequest)
			r.Delete("/system/admin/session", sysHandler.Logout)
		})

		// Everything else is admin only.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.auth, s.sessions, s.store))
			r.Use(middleware.RequireAdmin())

			r.Get("/system/admin/session", sysHandler.CheckSession)
			r.Get("/system/admin", sysHandler.ListAdmins)
			r.Post("/system/admin", sysHandler.CreateAdmin)

			r.Get("/requesters", reqHandler.ListRequesters)
			r.Post("/requesters", reqHandler.CreateRequester)
			r.Get("/requesters/{requesterId}", reqHandler.GetRequester)
			r.Put("/requesters/{requesterId}", reqHandler.UpdateRequester)
			r.Delete("/requesters/{requesterId}", reqHandler.DeleteRequester)

			r.Get("/requesters/{requesterId}/keys", reqHandler.ListKeys)
			r.Post("/requesters/{requesterId}/keys", reqHandler.CreateKey)
			r.Delete("/keys/{keyId}", reqHandler.RevokeKey)
			r.Patch("/keys/{keyId}", reqHandler.SetKeyEnabled)

			r.Get("/policies", polHandler.ListPolicies)
			r.Post("/policies", polHandler.CreatePolicy)
			r.Get("/policies/{policyId}", polHandler.GetPolicy)
			r.Put("/policies/{policyId}", polHandler.UpdatePolicy)
			r.Delete("/policies/{policyId}", polHandler.DeletePolicy)

			r.Get("/requests", accHandler.ListRequests)
			r.Get("/requests/history", accHandler.ListHistory)

			r.Get("/audit", audHandler.ListEvents)
			r.Get("/audit/statistics", audHandler.Statistics)
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

// handleReadyz is a readiness probe. Returns 200 when the store and the
// key-holder are reachable, or 503 when either is not.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}

	if s.keyholder != nil {
		if err := s.keyholder.Ping(r.Context()); err != nil {
			checks["key-holder"] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks["key-holder"] = "ok"
		}
	}

	httpStatus := http.StatusOK
	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

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

	s.sessions.Stop()
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
