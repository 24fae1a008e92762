package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/adminguard/internal/audit"
	"github.com/org/adminguard/internal/csrf"
	"github.com/org/adminguard/internal/guard"
	"github.com/org/adminguard/internal/identity"
	"github.com/org/adminguard/internal/policy"
	"github.com/org/adminguard/internal/routes"
	"github.com/org/adminguard/internal/security"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr     string
	TLSCertFile    string
	TLSKeyFile     string
	AuthEntryPoint string
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies are CIDRs or addresses of reverse proxies allowed to set
	// X-Forwarded-For and X-Real-IP. Headers from any other peer are ignored.
	TrustedProxies []string
}

// AuditQuerier reads the persisted audit log.
type AuditQuerier interface {
	QueryAuditLog(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// Deps are the core components the server routes requests to. Writer and Audit may be nil.
type Deps struct {
	Guard     *guard.Guard
	Resolver  *routes.Resolver
	Evaluator *policy.Evaluator
	Monitor   *security.Monitor
	CSRF      *csrf.Manager
	Identity  identity.Provider
	Audit     AuditQuerier
	Writer    *audit.Writer
}

// Server is the API server.
type Server struct {
	cfg       Config
	guard     *guard.Guard
	resolver  *routes.Resolver
	evaluator *policy.Evaluator
	monitor   *security.Monitor
	csrf      *csrf.Manager
	identity  identity.Provider
	auditLog  AuditQuerier
	writer    *audit.Writer
	limiter   *rateLimiter
	proxies   trustedProxies
	httpSrv   *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.AuthEntryPoint == "" {
		cfg.AuthEntryPoint = "/login"
	}
	s := &Server{
		cfg:       cfg,
		guard:     deps.Guard,
		resolver:  deps.Resolver,
		evaluator: deps.Evaluator,
		monitor:   deps.Monitor,
		csrf:      deps.CSRF,
		identity:  deps.Identity,
		auditLog:  deps.Audit,
		writer:    deps.Writer,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring trusted proxies, forwarding headers will not be honoured")
	}
	s.proxies = proxies
	return s
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)

	// Prometheus metrics bypass the guard.
	r.Handle("/metrics", MetricsHandler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimitMiddleware)
		}
		r.Use(s.identityMiddleware)
		r.Use(s.guardMiddleware)
		r.Use(s.csrfMiddleware)

		r.Get("/health", s.HealthHandler)

		r.Get("/api/auth/csrf", s.CSRFTokenHandler)
		r.Post("/api/auth/events", s.AuthEventHandler)

		r.Get("/api/security/check", s.CheckHandler)
		r.Get("/api/security/events", s.EventsHandler)
		r.Post("/api/security/events/{id}/resolve", s.ResolveEventHandler)
		r.Get("/api/security/stats", s.StatsHandler)
		r.Get("/api/security/blocks", s.BlocksListHandler)
		r.Post("/api/security/blocks", s.BlockHandler)
		r.Delete("/api/security/blocks/{ip}", s.UnblockHandler)
		r.Get("/api/security/audit", s.AuditLogHandler)
		r.Delete("/api/security/cache/{userID}", s.CacheInvalidateHandler)

		r.HandleFunc("/admin", s.AdminPassthroughHandler)
		r.HandleFunc("/admin/*", s.AdminPassthroughHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
