package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/adminguard/internal/api"
	"github.com/org/adminguard/internal/audit"
	"github.com/org/adminguard/internal/cache"
	"github.com/org/adminguard/internal/config"
	"github.com/org/adminguard/internal/csrf"
	"github.com/org/adminguard/internal/guard"
	"github.com/org/adminguard/internal/identity"
	"github.com/org/adminguard/internal/policy"
	"github.com/org/adminguard/internal/routes"
	"github.com/org/adminguard/internal/security"
	"github.com/org/adminguard/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const csrfCleanupInterval = 5 * time.Minute

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := config.LoadDotEnv(""); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc := policy.DefaultDocument()
	if cfg.PolicyFile != "" {
		if doc, err = policy.LoadDocument(cfg.PolicyFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("failed to load policy")
		}
		log.Info().Str("file", cfg.PolicyFile).Int("routes", len(doc.Routes)).Msg("policy loaded")
	}

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	permCache, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create permission cache")
	}
	defer permCache.Close()

	writer := audit.NewWriter(store, cfg.Audit)
	defer writer.Close()

	monitor := security.NewMonitor(cfg.Detection, writer)
	defer monitor.Close()
	if err := monitor.LoadBlocks(ctx, store); err != nil {
		log.Error().Err(err).Msg("failed to load persisted IP blocks")
	}

	csrfMgr, err := csrf.NewManager(cfg.CSRF)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create csrf manager")
	}

	ids, err := identity.NewTokenProvider(cfg.Tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid token configuration")
	}
	if len(cfg.Tokens) == 0 {
		log.Warn().Msg("no API tokens configured, every protected route will deny")
	}

	resolver := routes.NewResolver(doc.Routes, doc.PublicRoutes)
	evaluator := policy.NewEvaluator(policy.NewStaticRoles(doc.Roles), permCache)

	srv := api.NewServer(api.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		TLSCertFile:    cfg.Server.TLSCertFile,
		TLSKeyFile:     cfg.Server.TLSKeyFile,
		AuthEntryPoint: cfg.Server.AuthEntryPoint,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		TrustedProxies: cfg.Server.TrustedProxies,
	}, api.Deps{
		Guard:     guard.New(resolver, evaluator, monitor, writer),
		Resolver:  resolver,
		Evaluator: evaluator,
		Monitor:   monitor,
		CSRF:      csrfMgr,
		Identity:  ids,
		Audit:     store,
		Writer:    writer,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(csrfCleanupInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if n := csrfMgr.Cleanup(); n > 0 {
					log.Debug().Int("expired", n).Msg("csrf tokens cleaned up")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

// openStore connects to Postgres and migrates it, or falls back to memory when no
// database URL is configured.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Backend, error) {
	if cfg.URL == "" {
		log.Warn().Msg("database.url not set, security events and audit log are kept in memory only")
		return storage.NewMemoryBackend(), nil
	}
	store, err := storage.NewPostgresBackend(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := storage.RunMigrations(cfg.URL, cfg.MigrationsDir); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func setupLogging(cfg config.ServerConfig) {
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
