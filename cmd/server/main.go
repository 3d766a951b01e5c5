// Command server runs the language-practice backend: a Gin HTTP API backed by
// SQLite, with Gemini-powered analysis and reply generation for German
// learner conversations.
//
// Startup order matters: env → config → logging → DB → tracing → AI adapters
// → sessions → router → server. Shutdown reverses it gracefully.
//
// @title        Tandem Practice API
// @version      1.0
// @description  Message correction and gating backend for German language practice conversations.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-tandem-backend/docs"
	"github.com/tbourn/go-tandem-backend/internal/ai"
	"github.com/tbourn/go-tandem-backend/internal/config"
	"github.com/tbourn/go-tandem-backend/internal/engine"
	httpapi "github.com/tbourn/go-tandem-backend/internal/http"
	"github.com/tbourn/go-tandem-backend/internal/observability"
	"github.com/tbourn/go-tandem-backend/internal/repo"
	"github.com/tbourn/go-tandem-backend/internal/services"
	"github.com/tbourn/go-tandem-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("setup AI providers")
	}

	rules := engine.Rules{
		MaxAttempts:          cfg.MaxAttempts,
		EnglishWordThreshold: cfg.EnglishWordThreshold,
	}
	sessions := services.NewSessionManager(rules, cfg.SessionTTL)

	// Evict idle conversation sessions in the background.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go sweepSessions(sweepCtx, sessions, cfg.SessionTTL)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, sessions, providers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for termination signal, then drain.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info().Msg("shutdown signal received")

	stopSweep()

	drainCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(drainCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("server stopped")
}

// buildProviders dials Gemini once and shares the client across the four
// adapters the practice flow needs.
func buildProviders(ctx context.Context, cfg config.Config) (httpapi.Providers, error) {
	client, err := ai.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return httpapi.Providers{}, err
	}
	return httpapi.Providers{
		Analyzer:  &ai.Analyzer{Client: client},
		Responder: &ai.Responder{Client: client},
		Suggester: &ai.Suggester{Client: client},
		Renderer:  &ai.Renderer{Client: client},
	}, nil
}

// sweepSessions periodically drops sessions idle longer than the TTL. The
// sweep interval is a fraction of the TTL so eviction lag stays small.
func sweepSessions(ctx context.Context, sessions *services.SessionManager, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := sessions.Sweep(now); n > 0 {
				log.Debug().Int("evicted", n).Msg("session sweep")
			}
		}
	}
}
