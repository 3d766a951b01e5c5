// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"github.com/tbourn/go-tandem-backend/internal/config"
	"github.com/tbourn/go-tandem-backend/internal/domain"
	"github.com/tbourn/go-tandem-backend/internal/http/handlers"
	"github.com/tbourn/go-tandem-backend/internal/http/middleware"
	"github.com/tbourn/go-tandem-backend/internal/repo"
	"github.com/tbourn/go-tandem-backend/internal/services"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Providers bundles the AI adapters injected into the practice service. The
// fields are the narrow service interfaces so tests (and degraded deployments)
// can swap any of them independently.
type Providers struct {
	Analyzer  services.Analyzer
	Responder services.Responder
	Suggester services.Suggester
	Renderer  services.Renderer
}

// conversationRepoShim adapts the repository free functions to the
// services.ConversationRepo interface expected by the ConversationService.
// This keeps services decoupled from the concrete repo package while reusing
// existing functions.
type conversationRepoShim struct{}

// CreateConversation proxies repo.CreateConversation.
func (conversationRepoShim) CreateConversation(ctx context.Context, db *gorm.DB, userID, title, level string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, userID, title, level)
}

// ListConversations proxies repo.ListConversations.
func (conversationRepoShim) ListConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error) {
	return repo.ListConversations(ctx, db, userID)
}

// GetConversation proxies repo.GetConversation.
func (conversationRepoShim) GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id, userID)
}

// UpdateConversationTitle proxies repo.UpdateConversationTitle.
func (conversationRepoShim) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, userID, title)
}

// CountConversations proxies repo.CountConversations (pagination support).
func (conversationRepoShim) CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID)
}

// ListConversationsPage proxies repo.ListConversationsPage (pagination support).
func (conversationRepoShim) ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, offset, limit)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validation (safe retries for message POSTs)
//  8. Rate limiter (per user/IP, skipped for idempotent replays)
//  9. Compression, CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, sessions *services.SessionManager, providers Providers, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (learner text stays out of logs)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting, so detected replays
	//    can bypass the limiter and be served from the stored result)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, conversationID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) Response compression for JSON payloads (transcripts compress well)
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (off by default; enable via SWAGGER_ENABLED)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/AI adapters
	convSvc := services.NewConversationService(db, conversationRepoShim{})
	convSvc.DefaultLevel = cfg.DefaultLevel

	practiceSvc := &services.PracticeService{
		DB:              db,
		Sessions:        sessions,
		Analyzer:        providers.Analyzer,
		Responder:       providers.Responder,
		Suggester:       providers.Suggester,
		Renderer:        providers.Renderer,
		MaxMessageRunes: cfg.MaxMessageRunes,
		TitleMaxLen:     60,
	}

	h := handlers.New(convSvc, practiceSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Conversations
		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)
		api.PUT("/conversations/:id/title", h.UpdateConversationTitle)

		// Correction flow
		api.POST("/conversations/:id/messages", h.SendMessage)
		api.GET("/conversations/:id/messages", h.ListTurns)
		api.GET("/conversations/:id/state", h.GetState)
		api.POST("/conversations/:id/turns/:turnID/suggestion/accept", h.AcceptSuggestion)
		api.POST("/conversations/:id/mismatch/attempt", h.MismatchAttempt)
		api.POST("/conversations/:id/mismatch/skip", h.MismatchSkip)
		api.POST("/conversations/:id/reset", h.ResetConversation)
		api.GET("/conversations/:id/corrections", h.ListCorrections)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
