// Package httpapi wires the HTTP transport (Gin) to the case ledger services,
// middleware and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging with redaction, panic recovery, error
// reporting, metrics, idempotency, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-modcases/internal/config"
	"github.com/tbourn/go-modcases/internal/http/handlers"
	"github.com/tbourn/go-modcases/internal/http/middleware"
	"github.com/tbourn/go-modcases/internal/services"
)

// Deps are the services the HTTP layer talks to.
type Deps struct {
	Moderation *services.Moderation
	Coord      *services.Coordinator
}

// RegisterRoutes attaches all middleware and HTTP endpoints to r and mounts
// the collaborator API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Sentry: panic reports (re-panics into Recovery) and a tagged per-request hub
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per actor/IP, bypass on replay)
//  10. CORS, compression and security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.RedactOptions{
		MaskHeaders: []string{"Authorization", "X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(middleware.SentryScope())

	// Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	mod := deps.Moderation
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, communityID, actorID int64, key string) (bool, error) {
			prior, err := mod.LookupIntent(ctx, communityID, actorID, key)
			return prior != nil, err
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(mod, mod, deps.Coord, deps.Coord)

	r.GET("/health", h.Health)
	r.GET("/status/cache", h.CacheStatus)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/expiry/due", h.DueForExpiry)

		cm := api.Group("/communities/:cid")

		// Cases
		cm.POST("/warnings", h.Warn)
		cm.POST("/actions", h.RecordAction)
		cm.GET("/cases", h.ListCases)
		cm.GET("/cases/:ref", h.GetCase)
		cm.GET("/cases/:ref/events", h.CaseEvents)
		cm.POST("/cases/:ref/reverse", h.ReverseCase)
		cm.PUT("/cases/:ref/note", h.AnnotateCase)
		cm.PUT("/cases/:ref/reason", h.UpdateCaseReason)
		cm.POST("/cases/:ref/expire", h.ExpireCase)
		cm.GET("/summary", h.CaseSummary)

		// Warnings
		cm.GET("/users/:uid/warnings", h.ListWarnings)
		cm.GET("/users/:uid/warnings/count", h.CountWarnings)

		// Notes
		cm.GET("/users/:uid/notes", h.ListUserNotes)
		cm.POST("/users/:uid/notes", h.AddUserNote)
		cm.DELETE("/users/:uid/notes", h.ClearUserNotes)
		cm.PUT("/notes/:nid", h.EditUserNote)
		cm.DELETE("/notes/:nid", h.DeleteUserNote)

		// Config
		cm.GET("/escalation", h.GetEscalation)
		cm.PUT("/escalation", h.UpdateEscalation)
		cm.DELETE("/escalation", h.ResetEscalation)
		cm.GET("/modlog", h.GetModlog)
		cm.PUT("/modlog", h.SetModlog)
		cm.DELETE("/modlog", h.ClearModlog)
	}
}

// corsMiddleware allows every origin when none are configured; otherwise
// only the allowlist.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
			middleware.HeaderActorID, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", "ETag", "Retry-After",
			middleware.HeaderIdempotencyReplayed,
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(cc)
}

// limitBody caps the request body at maxBytes. Oversized bodies fail to bind.
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
