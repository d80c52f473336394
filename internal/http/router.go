// Package httpapi wires the HTTP transport (Gin) to the application services,
// middleware, and route handlers. It centralizes cross-cutting concerns:
// tracing, correlation IDs, structured logging, panic recovery, metrics,
// compression, CORS, authentication, and rate limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured logs that never include credentials
//  4. Recovery: capture panics after the logger
//  5. Body size limiter
//  6. Metrics (and the /metrics endpoint)
//  7. Gzip
//  8. CORS
//  9. BearerAuth: resolve the account before rate limiting
//  10. Rate limiter (per user, falling back to IP)
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/winstonhq/go-domain-gateway/internal/config"
	"github.com/winstonhq/go-domain-gateway/internal/http/handlers"
	"github.com/winstonhq/go-domain-gateway/internal/http/middleware"
	"github.com/winstonhq/go-domain-gateway/internal/keymutex"
	"github.com/winstonhq/go-domain-gateway/internal/registrar"
	"github.com/winstonhq/go-domain-gateway/internal/services"
)

// Version is the build identifier surfaced by /health. Overridden at link
// time by the release pipeline.
var Version = "dev"

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and returns the rate limiter so the caller can Close it on shutdown.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, provider registrar.Provider, cfg config.Config) *middleware.RateLimiter {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging (Authorization never logged)
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression for JSON payloads
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 8) CORS posture: wildcard unless origins are pinned
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Retry-After", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Retry-After", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// 9) Resolve the account before rate limiting so limits key on user id
	r.Use(middleware.BearerAuth(db))

	// 10) Sliding-window + token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, services.KindNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, services.KindValidation, "method not allowed")
	})

	// Dependency injection: services ← db/provider/config
	purchaseSvc := &services.PurchaseService{
		DB:       db,
		Provider: provider,
		Locks:    keymutex.New(),
		Contact: registrar.Contact{
			FirstName: cfg.Contact.FirstName,
			LastName:  cfg.Contact.LastName,
			Email:     cfg.Contact.Email,
			Phone:     cfg.Contact.Phone,
			Address:   cfg.Contact.Address,
			City:      cfg.Contact.City,
			State:     cfg.Contact.State,
			Zip:       cfg.Contact.Zip,
			Country:   cfg.Contact.Country,
		},
		Logger:         log.With().Str("component", "purchase").Logger(),
		AllowlistTLDs:  cfg.AllowlistTLDs,
		MaxPerTxnUSD:   cfg.MaxPerTxnUSD,
		MaxDailyUSD:    cfg.MaxDailyUSD,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	searchSvc := &services.SearchService{
		DB:            db,
		Provider:      provider,
		Logger:        log.With().Str("component", "search").Logger(),
		AllowlistTLDs: cfg.AllowlistTLDs,
		MaxCandidates: cfg.MaxDomainsPerSearch,
	}
	statusSvc := &services.StatusService{
		DB:            db,
		AllowlistTLDs: cfg.AllowlistTLDs,
	}

	h := handlers.New(purchaseSvc, searchSvc, statusSvc, handlers.HealthInfo{
		Provider: provider.Name(),
		DryRun:   cfg.DryRun,
		Version:  Version,
		Started:  time.Now().UTC(),
	})

	r.GET("/health", h.Health)
	r.POST("/search", h.Search)
	r.POST("/buy", h.Buy)
	r.GET("/status/:domain", h.Status)

	return rl
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on read downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
