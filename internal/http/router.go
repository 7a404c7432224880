// Package httpapi wires the admin HTTP server (Gin): health and cache stats,
// Prometheus metrics and, in webhook mode, the Telegram update receiver.
//
// Middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs (probes at debug)
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/dtf-relay-bot/internal/config"
	"github.com/tbourn/dtf-relay-bot/internal/http/handlers"
	"github.com/tbourn/dtf-relay-bot/internal/http/middleware"
)

// maxUpdateBytes caps webhook bodies. Telegram updates are a few KiB.
const maxUpdateBytes = 1 << 20

// RegisterRoutes attaches middleware and endpoints to r. The webhook route
// is mounted only in webhook mode.
func RegisterRoutes(r *gin.Engine, h *handlers.Admin, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger("/health", "/metrics"))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxUpdateBytes))
	r.Use(middleware.Metrics())

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Telegram.UpdateMode == config.ModeWebhook {
		r.POST(cfg.Telegram.WebhookPath, h.Webhook)
	}
}

// limitBody caps the request body size to maxBytes using
// http.MaxBytesReader. Larger bodies make downstream reads fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
