package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/dtf-relay-bot/internal/domain"
	"github.com/tbourn/dtf-relay-bot/internal/http/middleware"
	"github.com/tbourn/dtf-relay-bot/internal/telegram"
)

// Pinger checks database connectivity; *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// MediaCounter reports the cache size; *repo.MediaStore implements it.
type MediaCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Admin serves the admin endpoints.
type Admin struct {
	DB          Pinger
	Media       MediaCounter
	BotUsername string
	Started     time.Time

	// WebhookSecret must match the secret token header of webhook
	// requests. Empty disables the check.
	WebhookSecret string

	// Dispatch receives webhook messages. It must not block: the webhook
	// reply is held until it returns.
	Dispatch func(msg domain.Message)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Bot         string `json:"bot,omitempty"`
	CachedMedia int64  `json:"cached_media"`
}

// Health pings the database.
func (h *Admin) Health(c *gin.Context) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			_ = c.Error(err)
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "database unreachable")
			return
		}
	}
	resp := HealthResponse{Status: "ok"}
	if !h.Started.IsZero() {
		resp.Uptime = time.Since(h.Started).Round(time.Second).String()
	}
	c.JSON(http.StatusOK, resp)
}

// Stats reports how many media files are cached.
func (h *Admin) Stats(c *gin.Context) {
	n, err := h.Media.Count(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "count cached media")
		return
	}
	c.JSON(http.StatusOK, StatsResponse{Bot: h.BotUsername, CachedMedia: n})
}

// Webhook accepts a Telegram update. Requests without the registered secret
// token get 401. Non-text updates are acknowledged and dropped. Telegram
// retries anything but 2xx, so only a malformed body is rejected.
func (h *Admin) Webhook(c *gin.Context) {
	if h.WebhookSecret != "" {
		got := c.GetHeader(telegram.SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookSecret)) != 1 {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid secret token")
			return
		}
	}
	u, err := telegram.DecodeUpdate(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid update")
		return
	}
	c.Set(middleware.UpdateIDKey, u.UpdateID)

	if msg, ok := telegram.ToMessage(u); ok && h.Dispatch != nil {
		h.Dispatch(msg)
	}
	c.Status(http.StatusOK)
}
