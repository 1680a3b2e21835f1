// Package ratelimit implements per-IP rate limiting for the REST surface and
// WebSocket upgrades using an in-process memory store.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/config"
	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/metrics"
)

// RateLimiter holds the rate limiter instances
type RateLimiter struct {
	api   *limiter.Limiter
	ws    *limiter.Limiter
	store limiter.Store
}

// NewRateLimiter creates a new RateLimiter instance backed by a memory store.
// The fabric has no authentication, so all limits are keyed by client IP.
func NewRateLimiter(cfg *config.Config) (*RateLimiter, error) {
	apiRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPI)
	if err != nil {
		return nil, err
	}

	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWS)
	if err != nil {
		return nil, err
	}

	store := memory.NewStore()

	return &RateLimiter{
		api:   limiter.New(store, apiRate),
		ws:    limiter.New(store, wsRate),
		store: store,
	}, nil
}

// APIMiddleware returns a Gin middleware that enforces the REST rate limit.
func (rl *RateLimiter) APIMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := rl.api.Get(ctx, c.ClientIP())
		if err != nil {
			// Fail open: availability over strictness.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		c.Next()
	}
}

// CheckWebSocket checks whether a WebSocket upgrade from this IP is allowed.
// Returns true if allowed; writes the 429 response itself when it is not.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	lctx, err := rl.ws.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true // Fail open
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   "too many connections from this IP",
		})
		return false
	}

	return true
}
