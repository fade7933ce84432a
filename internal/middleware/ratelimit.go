package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ecomstack/gateway-api/internal/service"
	"github.com/ecomstack/gateway-api/pkg/config"
	"github.com/ecomstack/gateway-api/pkg/ratelimit"
)

// RateLimit applies token-bucket admission control to requests under the
// configured path prefix; everything else bypasses. Exhaustion is a normal
// outcome answered with 429, not an internal error.
func RateLimit(limiter *ratelimit.Limiter, cfg config.RateLimitConfig, metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled || limiter == nil || !strings.HasPrefix(c.Request.URL.Path, cfg.PathPrefix) {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + cfg.PathPrefix
		decision := limiter.TryConsume(key, 1)
		if decision.Allowed {
			c.Header("X-Rate-Limit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			c.Next()
			return
		}

		metrics.RecordRateLimitRejection()

		retryAfter := int64(math.Ceil(decision.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}

		c.Header("X-Rate-Limit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		c.Header("X-Rate-Limit-Retry-After-Seconds", strconv.FormatInt(retryAfter, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"status":  http.StatusTooManyRequests,
			"error":   "Too Many Requests",
			"message": "rate limit exceeded, retry later",
		})
	}
}
