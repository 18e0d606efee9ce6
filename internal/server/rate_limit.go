package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/docflow/internal/observability/logger"
	"github.com/smallbiznis/docflow/internal/ratelimit"
	"go.uber.org/zap"
)

type writeLimiter interface {
	Enabled() bool
	AllowWrite(ctx context.Context, clientKey string) (*ratelimit.RateLimitResult, error)
}

// WriteRateLimit throttles number-consuming and mutating requests per client.
func (s *Server) WriteRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		route := normalizeRateLimitEndpoint(c)

		res, err := s.limiter.AllowWrite(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("document write rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			logger.FromContext(ctx).Warn("document write rate limit exceeded", zap.String("route", route))
			s.metrics.RecordRateLimited(route)

			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
