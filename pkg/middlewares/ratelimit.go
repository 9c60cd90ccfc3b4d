package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Gopher0727/CineMatch/utils/ratelimit"
)

// RateLimitMiddleware 进程级令牌桶限流
// 等待令牌最多 waitTimeout，超时仍未拿到则拒绝
func RateLimitMiddleware(limiter *rate.Limiter, waitTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), waitTimeout)
		defer cancel()

		if err := limiter.Wait(ctx); err != nil {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "server is busy, please try again later",
			})
			return
		}
		c.Next()
	}
}

// UserRateLimitMiddleware 按用户限流，计数存 Redis，多实例共享
// 必须挂在认证中间件之后
func UserRateLimitMiddleware(limiter ratelimit.Limiter, scope string, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("user_id")
		key := fmt.Sprintf("%s:user:%d", scope, userID)

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.Warn("user rate limit check failed", zap.String("key", key), zap.Error(err))
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// MaxConcurrencyMiddleware 限制同时处理的请求数量
func MaxConcurrencyMiddleware(maxConcurrent int) gin.HandlerFunc {
	sem := make(chan struct{}, maxConcurrent)

	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code":    http.StatusServiceUnavailable,
				"message": "too many concurrent requests",
			})
		}
	}
}
