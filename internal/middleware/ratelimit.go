package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"sudooom.planverse/pkg/response"
	sharedRedis "sudooom.planverse/shared/redis"
)

// RateLimit 按用户固定窗口限流，未登录按 IP 计
// Redis 不可用时放行
func RateLimit(client *redis.Client, scope string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || perMinute <= 0 {
			c.Next()
			return
		}

		subject := GetUserID(c)
		if subject == "" {
			subject = c.ClientIP()
		}
		window := time.Now().Unix() / 60
		key := sharedRedis.BuildRateLimitKey(scope, subject, window)

		ctx := c.Request.Context()
		pipe := client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*time.Minute)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("Rate limit check failed", "scope", scope, "error", err)
			c.Next()
			return
		}

		if incr.Val() > int64(perMinute) {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
