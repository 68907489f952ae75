package promotion

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	sharedRedis "sudooom.planverse/shared/redis"
)

// counterTTL 计数器过期时间，推广结束后自然清理
const counterTTL = 90 * 24 * time.Hour

// RedisCounter 曝光计数存 Redis
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter 创建
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr INCR 并续期
func (c *RedisCounter) Incr(ctx context.Context, promotionID string) (int64, error) {
	key := sharedRedis.BuildImpressionKey(promotionID)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
