package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	sharedRedis "sudooom.planverse/shared/redis"
)

// Online Redis 在线状态，会话存活期间定时心跳续期
type Online struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewOnline 创建
func NewOnline(client *redis.Client, ttl time.Duration) *Online {
	if ttl <= 0 {
		ttl = sharedRedis.PresenceTTL
	}
	return &Online{client: client, ttl: ttl, logger: slog.Default()}
}

// Heartbeat 标记在线并续期，值为最近心跳时间
func (o *Online) Heartbeat(ctx context.Context, userID string) error {
	key := sharedRedis.BuildPresenceKey(userID)
	if err := o.client.Set(ctx, key, time.Now().Unix(), o.ttl).Err(); err != nil {
		return fmt.Errorf("presence heartbeat: %w", err)
	}
	return nil
}

// Offline 移除在线状态
func (o *Online) Offline(ctx context.Context, userID string) error {
	return o.client.Del(ctx, sharedRedis.BuildPresenceKey(userID)).Err()
}

// IsOnline 单个用户是否在线
func (o *Online) IsOnline(ctx context.Context, userID string) (bool, error) {
	err := o.client.Get(ctx, sharedRedis.BuildPresenceKey(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OnlineMany 批量查询，返回在线用户集合
func (o *Online) OnlineMany(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = sharedRedis.BuildPresenceKey(id)
	}

	results, err := o.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, result := range results {
		if result != nil {
			out[userIDs[i]] = true
		}
	}
	return out, nil
}

// Keepalive 每隔 ttl/2 心跳一次，直到 ctx 结束后标记离线
func (o *Online) Keepalive(ctx context.Context, userID string) {
	ticker := time.NewTicker(o.ttl / 2)
	defer ticker.Stop()

	if err := o.Heartbeat(ctx, userID); err != nil {
		o.logger.Warn("Presence heartbeat failed", "userId", userID, "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := o.Offline(offCtx, userID); err != nil {
				o.logger.Debug("Failed to clear presence", "userId", userID, "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := o.Heartbeat(ctx, userID); err != nil {
				o.logger.Warn("Presence heartbeat failed", "userId", userID, "error", err)
			}
		}
	}
}
