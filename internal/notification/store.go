package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sudooom.planverse/internal/model"
	sharedRedis "sudooom.planverse/shared/redis"
)

// Store 每个用户的通知列表
type Store interface {
	Push(ctx context.Context, n model.Notification) error
	// List 最新的 limit 条，新的在前
	List(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// RedisStore 通知列表存 Redis List，已读ID存 Set，两者同一 TTL
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Push 写入一条并截断到上限
func (s *RedisStore) Push(ctx context.Context, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	listKey := sharedRedis.BuildNotificationListKey(n.UserID)
	readKey := sharedRedis.BuildNotificationReadKey(n.UserID)

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, listKey, data)
	pipe.LTrim(ctx, listKey, 0, sharedRedis.NotificationMax-1)
	pipe.Expire(ctx, listKey, sharedRedis.NotificationTTL)
	pipe.Expire(ctx, readKey, sharedRedis.NotificationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// List 读取列表并合并已读状态
func (s *RedisStore) List(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > sharedRedis.NotificationMax {
		limit = sharedRedis.NotificationMax
	}
	raw, err := s.client.LRange(ctx, sharedRedis.BuildNotificationListKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	read, err := s.client.SMembers(ctx, sharedRedis.BuildNotificationReadKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list read notifications: %w", err)
	}
	readSet := make(map[string]bool, len(read))
	for _, id := range read {
		readSet[id] = true
	}

	out := make([]model.Notification, 0, len(raw))
	for _, item := range raw {
		var n model.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		n.Read = n.Read || readSet[n.ID]
		out = append(out, n)
	}
	return out, nil
}

// MarkRead 标记单条已读，通知不在列表中时返回 ErrNotFound
func (s *RedisStore) MarkRead(ctx context.Context, userID, id string) error {
	list, err := s.List(ctx, userID, 0)
	if err != nil {
		return err
	}
	for _, n := range list {
		if n.ID == id {
			return s.addRead(ctx, userID, id)
		}
	}
	return ErrNotFound
}

// MarkAllRead 标记全部已读
func (s *RedisStore) MarkAllRead(ctx context.Context, userID string) error {
	list, err := s.List(ctx, userID, 0)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(list))
	for _, n := range list {
		if !n.Read {
			ids = append(ids, n.ID)
		}
	}
	return s.addRead(ctx, userID, ids...)
}

func (s *RedisStore) addRead(ctx context.Context, userID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	key := sharedRedis.BuildNotificationReadKey(userID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, sharedRedis.NotificationTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
