package redis

import (
	"fmt"
	"time"
)

const (
	// PresenceKeyPrefix 在线状态 Key 前缀
	PresenceKeyPrefix = "planverse:presence:"

	// PresenceTTL 在线状态 TTL，心跳续期
	PresenceTTL = 2 * time.Minute

	// NotificationKeyPrefix 用户通知列表 Key 前缀
	NotificationKeyPrefix = "planverse:notify:"

	// NotificationTTL 通知列表 TTL
	NotificationTTL = 30 * 24 * time.Hour

	// NotificationMax 每个用户保留的通知条数
	NotificationMax = 200

	// ImpressionKeyPrefix 推广曝光计数 Key 前缀
	ImpressionKeyPrefix = "planverse:promo:impressions:"

	// RateLimitKeyPrefix 接口限流 Key 前缀
	RateLimitKeyPrefix = "planverse:ratelimit:"
)

// BuildPresenceKey 在线状态
// Key: planverse:presence:{userId}
func BuildPresenceKey(userID string) string {
	return PresenceKeyPrefix + userID
}

// BuildNotificationListKey 通知列表，LPUSH 新通知在前
// Key: planverse:notify:{userId}:list
func BuildNotificationListKey(userID string) string {
	return fmt.Sprintf("%s%s:list", NotificationKeyPrefix, userID)
}

// BuildNotificationReadKey 已读通知ID集合
// Key: planverse:notify:{userId}:read
func BuildNotificationReadKey(userID string) string {
	return fmt.Sprintf("%s%s:read", NotificationKeyPrefix, userID)
}

// BuildImpressionKey 推广曝光次数
// Key: planverse:promo:impressions:{promotionId}
func BuildImpressionKey(promotionID string) string {
	return ImpressionKeyPrefix + promotionID
}

// BuildRateLimitKey 固定窗口限流计数
// Key: planverse:ratelimit:{scope}:{subject}:{window}
func BuildRateLimitKey(scope, subject string, window int64) string {
	return fmt.Sprintf("%s%s:%s:%d", RateLimitKeyPrefix, scope, subject, window)
}
