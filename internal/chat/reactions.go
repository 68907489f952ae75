package chat

import (
	"sort"

	"sudooom.planverse/internal/model"
)

// Reactions 会话内所有消息的表情回应：消息 -> 表情 -> 用户集合
type Reactions struct {
	byMessage map[string]map[string]map[string]struct{}
}

// NewReactions 创建
func NewReactions() *Reactions {
	return &Reactions{byMessage: make(map[string]map[string]map[string]struct{})}
}

// Reset 用服务端全量数据替换
func (r *Reactions) Reset(list []model.Reaction) {
	r.byMessage = make(map[string]map[string]map[string]struct{})
	for _, item := range list {
		r.Add(item)
	}
}

// Add 添加，已存在时返回 false
func (r *Reactions) Add(x model.Reaction) bool {
	emojis := r.byMessage[x.MessageID]
	if emojis == nil {
		emojis = make(map[string]map[string]struct{})
		r.byMessage[x.MessageID] = emojis
	}
	users := emojis[x.Emoji]
	if users == nil {
		users = make(map[string]struct{})
		emojis[x.Emoji] = users
	}
	if _, ok := users[x.UserID]; ok {
		return false
	}
	users[x.UserID] = struct{}{}
	return true
}

// Remove 删除，不存在时返回 false
func (r *Reactions) Remove(x model.Reaction) bool {
	users := r.byMessage[x.MessageID][x.Emoji]
	if _, ok := users[x.UserID]; !ok {
		return false
	}
	delete(users, x.UserID)
	if len(users) == 0 {
		delete(r.byMessage[x.MessageID], x.Emoji)
	}
	if len(r.byMessage[x.MessageID]) == 0 {
		delete(r.byMessage, x.MessageID)
	}
	return true
}

// Has 用户是否用该表情回应过
func (r *Reactions) Has(messageID, emoji, userID string) bool {
	_, ok := r.byMessage[messageID][emoji][userID]
	return ok
}

// Drop 删除某条消息的全部回应
func (r *Reactions) Drop(messageID string) {
	delete(r.byMessage, messageID)
}

// Summaries 聚合，按数量降序，数量相同按表情排序
func (r *Reactions) Summaries(messageID, me string) []model.ReactionSummary {
	emojis := r.byMessage[messageID]
	if len(emojis) == 0 {
		return nil
	}
	out := make([]model.ReactionSummary, 0, len(emojis))
	for emoji, users := range emojis {
		_, mine := users[me]
		out = append(out, model.ReactionSummary{Emoji: emoji, Count: len(users), Mine: mine})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}
