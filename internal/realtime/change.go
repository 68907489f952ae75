package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType 变更类型
type EventType string

const (
	Insert    EventType = "INSERT"
	Update    EventType = "UPDATE"
	Delete    EventType = "DELETE"
	Broadcast EventType = "BROADCAST"
)

// 表名，同时作为主题的第一段
const (
	TableMessages      = "messages"
	TableReactions     = "message_reactions"
	TablePins          = "message_pins"
	TableConversations = "conversation_members"
	TableTyping        = "typing"
	TableNotifications = "notifications"
)

const subjectPrefix = "planverse.rt"

// Change 一条行变更或广播
// 消息、回应、置顶、输入状态以会话ID为主题，会话行和通知以用户ID为主题
type Change struct {
	Type   EventType       `json:"type"`
	Table  string          `json:"table"`
	Topic  string          `json:"topic"`
	Event  string          `json:"event,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
	Old    json.RawMessage `json:"old,omitempty"`
	At     time.Time       `json:"at"`
}

// NewChange 构造行变更
func NewChange(typ EventType, table, topic string, record any) (Change, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Change{}, fmt.Errorf("realtime: marshal %s record: %w", table, err)
	}
	return Change{Type: typ, Table: table, Topic: topic, Record: raw, At: time.Now()}, nil
}

// Subject NATS 主题
func Subject(table, topic string) string {
	return subjectPrefix + "." + table + "." + topic
}

// parseSubject 拆出表名和主题
func parseSubject(subject string) (table, topic string, ok bool) {
	rest, found := strings.CutPrefix(subject, subjectPrefix+".")
	if !found {
		return "", "", false
	}
	table, topic, ok = strings.Cut(rest, ".")
	return table, topic, ok && table != "" && topic != ""
}

// Handler 变更回调
type Handler func(Change)

// Subscription 订阅句柄
type Subscription interface {
	Unsubscribe() error
}

// StateListener 连接状态回调，断线时 connected 为 false
type StateListener func(connected bool)

// Bus 实时通道
type Bus interface {
	Publish(c Change) error
	Subscribe(table, topic string, h Handler) (Subscription, error)
	OnStateChange(l StateListener) (remove func())
	Connected() bool
}
