// Package event 定义推送给浏览器的会话事件
package event

import (
	"time"

	appErrors "sudooom.planverse/shared/errors"
)

// Kind 事件类型
type Kind string

const (
	KindMessages      Kind = "messages"
	KindConversations Kind = "conversations"
	KindTyping        Kind = "typing"
	KindNotice        Kind = "notice"
	KindNotification  Kind = "notification"
	KindPresence      Kind = "presence"
	KindFeed          Kind = "feed"
)

// Event 一次视图更新
type Event struct {
	Kind           Kind      `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Data           any       `json:"data,omitempty"`
	At             time.Time `json:"at"`
}

// Notice 提示条内容
type Notice struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Sink 事件出口
type Sink func(Event)

// Discard 丢弃所有事件
func Discard(Event) {}

// NewNotice 从错误构造提示事件
func NewNotice(conversationID string, err error) Event {
	return Event{
		Kind:           KindNotice,
		ConversationID: conversationID,
		Data: Notice{
			Code:    appErrors.GetCode(err),
			Message: appErrors.GetMessage(err),
		},
		At: time.Now(),
	}
}

// Recorder 记录事件，测试用
type Recorder struct {
	Events []Event
}

func (r *Recorder) Sink(e Event) {
	r.Events = append(r.Events, e)
}

// OfKind 过滤某类事件
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Notices 所有提示的错误码
func (r *Recorder) Notices() []int {
	var codes []int
	for _, e := range r.OfKind(KindNotice) {
		if n, ok := e.Data.(Notice); ok {
			codes = append(codes, n.Code)
		}
	}
	return codes
}
