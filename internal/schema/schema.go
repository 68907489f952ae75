// Package schema 在边界处把实时通道和云函数返回的无类型 JSON 转成经过校验的实体
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"sudooom.planverse/internal/model"
	appErrors "sudooom.planverse/shared/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(messageRules, model.Message{})
	return v
}

// messageRules 服务端消息：ID 为 UUID，文字与图片有且只有一个
func messageRules(sl validator.StructLevel) {
	m := sl.Current().Interface().(model.Message)
	if err := sl.Validator().Var(m.ID, "uuid"); err != nil {
		sl.ReportError(m.ID, "ID", "id", "uuid", "")
	}
	hasText := strings.TrimSpace(m.Content) != ""
	if hasText == (m.ImageURL != "") {
		sl.ReportError(m.Content, "Content", "content", "content_xor_image", "")
	}
}

// Struct 校验任意实体
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return appErrors.ErrInvalidPayload.Wrap(err)
	}
	return nil
}

func decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, appErrors.ErrInvalidPayload.Wrap(fmt.Errorf("decode %T: %w", v, err))
	}
	if err := Struct(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DecodeMessage 解码消息行
func DecodeMessage(raw []byte) (*model.Message, error) {
	return decode[model.Message](raw)
}

// DecodeMessages 解码消息数组，任意一条非法则整体失败
func DecodeMessages(raw []byte) ([]model.Message, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, appErrors.ErrInvalidPayload.Wrap(err)
	}
	out := make([]model.Message, 0, len(items))
	for _, item := range items {
		m, err := DecodeMessage(item)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// DecodeConversation 解码会话行
func DecodeConversation(raw []byte) (*model.Conversation, error) {
	c, err := decode[model.Conversation](raw)
	if err != nil {
		return nil, err
	}
	if c.DisplayOrder != nil && *c.DisplayOrder != 0 && (*c.DisplayOrder < 0) != c.Pinned {
		return nil, appErrors.ErrInvalidPayload.Wrap(fmt.Errorf("display order %d does not match pinned=%v", *c.DisplayOrder, c.Pinned))
	}
	return c, nil
}

// DecodeReaction 解码回应行
func DecodeReaction(raw []byte) (*model.Reaction, error) {
	return decode[model.Reaction](raw)
}

// DecodePin 解码置顶行
func DecodePin(raw []byte) (*model.Pin, error) {
	return decode[model.Pin](raw)
}

// DecodeTyping 解码输入状态广播
func DecodeTyping(raw []byte) (*model.Typing, error) {
	return decode[model.Typing](raw)
}

// DecodeNotification 解码通知事件
func DecodeNotification(raw []byte) (*model.Notification, error) {
	n, err := decode[model.Notification](raw)
	if err != nil {
		return nil, err
	}
	if n.UserID == "" || n.Kind == "" {
		return nil, appErrors.ErrInvalidPayload.Wrap(fmt.Errorf("notification missing user or kind"))
	}
	return n, nil
}
