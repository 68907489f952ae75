package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"sudooom.planverse/internal/event"
	"sudooom.planverse/pkg/response"
)

// EventsHandler SSE 事件流
type EventsHandler struct {
	sessions  Sessions
	heartbeat time.Duration
}

// NewEventsHandler 创建
func NewEventsHandler(sessions Sessions, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &EventsHandler{sessions: sessions, heartbeat: heartbeat}
}

// Stream 推送会话的视图事件，连接期间会话不会被回收
// @Summary      事件流
// @Description  SSE 推送会话视图事件，连接期间会话不会被回收
// @Tags         事件
// @Produce      text/event-stream
// @Security     BearerAuth
// @Success      200  {object}  event.Event
// @Failure      401  {object}  response.Response
// @Router       /events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	s, err := sessionFor(c, h.sessions)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	ctx := c.Request.Context()

	ch, cancel := s.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// 首个事件带上当前会话列表，客户端据此渲染
	if list, err := s.Conversations(ctx); err == nil {
		c.SSEvent(string(event.KindConversations), event.Event{Kind: event.KindConversations, Data: list, At: time.Now()})
		c.Writer.Flush()
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Kind), e)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}
