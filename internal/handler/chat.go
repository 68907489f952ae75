package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/session"
	"sudooom.planverse/pkg/response"
	appErrors "sudooom.planverse/shared/errors"
)

// ChatHandler 私信会话和消息
type ChatHandler struct {
	sessions       Sessions
	maxUploadBytes int64
}

// NewChatHandler 创建
func NewChatHandler(sessions Sessions, maxUploadBytes int64) *ChatHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &ChatHandler{sessions: sessions, maxUploadBytes: maxUploadBytes}
}

// ListConversations 会话列表，已按置顶和排序值排好
// @Summary      会话列表
// @Description  置顶在前，各分区内按排序值和最后消息时间排序
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=object{list=[]model.Conversation}}
// @Failure      401  {object}  response.Response
// @Router       /conversations [get]
func (h *ChatHandler) ListConversations(c *gin.Context) {
	s, err := sessionFor(c, h.sessions)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	list, err := s.Conversations(c.Request.Context())
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if list == nil {
		list = []model.Conversation{}
	}
	response.Success(c, gin.H{"list": list})
}

type reorderRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	ToIndex        *int   `json:"to_index" binding:"required,min=0"`
}

// Reorder 拖动排序，跨置顶分区会被拒绝
// @Summary      会话拖动排序
// @Description  跨置顶分区会被拒绝，写入失败时恢复服务端顺序
// @Tags         会话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body reorderRequest true "目标位置"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /conversations/reorder [post]
func (h *ChatHandler) Reorder(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}
	h.run(c, func(s *session.Session) error {
		return s.Reorder(c.Request.Context(), req.ConversationID, *req.ToIndex)
	})
}

// MarkRead 会话已显示，延迟标记已读
// @Summary      标记会话已读
// @Description  延迟写入已读回执
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "会话ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /conversations/{id}/read [post]
func (h *ChatHandler) MarkRead(c *gin.Context) {
	h.run(c, func(s *session.Session) error {
		return s.MarkRead(c.Request.Context(), c.Param("id"))
	})
}

type toggleRequest struct {
	Value *bool `json:"value" binding:"required"`
}

// SetPinned 置顶会话
// @Summary      置顶会话
// @Tags         会话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "会话ID"
// @Param        request body toggleRequest true "是否置顶"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /conversations/{id}/pin [put]
func (h *ChatHandler) SetPinned(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}
	h.run(c, func(s *session.Session) error {
		return s.SetPinned(c.Request.Context(), c.Param("id"), *req.Value)
	})
}

// SetMuted 免打扰
// @Summary      会话免打扰
// @Tags         会话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "会话ID"
// @Param        request body toggleRequest true "是否免打扰"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /conversations/{id}/mute [put]
func (h *ChatHandler) SetMuted(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}
	h.run(c, func(s *session.Session) error {
		return s.SetMuted(c.Request.Context(), c.Param("id"), *req.Value)
	})
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

// Typing 输入状态，被节流时 sent 为 false
// @Summary      输入状态
// @Description  按频率节流，被节流时 sent 为 false
// @Tags         会话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "会话ID"
// @Param        request body typingRequest true "是否正在输入"
// @Success      200  {object}  response.Response{data=object{sent=bool}}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /conversations/{id}/typing [post]
func (h *ChatHandler) Typing(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}
	s, err := sessionFor(c, h.sessions)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	sent, err := s.Typing(c.Request.Context(), c.Param("id"), req.Typing)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"sent": sent})
}

// Messages 打开会话并返回首屏消息
// @Summary      打开会话
// @Description  订阅会话实时变更并返回首屏消息
// @Tags         消息
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "会话ID"
// @Success      200  {object}  response.Response{data=chat.View}
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /conversations/{id}/messages [get]
func (h *ChatHandler) Messages(c *gin.Context) {
	s, err := sessionFor(c, h.sessions)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	view, err := s.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, view)
}

// Close 关闭会话，停止接收该会话的实时消息
// @Summary      关闭会话
// @Tags         会话
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "会话ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /conversations/{id}/open [delete]
func (h *ChatHandler) Close(c *gin.Context) {
	h.run(c, func(s *session.Session) error {
		return s.CloseConversation(c.Request.Context(), c.Param("id"))
	})
}

type sendRequest struct {
	Content   string `json:"content" form:"content" binding:"max=4000"`
	ReplyToID string `json:"reply_to_id" form:"reply_to_id"`
}

// Send 发送文字或图片，立即返回临时消息，确认结果通过事件流推送
// @Summary      发送消息
// @Description  立即返回临时消息，确认结果通过事件流推送
// @Tags         消息
// @Accept       json,mpfd
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "会话ID"
// @Param        request body sendRequest true "文字内容"
// @Param        image formData file false "图片"
// @Success      201  {object}  response.Response{data=model.Message}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /conversations/{id}/messages [post]
func (h *ChatHandler) Send(c *gin.Context) {
	var req sendRequest
	draft := model.Draft{}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			response.InvalidParams(c, err)
			return
		}
		fh, err := c.FormFile("image")
		if err == nil {
			upload, err := readUpload(fh, h.maxUploadBytes)
			if err != nil {
				response.ErrorFromAppError(c, err)
				return
			}
			draft.Image = upload
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}
	draft.Content = req.Content
	draft.ReplyToID = req.ReplyToID
	if !draft.Valid() {
		response.ErrorFromAppError(c, appErrors.ErrInvalidContent)
		return
	}

	s, err := sessionFor(c, h.sessions)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	msg, err := s.Send(c.Request.Context(), c.Param("id"), draft)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Created(c, msg)
}

// Retry 重发失败的消息
// @Summary      重发消息
// @Description  先确认服务端没有这条消息再重发
// @Tags         消息
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "临时消息ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /messages/{id}/retry [post]
func (h *ChatHandler) Retry(c *gin.Context) {
	h.run(c, func(s *session.Session) error {
		return s.Retry(c.Request.Context(), c.Param("id"))
	})
}

// Discard 丢弃失败的消息
// @Summary      丢弃失败消息
// @Tags         消息
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "临时消息ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /messages/{id}/pending [delete]
func (h *ChatHandler) Discard(c *gin.Context) {
	h.run(c, func(s *session.Session) error {
		return s.Discard(c.Request.Context(), c.Param("id"))
	})
}

type reactRequest struct {
	Emoji string `json:"emoji" binding:"required,max=16"`
}

// React 切换表情回应
// @Summary      切换表情回应
// @Tags         消息
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "消息ID"
// @Param        request body reactRequest true "表情"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /messages/{id}/reactions [post]
func (h *ChatHandler) React(c *gin.Context) {
	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}
	h.run(c, func(s *session.Session) error {
		return s.ToggleReaction(c.Request.Context(), c.Param("id"), req.Emoji)
	})
}

// Pin 置顶消息
// @Summary      置顶消息
// @Tags         消息
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "消息ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /messages/{id}/pin [put]
func (h *ChatHandler) Pin(c *gin.Context) {
	h.run(c, func(s *session.Session) error {
		return s.Pin(c.Request.Context(), c.Param("id"))
	})
}

// Unpin 取消置顶消息
// @Summary      取消置顶消息
// @Tags         消息
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "消息ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /messages/{id}/pin [delete]
func (h *ChatHandler) Unpin(c *gin.Context) {
	h.run(c, func(s *session.Session) error {
		return s.Unpin(c.Request.Context(), c.Param("id"))
	})
}

// run 取会话执行一个没有返回值的操作
func (h *ChatHandler) run(c *gin.Context, fn func(s *session.Session) error) {
	s, err := sessionFor(c, h.sessions)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if err := fn(s); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}
