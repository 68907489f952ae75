package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.planverse/internal/middleware"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/notification"
	"sudooom.planverse/pkg/response"
	appErrors "sudooom.planverse/shared/errors"
)

// NotificationHandler 通知
type NotificationHandler struct {
	notifications *notification.Service
}

// NewNotificationHandler 创建
func NewNotificationHandler(svc *notification.Service) *NotificationHandler {
	return &NotificationHandler{notifications: svc}
}

// List 最近通知和未读数
// @Summary      通知列表
// @Description  最近通知和未读数
// @Tags         通知
// @Produce      json
// @Security     BearerAuth
// @Param        limit query int false "条数，默认 50"
// @Success      200  {object}  response.Response{data=object{list=[]model.Notification,unread=int}}
// @Failure      401  {object}  response.Response
// @Router       /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	list, err := h.notifications.List(c.Request.Context(), userID, limit)
	if err != nil {
		response.ErrorFromAppError(c, appErrors.ErrServerError.Wrap(err))
		return
	}
	unread, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		response.ErrorFromAppError(c, appErrors.ErrServerError.Wrap(err))
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	response.Success(c, gin.H{"list": list, "unread": unread})
}

// MarkRead 单条已读
// @Summary      通知已读
// @Tags         通知
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "通知ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// MarkAllRead 全部已读
// @Summary      全部通知已读
// @Tags         通知
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.notifications.MarkAllRead(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		response.ErrorFromAppError(c, appErrors.ErrServerError.Wrap(err))
		return
	}
	response.Success(c, nil)
}
