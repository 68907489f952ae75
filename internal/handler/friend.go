package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.planverse/internal/friend"
	"sudooom.planverse/internal/middleware"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/pkg/response"
)

// FriendHandler 好友处理器
type FriendHandler struct {
	friendService *friend.Service
}

// NewFriendHandler 创建好友处理器
func NewFriendHandler(friendService *friend.Service) *FriendHandler {
	return &FriendHandler{friendService: friendService}
}

// GetFriendList 获取好友列表
// @Summary      好友列表
// @Tags         好友
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=object{list=[]model.Friend}}
// @Failure      401  {object}  response.Response
// @Router       /friends [get]
func (h *FriendHandler) GetFriendList(c *gin.Context) {
	friends, err := h.friendService.ListFriends(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if friends == nil {
		friends = []model.Friend{}
	}
	response.Success(c, gin.H{"list": friends})
}

type friendRequestBody struct {
	FriendID string `json:"friend_id" binding:"required"`
	Message  string `json:"message" binding:"max=200"`
}

// SendRequest 发送好友请求
// @Summary      发送好友请求
// @Tags         好友
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body friendRequestBody true "好友请求"
// @Success      201  {object}  response.Response{data=model.FriendRequest}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /friends/request [post]
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}

	fr, err := h.friendService.SendRequest(c.Request.Context(), middleware.GetUserID(c), req.FriendID, req.Message)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Created(c, fr)
}

// GetPendingRequests 获取待处理的好友请求
// @Summary      待处理的好友请求
// @Tags         好友
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=object{list=[]model.FriendRequest}}
// @Failure      401  {object}  response.Response
// @Router       /friends/requests [get]
func (h *FriendHandler) GetPendingRequests(c *gin.Context) {
	requests, err := h.friendService.PendingRequests(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if requests == nil {
		requests = []model.FriendRequest{}
	}
	response.Success(c, gin.H{"list": requests})
}

// AcceptRequest 接受好友请求，返回新建的私聊会话
// @Summary      接受好友请求
// @Description  返回新建的私聊会话ID
// @Tags         好友
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "请求ID"
// @Success      200  {object}  response.Response{data=object{conversation_id=string}}
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /friends/accept/{id} [post]
func (h *FriendHandler) AcceptRequest(c *gin.Context) {
	convID, err := h.friendService.AcceptRequest(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"conversation_id": convID})
}

// RejectRequest 拒绝好友请求
// @Summary      拒绝好友请求
// @Tags         好友
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "请求ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /friends/reject/{id} [post]
func (h *FriendHandler) RejectRequest(c *gin.Context) {
	if err := h.friendService.RejectRequest(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteFriend 删除好友
// @Summary      删除好友
// @Tags         好友
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "好友用户ID"
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /friends/{id} [delete]
func (h *FriendHandler) DeleteFriend(c *gin.Context) {
	if err := h.friendService.DeleteFriend(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}
