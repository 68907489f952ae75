package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sudooom.planverse/internal/feed"
	"sudooom.planverse/internal/middleware"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/pkg/response"
	appErrors "sudooom.planverse/shared/errors"
)

// FeedHandler 动态
type FeedHandler struct {
	feed           *feed.Service
	maxUploadBytes int64
}

// NewFeedHandler 创建
func NewFeedHandler(feedService *feed.Service, maxUploadBytes int64) *FeedHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &FeedHandler{feed: feedService, maxUploadBytes: maxUploadBytes}
}

// List 动态分页，before 为上一页返回的 next_cursor
// @Summary      动态列表
// @Description  before 为上一页返回的 next_cursor
// @Tags         动态
// @Produce      json
// @Security     BearerAuth
// @Param        before query string false "RFC3339 时间游标"
// @Param        limit query int false "每页条数"
// @Success      200  {object}  response.Response{data=feed.Page}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /feed [get]
func (h *FeedHandler) List(c *gin.Context) {
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.ErrorFromAppError(c, appErrors.ErrInvalidParams.WithMessage("before 必须是 RFC3339 时间"))
			return
		}
		before = &t
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	page, err := h.feed.List(c.Request.Context(), middleware.GetUserID(c), before, limit)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if page.Posts == nil {
		page.Posts = []model.Post{}
	}
	response.Success(c, page)
}

type postRequest struct {
	Content string `json:"content" form:"content" binding:"max=2000"`
}

// Create 发布动态，支持 JSON 或带 image 的 multipart
// @Summary      发布动态
// @Description  支持 JSON 或带 image 的 multipart
// @Tags         动态
// @Accept       json,mpfd
// @Produce      json
// @Security     BearerAuth
// @Param        request body postRequest true "动态内容"
// @Param        image formData file false "图片"
// @Success      201  {object}  response.Response{data=model.Post}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /posts [post]
func (h *FeedHandler) Create(c *gin.Context) {
	var req postRequest
	var image *model.Upload

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			response.InvalidParams(c, err)
			return
		}
		if fh, err := c.FormFile("image"); err == nil {
			upload, err := readUpload(fh, h.maxUploadBytes)
			if err != nil {
				response.ErrorFromAppError(c, err)
				return
			}
			image = upload
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}

	post, err := h.feed.Create(c.Request.Context(), middleware.GetUserID(c), req.Content, image)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Created(c, post)
}

type likeRequest struct {
	Liked *bool `json:"liked" binding:"required"`
}

// Like 点赞或取消
// @Summary      点赞或取消
// @Tags         动态
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "动态ID"
// @Param        request body likeRequest true "是否点赞"
// @Success      200  {object}  response.Response{data=object{like_count=int,liked_by_me=bool}}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /posts/{id}/like [post]
func (h *FeedHandler) Like(c *gin.Context) {
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}

	count, err := h.feed.ToggleLike(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), *req.Liked)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"like_count": count, "liked_by_me": *req.Liked})
}

// Comments 评论列表
// @Summary      评论列表
// @Tags         动态
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "动态ID"
// @Success      200  {object}  response.Response{data=object{list=[]model.Comment}}
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /posts/{id}/comments [get]
func (h *FeedHandler) Comments(c *gin.Context) {
	list, err := h.feed.Comments(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if list == nil {
		list = []model.Comment{}
	}
	response.Success(c, gin.H{"list": list})
}

type commentRequest struct {
	Content string `json:"content" binding:"required,max=1000"`
}

// AddComment 发表评论
// @Summary      发表评论
// @Tags         动态
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "动态ID"
// @Param        request body commentRequest true "评论内容"
// @Success      201  {object}  response.Response{data=model.Comment}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /posts/{id}/comments [post]
func (h *FeedHandler) AddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}

	comment, err := h.feed.AddComment(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Content)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Created(c, comment)
}
