package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.planverse/internal/middleware"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/promotion"
	"sudooom.planverse/pkg/response"
)

// PromotionHandler 动态推广
type PromotionHandler struct {
	promotions *promotion.Service
}

// NewPromotionHandler 创建
func NewPromotionHandler(svc *promotion.Service) *PromotionHandler {
	return &PromotionHandler{promotions: svc}
}

// Create 推广自己的动态
// @Summary      推广动态
// @Description  只能推广自己的动态
// @Tags         推广
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body promotion.CreateInput true "推广参数"
// @Success      201  {object}  response.Response{data=model.Promotion}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Router       /promotions [post]
func (h *PromotionHandler) Create(c *gin.Context) {
	var in promotion.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.InvalidParams(c, err)
		return
	}
	p, err := h.promotions.Create(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Created(c, p)
}

// List 我的推广
// @Summary      我的推广
// @Tags         推广
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=object{list=[]model.Promotion}}
// @Failure      401  {object}  response.Response
// @Router       /promotions [get]
func (h *PromotionHandler) List(c *gin.Context) {
	list, err := h.promotions.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	if list == nil {
		list = []model.Promotion{}
	}
	response.Success(c, gin.H{"list": list})
}
