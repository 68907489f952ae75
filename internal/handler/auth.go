package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.planverse/internal/auth"
	"sudooom.planverse/internal/middleware"
	"sudooom.planverse/pkg/response"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register 用户注册
// @Summary      用户注册
// @Description  创建新用户账号并写入默认隐私设置
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request body auth.RegisterRequest true "注册信息"
// @Success      201  {object}  response.Response{data=model.User}
// @Failure      400  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}

	user, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Created(c, user)
}

// Login 用户登录
// @Summary      用户登录
// @Description  用户名密码登录，返回 Token
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request body auth.LoginRequest true "登录信息"
// @Success      200  {object}  response.Response{data=auth.LoginResponse}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh 刷新 Token
// @Summary      刷新 Token
// @Description  用 refresh token 换一组新的 Token
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request body refreshRequest true "刷新令牌"
// @Success      200  {object}  response.Response{data=auth.LoginResponse}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}

	resp, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, resp)
}

// Me 当前用户
// @Summary      当前用户
// @Tags         认证
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=model.User}
// @Failure      401  {object}  response.Response
// @Router       /me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.authService.Me(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, user)
}

// GetSettings 隐私设置
// @Summary      获取隐私设置
// @Tags         认证
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=model.Settings}
// @Failure      401  {object}  response.Response
// @Router       /settings [get]
func (h *AuthHandler) GetSettings(c *gin.Context) {
	settings, err := h.authService.Settings(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, settings)
}

// UpdateSettings 更新隐私设置
// @Summary      更新隐私设置
// @Description  只更新请求中出现的字段，在线会话立即生效
// @Tags         认证
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body auth.SettingsRequest true "隐私设置"
// @Success      200  {object}  response.Response{data=model.Settings}
// @Failure      400  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /settings [put]
func (h *AuthHandler) UpdateSettings(c *gin.Context) {
	var req auth.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err)
		return
	}

	settings, err := h.authService.UpdateSettings(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, settings)
}
