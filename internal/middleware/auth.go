package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.planverse/pkg/response"
	"sudooom.planverse/shared/jwt"
)

const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
)

// TokenValidator 校验 Access Token
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// JWTAuth JWT 认证中间件
// EventSource 无法设置请求头，SSE 接口允许用 access_token 查询参数传递
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			response.Unauthorized(c, nil)
			return
		}

		claims, err := validator.ValidateAccessToken(token)
		if err != nil {
			response.Unauthorized(c, err)
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// GetUserID 从 context 获取 user_id
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// GetUsername 从 context 获取 username
func GetUsername(c *gin.Context) string {
	return c.GetString(ctxUsername)
}
