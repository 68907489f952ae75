package response

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	sharedErrors "sudooom.planverse/shared/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    sharedErrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    sharedErrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// InvalidParams 参数校验失败
func InvalidParams(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    sharedErrors.CodeInvalidParams,
		Message: err.Error(),
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应，非业务错误按服务器错误处理
func ErrorFromAppError(c *gin.Context, err error) {
	code := sharedErrors.GetCode(err)
	if code >= sharedErrors.CodeServerError {
		slog.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"code", code,
			"error", err,
		)
	}
	c.JSON(sharedErrors.HTTPStatus(code), Response{
		Code:    code,
		Message: sharedErrors.GetMessage(err),
		Data:    nil,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context, err error) {
	if err == nil {
		err = sharedErrors.ErrTokenInvalid
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Code:    sharedErrors.GetCode(err),
		Message: sharedErrors.GetMessage(err),
		Data:    nil,
	})
}

// TooManyRequests 请求过多
func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
		Code:    sharedErrors.CodeTooManyRequest,
		Message: sharedErrors.ErrTooManyRequest.Message,
		Data:    nil,
	})
}
