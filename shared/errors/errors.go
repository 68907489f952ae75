package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError 业务错误
// Code 面向客户端，Message 可直接作为提示文案展示，Err 仅用于日志
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is 按错误码比较，包装后的错误也能匹配到预定义错误
func (e *AppError) Is(target error) bool {
	var other *AppError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// NewError 创建错误
func NewError(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 附加底层错误，返回新实例，不修改预定义错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Err: err}
}

// WithMessage 替换提示文案
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{Code: e.Code, Message: message, Err: e.Err}
}

// Is 判断 err 是否为 target 对应的业务错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，非 AppError 视为服务器错误
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取提示文案
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrServerError.Message
}

// HTTPStatus 错误码对应的 HTTP 状态码
func HTTPStatus(code int) int {
	switch {
	case code == CodeSuccess:
		return http.StatusOK
	case code == CodeTokenInvalid || code == CodeTokenExpired || code == CodeInvalidCredentials:
		return http.StatusUnauthorized
	case code == CodeForbidden:
		return http.StatusForbidden
	case code == CodeTooManyRequest:
		return http.StatusTooManyRequests
	case code == CodeUserNotFound || code == CodeConversationNotFound ||
		code == CodeMessageNotFound || code == CodePostNotFound ||
		code == CodeFriendRequestNotFound || code == CodePromotionNotFound ||
		code == CodeNotificationNotFound:
		return http.StatusNotFound
	case code >= 50000:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证 10000-10999
	CodeUsernameExists     = 10001
	CodeInvalidCredentials = 10002
	CodeTokenInvalid       = 10003
	CodeTokenExpired       = 10004
	CodeForbidden          = 10005

	// 用户 11000-11999
	CodeUserNotFound  = 11001
	CodeInvalidParams = 11002

	// 好友 12000-12999
	CodeFriendRequestNotFound = 12001
	CodeAlreadyFriends        = 12002
	CodeCannotAddSelf         = 12003
	CodeRequestPending        = 12004
	CodeNotFriends            = 12005

	// 私信 13000-13999
	CodeConversationNotFound = 13001
	CodeMessageNotFound      = 13002
	CodeInvalidContent       = 13003
	CodeSendFailed           = 13004
	CodeUploadFailed         = 13005
	CodeCrossPartition       = 13006
	CodeReorderFailed        = 13007
	CodeUpdateFailed         = 13008
	CodeNotPending           = 13009
	CodeMessageUnconfirmed   = 13010
	CodeInvalidPayload       = 13011

	// 动态 14000-14999
	CodePostNotFound  = 14001
	CodeLikeFailed    = 14002
	CodeCommentFailed = 14003

	// 推广 15000-15999
	CodePromotionNotFound = 15001
	CodeInvalidBudget     = 15002
	CodeInvalidWindow     = 15003
	CodeNotPostOwner      = 15004

	// 通知 16000-16999
	CodeNotificationNotFound = 16001

	// 系统 50000-50999
	CodeServerError         = 50001
	CodeDBError             = 50002
	CodeTooManyRequest      = 50003
	CodeFunctionUnavailable = 50004
	CodeStorageError        = 50005
)

// ============== 预定义错误 ==============

// 认证
var (
	ErrUsernameExists     = NewError(CodeUsernameExists, "用户名已存在")
	ErrInvalidCredentials = NewError(CodeInvalidCredentials, "用户名或密码错误")
	ErrTokenInvalid       = NewError(CodeTokenInvalid, "Token 无效")
	ErrTokenExpired       = NewError(CodeTokenExpired, "Token 已过期")
	ErrForbidden          = NewError(CodeForbidden, "无权操作")
)

// 用户
var (
	ErrUserNotFound  = NewError(CodeUserNotFound, "用户不存在")
	ErrInvalidParams = NewError(CodeInvalidParams, "参数校验失败")
)

// 好友
var (
	ErrFriendRequestNotFound = NewError(CodeFriendRequestNotFound, "好友请求不存在")
	ErrAlreadyFriends        = NewError(CodeAlreadyFriends, "已经是好友关系")
	ErrCannotAddSelf         = NewError(CodeCannotAddSelf, "不能添加自己为好友")
	ErrRequestPending        = NewError(CodeRequestPending, "好友请求待处理中")
	ErrNotFriends            = NewError(CodeNotFriends, "对方还不是你的好友")
)

// 私信
var (
	ErrConversationNotFound = NewError(CodeConversationNotFound, "会话不存在")
	ErrMessageNotFound      = NewError(CodeMessageNotFound, "消息不存在")
	ErrInvalidContent       = NewError(CodeInvalidContent, "消息必须且只能包含文字或图片之一")
	ErrSendFailed           = NewError(CodeSendFailed, "消息发送失败")
	ErrUploadFailed         = NewError(CodeUploadFailed, "图片上传失败")
	ErrCrossPartition       = NewError(CodeCrossPartition, "置顶会话和普通会话之间不能拖动排序")
	ErrReorderFailed        = NewError(CodeReorderFailed, "会话排序保存失败，已恢复")
	ErrUpdateFailed         = NewError(CodeUpdateFailed, "操作失败，已恢复")
	ErrNotPending           = NewError(CodeNotPending, "该消息不是待重发状态")
	ErrMessageUnconfirmed   = NewError(CodeMessageUnconfirmed, "消息未能确认送达，可以重试")
	ErrInvalidPayload       = NewError(CodeInvalidPayload, "实时数据格式非法")
)

// 动态
var (
	ErrPostNotFound  = NewError(CodePostNotFound, "动态不存在")
	ErrLikeFailed    = NewError(CodeLikeFailed, "点赞失败，已恢复")
	ErrCommentFailed = NewError(CodeCommentFailed, "评论发送失败")
)

// 推广
var (
	ErrPromotionNotFound = NewError(CodePromotionNotFound, "推广不存在")
	ErrInvalidBudget     = NewError(CodeInvalidBudget, "推广预算必须大于零")
	ErrInvalidWindow     = NewError(CodeInvalidWindow, "推广结束时间必须晚于开始时间")
	ErrNotPostOwner      = NewError(CodeNotPostOwner, "只能推广自己的动态")
)

// 通知
var (
	ErrNotificationNotFound = NewError(CodeNotificationNotFound, "通知不存在")
)

// 系统
var (
	ErrServerError         = NewError(CodeServerError, "服务器内部错误")
	ErrDBError             = NewError(CodeDBError, "数据库错误")
	ErrTooManyRequest      = NewError(CodeTooManyRequest, "请求过于频繁，请稍后再试")
	ErrFunctionUnavailable = NewError(CodeFunctionUnavailable, "云函数暂不可用")
	ErrStorageError        = NewError(CodeStorageError, "存储服务错误")
)
