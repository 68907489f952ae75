// Package handler HTTP 接口
package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"sudooom.planverse/internal/middleware"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/session"
	appErrors "sudooom.planverse/shared/errors"
)

// Sessions 按用户取会话，*session.Manager 满足
type Sessions interface {
	Get(ctx context.Context, userID string) (*session.Session, error)
}

// sessionFor 当前登录用户的会话
func sessionFor(c *gin.Context, sessions Sessions) (*session.Session, error) {
	return sessions.Get(c.Request.Context(), middleware.GetUserID(c))
}

// readUpload 读取 multipart 中的图片，超过 maxBytes 时报错
func readUpload(fh *multipart.FileHeader, maxBytes int64) (*model.Upload, error) {
	if fh.Size > maxBytes {
		return nil, appErrors.ErrUploadFailed.WithMessage(fmt.Sprintf("图片不能超过 %d MB", maxBytes>>20))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, appErrors.ErrUploadFailed.Wrap(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, appErrors.ErrUploadFailed.Wrap(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, appErrors.ErrUploadFailed.WithMessage(fmt.Sprintf("图片不能超过 %d MB", maxBytes>>20))
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &model.Upload{Filename: fh.Filename, ContentType: contentType, Data: data}, nil
}
