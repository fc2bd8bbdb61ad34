package util

import (
	"errors"
	"llm_eval_backend/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Kind    ErrorKind   `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PageResponse 分页响应结构
type PageResponse struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    http.StatusAccepted,
		Message: "accepted",
		Data:    data,
	})
}

func Page(c *gin.Context, list interface{}, total int64, page, limit int) {
	Success(c, PageResponse{List: list, Total: total, Page: page, Limit: limit})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    http.StatusBadRequest,
		Message: message,
		Kind:    KindValidation,
	})
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

func LogInternalError(c *gin.Context, err error) {
	logger.Log.Error("Internal server error",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	InternalServerError(c)
}

// StatusForKind 错误分类对应的 HTTP 状态码
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleError 按错误分类输出响应，未分类错误记录日志并返回 500
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		if errors.Is(err, ErrPermissionDenied) {
			Forbidden(c)
			return
		}
		LogInternalError(c, err)
		return
	}

	status := StatusForKind(appErr.Kind)
	message := appErr.Message
	if message == "" {
		message = string(appErr.Kind)
	}
	if status >= http.StatusInternalServerError {
		logger.Log.Warn("request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", string(appErr.Kind)),
			zap.Error(err))
	}
	c.JSON(status, Response{
		Code:    status,
		Message: message,
		Kind:    appErr.Kind,
	})
}
