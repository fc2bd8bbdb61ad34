package util

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorKind 错误分类，决定 HTTP 状态码与是否可重试
type ErrorKind string

const (
	KindValidation   ErrorKind = "ValidationError"
	KindInvalidState ErrorKind = "InvalidState"
	KindNotFound     ErrorKind = "NotFound"
	KindConflict     ErrorKind = "Conflict"
	KindTransient    ErrorKind = "Transient"
)

// AppError 带分类的业务错误
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按分类比较，errors.Is(err, ErrNotFound) 对任意 NotFound 成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrValidation   = &AppError{Kind: KindValidation}
	ErrInvalidState = &AppError{Kind: KindInvalidState}
	ErrNotFound     = &AppError{Kind: KindNotFound}
	ErrConflict     = &AppError{Kind: KindConflict}
	ErrTransient    = &AppError{Kind: KindTransient}

	ErrPermissionDenied = errors.New("permission denied")
)

func newError(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *AppError {
	return newError(KindValidation, format, args...)
}

func InvalidState(format string, args ...interface{}) *AppError {
	return newError(KindInvalidState, format, args...)
}

func NotFoundf(format string, args ...interface{}) *AppError {
	return newError(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *AppError {
	return newError(KindConflict, format, args...)
}

func Transient(err error, format string, args ...interface{}) *AppError {
	e := newError(KindTransient, format, args...)
	e.Err = err
	return e
}

// KindOf 返回错误分类，未分类错误返回空串
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// WrapNotFound 将 gorm.ErrRecordNotFound 转换为 NotFound
func WrapNotFound(err error, entity string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFoundf("%s %v not found", entity, id)
	}
	return err
}
