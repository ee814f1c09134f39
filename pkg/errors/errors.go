package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误分类代码
type ErrorCode string

const (
	ErrMissingDependency ErrorCode = "MISSING_DEPENDENCY"
	ErrFetchFailure      ErrorCode = "FETCH_FAILURE"
	ErrConfigMissing     ErrorCode = "CONFIG_MISSING"
	ErrOutputWrite       ErrorCode = "OUTPUT_WRITE"
	ErrOverrideIO        ErrorCode = "OVERRIDE_IO"
	ErrInterrupted       ErrorCode = "INTERRUPTED"
)

// Error 带分类代码的错误
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回被包装的错误
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is 按错误代码比较
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New 创建错误
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf 创建格式化错误
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装已有错误, err 为 nil 时返回 nil
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Wrapped: err}
}

// Wrapf 包装已有错误并格式化消息
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// CodeOf 返回错误链中第一个分类代码, 没有则为空
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode 判断错误链中是否含有指定代码
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}
