// Package errors 提供统一错误类型与哨兵错误。
//
// 两层结构:
//   - L1 哨兵错误: ErrNotConnected / ErrNoSession / ErrClosed 等, 用 errors.Is 判断
//   - L2 AppError: 带 Op + Code + Message 的应用级错误, 包装底层原因
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotConnected 传输层未连接
	ErrNotConnected = errors.New("not connected")

	// ErrNoSession 当前没有订阅任何 session
	ErrNoSession = errors.New("no active session")

	// ErrClosed client 已被 Close
	ErrClosed = errors.New("client closed")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrProtocol 后端帧无法解析或违反协议
	ErrProtocol = errors.New("protocol violation")
)

// 错误码, 供 AppError.Code 使用。
const (
	CodeTransport = "TRANSPORT"
	CodeBackend   = "BACKEND"
	CodeState     = "STATE"
	CodeInput     = "VALIDATION"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Client.SendMessage"
	Code    string // 错误码，如 "TRANSPORT"、"STATE"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 为 AppError 设置错误码; 非 AppError 时包装一层。
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		clone := *appErr
		clone.Code = code
		return &clone
	}
	return &AppError{Op: "unknown", Code: code, Message: err.Error(), Err: err}
}

// CodeOf 提取错误链上第一个 AppError 的错误码。
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
