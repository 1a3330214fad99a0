// Package logger 提供基于 slog 的结构化日志。
//
// 核心功能:
//   - Init() 配置默认日志器 (JSON/Text) 与级别
//   - FromContext() 上下文感知日志
//   - 包级便捷方法 (Info/Error/Warn/Debug/Fatal)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// defaultLogger 使用 atomic.Pointer 保证并发安全。
	defaultLogger atomic.Pointer[slog.Logger]

	level = new(slog.LevelVar)
)

func init() { defaultLogger.Store(newLogger(os.Stdout, false)) }

func getLogger() *slog.Logger { return defaultLogger.Load() }

func storeLogger(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// replaceTimeAttr 将时间格式化为毫秒精度, 便于对齐流式事件。
func replaceTimeAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05.000"))
		}
	}
	return a
}

func newLogger(w io.Writer, development bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   development,
		ReplaceAttr: replaceTimeAttr,
	}
	var handler slog.Handler
	if development {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Init 初始化日志配置。env: "development"/"dev" 输出 text 到 stderr, 其余输出 JSON 到 stdout。
func Init(env string) {
	dev := env == "development" || env == "dev"
	if dev {
		storeLogger(newLogger(os.Stderr, true))
		return
	}
	storeLogger(newLogger(os.Stdout, false))
}

// InitWriter 将日志输出重定向到 w (测试与 CLI 使用)。
func InitWriter(w io.Writer, development bool) {
	storeLogger(newLogger(w, development))
}

// SetLevel 设置日志级别: DEBUG / INFO / WARN / ERROR, 无法识别时保持 INFO。
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel 解析级别名 (大小写不敏感)。
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ========================================
// Context 感知日志
// ========================================

type ctxKey struct{}

// WithContext 将日志器注入 context。
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 从 context 提取日志器，若不存在则返回默认日志器。
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return getLogger()
}

// ========================================
// 包级便捷方法
// ========================================

// Info/Error/Warn/Debug 记录结构化日志。args 为 key-value 对。
func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

// Infof/Warnf 记录格式化日志。
func Infof(format string, args ...any) { getLogger().Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any) { getLogger().Warn(fmt.Sprintf(format, args...)) }

// Fatal 记录致命错误并退出。
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	os.Exit(1)
}

// With 返回带附加上下文的日志器。
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get 返回底层 slog.Logger。
func Get() *slog.Logger { return getLogger() }

// Any 创建任意类型属性。
func Any(key string, value any) slog.Attr { return slog.Any(key, value) }

// 预留字段常量: MUST 使用常量键名，勿硬编码。
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldStatus    = "status"
	FieldURL       = "url"
	FieldAttempt   = "attempt"
	FieldMax       = "max"
	FieldDelayMS   = "delay_ms"
	FieldCount     = "count"
	FieldListen    = "listen"
	FieldPath      = "path"
	FieldMethod    = "method"
	FieldLen       = "len"
	FieldRaw       = "raw"

	FieldSessionID = "session_id"
	FieldMessageID = "message_id"
	FieldEventType = "event_type"
	FieldEventKind = "event_kind"
	FieldToolName  = "tool_name"
	FieldCallID    = "call_id"
	FieldSeq       = "seq"
	FieldBusy      = "busy"
	FieldReason    = "reason"
	FieldVersion   = "version"
)
