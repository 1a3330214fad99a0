// safego.go: 安全 goroutine 启动器，捕获 panic 防止进程崩溃。
package util

import (
	"runtime/debug"

	"github.com/multi-agent/agent-sync/pkg/logger"
)

// SafeGo 在新 goroutine 中安全执行 fn，捕获 panic 并记录日志 + 堆栈。
func SafeGo(fn func()) {
	go SafeCall("goroutine", fn)
}

// SafeCall 同步执行 fn, panic 被捕获并记录, 返回 fn 是否正常结束。
//
// 用于回调 fan-out: 单个回调 panic 不能中断后续回调。
func SafeCall(scope string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic",
				logger.FieldComponent, scope,
				logger.FieldError, r,
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()
	fn()
	return true
}
