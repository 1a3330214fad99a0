// processing.go: "agent 是否在工作" 的派生状态。
//
// 信号到达顺序不可靠, 规则:
//   - tool_call / agent_thinking / 非空 chunk: busy=true, guard=true, waiting=false, 取消兜底计时
//   - agent_finished: busy=false, guard=false (总是生效)
//   - waiting_for_input: 仅在 guard=true 时生效, 否则视为过早信号丢弃
//   - 完成的 chunk: 启动兜底计时, 到期 busy=false
//   - 发送用户消息: 新一轮, guard=false, busy=true
//   - 断开或切换 session: 全部复位, 计时作废
package realtime

import (
	"time"

	"github.com/multi-agent/agent-sync/pkg/logger"
	"github.com/multi-agent/agent-sync/pkg/util"
)

type processing struct {
	busy    bool
	started bool // 本轮是否真正开始处理
	waiting bool

	timer *time.Timer
	gen   uint64 // 计时代, 过期的计时器回调直接返回
}

// 以下方法调用方必须持有 c.mu。

func (c *Client) setBusyLocked(busy bool) {
	if c.proc.busy == busy {
		return
	}
	c.proc.busy = busy
	c.metrics.setBusy(busy)
	logger.Debug("realtime: processing changed", logger.FieldBusy, busy)
	c.out.enqueue(func() {
		for _, fn := range c.procListeners.snapshot(listenerKey) {
			util.SafeCall("realtime.processing_listener", func() { fn(busy) })
		}
	})
}

func (c *Client) busyStartLocked() {
	c.cancelFallbackLocked()
	c.proc.started = true
	c.proc.waiting = false
	c.setBusyLocked(true)
}

func (c *Client) turnStartLocked() {
	c.cancelFallbackLocked()
	c.proc.started = false
	c.proc.waiting = false
	c.setBusyLocked(true)
}

func (c *Client) finishTurnLocked() {
	c.cancelFallbackLocked()
	c.proc.started = false
	c.setBusyLocked(false)
}

// waitingLocked 返回 false 表示信号过早被丢弃。
func (c *Client) waitingLocked() bool {
	if !c.proc.started {
		return false
	}
	c.cancelFallbackLocked()
	c.proc.waiting = true
	c.setBusyLocked(false)
	return true
}

func (c *Client) resetProcessingLocked() {
	c.cancelFallbackLocked()
	c.proc.started = false
	c.proc.waiting = false
	c.setBusyLocked(false)
}

func (c *Client) armFallbackLocked() {
	c.cancelFallbackLocked()
	gen := c.proc.gen
	c.proc.timer = time.AfterFunc(c.opts.FallbackIdle, func() { c.fallbackFired(gen) })
}

func (c *Client) cancelFallbackLocked() {
	if c.proc.timer != nil {
		c.proc.timer.Stop()
		c.proc.timer = nil
	}
	c.proc.gen++
}

func (c *Client) fallbackFired(gen uint64) {
	c.mu.Lock()
	if gen != c.proc.gen {
		c.mu.Unlock()
		return
	}
	c.proc.timer = nil
	if c.proc.busy {
		logger.Debug("realtime: fallback idle timeout cleared busy",
			logger.FieldReason, "fallback",
			"idle_ms", c.opts.FallbackIdle.Milliseconds(),
		)
	}
	c.setBusyLocked(false)
	c.mu.Unlock()
	c.out.drain()
}
