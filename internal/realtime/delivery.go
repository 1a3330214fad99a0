package realtime

import (
	"sync"

	"github.com/multi-agent/agent-sync/pkg/util"
)

// deliverer 单一投递蹦床。
//
// 状态变更在 Client.mu 下完成并把副作用 (回调/handler 调用) 入队,
// 释放锁后 drain。同一时刻只有一个 goroutine 在 drain, 保证 FIFO;
// handler 内重入 Client 产生的副作用排在当前副作用之后。
type deliverer struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

func (d *deliverer) enqueue(fns ...func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fns...)
	d.mu.Unlock()
}

func (d *deliverer) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		util.SafeCall("realtime.deliver", fn)
		d.mu.Lock()
	}
	d.queue = nil
	d.draining = false
	d.mu.Unlock()
}

// clear 丢弃尚未投递的副作用。
func (d *deliverer) clear() {
	d.mu.Lock()
	d.queue = nil
	d.mu.Unlock()
}
