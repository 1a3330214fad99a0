package realtime

import (
	"sync"

	"github.com/multi-agent/agent-sync/pkg/util"
)

// Handler 事件处理函数。
type Handler func(Event)

type entry[T any] struct {
	id uint64
	fn T
}

// registry 按 key 分组的订阅表。投递前取快照, 投递中退订是安全的。
type registry[K comparable, T any] struct {
	mu     sync.Mutex
	nextID uint64
	byKey  map[K][]entry[T]
}

func (r *registry[K, T]) add(key K, fn T) func() {
	r.mu.Lock()
	if r.byKey == nil {
		r.byKey = make(map[K][]entry[T])
	}
	r.nextID++
	id := r.nextID
	r.byKey[key] = append(r.byKey[key], entry[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(key, id) })
	}
}

func (r *registry[K, T]) remove(key K, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byKey[key]
	for i, e := range list {
		if e.id == id {
			next := make([]entry[T], 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(r.byKey, key)
			} else {
				r.byKey[key] = next
			}
			return
		}
	}
}

func (r *registry[K, T]) snapshot(key K) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byKey[key]
	out := make([]T, len(list))
	for i, e := range list {
		out[i] = e.fn
	}
	return out
}

func (r *registry[K, T]) len(key K) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey[key])
}

func (r *registry[K, T]) reset() {
	r.mu.Lock()
	r.byKey = nil
	r.mu.Unlock()
}

// callbackSet 追加式的 StoreCallbacks 组合。
type callbackSet struct {
	mu   sync.Mutex
	list []StoreCallbacks
}

func (s *callbackSet) add(cbs ...StoreCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			s.list = append(s.list, cb)
		}
	}
}

func (s *callbackSet) snapshot() []StoreCallbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoreCallbacks(nil), s.list...)
}

func (s *callbackSet) reset() {
	s.mu.Lock()
	s.list = nil
	s.mu.Unlock()
}

// dispatchEvent 顺序: store 回调 → 精确 kind handler → wildcard handler。
// 每个调用单独 recover, 一个 handler panic 不影响其余。
func (c *Client) dispatchEvent(ev Event) {
	for _, cb := range c.callbacks.snapshot() {
		util.SafeCall("realtime.callback", func() { notifyCallbacks(cb, ev) })
	}
	kind := ev.Kind()
	for _, h := range c.handlers.snapshot(kind) {
		util.SafeCall("realtime.handler", func() { h(ev) })
	}
	for _, h := range c.handlers.snapshot(KindAll) {
		util.SafeCall("realtime.handler", func() { h(ev) })
	}
}

// emitLocked 入队一个事件的投递。调用方必须持有 c.mu。
func (c *Client) emitLocked(ev Event) {
	c.metrics.observeEvent(ev.Kind())
	c.out.enqueue(func() { c.dispatchEvent(ev) })
}
