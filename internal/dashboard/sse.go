// sse.go: SSE 事件总线 + handler。
package dashboard

import (
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/multi-agent/agent-sync/internal/realtime"
	"github.com/multi-agent/agent-sync/pkg/logger"
)

const sseKeepalive = 30 * time.Second

// EventBus 事件总线 (SSE 推送)。慢订阅者丢事件, 不阻塞 dispatch。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// Event SSE 事件。
type Event struct {
	Type string
	Data any
}

// NewEventBus 创建事件总线。
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]chan Event)}
}

// Publish 广播事件。
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishEvent 以事件 kind 作为 SSE event 名广播。
func (b *EventBus) PublishEvent(ev realtime.Event) {
	b.Publish(Event{Type: string(ev.Kind()), Data: ev})
}

// Subscribe 订阅。
func (b *EventBus) Subscribe(id string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 64)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch, sseHandler 通过 ctx.Done() 退出。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Len 当前订阅者数。
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// sseHandler Gin SSE handler。
func (s *Server) sseHandler(c *gin.Context) {
	clientID := "sse-" + uuid.NewString()
	ch := s.bus.Subscribe(clientID)
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("dashboard: SSE client disconnected", "client_id", clientID)
	}()

	logger.Info("dashboard: SSE client connected", "client_id", clientID)

	// 先推一次状态快照, 客户端无需另行 GET /api/state
	c.SSEvent("snapshot", s.opts.Client.Snapshot())
	c.Writer.Flush()

	keepalive := time.NewTimer(sseKeepalive)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt.Data)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(sseKeepalive)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(sseKeepalive)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
