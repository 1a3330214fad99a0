package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/multi-agent/agent-sync/internal/model"
	"github.com/multi-agent/agent-sync/internal/protocol"
	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
)

// fakeWire 记录出站帧, 由测试手动驱动连接生命周期。
type fakeWire struct {
	mu        sync.Mutex
	connected bool
	opens     int
	closes    int
	sent      []protocol.Frame
	sendHook  func(protocol.Frame) // 在记录之前调用, 不持有 w.mu
}

func (w *fakeWire) Open() {
	w.mu.Lock()
	w.opens++
	w.mu.Unlock()
}

func (w *fakeWire) Close() {
	w.mu.Lock()
	w.closes++
	w.connected = false
	w.mu.Unlock()
}

func (w *fakeWire) Send(f protocol.Frame) error {
	w.mu.Lock()
	hook := w.sendHook
	w.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return apperrors.ErrNotConnected
	}
	w.sent = append(w.sent, f)
	return nil
}

func (w *fakeWire) URL() string { return "ws://fake/ws" }

func (w *fakeWire) setConnected(v bool) {
	w.mu.Lock()
	w.connected = v
	w.mu.Unlock()
}

// sessionsFor 返回指定事件名的出站帧中的 session_id 列表。
func (w *fakeWire) sessionsFor(event string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, f := range w.sent {
		if f.Event != event {
			continue
		}
		var ref protocol.SessionRef
		_ = json.Unmarshal(f.Data, &ref)
		out = append(out, ref.SessionID)
	}
	return out
}

func (w *fakeWire) count(event string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, f := range w.sent {
		if f.Event == event {
			n++
		}
	}
	return n
}

// memStore 测试用消息列表。
type memStore struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (s *memStore) Get(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

func (s *memStore) Append(msg model.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg.Clone())
	s.mu.Unlock()
}

func (s *memStore) UpdateContent(id, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			s.msgs[i].Content = content
			return true
		}
	}
	return false
}

func (s *memStore) SetToolCalls(id string, calls []model.ToolCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			s.msgs[i].ToolCalls = model.CloneToolCalls(calls)
			return true
		}
	}
	return false
}

func (s *memStore) all() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Clone()
	}
	return out
}

func newTestClient(t *testing.T, opts Options) (*Client, *fakeWire, *memStore) {
	t.Helper()
	store := &memStore{}
	if opts.Messages == nil {
		opts.Messages = store
	}
	if opts.FallbackIdle == 0 {
		opts.FallbackIdle = 40 * time.Millisecond
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := &fakeWire{}
	c.conn = w
	t.Cleanup(c.Close)
	return c, w, store
}

// open 模拟握手成功。
func open(c *Client, w *fakeWire, reconnected bool) {
	w.setConnected(true)
	c.onOpened(reconnected)
}

// connectTo 连接并完成 sessionID 的订阅确认。
func connectTo(t *testing.T, c *Client, w *fakeWire, sessionID string) {
	t.Helper()
	c.Connect(sessionID)
	open(c, w, false)
	inbound(t, c, protocol.EventSubscribed, map[string]any{"session_id": sessionID})
	if got := c.CurrentSessionID(); got != sessionID {
		t.Fatalf("CurrentSessionID = %q, want %q", got, sessionID)
	}
}

func inbound(t *testing.T, c *Client, event string, data any) {
	t.Helper()
	f, err := protocol.NewFrame(event, data)
	if err != nil {
		t.Fatalf("NewFrame(%s): %v", event, err)
	}
	c.handleFrame(f)
}

func chunk(t *testing.T, c *Client, id, text string, complete bool) {
	t.Helper()
	inbound(t, c, protocol.EventMessageChunk, map[string]any{
		"message_id":  id,
		"chunk":       text,
		"is_complete": complete,
	})
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// recorder 记录 busy 变化。
type recorder struct {
	mu     sync.Mutex
	values []bool
}

func (r *recorder) record(v bool) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}
