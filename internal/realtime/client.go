// Package realtime 实时事件同步核心。
//
// Client 持有一条到后端的持久连接, 绑定至多一个 session,
// 把入站事件归一化后更新派生状态 (流式重组、工具调用关联、busy 标志),
// 再按顺序通知 store 回调与事件 handler。
//
// 并发模型:
//   - mu 保护所有派生状态, 任何回调都不会在 mu 下执行
//   - 副作用入队后由 deliverer 单线程 FIFO 投递, handler 可以安全重入 Client
//   - 兜底计时器带代号, 断开/切换后旧计时器失效
package realtime

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/multi-agent/agent-sync/internal/model"
	"github.com/multi-agent/agent-sync/internal/protocol"
	"github.com/multi-agent/agent-sync/internal/transport"
	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
	"github.com/multi-agent/agent-sync/pkg/logger"
	"github.com/multi-agent/agent-sync/pkg/util"
)

// Status 连接状态。
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

const (
	defaultFallbackIdle    = 350 * time.Millisecond
	defaultDedupeCacheSize = 512
	listenerKey            = ""
)

// wire 传输层的最小接口, 由 *transport.Conn 实现。
type wire interface {
	Open()
	Close()
	Send(f protocol.Frame) error
	URL() string
}

// Options Client 构造参数。
type Options struct {
	Transport transport.Config

	// FallbackIdle 完成的 chunk 之后多久没有新信号就清除 busy。
	FallbackIdle time.Duration
	// DedupeCacheSize 最近 message id 缓存容量。
	DedupeCacheSize int

	// Messages 外部消息列表, 可为 nil。
	Messages MessageStore
	// Metrics 可为 nil。
	Metrics *Metrics
}

// Client 实时同步客户端。显式构造、显式 Close, 注入给需要它的消费方。
type Client struct {
	opts     Options
	conn     wire
	norm     normalizer
	messages MessageStore
	metrics  *Metrics

	out             deliverer
	handlers        registry[Kind, Handler]
	statusListeners registry[string, func(Status)]
	procListeners   registry[string, func(bool)]
	callbacks       callbackSet

	mu             sync.Mutex
	status         Status
	active         bool // 用户期望连接保持打开
	closed         bool
	currentSession string // 已被后端确认
	pendingSession string // 已发送 subscribe, 等待确认
	desiredSession string // 重连后要恢复的 session
	stream         reassembler
	corr           correlator
	proc           processing
	seen           *lru.Cache[string, int64]
	echo           localEcho // 最近一条本地发出、尚未被后端回显的用户消息
	sendSeq        uint64
	lastPing       time.Time
}

// localEcho 本地用户消息。后端回显的 user 消息 id 相同或内容相同时视为同一条。
type localEcho struct {
	id      string
	content string
}

func (e localEcho) matches(msg model.Message) bool {
	if e.id == "" || msg.Role != model.RoleUser {
		return false
	}
	return msg.ID == e.id || msg.Content == e.content
}

// New 创建 Client。不会发起连接。
func New(opts Options) (*Client, error) {
	if opts.FallbackIdle <= 0 {
		opts.FallbackIdle = defaultFallbackIdle
	}
	if opts.DedupeCacheSize <= 0 {
		opts.DedupeCacheSize = defaultDedupeCacheSize
	}
	seen, err := lru.New[string, int64](opts.DedupeCacheSize)
	if err != nil {
		return nil, apperrors.Wrap(err, "realtime.New", "create dedupe cache")
	}
	c := &Client{
		opts:     opts,
		norm:     newNormalizer(),
		messages: opts.Messages,
		metrics:  opts.Metrics,
		status:   StatusDisconnected,
		seen:     seen,
	}
	c.conn = transport.New(opts.Transport, transportSink{c: c})
	return c, nil
}

// ========================================
// 连接生命周期
// ========================================

// Connect 打开连接并 (可选) 订阅 sessionID。
//
//   - 已连接: 订阅不同的 session 委托给 SubscribeToSession
//   - 连接中: 只记录期望的 session, 不会再开一条连接
//   - 其它: 进入 connecting 并启动传输层
//
// 连接错误只通过状态和 OnError 回调报告。
func (c *Client) Connect(sessionID string) {
	sessionID = strings.TrimSpace(sessionID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		logger.Warn("realtime: connect on closed client ignored")
		return
	}
	switch c.status {
	case StatusConnected:
		c.mu.Unlock()
		if sessionID != "" {
			_ = c.SubscribeToSession(sessionID)
		}
		return
	case StatusConnecting:
		if sessionID != "" {
			c.desiredSession = sessionID
		}
		c.mu.Unlock()
		return
	}
	c.active = true
	if sessionID != "" {
		c.desiredSession = sessionID
	}
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	logger.Info("realtime: connecting", logger.FieldURL, c.conn.URL(), logger.FieldSessionID, sessionID)
	c.conn.Open()
	c.out.drain()
}

// Disconnect 无条件拆除连接, 清空订阅与派生状态。
func (c *Client) Disconnect() {
	c.mu.Lock()
	prev := c.status
	c.active = false
	c.currentSession, c.pendingSession, c.desiredSession = "", "", ""
	c.resetSessionStateLocked()
	c.setStatusLocked(StatusDisconnected)
	if prev != StatusDisconnected {
		c.emitLocked(DisconnectEvent{Reason: "client disconnect"})
	}
	c.mu.Unlock()

	c.conn.Close()
	c.out.drain()
}

// Close 断开并释放所有注册。Close 之后 Connect 为 no-op。
func (c *Client) Close() {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.handlers.reset()
	c.statusListeners.reset()
	c.procListeners.reset()
	c.callbacks.reset()
}

// Reset 回到全新的 disconnected 状态并清空所有注册。用于测试。
func (c *Client) Reset() {
	c.Disconnect()
	c.handlers.reset()
	c.statusListeners.reset()
	c.procListeners.reset()
	c.callbacks.reset()
	c.out.clear()

	c.mu.Lock()
	c.closed = false
	c.seen.Purge()
	c.lastPing = time.Time{}
	c.mu.Unlock()
}

func (c *Client) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	prev := c.status
	c.status = s
	c.metrics.setStatus(s)
	logger.Info("realtime: status changed", logger.FieldStatus, string(s), "from", string(prev))
	c.out.enqueue(func() {
		for _, fn := range c.statusListeners.snapshot(listenerKey) {
			util.SafeCall("realtime.status_listener", func() { fn(s) })
		}
	})
}

// resetSessionStateLocked 清空 per-session 派生状态。
func (c *Client) resetSessionStateLocked() {
	c.stream.reset()
	c.corr.clear()
	c.echo = localEcho{}
	c.resetProcessingLocked()
}

// ========================================
// 订阅与 getter
// ========================================

// On 注册 handler, kind 为 KindAll 时接收所有事件。返回幂等的退订函数。
func (c *Client) On(kind Kind, h Handler) func() {
	if h == nil {
		return func() {}
	}
	return c.handlers.add(kind, h)
}

// OnStatusChange 注册状态监听, 立即以当前状态调用一次。
func (c *Client) OnStatusChange(fn func(Status)) func() {
	if fn == nil {
		return func() {}
	}
	unsub := c.statusListeners.add(listenerKey, fn)
	c.mu.Lock()
	s := c.status
	c.out.enqueue(func() { util.SafeCall("realtime.status_listener", func() { fn(s) }) })
	c.mu.Unlock()
	c.out.drain()
	return unsub
}

// OnProcessingChange 注册 busy 监听, 立即以当前值调用一次, 之后只在值变化时调用。
func (c *Client) OnProcessingChange(fn func(bool)) func() {
	if fn == nil {
		return func() {}
	}
	unsub := c.procListeners.add(listenerKey, fn)
	c.mu.Lock()
	busy := c.proc.busy
	c.out.enqueue(func() { util.SafeCall("realtime.processing_listener", func() { fn(busy) }) })
	c.mu.Unlock()
	c.out.drain()
	return unsub
}

// SetStoreCallbacks 追加 store 回调适配器, 不会替换已注册的。
func (c *Client) SetStoreCallbacks(adapters ...StoreCallbacks) {
	c.callbacks.add(adapters...)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// CurrentSessionID 已被后端确认的 session, 未确认时为空。
func (c *Client) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSession
}

// PendingSessionID 已请求但尚未确认的 session。
func (c *Client) PendingSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSession
}

func (c *Client) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc.busy
}

func (c *Client) WaitingForInput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc.waiting
}

// StreamingContent 返回流式消息当前累积的内容。
func (c *Client) StreamingContent(messageID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.content(messageID)
}

// CurrentTurn 返回当前 assistant 消息 id 及其工具调用列表副本。
func (c *Client) CurrentTurn() (messageID string, calls []model.ToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corr.messageID, model.CloneToolCalls(c.corr.calls)
}

// StateSnapshot 调试用的只读快照。
type StateSnapshot struct {
	Status           Status            `json:"status"`
	SessionID        string            `json:"session_id,omitempty"`
	PendingSessionID string            `json:"pending_session_id,omitempty"`
	Processing       bool              `json:"processing"`
	WaitingForInput  bool              `json:"waiting_for_input"`
	CurrentMessageID string            `json:"current_message_id,omitempty"`
	ToolCalls        []model.ToolCall  `json:"tool_calls,omitempty"`
	Streaming        map[string]string `json:"streaming,omitempty"`
}

func (c *Client) Snapshot() StateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StateSnapshot{
		Status:           c.status,
		SessionID:        c.currentSession,
		PendingSessionID: c.pendingSession,
		Processing:       c.proc.busy,
		WaitingForInput:  c.proc.waiting,
		CurrentMessageID: c.corr.messageID,
		ToolCalls:        model.CloneToolCalls(c.corr.calls),
		Streaming:        c.stream.snapshot(),
	}
}

// ========================================
// 出站
// ========================================

// SendMessage 向当前 (或等待确认的) session 发送用户消息, 开始新一轮。
//
// 状态变更在锁内完成, socket 写在锁外; 写失败时回滚本轮。
// 用户消息在写成功后才进入 message store。
func (c *Client) SendMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperrors.WithCode(apperrors.Wrap(apperrors.ErrInvalidInput, "Client.SendMessage", "empty content"), apperrors.CodeInput)
	}

	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		logger.Warn("realtime: send while disconnected ignored", logger.FieldLen, len(content))
		return apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotConnected, "Client.SendMessage", "not connected"), apperrors.CodeState)
	}
	sessionID := util.FirstNonEmpty(c.currentSession, c.pendingSession)
	if sessionID == "" {
		c.mu.Unlock()
		logger.Warn("realtime: send without session ignored", logger.FieldLen, len(content))
		return apperrors.WithCode(apperrors.Wrap(apperrors.ErrNoSession, "Client.SendMessage", "no active session"), apperrors.CodeState)
	}
	msg := model.Message{
		ID:        c.norm.newID(),
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: c.norm.now(),
	}
	c.sendSeq++
	seq := c.sendSeq
	c.seen.Add(msg.ID, 0)
	c.echo = localEcho{id: msg.ID, content: content}
	c.corr.clear()
	c.turnStartLocked()
	c.mu.Unlock()
	c.out.drain()

	if err := c.conn.Send(protocol.MessageFrame(sessionID, msg.ID, content)); err != nil {
		logger.Warn("realtime: send failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
		c.mu.Lock()
		if c.sendSeq == seq {
			c.echo = localEcho{}
			c.resetProcessingLocked()
		}
		c.mu.Unlock()
		c.out.drain()
		return apperrors.WithCode(err, apperrors.CodeTransport)
	}

	c.mu.Lock()
	if c.status != StatusConnected || util.FirstNonEmpty(c.currentSession, c.pendingSession) != sessionID {
		c.mu.Unlock()
		logger.Warn("realtime: session changed during send, local copy dropped",
			logger.FieldSessionID, sessionID, logger.FieldMessageID, msg.ID)
		return nil
	}
	if c.messages != nil {
		store := c.messages
		c.out.enqueue(func() { store.Append(msg) })
	}
	c.out.enqueue(func() {
		for _, cb := range c.callbacks.snapshot() {
			util.SafeCall("realtime.callback", func() { cb.OnMessage(msg) })
		}
	})
	c.mu.Unlock()

	logger.Debug("realtime: message sent", logger.FieldSessionID, sessionID, logger.FieldMessageID, msg.ID)
	c.out.drain()
	return nil
}

// Ping 发送应用层 ping, 对应的 pong 以 PongEvent 分发并带 RTT。
func (c *Client) Ping() error {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return apperrors.Wrap(apperrors.ErrNotConnected, "Client.Ping", "not connected")
	}
	now := c.norm.now()
	prev := c.lastPing
	c.lastPing = now
	c.mu.Unlock()

	if err := c.conn.Send(protocol.PingFrame(now)); err != nil {
		c.mu.Lock()
		if c.lastPing.Equal(now) {
			c.lastPing = prev
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// ========================================
// 传输层回调
// ========================================

type transportSink struct{ c *Client }

func (s transportSink) TransportOpened(reconnected bool) { s.c.onOpened(reconnected) }
func (s transportSink) TransportFrame(f protocol.Frame)  { s.c.handleFrame(f) }
func (s transportSink) TransportDropped(err error)       { s.c.onDropped(err) }
func (s transportSink) TransportStopped(err error)       { s.c.onStopped(err) }
func (s transportSink) TransportDialFailed(err error, attempt int, willRetry bool) {
	s.c.onDialFailed(err, attempt, willRetry)
}

func (c *Client) onOpened(reconnected bool) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	if reconnected {
		c.metrics.observeReconnect()
	}
	c.currentSession, c.pendingSession = "", ""
	c.setStatusLocked(StatusConnected)
	c.emitLocked(ConnectEvent{Reconnected: reconnected})
	if c.desiredSession != "" {
		_ = c.sendSubscribeLocked(c.desiredSession)
	}
	c.mu.Unlock()
	c.out.drain()
}

func (c *Client) onDropped(err error) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.currentSession, c.pendingSession = "", ""
	c.setStatusLocked(StatusConnecting)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	c.emitLocked(DisconnectEvent{Reason: reason})
	c.mu.Unlock()
	c.out.drain()
}

func (c *Client) onDialFailed(err error, attempt int, willRetry bool) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.metrics.observeDialFailure()
	c.setStatusLocked(StatusError)
	msg := "connect failed"
	if err != nil {
		msg = err.Error()
	}
	c.emitLocked(ConnectErrorEvent{Error: msg, Attempt: attempt, WillRetry: willRetry})
	c.mu.Unlock()
	c.out.drain()
}

func (c *Client) onStopped(err error) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(StatusError)
	c.mu.Unlock()
	logger.Error("realtime: transport stopped", logger.FieldError, err)
	c.out.drain()
}

// ========================================
// 入站
// ========================================

func (c *Client) handleFrame(f protocol.Frame) {
	ev, ok := c.norm.normalize(f)
	if !ok {
		c.metrics.observeDrop(dropUnknownEvent)
		return
	}
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		c.metrics.observeDrop(dropInactiveTransport)
		return
	}
	c.applyLocked(ev)
	c.mu.Unlock()
	c.out.drain()
}

// applyLocked 先更新派生状态并入队 store 写入, 再入队事件分发。
func (c *Client) applyLocked(ev Event) {
	switch e := ev.(type) {
	case SubscribedEvent:
		c.onSubscribedLocked(e)
		c.emitLocked(e)

	case UnsubscribedEvent:
		c.onUnsubscribedLocked(e)
		c.emitLocked(e)

	case MessageEvent:
		c.onMessageLocked(e)

	case MessageChunkEvent:
		c.onChunkLocked(e)

	case AgentThinkingEvent:
		c.busyStartLocked()
		c.emitLocked(e)

	case AgentFinishedEvent:
		c.finishTurnLocked()
		c.corr.clear()
		c.emitLocked(e)

	case WaitingForInputEvent:
		if !c.waitingLocked() {
			logger.Warn("realtime: premature waiting_for_input discarded", "sequence", e.Sequence)
			c.metrics.observeDrop(dropPrematureWaiting)
			return
		}
		c.emitLocked(e)

	case ToolCallEvent:
		c.busyStartLocked()
		if msgID, calls, ok := c.corr.attach(e.Call); ok {
			e.MessageID, e.ToolCalls = msgID, calls
			c.storeToolCallsLocked(msgID, calls)
		} else {
			logger.Debug("realtime: tool call without current message", logger.FieldToolName, e.Call.Name)
		}
		c.emitLocked(e)

	case ToolResultEvent:
		merged, msgID, calls, ok := c.corr.resolve(e.Call)
		if ok {
			e.Call, e.Matched, e.MessageID, e.ToolCalls = merged, true, msgID, calls
			c.storeToolCallsLocked(msgID, calls)
		} else {
			logger.Warn("realtime: unmatched tool result",
				logger.FieldToolName, e.Call.Name,
				logger.FieldCallID, e.Call.CallID,
			)
			c.metrics.observeDrop(dropUnmatchedResult)
		}
		c.emitLocked(e)

	case PongEvent:
		now := c.norm.now()
		switch {
		case e.Timestamp > 0:
			e.RTT = now.Sub(time.UnixMilli(e.Timestamp))
		case !c.lastPing.IsZero():
			e.RTT = now.Sub(c.lastPing)
		}
		c.emitLocked(e)

	default:
		c.emitLocked(ev)
	}
}

func (c *Client) onMessageLocked(e MessageEvent) {
	msg := e.Message
	if last, ok := c.seen.Get(msg.ID); ok && (msg.Sequence == 0 || msg.Sequence <= last) {
		logger.Warn("realtime: duplicate message discarded",
			logger.FieldMessageID, msg.ID,
			logger.FieldSeq, msg.Sequence,
		)
		c.metrics.observeDrop(dropDuplicateMessage)
		return
	}
	c.seen.Add(msg.ID, msg.Sequence)

	if c.echo.matches(msg) {
		logger.Debug("realtime: echo of local message discarded",
			logger.FieldMessageID, msg.ID,
			"local_id", c.echo.id,
		)
		c.echo = localEcho{}
		c.metrics.observeDrop(dropLocalEcho)
		return
	}
	if msg.Role == model.RoleAssistant {
		c.echo = localEcho{}
		c.corr.setCurrent(msg.ID, msg.ToolCalls)
	}
	if c.messages != nil {
		store, stored := c.messages, msg.Clone()
		c.out.enqueue(func() {
			if _, exists := store.Get(stored.ID); exists {
				store.UpdateContent(stored.ID, stored.Content)
				if stored.ToolCalls != nil {
					store.SetToolCalls(stored.ID, stored.ToolCalls)
				}
				return
			}
			store.Append(stored)
		})
	}
	c.emitLocked(e)
}

func (c *Client) onChunkLocked(e MessageChunkEvent) {
	if e.MessageID == "" {
		logger.Warn("realtime: chunk without message id discarded", logger.FieldLen, len(e.Chunk))
		return
	}
	content, created := c.stream.onChunk(e.MessageID, e.Chunk, e.IsComplete)
	e.Content = content
	if e.Chunk != "" {
		c.busyStartLocked()
	}

	if !e.IsComplete {
		if e.Chunk != "" || created {
			c.emitLocked(e)
		}
		return
	}

	c.armFallbackLocked()
	c.corr.setCurrent(e.MessageID, nil)
	if c.messages != nil {
		store := c.messages
		final := model.Message{
			ID:        e.MessageID,
			Role:      model.RoleAssistant,
			Content:   content,
			Timestamp: c.norm.now(),
		}
		c.out.enqueue(func() {
			if _, exists := store.Get(final.ID); exists {
				store.UpdateContent(final.ID, final.Content)
				return
			}
			store.Append(final)
		})
	}
	c.emitLocked(e)
}

func (c *Client) storeToolCallsLocked(messageID string, calls []model.ToolCall) {
	if c.messages == nil {
		return
	}
	store := c.messages
	c.out.enqueue(func() {
		if !store.SetToolCalls(messageID, calls) {
			logger.Debug("realtime: tool calls for unknown message", logger.FieldMessageID, messageID)
		}
	})
}
