// conn.go: WebSocket 传输层: 连接、读循环、心跳、有界重连。
//
// Conn 只负责一条到后端的全双工连接, 不理解事件语义:
// 入站帧原样交给 Sink, 连接生命周期变化也通过 Sink 报告。
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/agent-sync/internal/protocol"
	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
	"github.com/multi-agent/agent-sync/pkg/logger"
	"github.com/multi-agent/agent-sync/pkg/util"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultPingInterval     = 25 * time.Second
	defaultReadIdleTimeout  = 75 * time.Second
	defaultReconnectBase    = time.Second
	defaultReconnectMax     = 5 * time.Second
)

// Sink 接收传输层回调。所有回调都在传输层的 goroutine 上同步执行。
type Sink interface {
	// TransportOpened 握手成功。reconnected=true 表示断线后的重连。
	TransportOpened(reconnected bool)
	// TransportFrame 收到一个入站帧。
	TransportFrame(f protocol.Frame)
	// TransportDropped 已建立的连接中断, 随后会尝试重连。
	TransportDropped(err error)
	// TransportDialFailed 单次拨号失败。
	TransportDialFailed(err error, attempt int, willRetry bool)
	// TransportStopped 重连次数耗尽, 传输层已停止。
	TransportStopped(err error)
}

// Config 传输层参数。零值字段使用默认值。
type Config struct {
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadIdleTimeout  time.Duration

	// MaxReconnectAttempts 每次断线 (或首次连接) 允许的连续拨号失败次数。
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	// Jitter 重连延迟随机因子 (0 = 固定指数退避)。
	Jitter float64
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = defaultReadIdleTimeout
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = defaultReconnectBase
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		c.ReconnectMaxDelay = max(defaultReconnectMax, c.ReconnectBaseDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	return c
}

// Conn 单条持久 WebSocket 连接。
//
// 锁职责:
//   - mu:      保护 ws / gen / cancel
//   - writeMu: 序列化写 (gorilla 只允许单写者)
type Conn struct {
	cfg  Config
	sink Sink

	mu     sync.Mutex
	ws     *websocket.Conn
	gen    uint64
	cancel context.CancelFunc

	writeMu sync.Mutex

	afterInstall func() // 测试钩子: install 与 Opened 回调之间
}

// New 创建传输层。Open 之前不会产生任何网络活动。
func New(cfg Config, sink Sink) *Conn {
	return &Conn{cfg: cfg.withDefaults(), sink: sink}
}

// URL 返回目标地址。
func (c *Conn) URL() string { return c.cfg.URL }

// Open 异步建立连接。已在运行 (连接中/已连接/重连中) 时为 no-op。
// 拨号错误只通过 Sink 报告, 不会同步返回。
func (c *Conn) Open() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	util.SafeGo(func() { c.run(ctx, gen) })
}

// Running 报告传输层是否处于连接/重连流程中。
func (c *Conn) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Connected 报告当前是否持有可写的 socket。
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Close 无条件拆除连接并停止重连。Close 返回后旧连接的回调全部失效。
func (c *Conn) Close() {
	c.mu.Lock()
	c.gen++
	cancel := c.cancel
	c.cancel = nil
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = ws.Close()
	}
}

// Send 写出一个帧。未连接时返回 ErrNotConnected。
func (c *Conn) Send(f protocol.Frame) error {
	raw, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return apperrors.Wrapf(apperrors.ErrNotConnected, "Conn.Send", "drop %s", f.Event)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return apperrors.Wrapf(err, "Conn.Send", "write %s", f.Event)
	}
	return nil
}

// current 报告 gen 是否仍是当前连接代。
func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Conn) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectBaseDelay
	b.MaxInterval = c.cfg.ReconnectMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = c.cfg.Jitter
	b.Reset()
	return b
}

// run 拨号 → 读循环 → 断线重连, 直到 ctx 取消或重连耗尽。
func (c *Conn) run(ctx context.Context, gen uint64) {
	defer c.finish(gen)

	bo := c.newBackOff()
	reconnected := false
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			willRetry := failures <= c.cfg.MaxReconnectAttempts
			if c.current(gen) {
				c.sink.TransportDialFailed(err, failures, willRetry)
			}
			if !willRetry {
				logger.Warn("transport: reconnect exhausted",
					logger.FieldURL, c.cfg.URL,
					logger.FieldAttempt, failures,
					logger.FieldMax, c.cfg.MaxReconnectAttempts,
					logger.FieldError, err,
				)
				if c.current(gen) {
					c.sink.TransportStopped(err)
				}
				return
			}
			delay := bo.NextBackOff()
			logger.Warn("transport: dial failed, retrying",
				logger.FieldURL, c.cfg.URL,
				logger.FieldAttempt, failures,
				logger.FieldDelayMS, delay.Milliseconds(),
				logger.FieldError, err,
			)
			if !sleepWithContext(ctx, delay) {
				return
			}
			continue
		}

		if !c.install(gen, ws) {
			_ = ws.Close()
			return
		}
		failures = 0
		bo.Reset()
		if c.afterInstall != nil {
			c.afterInstall()
		}
		// install 之后可能已被 Close/Open 换代, 旧代不得报告 opened
		if !c.current(gen) {
			c.uninstall(ws)
			_ = ws.Close()
			return
		}
		logger.Info("transport: connected", logger.FieldURL, c.cfg.URL, "reconnected", reconnected)
		c.sink.TransportOpened(reconnected)

		util.SafeGo(func() { c.pingLoop(ctx, ws) })
		readErr := c.readLoop(gen, ws)

		c.uninstall(ws)
		if ctx.Err() != nil || !c.current(gen) {
			return
		}
		logger.Warn("transport: connection dropped", logger.FieldURL, c.cfg.URL, logger.FieldError, readErr)
		c.sink.TransportDropped(readErr)
		reconnected = true
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Conn.dial", "empty backend url")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: c.cfg.HandshakeTimeout}).DialContext,
	}
	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "Conn.dial", "ws connect")
	}
	if ws == nil {
		return nil, apperrors.New("Conn.dial", "dial returned nil websocket connection")
	}
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
		return nil
	})
	return ws, nil
}

func (c *Conn) install(gen uint64, ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.ws = ws
	return true
}

func (c *Conn) uninstall(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Conn) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.ws = nil
}

// readLoop 阻塞读取直到出错。收到任何数据都会刷新 idle deadline。
func (c *Conn) readLoop(gen uint64, ws *websocket.Conn) error {
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return apperrors.Wrap(err, "Conn.readLoop", "read message")
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))

		frame, err := protocol.Decode(message)
		if err != nil {
			logger.Warn("transport: unparseable frame",
				logger.FieldError, err,
				logger.FieldLen, len(message),
				logger.FieldRaw, truncateBytes(message, 200),
			)
			continue
		}
		if !c.current(gen) {
			return apperrors.Wrap(apperrors.ErrClosed, "Conn.readLoop", "stale connection")
		}
		c.sink.TransportFrame(frame)
	}
}

func (c *Conn) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			live := c.ws == ws
			c.mu.Unlock()
			if !live {
				return
			}
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					logger.Debug("transport: ping failed", logger.FieldError, err)
				}
				_ = ws.Close()
				return
			}
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
