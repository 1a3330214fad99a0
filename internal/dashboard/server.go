// Package dashboard 提供调试用 HTTP 服务: 状态快照、发消息、切换 session、
// SSE 事件流与 Prometheus 指标。
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/multi-agent/agent-sync/internal/realtime"
	"github.com/multi-agent/agent-sync/internal/store"
	"github.com/multi-agent/agent-sync/internal/uistate"
	"github.com/multi-agent/agent-sync/pkg/logger"
)

// Controller realtime.Client 的调试面子集。
type Controller interface {
	Snapshot() realtime.StateSnapshot
	SendMessage(content string) error
	SubscribeToSession(sessionID string) error
	UnsubscribeFromSession() error
}

// TranscriptReader 归档查询 (可选)。
type TranscriptReader interface {
	ListMessages(ctx context.Context, f store.TranscriptFilter) ([]store.TranscriptMessage, error)
}

// Options 依赖注入 (DRY: 一次注入)。Transcripts / Gatherer 可为 nil。
type Options struct {
	Client      Controller
	Stores      *uistate.Stores
	Transcripts TranscriptReader
	Gatherer    prometheus.Gatherer
}

// Server Dashboard HTTP 服务。
type Server struct {
	router *gin.Engine
	opts   Options
	bus    *EventBus
	http   *http.Server
}

// NewServer 创建 Dashboard 服务。
func NewServer(opts Options) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	s := &Server{router: r, opts: opts, bus: NewEventBus()}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Forward 作为 realtime.Handler 注册到 KindAll, 把每个事件推给 SSE 订阅者。
func (s *Server) Forward(ev realtime.Event) { s.bus.PublishEvent(ev) }

// ListenAndServe 阻塞直到 ctx 取消或监听失败。
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()
	logger.Info("dashboard: listening", logger.FieldListen, addr)

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
