package store

import (
	"context"
	"sync"
	"time"

	"github.com/multi-agent/agent-sync/internal/model"
	"github.com/multi-agent/agent-sync/internal/realtime"
	"github.com/multi-agent/agent-sync/pkg/logger"
	"github.com/multi-agent/agent-sync/pkg/util"
)

// transcriptWriter 归档写入端, TranscriptStore 实现; 测试用 fake 替换。
type transcriptWriter interface {
	UpsertMessage(ctx context.Context, sessionID string, msg model.Message) error
	SetToolCalls(ctx context.Context, sessionID, messageID string, calls []model.ToolCall) (bool, error)
}

type archiveJob struct {
	sessionID string
	msg       *model.Message
	messageID string
	calls     []model.ToolCall
}

// Archiver 把定稿消息和工具调用列表异步写入 session_messages。
//
// 回调在 dispatch 线程上执行, 只做入队; 写库在单独的 worker 中串行完成,
// 因此同一 session 的写入顺序与事件顺序一致。队列满时丢弃并记日志。
type Archiver struct {
	realtime.NopCallbacks

	w       transcriptWriter
	session func() string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	jobs   chan archiveJob
	done   chan struct{}
}

// NewArchiver 创建并启动 worker。session 返回当前订阅的 session id, 在回调时求值。
func NewArchiver(w transcriptWriter, session func() string, queueSize int) *Archiver {
	if queueSize <= 0 {
		queueSize = 256
	}
	a := &Archiver{
		w:       w,
		session: session,
		timeout: 5 * time.Second,
		jobs:    make(chan archiveJob, queueSize),
		done:    make(chan struct{}),
	}
	util.SafeGo(a.loop)
	return a
}

// Close 停止接收并等待队列写完。
func (a *Archiver) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()
	<-a.done
}

// OnMessage 归档完整消息 (含本地发出的用户消息)。
func (a *Archiver) OnMessage(msg model.Message) {
	m := msg.Clone()
	a.enqueue(archiveJob{msg: &m})
}

// OnMessageChunk 仅在流结束时归档拼好的助手消息。
func (a *Archiver) OnMessageChunk(chunk realtime.StreamChunk) {
	if !chunk.Complete || chunk.MessageID == "" {
		return
	}
	a.enqueue(archiveJob{msg: &model.Message{
		ID:        chunk.MessageID,
		Role:      model.RoleAssistant,
		Content:   chunk.Content,
		Timestamp: time.Now(),
	}})
}

// OnToolCallMessage 回填工具调用列表。
func (a *Archiver) OnToolCallMessage(messageID string, calls []model.ToolCall) {
	a.enqueue(archiveJob{messageID: messageID, calls: model.CloneToolCalls(calls)})
}

// OnToolResultMessage 回填带结果的工具调用列表。
func (a *Archiver) OnToolResultMessage(messageID string, calls []model.ToolCall) {
	a.enqueue(archiveJob{messageID: messageID, calls: model.CloneToolCalls(calls)})
}

func (a *Archiver) enqueue(job archiveJob) {
	sid := ""
	if a.session != nil {
		sid = a.session()
	}
	if sid == "" {
		return
	}
	job.sessionID = sid

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.jobs <- job:
	default:
		logger.Warn("archiver: queue full, dropping", logger.FieldSessionID, sid)
	}
}

func (a *Archiver) loop() {
	defer close(a.done)
	for job := range a.jobs {
		a.write(job)
	}
}

func (a *Archiver) write(job archiveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if job.msg != nil {
		if err := a.w.UpsertMessage(ctx, job.sessionID, *job.msg); err != nil {
			logger.Warn("archiver: upsert message failed",
				logger.FieldSessionID, job.sessionID, logger.FieldMessageID, job.msg.ID, logger.FieldError, err)
		}
		return
	}
	ok, err := a.w.SetToolCalls(ctx, job.sessionID, job.messageID, job.calls)
	if err != nil {
		logger.Warn("archiver: set tool calls failed",
			logger.FieldSessionID, job.sessionID, logger.FieldMessageID, job.messageID, logger.FieldError, err)
		return
	}
	if !ok {
		logger.Debug("archiver: tool calls for unknown message",
			logger.FieldSessionID, job.sessionID, logger.FieldMessageID, job.messageID)
	}
}
