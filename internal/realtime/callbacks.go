package realtime

import "github.com/multi-agent/agent-sync/internal/model"

// 错误来源。
const (
	ErrorSourceTransport = "transport"
	ErrorSourceBackend   = "backend"
)

// ErrorInfo 交给 OnError 的错误描述。
type ErrorInfo struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StreamChunk 流式消息进度。Content 为累积内容, Delta 为本次片段。
type StreamChunk struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
	Content   string `json:"content"`
	Complete  bool   `json:"complete"`
}

// StoreCallbacks 外部 store 的变更通知接口, 每个关注点一个方法。
//
// 回调按事件语义触发 (不是 wire 名), 在 handler 之前执行,
// 且永远不会在 Client 内部锁下调用。实现方可以嵌入 NopCallbacks
// 只覆盖关心的方法。
type StoreCallbacks interface {
	OnMessage(msg model.Message)
	OnMessageChunk(chunk StreamChunk)
	OnToolCall(call model.ToolCall)
	OnToolResult(call model.ToolCall)
	OnWorkflowUpdate(state model.WorkflowState)
	OnArtifactUpdate(artifact model.Artifact)
	OnSessionUpdate(info model.SessionInfo)
	OnAgentThinking()
	OnAgentThought(content string)
	OnAgentFinished(reason string)
	OnWaitingForInput(sequence int64)
	OnError(info ErrorInfo)
	OnToolCallMessage(messageID string, calls []model.ToolCall)
	OnToolResultMessage(messageID string, calls []model.ToolCall)
	OnRefinementApplied(content string)
}

// NopCallbacks 空实现, 供嵌入。
type NopCallbacks struct{}

func (NopCallbacks) OnMessage(model.Message)                      {}
func (NopCallbacks) OnMessageChunk(StreamChunk)                   {}
func (NopCallbacks) OnToolCall(model.ToolCall)                    {}
func (NopCallbacks) OnToolResult(model.ToolCall)                  {}
func (NopCallbacks) OnWorkflowUpdate(model.WorkflowState)         {}
func (NopCallbacks) OnArtifactUpdate(model.Artifact)              {}
func (NopCallbacks) OnSessionUpdate(model.SessionInfo)            {}
func (NopCallbacks) OnAgentThinking()                             {}
func (NopCallbacks) OnAgentThought(string)                        {}
func (NopCallbacks) OnAgentFinished(string)                       {}
func (NopCallbacks) OnWaitingForInput(int64)                      {}
func (NopCallbacks) OnError(ErrorInfo)                            {}
func (NopCallbacks) OnToolCallMessage(string, []model.ToolCall)   {}
func (NopCallbacks) OnToolResultMessage(string, []model.ToolCall) {}
func (NopCallbacks) OnRefinementApplied(string)                   {}

// MessageStore 外部消息列表的最小变更接口。实现方必须自带同步。
type MessageStore interface {
	Get(id string) (model.Message, bool)
	Append(msg model.Message)
	UpdateContent(id, content string) bool
	SetToolCalls(id string, calls []model.ToolCall) bool
}

// notifyCallbacks 把事件翻译成对应语义的回调。
func notifyCallbacks(cb StoreCallbacks, ev Event) {
	switch e := ev.(type) {
	case MessageEvent:
		cb.OnMessage(e.Message.Clone())
	case MessageChunkEvent:
		cb.OnMessageChunk(StreamChunk{MessageID: e.MessageID, Delta: e.Chunk, Content: e.Content, Complete: e.IsComplete})
	case ToolCallEvent:
		cb.OnToolCall(e.Call)
		if e.MessageID != "" {
			cb.OnToolCallMessage(e.MessageID, model.CloneToolCalls(e.ToolCalls))
		}
	case ToolResultEvent:
		cb.OnToolResult(e.Call)
		if e.Matched && e.MessageID != "" {
			cb.OnToolResultMessage(e.MessageID, model.CloneToolCalls(e.ToolCalls))
		}
	case WorkflowUpdateEvent:
		cb.OnWorkflowUpdate(e.State)
	case ArtifactUpdateEvent:
		cb.OnArtifactUpdate(e.Artifact)
	case SessionUpdateEvent:
		cb.OnSessionUpdate(e.Info)
	case AgentThinkingEvent:
		cb.OnAgentThinking()
	case AgentThoughtEvent:
		cb.OnAgentThought(e.Content)
	case AgentFinishedEvent:
		cb.OnAgentFinished(e.Reason)
	case WaitingForInputEvent:
		cb.OnWaitingForInput(e.Sequence)
	case ErrorEvent:
		cb.OnError(e.Info)
	case ConnectErrorEvent:
		cb.OnError(ErrorInfo{Source: ErrorSourceTransport, Message: e.Error})
	case RefinementAppliedEvent:
		cb.OnRefinementApplied(e.Content)
	}
}
