package realtime

import (
	"time"

	"github.com/multi-agent/agent-sync/internal/model"
)

// Kind 归一化后的事件种类。
type Kind string

// KindAll wildcard, 订阅所有事件。
const KindAll Kind = "*"

const (
	// 连接伪事件 (由传输层生命周期产生)
	KindConnect      Kind = "connect"
	KindDisconnect   Kind = "disconnect"
	KindConnectError Kind = "connect_error"

	// 后端事件
	KindConnected         Kind = "connected"
	KindSubscribed        Kind = "subscribed"
	KindUnsubscribed      Kind = "unsubscribed"
	KindMessage           Kind = "message"
	KindMessageChunk      Kind = "message_chunk"
	KindAgentThinking     Kind = "agent_thinking"
	KindAgentThought      Kind = "agent_thought"
	KindAgentFinished     Kind = "agent_finished"
	KindWaitingForInput   Kind = "waiting_for_input"
	KindToolCall          Kind = "tool_call"
	KindToolResult        Kind = "tool_result"
	KindWorkflowUpdate    Kind = "workflow_update"
	KindArtifactUpdate    Kind = "artifact_update"
	KindSessionUpdate     Kind = "session_update"
	KindRefinementApplied Kind = "refinement_applied"
	KindError             Kind = "error"
	KindPong              Kind = "pong"
)

// Event 封闭的事件联合类型。只有本包内的类型可以实现它。
type Event interface {
	Kind() Kind
	sealed()
}

type ConnectEvent struct {
	Reconnected bool `json:"reconnected"`
}

type DisconnectEvent struct {
	Reason string `json:"reason,omitempty"`
}

type ConnectErrorEvent struct {
	Error     string `json:"error"`
	Attempt   int    `json:"attempt"`
	WillRetry bool   `json:"will_retry"`
}

type ConnectedEvent struct {
	SID     string `json:"sid,omitempty"`
	Message string `json:"message,omitempty"`
}

type SubscribedEvent struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

type UnsubscribedEvent struct {
	SessionID string `json:"session_id"`
}

type MessageEvent struct {
	Message model.Message `json:"message"`
}

// MessageChunkEvent 流式片段。Content 是到目前为止累积的完整内容。
type MessageChunkEvent struct {
	MessageID  string `json:"message_id"`
	Chunk      string `json:"chunk"`
	IsComplete bool   `json:"is_complete"`
	Content    string `json:"content"`
}

type AgentThinkingEvent struct {
	Payload map[string]any `json:"payload,omitempty"`
}

type AgentThoughtEvent struct {
	Content string `json:"content"`
}

type AgentFinishedEvent struct {
	Reason string `json:"reason,omitempty"`
}

type WaitingForInputEvent struct {
	Sequence int64 `json:"sequence,omitempty"`
}

// ToolCallEvent 工具调用开始。MessageID 为空表示没有可挂载的当前消息。
type ToolCallEvent struct {
	Call      model.ToolCall   `json:"call"`
	MessageID string           `json:"message_id,omitempty"`
	ToolCalls []model.ToolCall `json:"tool_calls,omitempty"`
}

// ToolResultEvent 工具结果。Matched=false 表示没有找到对应的调用记录。
type ToolResultEvent struct {
	Call      model.ToolCall   `json:"call"`
	Matched   bool             `json:"matched"`
	MessageID string           `json:"message_id,omitempty"`
	ToolCalls []model.ToolCall `json:"tool_calls,omitempty"`
}

type WorkflowUpdateEvent struct {
	State model.WorkflowState `json:"state"`
}

type ArtifactUpdateEvent struct {
	Artifact model.Artifact `json:"artifact"`
}

type SessionUpdateEvent struct {
	Info model.SessionInfo `json:"info"`
}

type RefinementAppliedEvent struct {
	Content string `json:"content"`
}

type ErrorEvent struct {
	Info ErrorInfo `json:"info"`
}

type PongEvent struct {
	Timestamp int64         `json:"timestamp,omitempty"`
	RTT       time.Duration `json:"rtt_ns,omitempty"`
}

func (ConnectEvent) Kind() Kind           { return KindConnect }
func (DisconnectEvent) Kind() Kind        { return KindDisconnect }
func (ConnectErrorEvent) Kind() Kind      { return KindConnectError }
func (ConnectedEvent) Kind() Kind         { return KindConnected }
func (SubscribedEvent) Kind() Kind        { return KindSubscribed }
func (UnsubscribedEvent) Kind() Kind      { return KindUnsubscribed }
func (MessageEvent) Kind() Kind           { return KindMessage }
func (MessageChunkEvent) Kind() Kind      { return KindMessageChunk }
func (AgentThinkingEvent) Kind() Kind     { return KindAgentThinking }
func (AgentThoughtEvent) Kind() Kind      { return KindAgentThought }
func (AgentFinishedEvent) Kind() Kind     { return KindAgentFinished }
func (WaitingForInputEvent) Kind() Kind   { return KindWaitingForInput }
func (ToolCallEvent) Kind() Kind          { return KindToolCall }
func (ToolResultEvent) Kind() Kind        { return KindToolResult }
func (WorkflowUpdateEvent) Kind() Kind    { return KindWorkflowUpdate }
func (ArtifactUpdateEvent) Kind() Kind    { return KindArtifactUpdate }
func (SessionUpdateEvent) Kind() Kind     { return KindSessionUpdate }
func (RefinementAppliedEvent) Kind() Kind { return KindRefinementApplied }
func (ErrorEvent) Kind() Kind             { return KindError }
func (PongEvent) Kind() Kind              { return KindPong }

func (ConnectEvent) sealed()           {}
func (DisconnectEvent) sealed()        {}
func (ConnectErrorEvent) sealed()      {}
func (ConnectedEvent) sealed()         {}
func (SubscribedEvent) sealed()        {}
func (UnsubscribedEvent) sealed()      {}
func (MessageEvent) sealed()           {}
func (MessageChunkEvent) sealed()      {}
func (AgentThinkingEvent) sealed()     {}
func (AgentThoughtEvent) sealed()      {}
func (AgentFinishedEvent) sealed()     {}
func (WaitingForInputEvent) sealed()   {}
func (ToolCallEvent) sealed()          {}
func (ToolResultEvent) sealed()        {}
func (WorkflowUpdateEvent) sealed()    {}
func (ArtifactUpdateEvent) sealed()    {}
func (SessionUpdateEvent) sealed()     {}
func (RefinementAppliedEvent) sealed() {}
func (ErrorEvent) sealed()             {}
func (PongEvent) sealed()              {}
