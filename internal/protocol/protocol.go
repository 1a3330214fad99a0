// Package protocol 定义与后端之间的 WebSocket 帧格式。
//
// 每个 text 帧是一个 JSON 信封:
//
//	{"event": "<name>", "data": {...}}
//
// 入站事件名与出站事件名各自是一组固定常量; data 的结构随事件而变,
// 由 realtime 包在边界处统一解析。
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
)

// Frame 单个线上帧。
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// 入站事件名 (后端 → 客户端)。
const (
	EventConnected         = "connected"
	EventSubscribed        = "subscribed"
	EventUnsubscribed      = "unsubscribed"
	EventMessage           = "message"
	EventMessageChunk      = "message_chunk"
	EventAgentEvent        = "agent_event"
	EventAgentThinking     = "agent_thinking"
	EventAgentThought      = "agent_thought"
	EventAgentFinished     = "agent_finished"
	EventWaitingForInput   = "waiting_for_input"
	EventToolCall          = "tool_call"
	EventToolResult        = "tool_result"
	EventWorkflowUpdate    = "workflow_update"
	EventArtifactUpdate    = "artifact_update"
	EventSessionUpdate     = "session_update"
	EventRefinementApplied = "refinement_applied"
	EventError             = "error"
	EventPong              = "pong"
)

// 出站事件名 (客户端 → 后端)。
const (
	EventSubscribeSession   = "subscribe_session"
	EventUnsubscribeSession = "unsubscribe_session"
	EventSendMessage        = "message"
	EventPing               = "ping"
)

// SessionRef subscribe_session / unsubscribe_session 的 data。
type SessionRef struct {
	SessionID string `json:"session_id"`
}

// OutboundMessage 用户消息。Type 固定为 "message"。
// MessageID 是客户端生成的 id, 后端回显时可据此去重。
type OutboundMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// Ping 应用层心跳, timestamp 为毫秒时间戳。
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// NewFrame 将 data 编码为帧。data 为 nil 时省略 data 字段。
func NewFrame(event string, data any) (Frame, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return Frame{}, apperrors.Wrap(apperrors.ErrInvalidInput, "protocol.NewFrame", "empty event name")
	}
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, apperrors.Wrapf(err, "protocol.NewFrame", "marshal %s", event)
	}
	return Frame{Event: event, Data: raw}, nil
}

// SubscribeFrame 构造 subscribe_session 帧。
func SubscribeFrame(sessionID string) Frame {
	f, _ := NewFrame(EventSubscribeSession, SessionRef{SessionID: sessionID})
	return f
}

// UnsubscribeFrame 构造 unsubscribe_session 帧。
func UnsubscribeFrame(sessionID string) Frame {
	f, _ := NewFrame(EventUnsubscribeSession, SessionRef{SessionID: sessionID})
	return f
}

// MessageFrame 构造用户消息帧。
func MessageFrame(sessionID, messageID, content string) Frame {
	f, _ := NewFrame(EventSendMessage, OutboundMessage{Type: "message", MessageID: messageID, Content: content, SessionID: sessionID})
	return f
}

// PingFrame 构造应用层 ping 帧。
func PingFrame(at time.Time) Frame {
	f, _ := NewFrame(EventPing, Ping{Timestamp: at.UnixMilli()})
	return f
}

// Decode 解析一条原始 text 消息。
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, apperrors.Wrap(apperrors.ErrProtocol, "protocol.Decode", err.Error())
	}
	f.Event = strings.TrimSpace(f.Event)
	if f.Event == "" {
		return Frame{}, apperrors.Wrap(apperrors.ErrProtocol, "protocol.Decode", "missing event name")
	}
	return f, nil
}

// Encode 将帧编码为 JSON。
func Encode(f Frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, apperrors.Wrapf(err, "protocol.Encode", "marshal frame %s", f.Event)
	}
	return raw, nil
}
