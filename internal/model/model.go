// Package model 定义实时同步层与外部 store 之间传递的纯数据类型。
package model

import (
	"encoding/json"
	"time"
)

// Role 消息角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole 宽松解析角色, 未知值按 assistant 处理。
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleUser, RoleSystem:
		return Role(s)
	default:
		return RoleAssistant
	}
}

// 工具调用状态。
const (
	ToolStatusPending   = "pending"
	ToolStatusCompleted = "completed"
	ToolStatusFailed    = "failed"
)

// ToolCall 一次工具调用记录。Result 为 nil 表示尚未回填。
type ToolCall struct {
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// Resolved 报告该调用是否已有结果或错误。
func (tc ToolCall) Resolved() bool {
	return tc.Result != nil || tc.Error != ""
}

// ResultText 返回结果的文本形式: JSON 字符串去引号, 其余保持原样。
func (tc ToolCall) ResultText() string {
	if len(tc.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(tc.Result, &s); err == nil {
		return s
	}
	return string(tc.Result)
}

// Message 会话中的一条消息。
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Sequence  int64      `json:"sequence,omitempty"`
}

// Clone 深拷贝, ToolCalls 切片不与原值共享。
func (m Message) Clone() Message {
	m.ToolCalls = CloneToolCalls(m.ToolCalls)
	return m
}

// CloneToolCalls 复制工具调用列表。
func CloneToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	copy(out, calls)
	return out
}

// WorkflowState 工作流状态快照, 结构由后端决定。
type WorkflowState map[string]any

// Artifact 工作区产物变更。
type Artifact struct {
	Path    string         `json:"path"`
	Action  string         `json:"action,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SessionInfo 会话状态更新。
type SessionInfo struct {
	SessionID string         `json:"session_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
