// normalize.go: 入站帧 → 封闭事件联合。
//
// 后端事件有两种外形: 直接命名 (message_chunk{...}) 与
// agent_event{type, payload} 包装。两者在这里统一解析,
// 之后的组件只看到 Event。字段别名用 gjson 探测。
package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/multi-agent/agent-sync/internal/model"
	"github.com/multi-agent/agent-sync/internal/protocol"
	"github.com/multi-agent/agent-sync/pkg/logger"
)

// agent_event 内层 type 的别名。
var innerTypeAliases = map[string]string{
	"thinking":    protocol.EventAgentThinking,
	"thought":     protocol.EventAgentThought,
	"finished":    protocol.EventAgentFinished,
	"chunk":       protocol.EventMessageChunk,
	"tool_start":  protocol.EventToolCall,
	"tool_end":    protocol.EventToolResult,
	"waiting":     protocol.EventWaitingForInput,
	"refinement":  protocol.EventRefinementApplied,
	"workflow":    protocol.EventWorkflowUpdate,
	"artifact":    protocol.EventArtifactUpdate,
	"session":     protocol.EventSessionUpdate,
	"tool_output": protocol.EventToolResult,
}

// normalizer 无状态解析器。newID / now 可替换, 便于测试。
type normalizer struct {
	newID func() string
	now   func() time.Time
}

func newNormalizer() normalizer {
	return normalizer{
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// normalize 解析一个入站帧。未知事件返回 ok=false。
func (n normalizer) normalize(f protocol.Frame) (Event, bool) {
	return n.normalizeNamed(f.Event, gjson.ParseBytes(f.Data), 0)
}

func (n normalizer) normalizeNamed(name string, data gjson.Result, depth int) (Event, bool) {
	switch name {
	case protocol.EventConnected:
		return ConnectedEvent{
			SID:     data.Get("sid").String(),
			Message: data.Get("message").String(),
		}, true

	case protocol.EventSubscribed:
		return SubscribedEvent{
			SessionID: data.Get("session_id").String(),
			Message:   data.Get("message").String(),
		}, true

	case protocol.EventUnsubscribed:
		return UnsubscribedEvent{SessionID: data.Get("session_id").String()}, true

	case protocol.EventMessage:
		return MessageEvent{Message: n.parseMessage(data)}, true

	case protocol.EventMessageChunk:
		return MessageChunkEvent{
			MessageID:  firstString(data, "message_id", "id"),
			Chunk:      firstString(data, "chunk", "delta", "content"),
			IsComplete: data.Get("is_complete").Bool(),
		}, true

	case protocol.EventAgentEvent:
		if depth > 0 {
			logger.Warn("realtime: nested agent_event dropped", logger.FieldRaw, truncate(data.Raw, 200))
			return nil, false
		}
		inner := strings.TrimSpace(data.Get("type").String())
		if alias, ok := innerTypeAliases[inner]; ok {
			inner = alias
		}
		payload := data.Get("payload")
		if !payload.Exists() {
			payload = data
		}
		return n.normalizeNamed(inner, payload, depth+1)

	case protocol.EventAgentThinking:
		return AgentThinkingEvent{Payload: objectValue(data)}, true

	case protocol.EventAgentThought:
		return AgentThoughtEvent{Content: firstString(data, "content", "thought", "text")}, true

	case protocol.EventAgentFinished:
		return AgentFinishedEvent{Reason: data.Get("reason").String()}, true

	case protocol.EventWaitingForInput:
		return WaitingForInputEvent{Sequence: data.Get("sequence").Int()}, true

	case protocol.EventToolCall:
		return ToolCallEvent{Call: parseToolCall(data)}, true

	case protocol.EventToolResult:
		return ToolResultEvent{Call: parseToolResult(data)}, true

	case protocol.EventWorkflowUpdate:
		state := firstObject(data, "payload", "workflow_state")
		if state == nil {
			state = objectValue(data)
		}
		return WorkflowUpdateEvent{State: model.WorkflowState(state)}, true

	case protocol.EventArtifactUpdate:
		return ArtifactUpdateEvent{Artifact: model.Artifact{
			Path:    firstString(data, "artifact_path", "path"),
			Action:  data.Get("action").String(),
			Payload: objectValue(data.Get("payload")),
		}}, true

	case protocol.EventSessionUpdate:
		info := model.SessionInfo{SessionID: data.Get("session_id").String()}
		if payload := data.Get("payload"); payload.IsObject() {
			info.Payload = objectValue(payload)
			info.Status = payload.Get("status").String()
			if info.SessionID == "" {
				info.SessionID = payload.Get("session_id").String()
			}
		}
		if status := data.Get("status").String(); status != "" {
			info.Status = status
		}
		return SessionUpdateEvent{Info: info}, true

	case protocol.EventRefinementApplied:
		return RefinementAppliedEvent{Content: data.Get("content").String()}, true

	case protocol.EventError:
		msg := firstString(data, "message", "error")
		if msg == "" {
			msg = "unknown backend error"
		}
		return ErrorEvent{Info: ErrorInfo{
			Source:  ErrorSourceBackend,
			Message: msg,
			Code:    data.Get("code").String(),
		}}, true

	case protocol.EventPong:
		return PongEvent{Timestamp: data.Get("timestamp").Int()}, true
	}

	logger.Debug("realtime: unknown event dropped", logger.FieldEventType, name)
	return nil, false
}

// parseMessage 兼容 message{message:{...}} 与 message{content,...} 两种形状。
func (n normalizer) parseMessage(data gjson.Result) model.Message {
	src := data
	if inner := data.Get("message"); inner.IsObject() {
		src = inner
	}

	msg := model.Message{
		ID:       firstString(src, "id", "message_id"),
		Role:     model.ParseRole(src.Get("role").String()),
		Content:  firstString(src, "content", "text"),
		Sequence: firstInt(src, data, "sequence"),
	}
	if msg.ID == "" {
		msg.ID = firstString(data, "id", "message_id")
	}
	if msg.ID == "" {
		msg.ID = n.newID()
	}
	if msg.Content == "" {
		if inner := data.Get("message"); inner.Type == gjson.String {
			msg.Content = inner.String()
		} else {
			msg.Content = data.Get("content").String()
		}
	}
	msg.Timestamp = parseTimestamp(src.Get("timestamp"), n.now)

	if calls := src.Get("tool_calls"); calls.IsArray() {
		for _, item := range calls.Array() {
			tc := parseToolCall(item)
			if res := item.Get("result"); res.Exists() {
				tc.Result = json.RawMessage(res.Raw)
			}
			tc.Error = item.Get("error").String()
			if status := item.Get("status").String(); status != "" {
				tc.Status = status
			}
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
	}
	return msg
}

func parseToolCall(data gjson.Result) model.ToolCall {
	tc := model.ToolCall{
		CallID: firstString(data, "call_id", "tool_call_id", "id"),
		Name:   firstString(data, "tool_name", "name", "tool"),
		Status: model.ToolStatusPending,
	}
	if args := firstResult(data, "arguments", "args", "parameters", "params"); args.Exists() {
		tc.Arguments = json.RawMessage(args.Raw)
	}
	return tc
}

// toolSuccessStatuses 视为成功的 tool_result status (小写、去空白后比较)。
// 缺省 status 也视为成功; 其余一律失败。
var toolSuccessStatuses = map[string]bool{
	"":          true,
	"success":   true,
	"ok":        true,
	"completed": true,
}

// parseToolResult status 不在 toolSuccessStatuses 中时写 Error 而不是 Result。
func parseToolResult(data gjson.Result) model.ToolCall {
	tc := model.ToolCall{
		CallID: firstString(data, "call_id", "tool_call_id", "id"),
		Name:   firstString(data, "tool_name", "name", "tool"),
	}
	result := firstResult(data, "result", "output")
	status := strings.ToLower(strings.TrimSpace(data.Get("status").String()))
	if toolSuccessStatuses[status] {
		tc.Status = model.ToolStatusCompleted
		if result.Exists() {
			tc.Result = json.RawMessage(result.Raw)
		} else {
			tc.Result = json.RawMessage("null")
		}
		return tc
	}

	tc.Status = model.ToolStatusFailed
	switch {
	case data.Get("error").String() != "":
		tc.Error = data.Get("error").String()
	case result.Type == gjson.String && result.String() != "":
		tc.Error = result.String()
	case result.Exists() && result.Raw != "null":
		tc.Error = result.Raw
	default:
		tc.Error = "tool " + status
	}
	return tc
}

func firstResult(data gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := data.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(data gjson.Result, paths ...string) string {
	for _, p := range paths {
		if r := data.Get(p); r.Exists() && r.Type != gjson.Null && !r.IsObject() && !r.IsArray() {
			if s := r.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstObject(data gjson.Result, paths ...string) map[string]any {
	for _, p := range paths {
		if r := data.Get(p); r.IsObject() {
			return objectValue(r)
		}
	}
	return nil
}

func firstInt(primary, fallback gjson.Result, path string) int64 {
	if r := primary.Get(path); r.Exists() {
		return r.Int()
	}
	return fallback.Get(path).Int()
}

func objectValue(r gjson.Result) map[string]any {
	if !r.IsObject() {
		return nil
	}
	m, _ := r.Value().(map[string]any)
	return m
}

// parseTimestamp 支持 RFC3339 字符串与 unix 秒/毫秒数值。
func parseTimestamp(r gjson.Result, now func() time.Time) time.Time {
	switch r.Type {
	case gjson.String:
		if ts, err := time.Parse(time.RFC3339Nano, r.String()); err == nil {
			return ts
		}
	case gjson.Number:
		v := r.Int()
		if v > 1_000_000_000_000 {
			return time.UnixMilli(v)
		}
		if v > 0 {
			return time.Unix(v, 0)
		}
	}
	return now()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
