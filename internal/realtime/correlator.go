package realtime

import "github.com/multi-agent/agent-sync/internal/model"

// correlator 维护 "当前 assistant 消息" 及其工具调用列表。
//
// 结果匹配规则: 结果与调用都带 call_id 时按 id 连接;
// 否则取同名、未回填的最近一条调用。
type correlator struct {
	messageID string
	calls     []model.ToolCall
}

// setCurrent 切换当前消息。同一 id 且未提供新列表时保留已挂载的调用。
func (t *correlator) setCurrent(messageID string, calls []model.ToolCall) {
	if messageID == t.messageID && calls == nil {
		return
	}
	t.messageID = messageID
	t.calls = model.CloneToolCalls(calls)
}

func (t *correlator) clear() {
	t.messageID = ""
	t.calls = nil
}

// attach 挂载一条新调用。没有当前消息时 ok=false。
func (t *correlator) attach(call model.ToolCall) (messageID string, calls []model.ToolCall, ok bool) {
	if t.messageID == "" {
		return "", nil, false
	}
	t.calls = append(t.calls, call)
	return t.messageID, model.CloneToolCalls(t.calls), true
}

// resolve 回填结果, 返回合并后的调用记录。
func (t *correlator) resolve(result model.ToolCall) (merged model.ToolCall, messageID string, calls []model.ToolCall, ok bool) {
	if t.messageID == "" {
		return result, "", nil, false
	}
	idx := t.match(result)
	if idx < 0 {
		return result, "", nil, false
	}
	rec := &t.calls[idx]
	rec.Result = result.Result
	rec.Error = result.Error
	rec.Status = result.Status
	if rec.CallID == "" {
		rec.CallID = result.CallID
	}
	return *rec, t.messageID, model.CloneToolCalls(t.calls), true
}

func (t *correlator) match(result model.ToolCall) int {
	if result.CallID != "" {
		for i := len(t.calls) - 1; i >= 0; i-- {
			if t.calls[i].CallID == result.CallID && !t.calls[i].Resolved() {
				return i
			}
		}
	}
	for i := len(t.calls) - 1; i >= 0; i-- {
		c := t.calls[i]
		if c.Name != result.Name || c.Resolved() {
			continue
		}
		// 双方都有 id 但不相等时不按名字匹配
		if result.CallID != "" && c.CallID != "" && c.CallID != result.CallID {
			continue
		}
		return i
	}
	return -1
}
