package uistate

import (
	"github.com/multi-agent/agent-sync/internal/model"
	"github.com/multi-agent/agent-sync/internal/realtime"
)

// Adapter 把 realtime 回调写入 Stores。消息列表由 Client 直接维护,
// 这里只处理其它关注点。
type Adapter struct {
	realtime.NopCallbacks
	stores *Stores
}

var _ realtime.StoreCallbacks = (*Adapter)(nil)

func NewAdapter(stores *Stores) *Adapter {
	return &Adapter{stores: stores}
}

// processingSource realtime.Client 的 busy 通知。
type processingSource interface {
	OnProcessingChange(fn func(bool)) func()
}

// Bind 让 UI 状态跟随 Client 的 busy 标志: busy 清除 (包括兜底计时到期)
// 时 thinking/running 回到 idle。返回退订函数。
func (a *Adapter) Bind(src processingSource) func() {
	return src.OnProcessingChange(a.OnProcessingChange)
}

// OnProcessingChange 见 Bind。
func (a *Adapter) OnProcessingChange(busy bool) {
	if !busy {
		a.stores.Session.settleIdle()
	}
}

func (a *Adapter) OnMessageChunk(chunk realtime.StreamChunk) {
	if !chunk.Complete {
		a.stores.Session.SetUIStatus(UIStatusRunning)
	}
}

func (a *Adapter) OnToolCall(call model.ToolCall) {
	a.stores.Session.SetUIStatus(UIStatusRunning)
	a.stores.Timeline.add(TimelineItem{
		Kind:    TimelineToolCall,
		Tool:    call.Name,
		Status:  call.Status,
		Preview: previewText(string(call.Arguments), 120),
	})
}

func (a *Adapter) OnToolResult(call model.ToolCall) {
	preview := call.ResultText()
	if call.Error != "" {
		preview = call.Error
	}
	a.stores.Timeline.add(TimelineItem{
		Kind:    TimelineToolResult,
		Tool:    call.Name,
		Status:  call.Status,
		Preview: previewText(preview, 120),
	})
}

func (a *Adapter) OnWorkflowUpdate(state model.WorkflowState) {
	a.stores.Workflow.Set(state)
}

func (a *Adapter) OnArtifactUpdate(artifact model.Artifact) {
	a.stores.Artifacts.Apply(artifact)
}

func (a *Adapter) OnSessionUpdate(info model.SessionInfo) {
	a.stores.Session.Apply(info)
}

func (a *Adapter) OnAgentThinking() {
	a.stores.Session.SetUIStatus(UIStatusThinking)
}

func (a *Adapter) OnAgentThought(content string) {
	a.stores.Session.setThought(content)
	a.stores.Timeline.add(TimelineItem{Kind: TimelineThought, Text: content})
}

func (a *Adapter) OnAgentFinished(reason string) {
	a.stores.Session.SetUIStatus(UIStatusIdle)
	a.stores.Timeline.add(TimelineItem{Kind: TimelineFinished, Text: reason})
}

func (a *Adapter) OnWaitingForInput(int64) {
	a.stores.Session.SetUIStatus(UIStatusWaiting)
}

func (a *Adapter) OnError(info realtime.ErrorInfo) {
	a.stores.Session.setError(info.Message)
	a.stores.Timeline.add(TimelineItem{Kind: TimelineError, Text: info.Message, Status: info.Code})
}

func (a *Adapter) OnRefinementApplied(content string) {
	a.stores.Timeline.add(TimelineItem{Kind: TimelineRefinement, Text: previewText(content, 200)})
}
