// uistate.go: 视图层消费的内存 store 与回调适配器。
//
// MessageList 直接作为 realtime.MessageStore 注入 Client;
// 其余 store (workflow / artifact / session / timeline) 由 Adapter
// 通过 realtime.StoreCallbacks 写入。
package uistate

import (
	"sync"

	"github.com/multi-agent/agent-sync/internal/model"
)

// UIStatus 前端状态标签。
type UIStatus string

const (
	UIStatusIdle     UIStatus = "idle"
	UIStatusThinking UIStatus = "thinking"
	UIStatusRunning  UIStatus = "running"
	UIStatusWaiting  UIStatus = "waiting"
	UIStatusError    UIStatus = "error"
)

// Stores 一个 Client 对应的全部外部 store。
type Stores struct {
	Messages  *MessageList
	Workflow  *WorkflowStore
	Artifacts *ArtifactList
	Session   *SessionState
	Timeline  *Timeline
}

// NewStores 创建空 store。timelineLimit <= 0 使用默认容量。
func NewStores(timelineLimit int) *Stores {
	return &Stores{
		Messages:  NewMessageList(),
		Workflow:  &WorkflowStore{},
		Artifacts: &ArtifactList{},
		Session:   &SessionState{status: UIStatusIdle},
		Timeline:  NewTimeline(timelineLimit),
	}
}

// Snapshot 视图层可直接序列化的深拷贝。
type Snapshot struct {
	Messages  []model.Message     `json:"messages"`
	Workflow  model.WorkflowState `json:"workflow,omitempty"`
	Artifacts []model.Artifact    `json:"artifacts"`
	Session   SessionSnapshot     `json:"session"`
	Timeline  []TimelineItem      `json:"timeline"`
}

func (s *Stores) Snapshot() Snapshot {
	return Snapshot{
		Messages:  s.Messages.All(),
		Workflow:  s.Workflow.Get(),
		Artifacts: s.Artifacts.All(),
		Session:   s.Session.Get(),
		Timeline:  s.Timeline.Items(),
	}
}

// Clear 切换 session 时清空。
func (s *Stores) Clear() {
	s.Messages.Clear()
	s.Workflow.Set(nil)
	s.Artifacts.Clear()
	s.Session.Reset()
	s.Timeline.Clear()
}

// ========================================
// WorkflowStore
// ========================================

// WorkflowStore 最新的工作流状态。每次更新整体替换。
type WorkflowStore struct {
	mu    sync.RWMutex
	state model.WorkflowState
}

func (w *WorkflowStore) Set(state model.WorkflowState) {
	w.mu.Lock()
	w.state = cloneMap(state)
	w.mu.Unlock()
}

func (w *WorkflowStore) Get() model.WorkflowState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneMap(w.state)
}

// ========================================
// ArtifactList
// ========================================

// ArtifactList 按路径去重的产物列表, action=deleted 时移除。
type ArtifactList struct {
	mu    sync.RWMutex
	items []model.Artifact
}

func (a *ArtifactList) Apply(art model.Artifact) {
	if art.Path == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.items {
		if a.items[i].Path != art.Path {
			continue
		}
		if art.Action == "deleted" {
			a.items = append(a.items[:i], a.items[i+1:]...)
			return
		}
		a.items[i] = cloneArtifact(art)
		return
	}
	if art.Action == "deleted" {
		return
	}
	a.items = append(a.items, cloneArtifact(art))
}

func (a *ArtifactList) All() []model.Artifact {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.Artifact, len(a.items))
	for i, art := range a.items {
		out[i] = cloneArtifact(art)
	}
	return out
}

func (a *ArtifactList) Clear() {
	a.mu.Lock()
	a.items = nil
	a.mu.Unlock()
}

// ========================================
// SessionState
// ========================================

// SessionSnapshot session 级别的展示状态。
type SessionSnapshot struct {
	SessionID string         `json:"session_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	UIStatus  UIStatus       `json:"ui_status"`
	Payload   map[string]any `json:"payload,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Thought   string         `json:"thought,omitempty"`
}

type SessionState struct {
	mu        sync.RWMutex
	info      model.SessionInfo
	status    UIStatus
	lastError string
	thought   string
}

func (s *SessionState) Apply(info model.SessionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.SessionID != "" {
		s.info.SessionID = info.SessionID
	}
	if info.Status != "" {
		s.info.Status = info.Status
	}
	if info.Payload != nil {
		s.info.Payload = cloneMap(info.Payload)
	}
}

func (s *SessionState) SetUIStatus(st UIStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// settleIdle 工作中 (thinking/running) 时回到 idle; waiting 与 error 保持。
func (s *SessionState) settleIdle() {
	s.mu.Lock()
	if s.status == UIStatusThinking || s.status == UIStatusRunning {
		s.status = UIStatusIdle
	}
	s.mu.Unlock()
}

func (s *SessionState) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.status = UIStatusError
	s.mu.Unlock()
}

func (s *SessionState) setThought(content string) {
	s.mu.Lock()
	s.thought = content
	s.mu.Unlock()
}

func (s *SessionState) Get() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{
		SessionID: s.info.SessionID,
		Status:    s.info.Status,
		UIStatus:  s.status,
		Payload:   cloneMap(s.info.Payload),
		LastError: s.lastError,
		Thought:   s.thought,
	}
}

func (s *SessionState) Reset() {
	s.mu.Lock()
	s.info = model.SessionInfo{}
	s.status = UIStatusIdle
	s.lastError = ""
	s.thought = ""
	s.mu.Unlock()
}
