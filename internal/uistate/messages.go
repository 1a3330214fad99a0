package uistate

import (
	"sync"

	"github.com/multi-agent/agent-sync/internal/model"
)

// MessageList 有序消息列表, 实现 realtime.MessageStore。
type MessageList struct {
	mu    sync.RWMutex
	items []model.Message
	index map[string]int // id → items 下标
}

func NewMessageList() *MessageList {
	return &MessageList{index: map[string]int{}}
}

func (l *MessageList) Get(id string) (model.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return model.Message{}, false
	}
	return l.items[i].Clone(), true
}

// Append 追加消息。id 已存在时更新内容而不是插入重复记录。
func (l *MessageList) Append(msg model.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.index[msg.ID]; ok {
		l.items[i].Content = msg.Content
		if msg.ToolCalls != nil {
			l.items[i].ToolCalls = model.CloneToolCalls(msg.ToolCalls)
		}
		return
	}
	l.index[msg.ID] = len(l.items)
	l.items = append(l.items, msg.Clone())
}

func (l *MessageList) UpdateContent(id, content string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.items[i].Content = content
	return true
}

func (l *MessageList) SetToolCalls(id string, calls []model.ToolCall) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.items[i].ToolCalls = model.CloneToolCalls(calls)
	return true
}

// All 返回全部消息的深拷贝。
func (l *MessageList) All() []model.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Message, len(l.items))
	for i, m := range l.items {
		out[i] = m.Clone()
	}
	return out
}

func (l *MessageList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *MessageList) Clear() {
	l.mu.Lock()
	l.items = nil
	l.index = map[string]int{}
	l.mu.Unlock()
}
