// timeline.go: 有界的活动时间线 (思考、工具、错误、精炼)。
package uistate

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultTimelineLimit = 200

// 时间线条目种类。
const (
	TimelineThought    = "thought"
	TimelineToolCall   = "tool_call"
	TimelineToolResult = "tool_result"
	TimelineError      = "error"
	TimelineRefinement = "refinement"
	TimelineFinished   = "finished"
)

// TimelineItem 时间线渲染条目。
type TimelineItem struct {
	ID      string `json:"id"`
	Ts      string `json:"ts"`
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Status  string `json:"status,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// Timeline 超过 limit 时丢弃最旧条目。
type Timeline struct {
	mu    sync.RWMutex
	limit int
	seq   uint64
	items []TimelineItem
	now   func() time.Time
}

func NewTimeline(limit int) *Timeline {
	if limit <= 0 {
		limit = defaultTimelineLimit
	}
	return &Timeline{limit: limit, now: time.Now}
}

func (t *Timeline) add(item TimelineItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	item.ID = item.Kind + "-" + strconv.FormatUint(t.seq, 10)
	item.Ts = t.now().UTC().Format(time.RFC3339Nano)
	t.items = append(t.items, item)
	if over := len(t.items) - t.limit; over > 0 {
		t.items = append([]TimelineItem(nil), t.items[over:]...)
	}
}

func (t *Timeline) Items() []TimelineItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]TimelineItem(nil), t.items...)
}

func (t *Timeline) Clear() {
	t.mu.Lock()
	t.items = nil
	t.mu.Unlock()
}

// previewText 截断为单行预览。
func previewText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
