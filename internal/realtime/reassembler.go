package realtime

import "strings"

// reassembler 按 message id 累积流式片段。一个 id 至多一个 live 条目,
// 完成后立即移除。
type reassembler struct {
	live map[string]*strings.Builder
}

// onChunk 追加片段, 返回累积内容以及该条目是否为本次新建。
func (r *reassembler) onChunk(messageID, chunk string, complete bool) (content string, created bool) {
	if r.live == nil {
		r.live = make(map[string]*strings.Builder)
	}
	buf, ok := r.live[messageID]
	if !ok {
		buf = &strings.Builder{}
		r.live[messageID] = buf
		created = true
	}
	buf.WriteString(chunk)
	content = buf.String()
	if complete {
		delete(r.live, messageID)
	}
	return content, created
}

func (r *reassembler) content(messageID string) (string, bool) {
	buf, ok := r.live[messageID]
	if !ok {
		return "", false
	}
	return buf.String(), true
}

func (r *reassembler) snapshot() map[string]string {
	out := make(map[string]string, len(r.live))
	for id, buf := range r.live {
		out[id] = buf.String()
	}
	return out
}

func (r *reassembler) reset() {
	r.live = nil
}
