package uistate

import "github.com/multi-agent/agent-sync/internal/model"

// cloneMap 深拷贝 JSON 风格的 map (嵌套 map / slice 一并复制)。
func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneArtifact(a model.Artifact) model.Artifact {
	a.Payload = cloneMap(a.Payload)
	return a
}
