// transcript.go: session_messages 表 (会话记录归档)。
//
// 每条消息以 (session_id, message_id) 为键 upsert, 流式消息完成后
// 与工具调用回填都会覆盖同一行。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/agent-sync/internal/model"
	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
)

// TranscriptMessage session_messages 行。
type TranscriptMessage struct {
	ID        int64           `db:"id" json:"id"`
	SessionID string          `db:"session_id" json:"session_id"`
	MessageID string          `db:"message_id" json:"message_id"`
	Role      string          `db:"role" json:"role"`
	Content   string          `db:"content" json:"content"`
	ToolCalls json.RawMessage `db:"tool_calls" json:"tool_calls,omitempty"`
	Sequence  int64           `db:"sequence" json:"sequence"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ToModel 转为 model.Message。tool_calls 解析失败时忽略。
func (m TranscriptMessage) ToModel() model.Message {
	msg := model.Message{
		ID:        m.MessageID,
		Role:      model.ParseRole(m.Role),
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		Sequence:  m.Sequence,
	}
	if len(m.ToolCalls) > 0 {
		_ = json.Unmarshal(m.ToolCalls, &msg.ToolCalls)
	}
	return msg
}

// TranscriptFilter ListMessages 的过滤条件。
type TranscriptFilter struct {
	SessionID string
	Role      string
	Keyword   string
	Before    int64 // 游标: id < Before
	Limit     int
}

// TranscriptStore session_messages 存储。
type TranscriptStore struct{ BaseStore }

// NewTranscriptStore 创建。
func NewTranscriptStore(pool *pgxpool.Pool) *TranscriptStore {
	return &TranscriptStore{NewBaseStore(pool)}
}

const tmCols = "id, session_id, message_id, role, content, tool_calls, sequence, created_at, updated_at"

// UpsertMessage 写入或覆盖一条消息。ToolCalls 为 nil 时保留已有值。
func (s *TranscriptStore) UpsertMessage(ctx context.Context, sessionID string, msg model.Message) error {
	if sessionID == "" || msg.ID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "TranscriptStore.UpsertMessage", "session id and message id are required")
	}
	toolCalls, err := marshalToolCalls(msg.ToolCalls)
	if err != nil {
		return apperrors.Wrap(err, "TranscriptStore.UpsertMessage", "marshal tool calls")
	}
	createdAt := msg.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_messages (session_id, message_id, role, content, tool_calls, sequence, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (session_id, message_id) DO UPDATE SET
		   content    = EXCLUDED.content,
		   tool_calls = COALESCE(EXCLUDED.tool_calls, session_messages.tool_calls),
		   sequence   = GREATEST(EXCLUDED.sequence, session_messages.sequence),
		   updated_at = NOW()`,
		sessionID, msg.ID, string(msg.Role), msg.Content, toolCalls, msg.Sequence, createdAt)
	if err != nil {
		return apperrors.Wrapf(err, "TranscriptStore.UpsertMessage", "upsert %s/%s", sessionID, msg.ID)
	}
	return nil
}

// SetToolCalls 覆盖工具调用列表。消息不存在时返回 false。
func (s *TranscriptStore) SetToolCalls(ctx context.Context, sessionID, messageID string, calls []model.ToolCall) (bool, error) {
	raw, err := marshalToolCalls(calls)
	if err != nil {
		return false, apperrors.Wrap(err, "TranscriptStore.SetToolCalls", "marshal tool calls")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_messages SET tool_calls=$1, updated_at=NOW() WHERE session_id=$2 AND message_id=$3`,
		raw, sessionID, messageID)
	if err != nil {
		return false, apperrors.Wrapf(err, "TranscriptStore.SetToolCalls", "update %s/%s", sessionID, messageID)
	}
	return tag.RowsAffected() > 0, nil
}

// ListMessages 按条件查询 (最新在前, 游标分页)。
func (s *TranscriptStore) ListMessages(ctx context.Context, f TranscriptFilter) ([]TranscriptMessage, error) {
	sql, args := buildListQuery(f)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "TranscriptStore.ListMessages", "query")
	}
	return collectRows[TranscriptMessage](rows)
}

// CountBySession 统计某 session 的消息数。
func (s *TranscriptStore) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM session_messages WHERE session_id=$1", sessionID).Scan(&count)
	return count, err
}

func buildListQuery(f TranscriptFilter) (string, []any) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	qb := NewQueryBuilder().
		Eq("session_id", f.SessionID).
		Eq("role", f.Role).
		KeywordLike(f.Keyword, "content").
		Before("id", f.Before)
	return qb.Build("SELECT "+tmCols+" FROM session_messages", "id DESC", limit)
}

func marshalToolCalls(calls []model.ToolCall) ([]byte, error) {
	if calls == nil {
		return nil, nil
	}
	return json.Marshal(calls)
}
