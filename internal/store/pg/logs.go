package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// PGLogStore implements store.LogStore backed by Postgres.
// Rows are append-only; there is no update path.
type PGLogStore struct {
	db *sql.DB
}

func NewPGLogStore(db *sql.DB) *PGLogStore {
	return &PGLogStore{db: db}
}

func (s *PGLogStore) Insert(ctx context.Context, l *store.InteractionLog) (uuid.UUID, error) {
	if l.ID == uuid.Nil {
		l.ID = store.GenNewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_agent_logs (id, conversation_id, agent_id, message_ids, input_message, output, model_used, latency_ms, error_message, tool_calls, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`,
		l.ID, l.ConversationID, l.AgentID, pq.Array(l.MessageIDs), l.Input,
		nullableJSON(l.Output), l.Model, l.LatencyMs, l.Error, nullableJSON(l.ToolCalls), l.CreatedAt)
	if err != nil {
		return uuid.Nil, err
	}
	return l.ID, nil
}

func (s *PGLogStore) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.InteractionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, agent_id, message_ids, input_message, output, model_used, latency_ms, COALESCE(error_message, ''), tool_calls, created_at
		 FROM ai_agent_logs WHERE conversation_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []store.InteractionLog
	for rows.Next() {
		var l store.InteractionLog
		var output, toolCalls []byte
		if err := rows.Scan(&l.ID, &l.ConversationID, &l.AgentID, pq.Array(&l.MessageIDs),
			&l.Input, &output, &l.Model, &l.LatencyMs, &l.Error, &toolCalls, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Output = output
		l.ToolCalls = toolCalls
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PGLogStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ai_agent_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// nullableJSON maps empty raw JSON to SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
