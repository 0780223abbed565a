package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// PGKnowledgeStore implements store.KnowledgeStore backed by Postgres.
type PGKnowledgeStore struct {
	db *sql.DB
}

func NewPGKnowledgeStore(db *sql.DB) *PGKnowledgeStore {
	return &PGKnowledgeStore{db: db}
}

func (s *PGKnowledgeStore) Search(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]store.KnowledgeChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, title, content, created_at FROM ai_agent_knowledge
		 WHERE agent_id = $1 AND (title ILIKE '%' || $2 || '%' OR content ILIKE '%' || $2 || '%')
		 ORDER BY created_at DESC LIMIT $3`,
		agentID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []store.KnowledgeChunk
	for rows.Next() {
		var k store.KnowledgeChunk
		if err := rows.Scan(&k.ID, &k.AgentID, &k.Title, &k.Content, &k.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, k)
	}
	return chunks, rows.Err()
}

func (s *PGKnowledgeStore) Insert(ctx context.Context, k *store.KnowledgeChunk) error {
	if k.ID == uuid.Nil {
		k.ID = store.GenNewID()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_agent_knowledge (id, agent_id, title, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		k.ID, k.AgentID, k.Title, k.Content, k.CreatedAt)
	return err
}

func (s *PGKnowledgeStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_agent_knowledge WHERE id = $1`, id)
	return err
}
