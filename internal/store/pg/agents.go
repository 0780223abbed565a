package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// PGAgentStore implements store.AgentStore backed by Postgres.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

const agentSelectCols = `id, name, system_prompt, model, temperature, max_tokens, debounce_seconds, active, is_default, created_at, updated_at`

func (s *PGAgentStore) Get(ctx context.Context, id uuid.UUID) (*store.AgentConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentSelectCols+` FROM ai_agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (s *PGAgentStore) GetDefault(ctx context.Context) (*store.AgentConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentSelectCols+` FROM ai_agents
		 WHERE active = true AND is_default = true
		 ORDER BY updated_at DESC LIMIT 1`)
	return scanAgent(row)
}

func (s *PGAgentStore) List(ctx context.Context) ([]store.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentSelectCols+` FROM ai_agents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []store.AgentConfig
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *PGAgentStore) Create(ctx context.Context, a *store.AgentConfig) error {
	now := time.Now().UTC()
	if a.ID == uuid.Nil {
		a.ID = store.GenNewID()
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_agents (id, name, system_prompt, model, temperature, max_tokens, debounce_seconds, active, is_default, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Name, a.SystemPrompt, a.Model, a.Temperature, a.MaxTokens,
		a.DebounceSeconds, a.Active, a.Default, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *PGAgentStore) Update(ctx context.Context, a *store.AgentConfig) error {
	a.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_agents SET name = $2, system_prompt = $3, model = $4, temperature = $5,
		 max_tokens = $6, debounce_seconds = $7, active = $8, is_default = $9, updated_at = $10
		 WHERE id = $1`,
		a.ID, a.Name, a.SystemPrompt, a.Model, a.Temperature, a.MaxTokens,
		a.DebounceSeconds, a.Active, a.Default, a.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGAgentStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_agents WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*store.AgentConfig, error) {
	var a store.AgentConfig
	err := row.Scan(&a.ID, &a.Name, &a.SystemPrompt, &a.Model, &a.Temperature,
		&a.MaxTokens, &a.DebounceSeconds, &a.Active, &a.Default, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
