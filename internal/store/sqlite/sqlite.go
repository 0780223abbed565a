// Package sqlite provides the standalone-mode storage backend.
// Managed deployments use Postgres (store/pg); this backend keeps a single
// local file so the server runs without external infrastructure.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS ai_agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	system_prompt TEXT NOT NULL,
	model TEXT NOT NULL,
	temperature REAL NOT NULL,
	max_tokens INTEGER NOT NULL,
	debounce_seconds INTEGER NOT NULL,
	active INTEGER NOT NULL,
	is_default INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	phone TEXT NOT NULL UNIQUE,
	contact_name TEXT,
	priority TEXT NOT NULL,
	status TEXT NOT NULL,
	total_messages INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	direction TEXT NOT NULL,
	content TEXT NOT NULL,
	wa_message_id TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
CREATE TABLE IF NOT EXISTS ai_agent_logs (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	message_ids TEXT NOT NULL,
	input_message TEXT NOT NULL,
	output TEXT,
	model_used TEXT NOT NULL,
	latency_ms INTEGER NOT NULL,
	error_message TEXT,
	tool_calls TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_conversation ON ai_agent_logs(conversation_id, created_at);
CREATE TABLE IF NOT EXISTS ai_agent_knowledge (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// OpenDB opens (and initializes) the standalone SQLite database.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is not safe for concurrent writers on one connection pool
	// beyond what SQLite itself serializes; a single connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return db, nil
}

// NewSQLiteStores creates all stores backed by a local SQLite file.
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "zapdesk.db"
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return StoresFromDB(db), nil
}

// StoresFromDB wraps an already-open database (used by tests with :memory:).
func StoresFromDB(db *sql.DB) *store.Stores {
	return &store.Stores{
		Agents:        &agentStore{db},
		Conversations: &conversationStore{db},
		Messages:      &messageStore{db},
		Logs:          &logStore{db},
		Settings:      &settingStore{db},
		Knowledge:     &knowledgeStore{db},
	}
}

type agentStore struct{ db *sql.DB }

const agentCols = `id, name, system_prompt, model, temperature, max_tokens, debounce_seconds, active, is_default, created_at, updated_at`

func (s *agentStore) Get(ctx context.Context, id uuid.UUID) (*store.AgentConfig, error) {
	return scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM ai_agents WHERE id = $1`, id.String()))
}

func (s *agentStore) GetDefault(ctx context.Context) (*store.AgentConfig, error) {
	return scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentCols+` FROM ai_agents
		 WHERE active = 1 AND is_default = 1 ORDER BY updated_at DESC LIMIT 1`))
}

func (s *agentStore) List(ctx context.Context) ([]store.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentCols+` FROM ai_agents ORDER BY created_at`)
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

func (s *agentStore) Create(ctx context.Context, a *store.AgentConfig) error {
	now := time.Now().UTC()
	if a.ID == uuid.Nil {
		a.ID = store.GenNewID()
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_agents (`+agentCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID.String(), a.Name, a.SystemPrompt, a.Model, a.Temperature, a.MaxTokens,
		a.DebounceSeconds, a.Active, a.Default, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *agentStore) Update(ctx context.Context, a *store.AgentConfig) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_agents SET name = $2, system_prompt = $3, model = $4, temperature = $5,
		 max_tokens = $6, debounce_seconds = $7, active = $8, is_default = $9, updated_at = $10
		 WHERE id = $1`,
		a.ID.String(), a.Name, a.SystemPrompt, a.Model, a.Temperature, a.MaxTokens,
		a.DebounceSeconds, a.Active, a.Default, a.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *agentStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_agents WHERE id = $1`, id.String())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*store.AgentConfig, error) {
	var a store.AgentConfig
	var id string
	err := row.Scan(&id, &a.Name, &a.SystemPrompt, &a.Model, &a.Temperature,
		&a.MaxTokens, &a.DebounceSeconds, &a.Active, &a.Default, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse agent id: %w", err)
	}
	return &a, nil
}

type conversationStore struct{ db *sql.DB }

const convCols = `id, phone, COALESCE(contact_name, ''), priority, status, total_messages, created_at, updated_at`

func (s *conversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+convCols+` FROM conversations WHERE id = $1`, id.String()))
}

func (s *conversationStore) EnsureByPhone(ctx context.Context, phone, contactName string) (*store.Conversation, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, phone, contact_name, priority, status, total_messages, created_at, updated_at)
		 VALUES ($1, $2, $3, 'normal', 'open', 0, $4, $4)
		 ON CONFLICT (phone) DO UPDATE SET
		   contact_name = CASE WHEN excluded.contact_name != '' THEN excluded.contact_name ELSE conversations.contact_name END,
		   updated_at = excluded.updated_at`,
		store.GenNewID().String(), phone, contactName, now)
	if err != nil {
		return nil, err
	}
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+convCols+` FROM conversations WHERE phone = $1`, phone))
}

func (s *conversationStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = $2, updated_at = $3 WHERE id = $1`,
		id.String(), status, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var c store.Conversation
	var id string
	err := row.Scan(&id, &c.Phone, &c.ContactName, &c.Priority, &c.Status,
		&c.TotalMessages, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse conversation id: %w", err)
	}
	return &c, nil
}

type messageStore struct{ db *sql.DB }

func (s *messageStore) Insert(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = store.GenNewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, direction, content, wa_message_id, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		m.ID.String(), m.ConversationID.String(), m.Direction, m.Content, m.WAMessageID, m.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET total_messages = total_messages + 1, updated_at = $2 WHERE id = $1`,
		m.ConversationID.String(), m.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *messageStore) Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, direction, content, COALESCE(wa_message_id, ''), created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		conversationID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var id, convID string
		if err := rows.Scan(&id, &convID, &m.Direction, &m.Content, &m.WAMessageID, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if m.ConversationID, err = uuid.Parse(convID); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *messageStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type logStore struct{ db *sql.DB }

func (s *logStore) Insert(ctx context.Context, l *store.InteractionLog) (uuid.UUID, error) {
	if l.ID == uuid.Nil {
		l.ID = store.GenNewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	ids, err := json.Marshal(l.MessageIDs)
	if err != nil {
		return uuid.Nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_agent_logs (id, conversation_id, agent_id, message_ids, input_message, output, model_used, latency_ms, error_message, tool_calls, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)`,
		l.ID.String(), l.ConversationID.String(), l.AgentID.String(), string(ids), l.Input,
		string(l.Output), l.Model, l.LatencyMs, l.Error, string(l.ToolCalls), l.CreatedAt)
	if err != nil {
		return uuid.Nil, err
	}
	return l.ID, nil
}

func (s *logStore) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.InteractionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, agent_id, message_ids, input_message, COALESCE(output, ''), model_used, latency_ms, COALESCE(error_message, ''), COALESCE(tool_calls, ''), created_at
		 FROM ai_agent_logs WHERE conversation_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		conversationID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []store.InteractionLog
	for rows.Next() {
		var l store.InteractionLog
		var id, convID, agentID, ids, output, toolCalls string
		if err := rows.Scan(&id, &convID, &agentID, &ids, &l.Input, &output,
			&l.Model, &l.LatencyMs, &l.Error, &toolCalls, &l.CreatedAt); err != nil {
			return nil, err
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if l.ConversationID, err = uuid.Parse(convID); err != nil {
			return nil, err
		}
		if l.AgentID, err = uuid.Parse(agentID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &l.MessageIDs); err != nil {
			return nil, err
		}
		if output != "" {
			l.Output = json.RawMessage(output)
		}
		if toolCalls != "" {
			l.ToolCalls = json.RawMessage(toolCalls)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *logStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ai_agent_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type settingStore struct{ db *sql.DB }

func (s *settingStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *settingStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

type knowledgeStore struct{ db *sql.DB }

func (s *knowledgeStore) Search(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]store.KnowledgeChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, title, content, created_at FROM ai_agent_knowledge
		 WHERE agent_id = $1 AND (title LIKE '%' || $2 || '%' OR content LIKE '%' || $2 || '%')
		 ORDER BY created_at DESC LIMIT $3`,
		agentID.String(), query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []store.KnowledgeChunk
	for rows.Next() {
		var k store.KnowledgeChunk
		var id, agID string
		if err := rows.Scan(&id, &agID, &k.Title, &k.Content, &k.CreatedAt); err != nil {
			return nil, err
		}
		if k.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if k.AgentID, err = uuid.Parse(agID); err != nil {
			return nil, err
		}
		chunks = append(chunks, k)
	}
	return chunks, rows.Err()
}

func (s *knowledgeStore) Insert(ctx context.Context, k *store.KnowledgeChunk) error {
	if k.ID == uuid.Nil {
		k.ID = store.GenNewID()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_agent_knowledge (id, agent_id, title, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		k.ID.String(), k.AgentID.String(), k.Title, k.Content, k.CreatedAt)
	return err
}

func (s *knowledgeStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_agent_knowledge WHERE id = $1`, id.String())
	return err
}
