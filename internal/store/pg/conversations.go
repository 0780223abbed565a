package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

const convSelectCols = `id, phone, contact_name, priority, status, total_messages, created_at, updated_at`

func (s *PGConversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+convSelectCols+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *PGConversationStore) EnsureByPhone(ctx context.Context, phone, contactName string) (*store.Conversation, error) {
	now := time.Now().UTC()

	// Upsert keyed on phone; COALESCE/NULLIF keeps the existing name when the
	// webhook payload carries none.
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (id, phone, contact_name, priority, status, total_messages, created_at, updated_at)
		 VALUES ($1, $2, $3, 'normal', 'open', 0, $4, $4)
		 ON CONFLICT (phone) DO UPDATE SET
		   contact_name = COALESCE(NULLIF(EXCLUDED.contact_name, ''), conversations.contact_name),
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+convSelectCols,
		store.GenNewID(), phone, contactName, now)
	return scanConversation(row)
}

func (s *PGConversationStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
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
	var contactName sql.NullString
	err := row.Scan(&c.ID, &c.Phone, &contactName, &c.Priority, &c.Status,
		&c.TotalMessages, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ContactName = contactName.String
	return &c, nil
}
