package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// PGSettingStore implements store.SettingStore backed by Postgres.
type PGSettingStore struct {
	db *sql.DB
}

func NewPGSettingStore(db *sql.DB) *PGSettingStore {
	return &PGSettingStore{db: db}
}

func (s *PGSettingStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *PGSettingStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC())
	return err
}

var _ store.SettingStore = (*PGSettingStore)(nil)
