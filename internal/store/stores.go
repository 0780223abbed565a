package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AgentStore manages AI agent configurations.
type AgentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*AgentConfig, error)
	// GetDefault returns the active default agent, or ErrNotFound.
	GetDefault(ctx context.Context) (*AgentConfig, error)
	List(ctx context.Context) ([]AgentConfig, error)
	Create(ctx context.Context, a *AgentConfig) error
	Update(ctx context.Context, a *AgentConfig) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConversationStore manages inbox conversations.
type ConversationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	// EnsureByPhone returns the conversation for a phone number, creating
	// one when none exists. contactName updates the stored name when
	// non-empty.
	EnsureByPhone(ctx context.Context, phone, contactName string) (*Conversation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// MessageStore manages conversation messages.
type MessageStore interface {
	Insert(ctx context.Context, m *Message) error
	// Recent returns up to limit messages for a conversation, ordered
	// oldest first (most-recent-last).
	Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LogStore persists agent interaction logs.
type LogStore interface {
	Insert(ctx context.Context, l *InteractionLog) (uuid.UUID, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]InteractionLog, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingStore is a key-value settings table (API keys, proxy config,
// retention policy). Get returns "" with a nil error for missing keys.
type SettingStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// KnowledgeStore manages per-agent knowledge-base entries.
type KnowledgeStore interface {
	Search(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]KnowledgeChunk, error)
	Insert(ctx context.Context, k *KnowledgeChunk) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Stores bundles all store implementations for one backend.
type Stores struct {
	Agents        AgentStore
	Conversations ConversationStore
	Messages      MessageStore
	Logs          LogStore
	Settings      SettingStore
	Knowledge     KnowledgeStore
}

// StoreConfig selects and configures a storage backend.
type StoreConfig struct {
	PostgresDSN string // managed mode
	SQLitePath  string // standalone mode
}
