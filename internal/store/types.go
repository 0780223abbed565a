package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Conversation status values.
const (
	StatusOpen    = "open"
	StatusHandoff = "handoff"
	StatusClosed  = "closed"
)

// AgentConfig is one AI agent configuration row.
// The orchestrator reads a snapshot for the duration of one invocation.
type AgentConfig struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	SystemPrompt    string    `json:"system_prompt"`
	Model           string    `json:"model"`
	Temperature     float64   `json:"temperature"`
	MaxTokens       int       `json:"max_tokens"`
	DebounceSeconds int       `json:"debounce_seconds"`
	Active          bool      `json:"active"`
	Default         bool      `json:"default"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Conversation is one inbox conversation with a WhatsApp contact.
type Conversation struct {
	ID            uuid.UUID `json:"id"`
	Phone         string    `json:"phone"`
	ContactName   string    `json:"contact_name,omitempty"`
	Priority      string    `json:"priority"`
	Status        string    `json:"status"`
	TotalMessages int       `json:"total_messages"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is one inbound or outbound message in a conversation.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Direction      string    `json:"direction"` // "inbound" or "outbound"
	Content        string    `json:"content"`
	WAMessageID    string    `json:"wa_message_id,omitempty"` // channel-assigned id
	CreatedAt      time.Time `json:"created_at"`
}

// InteractionLog is one append-only audit record of an agent invocation.
// Never mutated after insert; retention is handled by the sweeper.
type InteractionLog struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	AgentID        uuid.UUID       `json:"agent_id"`
	MessageIDs     []string        `json:"message_ids"`
	Input          string          `json:"input"`
	Output         json.RawMessage `json:"output,omitempty"` // marshaled decision, null on total failure
	Model          string          `json:"model"`
	LatencyMs      int64           `json:"latency_ms"`
	Error          string          `json:"error,omitempty"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// KnowledgeChunk is one searchable knowledge-base entry for an agent.
type KnowledgeChunk struct {
	ID        uuid.UUID `json:"id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GenNewID returns a new UUIDv7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
