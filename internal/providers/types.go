package providers

import "context"

// Family identifies a model provider family.
type Family string

const (
	FamilyGoogle    Family = "google"
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
)

// Client is a callable language-model handle. Implementations are safe for
// concurrent use.
type Client interface {
	// Generate sends one request to the model and returns the response,
	// including any tool calls the model requested.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// Family returns the provider family this client talks to.
	Family() Family
}

// GenerateRequest contains the input for a Generate call.
type GenerateRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
}

// GenerateResponse is the result from a model call.
type GenerateResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage        *Usage     `json:"usage,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role       string     `json:"role"` // "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses
	ToolName   string     `json:"tool_name,omitempty"`    // for role="tool": which tool produced this
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON schema
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
