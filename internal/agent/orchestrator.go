// Package agent implements the AI support-agent response pipeline: prompt
// construction, model invocation with tool calling, structured-decision
// parsing, bounded retries, and the forced human-handoff fallback.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zapdeskhq/zapdesk/internal/providers"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

const (
	// maxAttempts is the total number of model attempts per run.
	maxAttempts = 2

	// retryBackoff is the flat (not exponential) wait between attempts.
	retryBackoff = time.Second

	// attemptTimeout bounds a single attempt including its tool loop.
	attemptTimeout = 30 * time.Second

	// maxToolSteps caps model/tool round trips within one attempt.
	maxToolSteps = 5

	// historyWindow is the number of recent messages used as context.
	historyWindow = 10

	// handoffExcerptLen truncates the last inbound message in the forced
	// handoff summary.
	handoffExcerptLen = 200
)

// handoffMessage is the user-facing reply when all attempts fail.
const handoffMessage = "Desculpe, estou com dificuldades técnicas no momento. Vou transferir você para um de nossos atendentes."

// ModelResolver resolves a model id to a callable handle.
// *providers.Factory satisfies this.
type ModelResolver interface {
	Resolve(ctx context.Context, modelID, apiKeyOverride string) (*providers.ResolvedModel, error)
}

// CallOptions override the agent's configured sampling options for one run.
type CallOptions struct {
	Temperature *float64
	MaxTokens   *int
}

// Request is the input for one orchestrator run.
type Request struct {
	Agent        *store.AgentConfig
	Conversation *store.Conversation
	// Messages is the ordered context window, most-recent-last. The
	// orchestrator truncates to the last 10.
	Messages    []store.Message
	CallOptions *CallOptions
}

// Result is the output of one orchestrator run. Decision is never nil:
// Success=false happens only on the exhausted-retries path, where Decision
// is the forced handoff.
type Result struct {
	Success   bool       `json:"success"`
	Decision  *Decision  `json:"response"`
	Error     string     `json:"error,omitempty"`
	LatencyMs int64      `json:"latency_ms"`
	LogID     *uuid.UUID `json:"log_id,omitempty"`
}

// Orchestrator turns a conversation plus agent config into exactly one
// Decision. Safe for concurrent use across conversations.
type Orchestrator struct {
	resolver  ModelResolver
	logs      store.LogStore
	knowledge store.KnowledgeStore
	tracer    trace.Tracer

	// sleep is swappable so retry-backoff tests don't wait wall-clock time.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator. logs and knowledge may be nil
// (log persistence becomes a no-op, the knowledge tool returns empty
// results).
func NewOrchestrator(resolver ModelResolver, logs store.LogStore, knowledge store.KnowledgeStore) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		logs:      logs,
		knowledge: knowledge,
		tracer:    otel.Tracer("zapdesk/agent"),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process runs the full pipeline and always returns a non-nil Result with a
// non-nil Decision. The returned result carries the orchestration outcome;
// errors from individual attempts surface in Result.Error.
func (o *Orchestrator) Process(ctx context.Context, req Request) *Result {
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "agent.process",
		trace.WithAttributes(
			attribute.String("conversation.id", req.Conversation.ID.String()),
			attribute.String("agent.id", req.Agent.ID.String()),
			attribute.String("agent.model", req.Agent.Model),
		))
	defer span.End()

	messages := req.Messages
	if len(messages) > historyWindow {
		messages = messages[len(messages)-historyWindow:]
	}

	history := make([]providers.Message, 0, len(messages))
	for _, m := range messages {
		role := "assistant"
		if m.Direction == store.DirectionInbound {
			role = "user"
		}
		history = append(history, providers.Message{Role: role, Content: m.Content})
	}

	// The last inbound message is the nominal input for audit logging.
	var input string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Direction == store.DirectionInbound {
			input = messages[i].Content
			break
		}
	}

	messageIDs := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messageIDs = append(messageIDs, m.ID.String())
	}

	temperature := req.Agent.Temperature
	maxTokens := req.Agent.MaxTokens
	if req.CallOptions != nil {
		if req.CallOptions.Temperature != nil {
			temperature = *req.CallOptions.Temperature
		}
		if req.CallOptions.MaxTokens != nil {
			maxTokens = *req.CallOptions.MaxTokens
		}
	}

	systemPrompt := buildSystemPrompt(req.Agent, req.Conversation)

	var lastErr error
	var toolTrace []ToolCallRecord

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		decision, attemptTrace, err := o.attempt(ctx, req.Agent, systemPrompt, history, temperature, maxTokens)
		if len(attemptTrace) > 0 {
			toolTrace = attemptTrace
		}
		if err == nil {
			latency := time.Since(start).Milliseconds()
			logID := o.persistLog(ctx, logInput{
				conversationID: req.Conversation.ID,
				agentID:        req.Agent.ID,
				messageIDs:     messageIDs,
				input:          input,
				decision:       decision,
				model:          req.Agent.Model,
				latencyMs:      latency,
				toolTrace:      toolTrace,
			})
			span.SetAttributes(attribute.Int("agent.attempts", attempt))
			return &Result{Success: true, Decision: decision, LatencyMs: latency, LogID: logID}
		}

		lastErr = err
		slog.Error("agent attempt failed", "agent", req.Agent.ID, "attempt", attempt, "error", err)

		if attempt < maxAttempts {
			if serr := o.sleep(ctx, retryBackoff); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	// All attempts failed: synthesize the forced handoff.
	latency := time.Since(start).Milliseconds()
	errText := "unknown error"
	if lastErr != nil {
		errText = lastErr.Error()
	}

	// Truncate on rune boundaries; accented text must not be cut
	// mid-sequence.
	excerpt := input
	if r := []rune(excerpt); len(r) > handoffExcerptLen {
		excerpt = string(r[:handoffExcerptLen])
	}

	decision := &Decision{
		Message:        handoffMessage,
		Sentiment:      SentimentNeutral,
		Confidence:     0,
		ShouldHandoff:  true,
		HandoffReason:  fmt.Sprintf("Erro técnico após %d tentativas: %s", maxAttempts, errText),
		HandoffSummary: fmt.Sprintf("Cliente estava conversando quando ocorreu erro técnico. Última mensagem: %q", excerpt),
	}

	logID := o.persistLog(ctx, logInput{
		conversationID: req.Conversation.ID,
		agentID:        req.Agent.ID,
		messageIDs:     messageIDs,
		input:          input,
		decision:       decision,
		model:          req.Agent.Model,
		latencyMs:      latency,
		errText:        errText,
		toolTrace:      toolTrace,
	})

	span.SetAttributes(attribute.Int("agent.attempts", maxAttempts), attribute.Bool("agent.forced_handoff", true))

	return &Result{
		Success:   false,
		Decision:  decision,
		Error:     errText,
		LatencyMs: latency,
		LogID:     logID,
	}
}

// attempt runs one full model invocation including the bounded tool loop and
// response parsing. The step budget applies to this attempt only.
func (o *Orchestrator) attempt(ctx context.Context, agentCfg *store.AgentConfig, systemPrompt string, history []providers.Message, temperature float64, maxTokens int) (*Decision, []ToolCallRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	resolved, err := o.resolver.Resolve(ctx, agentCfg.Model, "")
	if err != nil {
		return nil, nil, err
	}

	messages := make([]providers.Message, len(history))
	copy(messages, history)

	tools := []providers.ToolDefinition{knowledgeToolDef()}
	var toolTrace []ToolCallRecord

	var finalText string
	for step := 0; step < maxToolSteps; step++ {
		resp, err := resolved.Client.Generate(ctx, providers.GenerateRequest{
			Model:       agentCfg.Model,
			System:      systemPrompt,
			Messages:    messages,
			Tools:       tools,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, toolTrace, err
		}

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Content
			break
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			var result string
			if tc.Name == knowledgeToolName {
				result = o.executeKnowledgeSearch(ctx, agentCfg.ID, tc.Arguments)
			} else {
				result = fmt.Sprintf(`{"error":"unknown tool %q"}`, tc.Name)
			}
			toolTrace = append(toolTrace, ToolCallRecord{Name: tc.Name, Args: tc.Arguments, Result: result})
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}

		// Step budget exhausted with a pending tool loop: fall through with
		// whatever text the last response carried.
		finalText = resp.Content
	}

	return ParseDecision(finalText), toolTrace, nil
}
