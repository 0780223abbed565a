package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

type logInput struct {
	conversationID uuid.UUID
	agentID        uuid.UUID
	messageIDs     []string
	input          string
	decision       *Decision
	model          string
	latencyMs      int64
	errText        string
	toolTrace      []ToolCallRecord
}

// persistLog writes the audit record. Best effort: a storage failure is
// logged and swallowed so a response is never lost to an audit problem.
func (o *Orchestrator) persistLog(ctx context.Context, in logInput) *uuid.UUID {
	if o.logs == nil {
		return nil
	}

	rec := store.InteractionLog{
		ID:             store.GenNewID(),
		ConversationID: in.conversationID,
		AgentID:        in.agentID,
		MessageIDs:     in.messageIDs,
		Input:          in.input,
		Model:          in.model,
		LatencyMs:      in.latencyMs,
		Error:          in.errText,
	}

	if in.decision != nil {
		out, err := json.Marshal(in.decision)
		if err == nil {
			rec.Output = out
		}
	}
	if len(in.toolTrace) > 0 {
		tc, err := json.Marshal(in.toolTrace)
		if err == nil {
			rec.ToolCalls = tc
		}
	}

	id, err := o.logs.Insert(ctx, &rec)
	if err != nil {
		slog.Error("persist interaction log", "conversation", in.conversationID, "error", err)
		return nil
	}
	return &id
}
