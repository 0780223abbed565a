package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zapdeskhq/zapdesk/internal/providers"
)

const knowledgeToolName = "search_knowledge_base"

// ToolCallRecord is one entry in the flat tool-call trace persisted with
// every interaction log.
type ToolCallRecord struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result string         `json:"result"`
}

// knowledgeToolDef describes the knowledge-base search tool. It is always
// offered to the model, even without a configured knowledge base.
func knowledgeToolDef() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        knowledgeToolName,
		Description: "Busca informações na base de conhecimento do negócio",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Termo de busca",
				},
			},
			"required": []string{"query"},
		},
	}
}

// knowledgeSearchResult is the tool's wire shape. The empty-results variant
// lets the model continue gracefully when nothing is configured.
type knowledgeSearchResult struct {
	Results []Source `json:"results"`
	Message string   `json:"message,omitempty"`
}

// executeKnowledgeSearch runs the knowledge tool and returns its JSON result.
// It never errors: lookup failures degrade to the empty-results shape.
func (o *Orchestrator) executeKnowledgeSearch(ctx context.Context, agentID uuid.UUID, args map[string]any) string {
	query, _ := args["query"].(string)

	empty := knowledgeSearchResult{
		Results: []Source{},
		Message: "Base de conhecimento não configurada",
	}

	if o.knowledge == nil || query == "" {
		return mustJSON(empty)
	}

	chunks, err := o.knowledge.Search(ctx, agentID, query, 5)
	if err != nil {
		slog.Warn("knowledge base search failed", "agent", agentID, "error", err)
		return mustJSON(empty)
	}
	if len(chunks) == 0 {
		return mustJSON(knowledgeSearchResult{Results: []Source{}, Message: "Nenhum resultado encontrado"})
	}

	results := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, Source{Title: c.Title, Content: c.Content})
	}
	return mustJSON(knowledgeSearchResult{Results: results})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"results":[]}`
	}
	return string(b)
}
