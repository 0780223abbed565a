package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/zapdeskhq/zapdesk/internal/agent"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

// AgentsHandler serves agent configuration CRUD, knowledge management,
// settings, and interaction-log listing.
type AgentsHandler struct {
	stores  *store.Stores
	service *agent.Service
	token   string
}

// RegisterRoutes registers all management routes on the given mux.
func (h *AgentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agents", h.auth(h.handleList))
	mux.HandleFunc("POST /v1/agents", h.auth(h.handleCreate))
	mux.HandleFunc("GET /v1/agents/{id}", h.auth(h.handleGet))
	mux.HandleFunc("PUT /v1/agents/{id}", h.auth(h.handleUpdate))
	mux.HandleFunc("DELETE /v1/agents/{id}", h.auth(h.handleDelete))

	mux.HandleFunc("POST /v1/agents/{id}/knowledge", h.auth(h.handleAddKnowledge))
	mux.HandleFunc("DELETE /v1/knowledge/{id}", h.auth(h.handleDeleteKnowledge))

	mux.HandleFunc("GET /v1/conversations/{id}/logs", h.auth(h.handleListLogs))
	mux.HandleFunc("POST /v1/conversations/{id}/process", h.auth(h.handleProcessNow))

	mux.HandleFunc("GET /v1/settings/{key}", h.auth(h.handleGetSetting))
	mux.HandleFunc("PUT /v1/settings/{key}", h.auth(h.handleSetSetting))
}

func (h *AgentsHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if extractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *AgentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	agents, err := h.stores.Agents.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (h *AgentsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	a, err := h.stores.Agents.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AgentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var a store.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if a.Name == "" || a.SystemPrompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and system_prompt are required"})
		return
	}
	if a.Model == "" {
		a.Model = "gemini-2.0-flash"
	}
	if a.Temperature <= 0 {
		a.Temperature = 0.7
	}
	if a.MaxTokens <= 0 {
		a.MaxTokens = 1024
	}
	if a.DebounceSeconds <= 0 {
		a.DebounceSeconds = 5
	}
	a.ID = store.GenNewID()

	if err := h.stores.Agents.Create(r.Context(), &a); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *AgentsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	existing, err := h.stores.Agents.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// Decode over the existing row so omitted fields keep their values.
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	existing.ID = id

	if err := h.stores.Agents.Update(r.Context(), existing); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (h *AgentsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.stores.Agents.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *AgentsHandler) handleAddKnowledge(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	chunk := store.KnowledgeChunk{
		ID:      store.GenNewID(),
		AgentID: agentID,
		Title:   req.Title,
		Content: req.Content,
	}
	if err := h.stores.Knowledge.Insert(r.Context(), &chunk); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, chunk)
}

func (h *AgentsHandler) handleDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.stores.Knowledge.Delete(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *AgentsHandler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	logs, err := h.stores.Logs.ListByConversation(r.Context(), id, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// handleProcessNow skips the debounce window and runs the agent over the
// conversation's recent history right away.
func (h *AgentsHandler) handleProcessNow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if h.service == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "agent service not running"})
		return
	}
	h.service.ProcessNow(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// sensitiveSettings never come back in reads; values are masked.
var sensitiveSettings = map[string]bool{
	"gemini_api_key":    true,
	"openai_api_key":    true,
	"anthropic_api_key": true,
	"helicone_api_key":  true,
}

func (h *AgentsHandler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := h.stores.Settings.Get(r.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sensitiveSettings[key] && value != "" {
		value = "***"
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (h *AgentsHandler) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := h.stores.Settings.Set(r.Context(), key, req.Value); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
