package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/zapdeskhq/zapdesk/internal/agent"
	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/whatsapp"
)

// WebhookHandler receives WhatsApp Cloud API webhook callbacks: the GET
// subscription handshake and POST message notifications.
type WebhookHandler struct {
	verifyToken string
	stores      *store.Stores
	service     *agent.Service
	limiter     *ipRateLimiter

	// baseCtx outlives individual requests. Debounced processing must not be
	// cancelled when the webhook request that scheduled it returns.
	baseCtx context.Context
}

// RegisterRoutes registers the webhook endpoints on the given mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.handleVerify)
	mux.HandleFunc("POST /webhook", h.handleReceive)
}

// handleVerify answers Meta's subscription handshake: echo hub.challenge
// when the verify token matches.
func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken && h.verifyToken != "" {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

// webhookPayload is the subset of the Cloud API notification payload we
// consume. Statuses and non-text messages are ignored.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// handleReceive ingests inbound messages. Always answers 200 so Meta does
// not retry deliveries we already consumed; per-message failures are logged.
func (h *WebhookHandler) handleReceive(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.allow(remoteKey(r)) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	ctx := r.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string)
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				if msg.Type != "" && msg.Type != "text" {
					continue
				}
				if msg.Text.Body == "" {
					continue
				}

				phone := whatsapp.NormalizePhone(msg.From)
				if phone == "" {
					slog.Warn("webhook message with unusable sender", "from", msg.From)
					continue
				}

				conv, err := h.stores.Conversations.EnsureByPhone(ctx, phone, names[msg.From])
				if err != nil {
					slog.Error("ensure conversation", "phone", phone, "error", err)
					continue
				}

				inbound := store.Message{
					ID:             store.GenNewID(),
					ConversationID: conv.ID,
					Direction:      store.DirectionInbound,
					Content:        msg.Text.Body,
					WAMessageID:    msg.ID,
				}
				if err := h.stores.Messages.Insert(ctx, &inbound); err != nil {
					slog.Error("persist inbound message", "conversation", conv.ID, "error", err)
					continue
				}

				if h.service != nil {
					base := h.baseCtx
					if base == nil {
						base = context.Background()
					}
					h.service.OnInboundMessage(base, conv.ID, inbound.ID)
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
