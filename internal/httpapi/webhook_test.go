package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/store/sqlite"
)

func webhookMux(t *testing.T) (*http.ServeMux, *store.Stores) {
	t.Helper()
	db, err := sqlite.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	stores := sqlite.StoresFromDB(db)

	mux := http.NewServeMux()
	wh := &WebhookHandler{verifyToken: "verify-me", stores: stores}
	wh.RegisterRoutes(mux)
	return mux, stores
}

func TestWebhookVerify(t *testing.T) {
	mux, _ := webhookMux(t)

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid handshake", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", 200, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", 403, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", 403, ""},
		{"missing params", "", 403, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want the challenge echoed", rec.Body.String())
			}
		})
	}
}

const samplePayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"contacts": [{"wa_id": "5511999999999", "profile": {"name": "João"}}],
				"messages": [{
					"from": "5511999999999",
					"id": "wamid.inbound1",
					"type": "text",
					"text": {"body": "Olá, preciso de ajuda"}
				}]
			}
		}]
	}]
}`

func TestWebhookReceive_StoresMessage(t *testing.T) {
	mux, stores := webhookMux(t)

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	conv, err := stores.Conversations.EnsureByPhone(ctx, "+5511999999999", "")
	if err != nil {
		t.Fatal(err)
	}
	if conv.ContactName != "João" {
		t.Errorf("ContactName = %q", conv.ContactName)
	}

	msgs, err := stores.Messages.Recent(ctx, conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Content != "Olá, preciso de ajuda" || msgs[0].Direction != store.DirectionInbound {
		t.Errorf("message = %+v", msgs[0])
	}
	if msgs[0].WAMessageID != "wamid.inbound1" {
		t.Errorf("WAMessageID = %q", msgs[0].WAMessageID)
	}
}

func TestWebhookReceive_IgnoresNonText(t *testing.T) {
	mux, stores := webhookMux(t)

	payload := `{"entry":[{"changes":[{"value":{"messages":[
		{"from":"5511999999999","id":"wamid.img","type":"image"},
		{"from":"5511999999999","id":"wamid.empty","type":"text","text":{"body":""}}
	]}}]}]}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}

	conv, _ := stores.Conversations.EnsureByPhone(context.Background(), "+5511999999999", "")
	msgs, _ := stores.Messages.Recent(context.Background(), conv.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("stored %d messages, want none", len(msgs))
	}
}

func TestWebhookReceive_BadJSON(t *testing.T) {
	mux, _ := webhookMux(t)

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookReceive_StatusOnlyPayload(t *testing.T) {
	mux, _ := webhookMux(t)

	// Delivery-status callbacks carry no messages array.
	payload := `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.x","status":"delivered"}]}}]}]}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Errorf("status = %d, want 200 for status callbacks", rec.Code)
	}
}
