// Package whatsapp implements the outbound delivery path: phone
// normalization and sending messages through the Meta Graph API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIBase = "https://graph.facebook.com/v24.0"
	sendTimeout    = 8 * time.Second
)

// Message type values for SendOptions.
const (
	TypeText     = "text"
	TypeTemplate = "template"
)

// SendOptions describes one outbound message.
type SendOptions struct {
	To   string // destination phone, normalized internally
	Type string // "text" (default) or "template"

	// Text message
	Text             string
	PreviewURL       bool
	ReplyToMessageID string

	// Template message
	TemplateName   string
	TemplateParams map[string][]string // "body" and "header" parameter lists
}

// SendResult is the outcome of one send. Send never returns a Go error;
// failures are reported here so callers handle one shape.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// Sender delivers messages through the WhatsApp Cloud API.
// It has no retry logic of its own: transport retries are the caller's
// concern, kept apart from the agent's retry budget.
type Sender struct {
	accessToken   string
	phoneNumberID string
	apiBase       string
	client        *http.Client
}

// NewSender creates a sender. apiBase overrides the Graph API endpoint
// (used by tests); empty means production.
func NewSender(accessToken, phoneNumberID, apiBase string) *Sender {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Sender{
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		apiBase:       strings.TrimRight(apiBase, "/"),
		client:        &http.Client{Timeout: sendTimeout},
	}
}

// Send normalizes the destination and delivers the message.
// Invalid destinations fail fast without any network call.
func (s *Sender) Send(ctx context.Context, opts SendOptions) SendResult {
	if s.accessToken == "" || s.phoneNumberID == "" {
		return SendResult{Success: false, Error: "WhatsApp credentials not configured"}
	}

	to := NormalizePhone(opts.To)
	if to == "" || !ValidPhone(to) {
		return SendResult{Success: false, Error: fmt.Sprintf("invalid phone number: %s", opts.To)}
	}

	var payload map[string]any
	if opts.Type == TypeTemplate && opts.TemplateName != "" {
		payload = buildTemplatePayload(to, opts.TemplateName, opts.TemplateParams)
	} else {
		payload = buildTextPayload(to, opts)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{Success: false, Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	url := fmt.Sprintf("%s/%s/messages", s.apiBase, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Success: false, Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var data map[string]any
	if err := json.Unmarshal(respBody, &data); err != nil {
		data = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg := extractAPIError(data)
		if errMsg == "" {
			errMsg = "WhatsApp send failed"
		}
		slog.Warn("whatsapp send rejected", "status", resp.StatusCode, "error", errMsg)

		var details any = data
		if details == nil {
			details = string(respBody)
		}
		return SendResult{Success: false, Error: errMsg, Details: details}
	}

	return SendResult{Success: true, MessageID: extractMessageID(data)}
}

func buildTextPayload(to string, opts SendOptions) map[string]any {
	text := map[string]any{"body": opts.Text}
	if opts.PreviewURL {
		text["preview_url"] = true
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              text,
	}
	if opts.ReplyToMessageID != "" {
		payload["context"] = map[string]any{"message_id": opts.ReplyToMessageID}
	}
	return payload
}

func buildTemplatePayload(to, templateName string, params map[string][]string) map[string]any {
	var components []map[string]any
	appendComponent := func(kind string) {
		values := params[kind]
		if len(values) == 0 {
			return
		}
		parameters := make([]map[string]any, 0, len(values))
		for _, text := range values {
			parameters = append(parameters, map[string]any{"type": "text", "text": text})
		}
		components = append(components, map[string]any{"type": kind, "parameters": parameters})
	}
	appendComponent("body")
	appendComponent("header")

	template := map[string]any{
		"name":     templateName,
		"language": map[string]any{"code": "pt_BR"},
	}
	if len(components) > 0 {
		template["components"] = components
	}

	return map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template":          template,
	}
}

// extractAPIError pulls the channel-specific error message out of a Graph
// API error body, "" when absent.
func extractAPIError(data map[string]any) string {
	apiErr, ok := data["error"].(map[string]any)
	if !ok {
		return ""
	}
	msg, _ := apiErr["message"].(string)
	return msg
}

// extractMessageID pulls messages[0].id out of a successful response.
func extractMessageID(data map[string]any) string {
	messages, ok := data["messages"].([]any)
	if !ok || len(messages) == 0 {
		return ""
	}
	first, ok := messages[0].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := first["id"].(string)
	return id
}
