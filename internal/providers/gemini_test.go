package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func geminiTestServer(t *testing.T, response string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "g-key" {
			t.Errorf("x-goog-api-key = %q", got)
		}
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, capture)
		}
		io.WriteString(w, response)
	}))
}

func TestGeminiGenerate_Text(t *testing.T) {
	var captured map[string]any
	srv := geminiTestServer(t, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "resposta"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 4, "totalTokenCount": 16}
	}`, &captured)
	defer srv.Close()

	c := NewGeminiClient("g-key", WithGeminiBaseURL(srv.URL))
	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model:    "gemini-2.0-flash",
		System:   "seja breve",
		Messages: []Message{{Role: "user", Content: "oi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "resposta" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want lowercased", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 16 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	if _, ok := captured["systemInstruction"]; !ok {
		t.Error("systemInstruction missing from request")
	}
	contents, _ := captured["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents = %v", contents)
	}
	first, _ := contents[0].(map[string]any)
	if first["role"] != "user" {
		t.Errorf("role = %v", first["role"])
	}
}

func TestGeminiGenerate_AssistantBecomesModel(t *testing.T) {
	var captured map[string]any
	srv := geminiTestServer(t, `{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`, &captured)
	defer srv.Close()

	c := NewGeminiClient("g-key", WithGeminiBaseURL(srv.URL))
	c.Generate(context.Background(), GenerateRequest{
		Model: "gemini-2.0-flash",
		Messages: []Message{
			{Role: "user", Content: "oi"},
			{Role: "assistant", Content: "olá!"},
			{Role: "user", Content: "e aí"},
		},
	})

	contents, _ := captured["contents"].([]any)
	second, _ := contents[1].(map[string]any)
	if second["role"] != "model" {
		t.Errorf("assistant role mapped to %v, want model", second["role"])
	}
}

func TestGeminiGenerate_FunctionCall(t *testing.T) {
	srv := geminiTestServer(t, `{
		"candidates": [{
			"content": {"role": "model", "parts": [{"functionCall": {"name": "search_knowledge_base", "args": {"query": "prazo"}}}]},
			"finishReason": "STOP"
		}]
	}`, nil)
	defer srv.Close()

	c := NewGeminiClient("g-key", WithGeminiBaseURL(srv.URL))
	resp, err := c.Generate(context.Background(), GenerateRequest{Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "search_knowledge_base" || tc.Arguments["query"] != "prazo" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.ID == "" {
		t.Error("synthesized tool-call id missing")
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls when calls are present", resp.FinishReason)
	}
}

func TestGeminiGenerate_ToolResultThreading(t *testing.T) {
	var captured map[string]any
	srv := geminiTestServer(t, `{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`, &captured)
	defer srv.Close()

	c := NewGeminiClient("g-key", WithGeminiBaseURL(srv.URL))
	c.Generate(context.Background(), GenerateRequest{
		Model: "gemini-2.0-flash",
		Messages: []Message{
			{Role: "user", Content: "qual o prazo?"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_0", Name: "search_knowledge_base", Arguments: map[string]any{"query": "prazo"}}}},
			{Role: "tool", Content: `{"results":[]}`, ToolCallID: "call_0", ToolName: "search_knowledge_base"},
		},
	})

	contents, _ := captured["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("contents = %d entries", len(contents))
	}
	toolMsg, _ := contents[2].(map[string]any)
	if toolMsg["role"] != "user" {
		t.Errorf("tool result role = %v, want user", toolMsg["role"])
	}
	parts, _ := toolMsg["parts"].([]any)
	part, _ := parts[0].(map[string]any)
	fr, _ := part["functionResponse"].(map[string]any)
	if fr["name"] != "search_knowledge_base" {
		t.Errorf("functionResponse name = %v, want the tool name, not the call id", fr["name"])
	}
}

func TestGeminiGenerate_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		io.WriteString(w, `{"error":{"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	c := NewGeminiClient("bad-key", WithGeminiBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "gemini-2.0-flash"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("err = %v", err)
	}
}
