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

func anthropicTestServer(t *testing.T, response string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, capture)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, response)
	}))
}

func TestAnthropicGenerate_Text(t *testing.T) {
	var captured map[string]any
	srv := anthropicTestServer(t, `{
		"content": [{"type": "text", "text": "resposta"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`, &captured)
	defer srv.Close()

	c := NewAnthropicClient("sk-ant-test", WithAnthropicBaseURL(srv.URL))
	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model:       "claude-3-haiku",
		System:      "seja breve",
		Messages:    []Message{{Role: "user", Content: "oi"}},
		Temperature: 0.5,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "resposta" || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	// System prompt rides a top-level field, not a message.
	if captured["system"] != "seja breve" {
		t.Errorf("system = %v", captured["system"])
	}
	if captured["model"] != "claude-3-haiku" {
		t.Errorf("model = %v", captured["model"])
	}
	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
}

func TestAnthropicGenerate_MaxTokensDefault(t *testing.T) {
	var captured map[string]any
	srv := anthropicTestServer(t, `{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`, &captured)
	defer srv.Close()

	c := NewAnthropicClient("sk-ant-test", WithAnthropicBaseURL(srv.URL))
	if _, err := c.Generate(context.Background(), GenerateRequest{Model: "claude-3-haiku"}); err != nil {
		t.Fatal(err)
	}
	// The messages API rejects requests without max_tokens.
	if captured["max_tokens"] != float64(1024) {
		t.Errorf("max_tokens = %v, want the 1024 default", captured["max_tokens"])
	}
}

func TestAnthropicGenerate_ToolUse(t *testing.T) {
	srv := anthropicTestServer(t, `{
		"content": [
			{"type": "text", "text": "vou pesquisar"},
			{"type": "tool_use", "id": "toolu_1", "name": "search_knowledge_base", "input": {"query": "horário"}}
		],
		"stop_reason": "tool_use"
	}`, nil)
	defer srv.Close()

	c := NewAnthropicClient("sk-ant-test", WithAnthropicBaseURL(srv.URL))
	resp, err := c.Generate(context.Background(), GenerateRequest{Model: "claude-3-haiku"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "vou pesquisar" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls for stop_reason tool_use", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "search_knowledge_base" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["query"] != "horário" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
}

func TestAnthropicGenerate_ToolResultThreading(t *testing.T) {
	var captured map[string]any
	srv := anthropicTestServer(t, `{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`, &captured)
	defer srv.Close()

	c := NewAnthropicClient("sk-ant-test", WithAnthropicBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), GenerateRequest{
		Model: "claude-3-haiku",
		Messages: []Message{
			{Role: "user", Content: "qual o horário?"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "toolu_1", Name: "search_knowledge_base", Arguments: map[string]any{"query": "horário"}}}},
			{Role: "tool", ToolCallID: "toolu_1", ToolName: "search_knowledge_base", Content: `{"results":[]}`},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(msgs))
	}

	assistant, _ := msgs[1].(map[string]any)
	blocks, _ := assistant["content"].([]any)
	if len(blocks) != 1 {
		t.Fatalf("assistant blocks = %v", blocks)
	}
	use, _ := blocks[0].(map[string]any)
	if use["type"] != "tool_use" || use["id"] != "toolu_1" || use["name"] != "search_knowledge_base" {
		t.Errorf("tool_use block = %v", use)
	}

	// Tool results go back as a user-role tool_result block.
	toolMsg, _ := msgs[2].(map[string]any)
	if toolMsg["role"] != "user" {
		t.Errorf("tool result role = %v, want user", toolMsg["role"])
	}
	resBlocks, _ := toolMsg["content"].([]any)
	res, _ := resBlocks[0].(map[string]any)
	if res["type"] != "tool_result" || res["tool_use_id"] != "toolu_1" {
		t.Errorf("tool_result block = %v", res)
	}
}

func TestAnthropicGenerate_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-ant-test", WithAnthropicBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "claude-3-haiku"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rate limit") || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v", err)
	}
}

func TestAnthropicGenerate_ExtraHeaders(t *testing.T) {
	var helicone string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		helicone = r.Header.Get("Helicone-Auth")
		io.WriteString(w, `{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-ant-test",
		WithAnthropicBaseURL(srv.URL),
		WithAnthropicHeaders(map[string]string{"Helicone-Auth": "Bearer hk-1"}))
	if _, err := c.Generate(context.Background(), GenerateRequest{Model: "claude-3-haiku"}); err != nil {
		t.Fatal(err)
	}
	if helicone != "Bearer hk-1" {
		t.Errorf("Helicone-Auth = %q", helicone)
	}
}
