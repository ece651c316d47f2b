package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func toolRoundTrip() []Message {
	return []Message{
		TextMessage(RoleUser, "find badge 123"),
		{Role: RoleAssistant, Content: []ContentBlock{
			TextBlock("Looking that up."),
			ToolUseBlock(ToolCall{ID: "toolu_1", Name: "find", Input: map[string]any{"badgeId": "123"}}),
		}},
		{Role: RoleUser, Content: []ContentBlock{
			ToolResultBlock("toolu_1", `[{"firstName":"Jane"}]`, false),
		}},
	}
}

func TestConvertToAnthropic(t *testing.T) {
	result := convertToAnthropic(toolRoundTrip())

	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}
	asst := result[1]
	if asst.Role != "assistant" || len(asst.Content) != 2 {
		t.Fatalf("assistant message = %+v", asst)
	}
	if asst.Content[1].Type != "tool_use" || asst.Content[1].ID != "toolu_1" {
		t.Errorf("tool_use block = %+v", asst.Content[1])
	}
	res := result[2].Content[0]
	if res.Type != "tool_result" || res.ToolUseID != "toolu_1" {
		t.Errorf("tool_result block = %+v", res)
	}
}

func TestConvertToAnthropic_EmptyContent(t *testing.T) {
	result := convertToAnthropic([]Message{TextMessage(RoleAssistant, "")})
	if len(result[0].Content) != 1 || result[0].Content[0].Text == "" {
		t.Errorf("empty message should get placeholder text, got %+v", result[0].Content)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := convertToolsToAnthropic([]ToolDefinition{
		{Name: "find", Description: "Find documents", Parameters: map[string]any{"type": "object"}},
		{Name: "list-databases"},
	})
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	schema, ok := tools[1].InputSchema.(map[string]any)
	if !ok || schema["type"] != "object" {
		t.Errorf("nil parameters should become an empty object schema, got %v", tools[1].InputSchema)
	}
	if convertToolsToAnthropic(nil) != nil {
		t.Error("no tools should convert to nil")
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := convertFromAnthropic(&anthropicResponse{
		Model:      "claude-test",
		StopReason: "tool_use",
		Content: []anthropicContent{
			{Type: "text", Text: "Checking "},
			{Type: "text", Text: "payroll."},
			{Type: "tool_use", ID: "toolu_9", Name: "aggregate", Input: map[string]any{"collection": "itms_wfm_payroll"}},
		},
		Usage: anthropicUsage{InputTokens: 100, OutputTokens: 20},
	})

	if resp.Text != "Checking payroll." {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Input["collection"] != "itms_wfm_payroll" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.InputTokens != 100 || resp.OutputTokens != 20 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","role":"assistant","model":"claude-test","stop_reason":"end_turn",
			"content":[{"type":"text","text":"Found Jane"}],"usage":{"input_tokens":7,"output_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", srv.URL, nil)
	resp, err := c.Chat(context.Background(), &Request{
		Model:    "claude-test",
		System:   "You are a WFM assistant.",
		Messages: toolRoundTrip(),
		Tools:    []ToolDefinition{{Name: "find"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "Found Jane" || len(resp.ToolCalls) != 0 {
		t.Errorf("resp = %+v", resp)
	}
	if got.System != "You are a WFM assistant." || got.MaxTokens != 2000 {
		t.Errorf("request system=%q max_tokens=%d", got.System, got.MaxTokens)
	}
	if got.ToolChoice == nil || got.ToolChoice.Type != "auto" {
		t.Errorf("tool_choice = %+v, want auto", got.ToolChoice)
	}
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, 529)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", srv.URL, nil)
	if _, err := c.Chat(context.Background(), &Request{Model: "m", Messages: toolRoundTrip()}); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestClientsImplementInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*GeminiClient)(nil)
}
