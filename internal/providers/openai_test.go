package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestToOpenAIMessagesCarriesToolCalls(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Name: "exec", Arguments: map[string]any{"command": "ls"}},
		}},
		{Role: RoleTool, ToolCallID: "call_1", Content: "a.txt"},
	}

	out := toOpenAIMessages(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if out[1].ToolCalls[0].ID != "call_1" || out[1].ToolCalls[0].Function.Name != "exec" {
		t.Errorf("tool call = %+v", out[1].ToolCalls[0])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(out[1].ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["command"] != "ls" {
		t.Errorf("arguments = %v", args)
	}
	if out[2].ToolCallID != "call_1" {
		t.Errorf("tool result id = %q", out[2].ToolCallID)
	}
}

func TestChatDecodesToolCallArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role: "assistant",
					ToolCalls: []openai.ToolCall{{
						ID:   "call_9",
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      "read_file",
							Arguments: `{"path":"notes.md"}`,
						},
					}},
				},
				FinishReason: openai.FinishReasonToolCalls,
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "test-model"})
	got, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "read my notes"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(got.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(got.ToolCalls))
	}
	if got.ToolCalls[0].Arguments["path"] != "notes.md" {
		t.Errorf("arguments = %v", got.ToolCalls[0].Arguments)
	}
	if got.FinishReason != "tool_calls" {
		t.Errorf("finish = %q", got.FinishReason)
	}
	if got.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", got.Usage)
	}
}

func TestChatEmptyChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	if _, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}); err == nil {
		t.Error("empty choices accepted")
	}
}
