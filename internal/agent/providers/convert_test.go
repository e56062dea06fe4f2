package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/pkg/models"
)

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "user", Content: "run this"},
		{Role: "assistant", Content: "", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "execute_code", Input: json.RawMessage(`{"code":"1+1"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "tc-1", Content: "2"},
		}},
	}

	got := convertOpenAIMessages(messages, "Be terse.")
	if len(got) != 4 {
		t.Fatalf("converted %d messages, want 4", len(got))
	}
	if got[0].Role != openai.ChatMessageRoleSystem || got[0].Content != "Be terse." {
		t.Errorf("system message = %+v", got[0])
	}
	if got[2].Role != "assistant" || len(got[2].ToolCalls) != 1 {
		t.Errorf("assistant message = %+v", got[2])
	}
	if got[2].ToolCalls[0].Function.Arguments != `{"code":"1+1"}` {
		t.Errorf("tool call arguments = %q", got[2].ToolCalls[0].Function.Arguments)
	}
	if got[3].Role != openai.ChatMessageRoleTool || got[3].ToolCallID != "tc-1" {
		t.Errorf("tool message = %+v", got[3])
	}
}

func TestConvertOpenAIMessagesNoSystem(t *testing.T) {
	got := convertOpenAIMessages([]agent.CompletionMessage{{Role: "user", Content: "hi"}}, "")
	if len(got) != 1 || got[0].Role != "user" {
		t.Fatalf("converted = %+v", got)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	got := convertOpenAITools([]agent.ToolSchema{
		{Name: "web_search", Description: "Searches the web.", Schema: schema},
	})
	if len(got) != 1 {
		t.Fatalf("converted %d tools, want 1", len(got))
	}
	if got[0].Type != openai.ToolTypeFunction {
		t.Errorf("tool type = %q", got[0].Type)
	}
	if got[0].Function.Name != "web_search" || got[0].Function.Description != "Searches the web." {
		t.Errorf("function = %+v", got[0].Function)
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"code":{"type":"string"}},"required":["code"]}`)
	got, err := convertAnthropicTools([]agent.ToolSchema{
		{Name: "execute_code", Description: "Runs code.", Schema: schema},
	})
	if err != nil {
		t.Fatalf("convertAnthropicTools() error = %v", err)
	}
	if len(got) != 1 || got[0].OfTool == nil {
		t.Fatalf("converted = %+v", got)
	}
	if got[0].OfTool.Name != "execute_code" {
		t.Errorf("tool name = %q", got[0].OfTool.Name)
	}
}

func TestConvertAnthropicToolsRejectsBadSchema(t *testing.T) {
	_, err := convertAnthropicTools([]agent.ToolSchema{
		{Name: "broken", Schema: json.RawMessage(`not json`)},
	})
	if err == nil {
		t.Fatal("invalid schema accepted")
	}
}

func TestAnthropicConvertMessages(t *testing.T) {
	p := &AnthropicProvider{defaultModel: "claude-sonnet-4-20250514"}
	got, err := p.convertMessages([]agent.CompletionMessage{
		{Role: "system", Content: "ignored here"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "web_search", Input: json.RawMessage(`{"q":"go"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "tc-1", Content: "results", IsError: false},
		}},
	})
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	// System messages are carried separately, so three remain.
	if len(got) != 3 {
		t.Fatalf("converted %d messages, want 3", len(got))
	}
}

func TestAnthropicConvertMessagesRejectsBadToolInput(t *testing.T) {
	p := &AnthropicProvider{}
	_, err := p.convertMessages([]agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "x", Input: json.RawMessage(`{broken`)},
		}},
	})
	if err == nil {
		t.Fatal("invalid tool input accepted")
	}
}
