package openai

import (
	"testing"

	"github.com/voiceagent/broker/internal/provider/llm"
)

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
	if _, err := New("sk-test", "gpt-4o-mini"); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestCapabilitiesVariesByModel(t *testing.T) {
	cases := []struct {
		model               string
		wantMaxOutputTokens int
		wantContextWindow   int
	}{
		{"gpt-4o-mini", 16_384, 128_000},
		{"gpt-4o", 16_384, 128_000},
		{"gpt-3.5-turbo", 4_096, 16_385},
		{"gpt-unknown", 4_096, 128_000},
	}
	for _, tc := range cases {
		p, err := New("sk-test", tc.model)
		if err != nil {
			t.Fatalf("New(%s): %v", tc.model, err)
		}
		caps := p.Capabilities()
		if caps.MaxOutputTokens != tc.wantMaxOutputTokens {
			t.Errorf("%s: MaxOutputTokens = %d, want %d", tc.model, caps.MaxOutputTokens, tc.wantMaxOutputTokens)
		}
		if caps.ContextWindow != tc.wantContextWindow {
			t.Errorf("%s: ContextWindow = %d, want %d", tc.model, caps.ContextWindow, tc.wantContextWindow)
		}
		if !caps.SupportsToolCalling || !caps.SupportsStreaming {
			t.Errorf("%s: expected tool calling and streaming support", tc.model)
		}
	}
}

func TestConvertMessageRoles(t *testing.T) {
	if _, err := convertMessage(llm.Message{Role: "system", Content: "hi"}); err != nil {
		t.Errorf("system: %v", err)
	}
	if _, err := convertMessage(llm.Message{Role: "user", Content: "hi"}); err != nil {
		t.Errorf("user: %v", err)
	}
	if _, err := convertMessage(llm.Message{Role: "assistant", Content: "hi"}); err != nil {
		t.Errorf("assistant: %v", err)
	}
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "result", ToolCallID: "call-1"}); err != nil {
		t.Errorf("tool: %v", err)
	}
	if _, err := convertMessage(llm.Message{Role: "bogus"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestBuildParamsIncludesToolsAndSystemPrompt(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := llm.CompletionRequest{
		SystemPrompt: "be concise",
		Messages:     []llm.Message{{Role: "user", Content: "hello"}},
		Tools: []llm.ToolDefinition{
			{Name: "transfer_call", Description: "transfer", Parameters: map[string]any{"type": "object"}},
		},
		Temperature: 0.7,
		MaxTokens:   128,
	}

	params, err := p.buildParams(req)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("Messages = %d, want 2 (system + user)", len(params.Messages))
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "transfer_call" {
		t.Errorf("Tools = %+v, want one tool named transfer_call", params.Tools)
	}
}
