package aisession

import (
	"testing"

	"github.com/voiceagent/broker/internal/asp"
	"github.com/voiceagent/broker/internal/provider/llm"
)

func TestResolveToolCallTransferByExtension(t *testing.T) {
	s := &Session{cfg: Config{TransferTargets: map[string]string{}}}
	action, ok := s.resolveToolCall(llm.ToolCall{Name: "transfer_call", Arguments: `{"target":"1001","reason":"caller asked"}`})
	if !ok {
		t.Fatal("transfer_call should be whitelisted")
	}
	if action.Kind != asp.ActionTransfer || action.Target != "1001" || action.Reason != "caller asked" {
		t.Fatalf("action = %+v", action)
	}
}

func TestResolveToolCallTransferByName(t *testing.T) {
	s := &Session{cfg: Config{TransferTargets: map[string]string{"support": "2000"}}}
	action, ok := s.resolveToolCall(llm.ToolCall{Name: "transfer_call", Arguments: `{"target":"support"}`})
	if !ok {
		t.Fatal("transfer_call should be whitelisted")
	}
	if action.Target != "2000" {
		t.Fatalf("target = %q, want resolved extension 2000", action.Target)
	}
}

func TestResolveToolCallEndCall(t *testing.T) {
	s := &Session{cfg: Config{}}
	action, ok := s.resolveToolCall(llm.ToolCall{Name: "end_call", Arguments: `{"reason":"done"}`})
	if !ok {
		t.Fatal("end_call should be whitelisted")
	}
	if action.Kind != asp.ActionHangup || action.Reason != "done" {
		t.Fatalf("action = %+v", action)
	}
}

func TestResolveToolCallRejectsUnknownTool(t *testing.T) {
	s := &Session{cfg: Config{}}
	if _, ok := s.resolveToolCall(llm.ToolCall{Name: "delete_database"}); ok {
		t.Fatal("non-whitelisted tool names must be dropped")
	}
}
