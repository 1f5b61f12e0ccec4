package aisession

import (
	"encoding/json"
	"fmt"

	"github.com/voiceagent/broker/internal/asp"
	"github.com/voiceagent/broker/internal/provider/llm"
)

// Tool name constants, spec.md §4.4. These are the only two names ever
// dispatched; anything else the model emits is ignored.
const (
	toolTransferCall = "transfer_call"
	toolEndCall      = "end_call"
)

// toolDefinitions returns the two whitelisted call-affecting tools offered
// to the LLM on every turn.
func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        toolTransferCall,
			Description: "Transfer the call to a human agent or department. Use when the caller explicitly asks for a transfer or the conversation needs escalation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target": map[string]any{
						"type":        "string",
						"description": "Either a direct extension (digits, *, #) or a known department name.",
					},
					"reason": map[string]any{
						"type":        "string",
						"description": "Short reason for the transfer, for logging.",
					},
				},
				"required": []string{"target"},
			},
		},
		{
			Name:        toolEndCall,
			Description: "End the call. Use when the caller is done and has said goodbye.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Short reason for ending the call, for logging.",
					},
				},
			},
		},
	}
}

// toolCallArgs is the shape common to both tools' JSON arguments; end_call
// never sets target.
type toolCallArgs struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// resolvedAction is a tool call translated into the asp.CallActionMsg shape,
// with the target already resolved against the configured name->extension
// map.
type resolvedAction struct {
	Kind   asp.CallActionKind
	Target string
	Reason string
}

// resolveToolCall maps a whitelisted tool call to a resolvedAction. Returns
// ok=false for any tool name outside the whitelist (dropped silently, per
// spec.md §4.4's "whitelisted call-action tools").
func (s *Session) resolveToolCall(tc llm.ToolCall) (resolvedAction, bool) {
	var args toolCallArgs
	if tc.Arguments != "" {
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
	}

	switch tc.Name {
	case toolTransferCall:
		return resolvedAction{
			Kind:   asp.ActionTransfer,
			Target: s.resolveTransferTarget(args.Target),
			Reason: args.Reason,
		}, true
	case toolEndCall:
		return resolvedAction{Kind: asp.ActionHangup, Reason: args.Reason}, true
	default:
		return resolvedAction{}, false
	}
}

// resolveTransferTarget looks up target in the configured name->extension
// map; if absent, target is assumed to already be a direct extension.
func (s *Session) resolveTransferTarget(target string) string {
	if ext, ok := s.cfg.TransferTargets[target]; ok {
		return ext
	}
	return target
}

// toolResultNotice is the synthetic tool-result text pushed into
// conversation history immediately after dispatching a tool call, so the
// LLM does not re-emit the same call on its next turn (spec.md §4.4
// Idempotence).
const toolResultNotice = "Action queued for execution."

func toolResultMessage(toolCallID string) llm.Message {
	return llm.Message{Role: "tool", Content: toolResultNotice, ToolCallID: toolCallID}
}

func fmtToolReason(a resolvedAction) string {
	if a.Reason == "" {
		return fmt.Sprintf("tool call (%s)", a.Kind)
	}
	return a.Reason
}
