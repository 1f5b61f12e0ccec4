// Package aisession implements the AI Session Server (C4): it terminates
// ASP connections from the Call Orchestrator and drives one conversational
// pipeline — listen, transcribe, think, speak — per session.
package aisession

import (
	"time"

	"github.com/voiceagent/broker/internal/provider/llm"
	"github.com/voiceagent/broker/internal/provider/stt"
	"github.com/voiceagent/broker/internal/provider/tts"
	"github.com/voiceagent/broker/internal/provider/vad"
)

// pipelineState mirrors the per-utterance lifecycle in spec.md §4.4:
// listening -> processing -> responding -> listening.
type pipelineState int

const (
	stateListening pipelineState = iota
	stateProcessing
	stateResponding
)

func (s pipelineState) String() string {
	switch s {
	case stateListening:
		return "listening"
	case stateProcessing:
		return "processing"
	case stateResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// Providers bundles the four provider kinds a Session pipeline depends on.
// Callers typically pass resilience-wrapped providers (internal/resilience)
// so a single backend outage degrades rather than kills the session, but
// any implementation of these four interfaces is accepted.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// Config holds the escalation, greeting, and timing knobs a Session needs,
// sourced from internal/config.Config.
type Config struct {
	// Voice is the voice profile passed to every TTS call for this session.
	Voice tts.VoiceProfile

	// SystemPrompt is injected ahead of conversation history on every LLM
	// call.
	SystemPrompt string

	// MaxUnresolvedInteractions is N_unresolved (spec.md §4.4 Escalation).
	MaxUnresolvedInteractions int

	// DefaultTransferTarget is the extension dialled by an automatic
	// escalation transfer.
	DefaultTransferTarget string

	// TransferTargets resolves a name the LLM used for transfer_call's
	// target into a dialable extension. Keys not present are assumed to
	// already be a direct extension.
	TransferTargets map[string]string

	// LLMMaxTokens / LLMTimeout bound every LLM call.
	LLMMaxTokens int
	LLMTimeout   time.Duration

	// MaxBufferSeconds is the forced-flush upper bound on the per-utterance
	// audio buffer.
	MaxBufferSeconds int

	// GreetingText is synthesized and played at session start unless the
	// session was started with metadata.transfer_retry set.
	GreetingText string

	// EscalationNoticeText is spoken immediately before an automatic
	// escalation transfer.
	EscalationNoticeText string

	// ApologyText is synthesized when STT/LLM/TTS fails mid-turn.
	ApologyText string

	// TIdle is T_idle (spec.md §3 Session lifecycle, default 300s): the
	// session ends if no inbound audio or control activity arrives for this
	// long. Zero disables the idle timer.
	TIdle time.Duration

	// TSessionMax is T_session_max (spec.md §5, default 3600s): a hard
	// wall-clock budget from session start after which the session ends
	// regardless of activity. Zero disables the cap.
	TSessionMax time.Duration
}
