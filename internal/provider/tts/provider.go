// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service and presents a uniform
// streaming interface. SynthesizeStream accepts a channel of sentence-level
// text fragments (as produced by internal/aisession's sentence splitter) and
// returns a channel of raw PCM audio, enabling low-latency pipelining
// between LLM token output and outbound RTP.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw little-endian 16-bit PCM audio at
	// sampleRate as it is synthesised.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or ctx is cancelled. The caller must drain
	// the audio channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio
	// channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile, sampleRate int) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
