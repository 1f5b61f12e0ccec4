// Package vad defines the Engine interface for Voice Activity Detection
// backends used by the per-session utterance buffer (internal/aisession).
// This is independent of the lightweight linear-threshold VAD negotiated
// over ASP (internal/asp) between C3 and C4 — this Engine operates
// server-side, inside C4, gating STT input.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result.
//
// Implementations must be safe for concurrent use across different sessions.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame is classified
	// as speech. Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame is classified
	// as silence. Must be <= SpeechThreshold.
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// A SessionHandle should not be shared between goroutines.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw little-endian PCM at the configured
	// SampleRate and FrameSizeMs.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	NewSession(cfg Config) (SessionHandle, error)
}
