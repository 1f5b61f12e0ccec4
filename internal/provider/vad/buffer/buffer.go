// Package buffer provides the default in-process VAD engine: a
// linear-threshold detector over 16-bit PCM frame energy, with hangover
// smoothing so a single quiet frame inside an utterance does not trigger a
// premature speech-end. It requires no external process or model file and is
// the only VAD engine this module provides.
package buffer

import (
	"fmt"
	"math"

	"github.com/voiceagent/broker/internal/provider/vad"
)

// defaultHangoverFrames is the number of consecutive below-threshold frames
// required before a VADSpeechEnd is emitted, smoothing over brief dips in
// energy (e.g. stop consonants) inside otherwise continuous speech.
const defaultHangoverFrames = 8

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine is the factory for buffer-backed VAD sessions.
type Engine struct{}

// New creates a buffer-backed VAD Engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("buffer: sample rate must be positive")
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("buffer: speech threshold must be in (0, 1]")
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("buffer: silence threshold must be in [0, speech threshold]")
	}
	return &session{cfg: cfg}, nil
}

// session implements vad.SessionHandle with a running RMS-energy detector.
type session struct {
	cfg vad.Config

	speaking   bool
	silenceRun int
}

// ProcessFrame implements vad.SessionHandle. It treats frame as little-endian
// 16-bit signed PCM samples and classifies it by normalised RMS energy
// against cfg.SpeechThreshold / cfg.SilenceThreshold.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame) < 2 {
		return vad.VADEvent{}, fmt.Errorf("buffer: frame too short (%d bytes)", len(frame))
	}

	energy := rmsEnergy(frame)

	switch {
	case energy >= s.cfg.SpeechThreshold:
		s.silenceRun = 0
		if !s.speaking {
			s.speaking = true
			return vad.VADEvent{Type: vad.VADSpeechStart, Probability: energy}, nil
		}
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: energy}, nil

	case energy <= s.cfg.SilenceThreshold:
		if !s.speaking {
			return vad.VADEvent{Type: vad.VADSilence, Probability: energy}, nil
		}
		s.silenceRun++
		if s.silenceRun >= defaultHangoverFrames {
			s.speaking = false
			s.silenceRun = 0
			return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: energy}, nil
		}
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: energy}, nil

	default:
		// Between thresholds: hold the current state.
		if s.speaking {
			s.silenceRun = 0
			return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: energy}, nil
		}
		return vad.VADEvent{Type: vad.VADSilence, Probability: energy}, nil
	}
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.speaking = false
	s.silenceRun = 0
}

// Close implements vad.SessionHandle. The buffer engine holds no resources.
func (s *session) Close() error {
	return nil
}

// rmsEnergy computes the root-mean-square amplitude of a little-endian
// 16-bit PCM frame, normalised to [0, 1].
func rmsEnergy(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		v := float64(sample) / 32768.0
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(n))
}
