package aisession

import (
	"github.com/voiceagent/broker/internal/asp"
	"github.com/voiceagent/broker/internal/provider/vad"
)

// utteranceBuffer accumulates inbound PCM frames behind a vad.SessionHandle
// and reports a completed utterance once silence has persisted for at
// least silenceThresholdMs following at least minSpeechMs of accumulated
// speech (spec.md §4.4 step 1). It also forces a flush once the buffer
// would otherwise exceed maxBufferSeconds, so a caller who never pauses
// cannot stall the pipeline indefinitely.
type utteranceBuffer struct {
	session vad.SessionHandle

	frameDurationMs    int
	silenceThresholdMs int
	minSpeechMs        int
	maxBufferMs        int

	pcm       []byte
	speaking  bool
	speechMs  int
	silenceMs int
}

// newUtteranceBuffer creates a buffer over a fresh VAD session configured
// from the session's negotiated ASP audio/VAD settings.
func newUtteranceBuffer(engine vad.Engine, audio asp.AudioConfig, vadCfg asp.VADConfig, maxBufferSeconds int) (*utteranceBuffer, error) {
	session, err := engine.NewSession(vad.Config{
		SampleRate:       audio.SampleRate,
		FrameSizeMs:      audio.FrameDurationMs,
		SpeechThreshold:  vadCfg.Threshold,
		SilenceThreshold: vadCfg.Threshold * vadCfg.SpeechRatio,
	})
	if err != nil {
		return nil, err
	}
	return &utteranceBuffer{
		session:            session,
		frameDurationMs:    audio.FrameDurationMs,
		silenceThresholdMs: vadCfg.SilenceThresholdMs,
		minSpeechMs:        vadCfg.MinSpeechMs,
		maxBufferMs:        maxBufferSeconds * 1000,
	}, nil
}

// addFrame feeds one inbound PCM frame into the buffer. complete reports
// whether a full utterance is now ready; when true, utterance holds the
// accumulated PCM and the buffer has already been reset for the next one.
func (b *utteranceBuffer) addFrame(frame []byte) (utterance []byte, durationMs int, complete bool, err error) {
	ev, err := b.session.ProcessFrame(frame)
	if err != nil {
		return nil, 0, false, err
	}

	switch ev.Type {
	case vad.VADSpeechStart, vad.VADSpeechContinue:
		b.speaking = true
		b.pcm = append(b.pcm, frame...)
		b.speechMs += b.frameDurationMs
		b.silenceMs = 0
	case vad.VADSpeechEnd, vad.VADSilence:
		if b.speaking {
			b.pcm = append(b.pcm, frame...)
			b.silenceMs += b.frameDurationMs
		}
	}

	if !b.speaking {
		return nil, 0, false, nil
	}

	forced := b.maxBufferMs > 0 && len(b.pcm)/bytesPerMs(b.frameDurationMs, frame) >= b.maxBufferMs
	natural := b.silenceMs >= b.silenceThresholdMs && b.speechMs >= b.minSpeechMs
	if !forced && !natural {
		return nil, 0, false, nil
	}

	utterance = b.pcm
	durationMs = b.speechMs
	b.reset()
	return utterance, durationMs, true, nil
}

// bytesPerMs estimates bytes-per-millisecond from one frame's size, used
// only for the forced-flush length check. Falls back to 1 to avoid a
// divide-by-zero on a degenerate zero-length frame.
func bytesPerMs(frameDurationMs int, frame []byte) int {
	if frameDurationMs <= 0 {
		return 1
	}
	bpms := len(frame) / frameDurationMs
	if bpms <= 0 {
		return 1
	}
	return bpms
}

func (b *utteranceBuffer) reset() {
	b.pcm = nil
	b.speaking = false
	b.speechMs = 0
	b.silenceMs = 0
	b.session.Reset()
}

func (b *utteranceBuffer) close() error {
	return b.session.Close()
}
