package aisession

import (
	"errors"
	"testing"

	"github.com/voiceagent/broker/internal/asp"
	"github.com/voiceagent/broker/internal/provider/vad"
	vadmock "github.com/voiceagent/broker/internal/provider/vad/mock"
)

func testAudioConfig() asp.AudioConfig {
	return asp.AudioConfig{SampleRate: 16000, Encoding: "pcm_s16le", Channels: 1, FrameDurationMs: 20}
}

func testVADConfig() asp.VADConfig {
	return asp.VADConfig{Enabled: true, SilenceThresholdMs: 40, MinSpeechMs: 20, Threshold: 0.5, SpeechRatio: 0.4}
}

func frame(n int) []byte {
	return make([]byte, n)
}

func TestUtteranceBufferCompletesOnSilenceAfterSpeech(t *testing.T) {
	engine := &vadmock.Engine{Events: []vad.VADEvent{
		{Type: vad.VADSpeechStart},
		{Type: vad.VADSpeechContinue},
		{Type: vad.VADSilence},
		{Type: vad.VADSilence},
	}}
	buf, err := newUtteranceBuffer(engine, testAudioConfig(), testVADConfig(), 60)
	if err != nil {
		t.Fatalf("newUtteranceBuffer: %v", err)
	}

	payload := frame(640) // 20ms @ 16kHz 16-bit mono

	if _, _, complete, _ := buf.addFrame(payload); complete {
		t.Fatal("should not complete on speech start")
	}
	if _, _, complete, _ := buf.addFrame(payload); complete {
		t.Fatal("should not complete while still speaking")
	}
	if _, _, complete, _ := buf.addFrame(payload); complete {
		t.Fatal("should not complete after only one silence frame (20ms < 40ms threshold)")
	}
	utterance, durationMs, complete, err := buf.addFrame(payload)
	if err != nil {
		t.Fatalf("addFrame: %v", err)
	}
	if !complete {
		t.Fatal("should complete once silence_threshold_ms of trailing silence has elapsed")
	}
	if len(utterance) != 4*len(payload) {
		t.Fatalf("utterance length = %d, want %d", len(utterance), 4*len(payload))
	}
	if durationMs != 40 {
		t.Fatalf("durationMs = %d, want 40 (two speech frames)", durationMs)
	}
}

func TestUtteranceBufferIgnoresSilenceBeforeSpeech(t *testing.T) {
	engine := &vadmock.Engine{Events: []vad.VADEvent{{Type: vad.VADSilence}}}
	buf, err := newUtteranceBuffer(engine, testAudioConfig(), testVADConfig(), 60)
	if err != nil {
		t.Fatalf("newUtteranceBuffer: %v", err)
	}
	if _, _, complete, _ := buf.addFrame(frame(640)); complete {
		t.Fatal("leading silence must never complete an utterance")
	}
}

func TestUtteranceBufferRejectsInvalidConfig(t *testing.T) {
	engine := &vadmock.Engine{Err: errors.New("invalid vad config")}
	if _, err := newUtteranceBuffer(engine, testAudioConfig(), testVADConfig(), 60); err == nil {
		t.Fatal("expected error from an engine that rejects the session config")
	}
}
