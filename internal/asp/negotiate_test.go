package asp

import "testing"

func TestNegotiateHappyPath(t *testing.T) {
	caps := DefaultCapabilities()
	audio := &AudioConfig{SampleRate: 8000, Encoding: "pcm_s16le", Channels: 1, FrameDurationMs: 20}
	vad := &VADConfig{SilenceThresholdMs: 500, MinSpeechMs: 250, Threshold: 0.5, RingBufferFrames: 5, SpeechRatio: 0.4, PrefixPaddingMs: 300}

	negotiated, status, errs := Negotiate(caps, ProtocolVersion, audio, vad)
	if status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", status)
	}
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none", errs)
	}
	if len(negotiated.Adjustments) != 0 {
		t.Fatalf("adjustments = %v, want none", negotiated.Adjustments)
	}
}

func TestNegotiateUnsupportedSampleRate(t *testing.T) {
	caps := DefaultCapabilities()
	audio := &AudioConfig{SampleRate: 44100, Encoding: "pcm_s16le"}
	_, status, errs := Negotiate(caps, ProtocolVersion, audio, nil)
	if status != StatusRejected {
		t.Fatalf("status = %s, want rejected", status)
	}
	if len(errs) != 1 || errs[0].Code != ErrUnsupportedRate {
		t.Fatalf("errs = %v, want single ErrUnsupportedRate", errs)
	}
}

func TestNegotiateVADSnap(t *testing.T) {
	caps := DefaultCapabilities()
	vad := &VADConfig{Threshold: 1.5, SilenceThresholdMs: 50, MinSpeechMs: 250, RingBufferFrames: 5, SpeechRatio: 0.4, PrefixPaddingMs: 300}
	negotiated, status, errs := Negotiate(caps, ProtocolVersion, nil, vad)
	if status != StatusAcceptedWithChanges {
		t.Fatalf("status = %s, want accepted_with_changes", status)
	}
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none (VAD never rejects)", errs)
	}
	if negotiated.VAD.Threshold != 1.0 {
		t.Errorf("VAD.Threshold = %v, want clamped to 1.0", negotiated.VAD.Threshold)
	}
	if negotiated.VAD.SilenceThresholdMs != 100 {
		t.Errorf("VAD.SilenceThresholdMs = %v, want clamped to 100", negotiated.VAD.SilenceThresholdMs)
	}
	foundThreshold, foundSilence := false, false
	for _, a := range negotiated.Adjustments {
		switch a.Field {
		case "vad.threshold":
			foundThreshold = true
		case "vad.silence_threshold_ms":
			foundSilence = true
		}
	}
	if !foundThreshold || !foundSilence {
		t.Errorf("adjustments = %v, want entries for threshold and silence_threshold_ms", negotiated.Adjustments)
	}
}

func TestNegotiateVersionMismatch(t *testing.T) {
	caps := DefaultCapabilities()
	_, status, errs := Negotiate(caps, "2.0.0", nil, nil)
	if status != StatusRejected || len(errs) != 1 || errs[0].Code != ErrVersionMismatch || errs[0].Recoverable {
		t.Fatalf("got status=%s errs=%v, want non-recoverable version mismatch reject", status, errs)
	}
}

// TestNegotiateIdempotent is P1: negotiating an already-negotiated config
// (which is by construction in-range) produces the identical result.
func TestNegotiateIdempotent(t *testing.T) {
	caps := DefaultCapabilities()
	vad := &VADConfig{Threshold: 1.5, SilenceThresholdMs: 50, MinSpeechMs: 250, RingBufferFrames: 5, SpeechRatio: 0.4, PrefixPaddingMs: 300}

	once, _, _ := Negotiate(caps, ProtocolVersion, nil, vad)
	twice, status2, _ := Negotiate(caps, ProtocolVersion, nil, &once.VAD)

	if status2 != StatusAccepted {
		t.Fatalf("re-negotiating an already-clamped config should accept cleanly, got %s", status2)
	}
	if twice.VAD != once.VAD {
		t.Fatalf("negotiate(negotiate(req)) != negotiate(req): %+v != %+v", twice.VAD, once.VAD)
	}
}

// TestClampVADNoFalsePositives is P2: in-range fields never appear in
// adjustments.
func TestClampVADNoFalsePositives(t *testing.T) {
	vad := DefaultVADConfig()
	adjustments := clampVAD(&vad)
	if len(adjustments) != 0 {
		t.Fatalf("adjustments = %v, want none for already-default (in-range) config", adjustments)
	}
}
