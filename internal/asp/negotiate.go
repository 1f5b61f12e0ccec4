package asp

import (
	"fmt"
	"strconv"
	"strings"
)

// Negotiate applies the negotiator described in §4.1 to a client's
// requested audio/VAD configuration against the server's declared
// capabilities, returning the config to store plus the outcome to report
// in session.started.
//
// The adjustment policy is deterministic and order-independent: each VAD
// field is clamped against its own closed range, never against another
// field's value (P1, P2).
func Negotiate(caps ProtocolCapabilities, clientVersion string, requestedAudio *AudioConfig, requestedVAD *VADConfig) (NegotiatedConfig, SessionStatus, []ProtocolError) {
	if majorVersion(clientVersion) != majorVersion(caps.Version) {
		return NegotiatedConfig{}, StatusRejected, []ProtocolError{{
			Code:        ErrVersionMismatch,
			Message:     "protocol major version mismatch",
			Recoverable: false,
		}}
	}

	audio := DefaultAudioConfig()
	if requestedAudio != nil {
		audio = *requestedAudio
	}
	if audio.Channels == 0 {
		audio.Channels = 1
	}
	if audio.FrameDurationMs == 0 {
		audio.FrameDurationMs = 20
	}

	if !containsInt(caps.SupportedSampleRates, audio.SampleRate) {
		return NegotiatedConfig{}, StatusRejected, []ProtocolError{{
			Code:        ErrUnsupportedRate,
			Message:     formatSupported("sample_rate", caps.SupportedSampleRates),
			Recoverable: true,
		}}
	}
	if !containsString(caps.SupportedEncodings, audio.Encoding) {
		return NegotiatedConfig{}, StatusRejected, []ProtocolError{{
			Code:        ErrUnsupportedEncoding,
			Message:     "unsupported encoding " + audio.Encoding,
			Recoverable: true,
		}}
	}

	vad := DefaultVADConfig()
	if requestedVAD != nil {
		vad = *requestedVAD
	}
	adjustments := clampVAD(&vad)

	status := StatusAccepted
	if len(adjustments) > 0 {
		status = StatusAcceptedWithChanges
	}

	return NegotiatedConfig{Audio: audio, VAD: vad, Adjustments: adjustments}, status, nil
}

// clampVAD snaps every out-of-range VADConfig field to its nearest bound,
// recording one Adjustment per clamped field. In-range fields are left
// untouched and never appear in the result (P2).
func clampVAD(vad *VADConfig) []Adjustment {
	var adjustments []Adjustment

	clampInt := func(field string, val *int, lo, hi float64) {
		requested := *val
		if float64(requested) < lo {
			*val = int(lo)
		} else if float64(requested) > hi {
			*val = int(hi)
		} else {
			return
		}
		adjustments = append(adjustments, Adjustment{
			Field:     field,
			Requested: requested,
			Applied:   *val,
			Reason:    "out of range [" + ftoa(lo) + "," + ftoa(hi) + "]",
		})
	}
	clampFloat := func(field string, val *float64, lo, hi float64) {
		requested := *val
		if requested < lo {
			*val = lo
		} else if requested > hi {
			*val = hi
		} else {
			return
		}
		adjustments = append(adjustments, Adjustment{
			Field:     field,
			Requested: requested,
			Applied:   *val,
			Reason:    "out of range [" + ftoa(lo) + "," + ftoa(hi) + "]",
		})
	}

	for _, r := range vadRanges {
		switch r.field {
		case "vad.silence_threshold_ms":
			clampInt(r.field, &vad.SilenceThresholdMs, r.min, r.max)
		case "vad.min_speech_ms":
			clampInt(r.field, &vad.MinSpeechMs, r.min, r.max)
		case "vad.threshold":
			clampFloat(r.field, &vad.Threshold, r.min, r.max)
		case "vad.ring_buffer_frames":
			clampInt(r.field, &vad.RingBufferFrames, r.min, r.max)
		case "vad.speech_ratio":
			clampFloat(r.field, &vad.SpeechRatio, r.min, r.max)
		case "vad.prefix_padding_ms":
			clampInt(r.field, &vad.PrefixPaddingMs, r.min, r.max)
		}
	}
	return adjustments
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// majorVersion extracts the leading dot-separated component of a semver
// string (e.g. "1.0.0" -> "1"). Malformed input compares unequal to
// everything else, which is the conservative (reject) direction.
func majorVersion(v string) string {
	for i, c := range v {
		if c == '.' {
			return v[:i]
		}
	}
	return v
}

func formatSupported(field string, rates []int) string {
	parts := make([]string, len(rates))
	for i, r := range rates {
		parts[i] = strconv.Itoa(r)
	}
	return fmt.Sprintf("unsupported %s, supported: [%s]", field, strings.Join(parts, ","))
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
