// Package asp implements the Audio Session Protocol: a versioned WebSocket
// protocol that negotiates per-session audio/VAD configuration and
// multiplexes JSON control frames with binary audio frames on one
// transport.
package asp

// ProtocolVersion is the semver string this server implements. A
// session.start whose major version differs is a hard reject (error 1004).
const ProtocolVersion = "1.0.0"

// AudioConfig is the value type describing PCM framing for one session.
type AudioConfig struct {
	SampleRate      int    `json:"sample_rate"`
	Encoding        string `json:"encoding"`
	Channels        int    `json:"channels"`
	FrameDurationMs int    `json:"frame_duration_ms"`
}

// DefaultAudioConfig is used for legacy (pre-ASP) sessions.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 8000, Encoding: "pcm_s16le", Channels: 1, FrameDurationMs: 20}
}

// BytesPerFrame returns the payload size in bytes for one frame of this
// configuration: 16-bit little-endian mono PCM,
// sample_rate * frame_duration_ms / 1000 * 2.
func (a AudioConfig) BytesPerFrame() int {
	samples := a.SampleRate * a.FrameDurationMs / 1000
	return samples * 2
}

// VADConfig is the value type describing per-session voice-activity
// detection tuning. All ranges are closed intervals; out-of-range requests
// are clamped by the negotiator, never rejected.
type VADConfig struct {
	Enabled             bool    `json:"enabled"`
	SilenceThresholdMs  int     `json:"silence_threshold_ms"`
	MinSpeechMs         int     `json:"min_speech_ms"`
	Threshold           float64 `json:"threshold"`
	RingBufferFrames    int     `json:"ring_buffer_frames"`
	SpeechRatio         float64 `json:"speech_ratio"`
	PrefixPaddingMs     int     `json:"prefix_padding_ms"`
}

// DefaultVADConfig returns the documented default VAD tuning (§3).
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Enabled:            true,
		SilenceThresholdMs: 500,
		MinSpeechMs:        250,
		Threshold:          0.5,
		RingBufferFrames:   5,
		SpeechRatio:        0.4,
		PrefixPaddingMs:    300,
	}
}

// vadRange describes the closed interval one VADConfig field must fall
// within. Used by the negotiator to clamp out-of-range requests.
type vadRange struct {
	field    string
	min, max float64
}

var vadRanges = []vadRange{
	{"vad.silence_threshold_ms", 100, 2000},
	{"vad.min_speech_ms", 100, 1000},
	{"vad.threshold", 0.0, 1.0},
	{"vad.ring_buffer_frames", 3, 10},
	{"vad.speech_ratio", 0.2, 0.8},
	{"vad.prefix_padding_ms", 0, 500},
}

// ProtocolCapabilities is declared once per connection, before any session
// exists, in a protocol.capabilities message.
type ProtocolCapabilities struct {
	Version              string   `json:"version"`
	SupportedSampleRates []int    `json:"supported_sample_rates"`
	SupportedEncodings   []string `json:"supported_encodings"`
	SupportedFrameDurationsMs []int `json:"supported_frame_durations_ms"`
	VADConfigurable      bool     `json:"vad_configurable"`
	TunableVADFields     []string `json:"tunable_vad_fields"`
	Features             []string `json:"features"`
}

// DefaultCapabilities is what the server declares on every new connection.
func DefaultCapabilities() ProtocolCapabilities {
	fields := make([]string, len(vadRanges))
	for i, r := range vadRanges {
		fields[i] = r.field
	}
	return ProtocolCapabilities{
		Version:                   ProtocolVersion,
		SupportedSampleRates:      []int{8000, 16000, 24000, 48000},
		SupportedEncodings:        []string{"pcm_s16le", "mulaw", "alaw"},
		SupportedFrameDurationsMs: []int{10, 20, 30},
		VADConfigurable:           true,
		TunableVADFields:          fields,
		Features:                  []string{"barge_in", "streaming_tts"},
	}
}

// Adjustment records one field the negotiator clamped to an in-range value.
type Adjustment struct {
	Field     string      `json:"field"`
	Requested interface{} `json:"requested"`
	Applied   interface{} `json:"applied"`
	Reason    string      `json:"reason"`
}

// NegotiatedConfig is built by the negotiator and returned in session.started.
// Audio is immutable after accept; VAD may be replaced wholesale by a
// successful session.update.
type NegotiatedConfig struct {
	Audio       AudioConfig  `json:"audio"`
	VAD         VADConfig    `json:"vad"`
	Adjustments []Adjustment `json:"adjustments"`
}

// SessionStatus is the accept/reject verdict carried in session.started.
type SessionStatus string

const (
	StatusAccepted             SessionStatus = "accepted"
	StatusAcceptedWithChanges  SessionStatus = "accepted_with_changes"
	StatusRejected             SessionStatus = "rejected"
)

// HandshakeState is one state of the per-connection handshake FSM (§4.1).
type HandshakeState int

const (
	StateIdle HandshakeState = iota
	StateConnected
	StateCapsSent
	StateNegotiating
	StateActive
	StateUpdating
	StateEnding
	StateClosed
)

func (s HandshakeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateCapsSent:
		return "caps_sent"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateUpdating:
		return "updating"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ProtocolError is a structured error carried in a protocol.error message
// and returned by the negotiator. Recoverable errors may be retried
// on the same transport; non-recoverable errors are followed by a close.
type ProtocolError struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// Error codes, §4.1/§7: 1xxx protocol, 2xxx audio, 3xxx VAD, 4xxx session.
const (
	ErrHandshakeTimeout   = 1002
	ErrVersionMismatch    = 1004
	ErrUnsupportedRate    = 2001
	ErrUnsupportedEncoding = 2002
	ErrAudioImmutable     = 4004
)
