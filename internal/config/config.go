// Package config loads runtime configuration for the voice-agent broker
// from CLI flags and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration for the broker.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	HTTPPort   int    // ASP websocket + /metrics + /healthz listen port
	SIPPort    int    // SIP UDP/TCP listen port
	RTPPortMin int    // minimum UDP port for RTP termination
	RTPPortMax int    // maximum UDP port for RTP termination
	ExternalIP string // public IP for SDP (auto-detected if empty)
	LogLevel   string
	LogFormat  string // "text" or "json"

	// Legacy (non-ASP) audio defaults, §6.6.
	SampleRate      int
	FrameDurationMs int
	Encoding        string

	// Default VAD, §3/§6.6.
	VADEnabled            bool
	VADSilenceThresholdMs int
	VADMinSpeechMs        int
	VADThreshold          float64
	VADRingBufferFrames   int
	VADSpeechRatio        float64
	VADPrefixPaddingMs    int

	BargeInEnabled    bool
	MaxBufferSeconds  int
	RingBufferMs      int
	TDegradeMs        int
	TIdleSeconds      int
	TSessionMaxSecond int
	THandshakeSeconds int

	LLMMaxTokens   int
	LLMTimeoutSecs int

	MaxUnresolvedInteractions int
	DefaultTransferTarget     string
	TransferTargets           map[string]string // name -> extension

	AMIHost     string
	AMIPort     int
	AMIUsername string
	AMISecret   string

	// Provider backend selection, §6.4: each leg picks "local" or "remote".
	LLMBackend string // "openai" (remote) or "anyllm" (local)
	STTBackend string // "deepgram" (remote) or "whisper" (local)
	TTSBackend string // "elevenlabs" (remote) or "coqui" (local)

	OpenAIAPIKey string
	OpenAIModel  string
	AnyLLMModel  string

	DeepgramAPIKey string
	WhisperURL     string

	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	CoquiURL         string
	CoquiVoice       string

	// Conversation text, §4.4.
	SystemPrompt         string
	GreetingText         string
	EscalationNoticeText string
	ApologyText          string
}

const (
	defaultHTTPPort   = 8080
	defaultSIPPort    = 5060
	defaultRTPPortMin = 10000
	defaultRTPPortMax = 20000
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"

	defaultSampleRate      = 8000
	defaultFrameDurationMs = 20
	defaultEncoding        = "pcm_s16le"

	defaultVADSilenceThresholdMs = 500
	defaultVADMinSpeechMs        = 250
	defaultVADThreshold          = 0.5
	defaultVADRingBufferFrames   = 5
	defaultVADSpeechRatio        = 0.4
	defaultVADPrefixPaddingMs    = 300

	defaultMaxBufferSeconds  = 60
	defaultRingBufferMs      = 500
	defaultTDegradeMs        = 60000
	defaultTIdleSeconds      = 300
	defaultTSessionMaxSecond = 3600
	defaultTHandshakeSeconds = 30

	defaultLLMMaxTokens   = 1024
	defaultLLMTimeoutSecs = 15

	defaultMaxUnresolvedInteractions = 3

	defaultAMIPort = 5038

	defaultLLMBackend  = "anyllm"
	defaultSTTBackend  = "whisper"
	defaultTTSBackend  = "coqui"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultAnyLLMModel = "llama3"

	defaultWhisperURL = "http://127.0.0.1:9000"
	defaultCoquiURL   = "http://127.0.0.1:5002"

	defaultGreetingText         = "Thanks for calling, how can I help you today?"
	defaultEscalationNoticeText = "Let me get you to someone who can help."
	defaultApologyText          = "Sorry, I had trouble with that. Could you say it again?"
	defaultSystemPrompt         = "You are a concise, helpful phone support agent. Keep replies short."
)

// envPrefix is the prefix for all broker environment variables.
const envPrefix = "VOICEAGENT_"

// flagSpec describes one configuration knob: its flag name and env suffix.
// Load does not use it: flags are registered in newFlagSet and their env
// names are listed in envMap (flagset.go).
type flagSpec struct {
	name    string
	envName string
}

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		HTTPPort:                  defaultHTTPPort,
		SIPPort:                   defaultSIPPort,
		RTPPortMin:                defaultRTPPortMin,
		RTPPortMax:                defaultRTPPortMax,
		LogLevel:                  defaultLogLevel,
		LogFormat:                 defaultLogFormat,
		SampleRate:                defaultSampleRate,
		FrameDurationMs:           defaultFrameDurationMs,
		Encoding:                  defaultEncoding,
		VADEnabled:                true,
		VADSilenceThresholdMs:     defaultVADSilenceThresholdMs,
		VADMinSpeechMs:            defaultVADMinSpeechMs,
		VADThreshold:              defaultVADThreshold,
		VADRingBufferFrames:       defaultVADRingBufferFrames,
		VADSpeechRatio:            defaultVADSpeechRatio,
		VADPrefixPaddingMs:        defaultVADPrefixPaddingMs,
		MaxBufferSeconds:          defaultMaxBufferSeconds,
		RingBufferMs:              defaultRingBufferMs,
		TDegradeMs:                defaultTDegradeMs,
		TIdleSeconds:              defaultTIdleSeconds,
		TSessionMaxSecond:         defaultTSessionMaxSecond,
		THandshakeSeconds:         defaultTHandshakeSeconds,
		LLMMaxTokens:              defaultLLMMaxTokens,
		LLMTimeoutSecs:            defaultLLMTimeoutSecs,
		MaxUnresolvedInteractions: defaultMaxUnresolvedInteractions,
		TransferTargets:           map[string]string{},
		AMIPort:                   defaultAMIPort,
		LLMBackend:                defaultLLMBackend,
		STTBackend:                defaultSTTBackend,
		TTSBackend:                defaultTTSBackend,
		OpenAIModel:               defaultOpenAIModel,
		AnyLLMModel:               defaultAnyLLMModel,
		WhisperURL:                defaultWhisperURL,
		CoquiURL:                  defaultCoquiURL,
		SystemPrompt:              defaultSystemPrompt,
		GreetingText:              defaultGreetingText,
		EscalationNoticeText:      defaultEscalationNoticeText,
		ApologyText:               defaultApologyText,
	}

	fs := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SIPHost returns the hostname to use for the SIP User-Agent.
func (c *Config) SIPHost() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}

// MediaIP returns the IP address to use for RTP/SDP. If ExternalIP is
// configured it is returned directly, otherwise the machine's primary
// non-loopback IPv4 address is used, falling back to loopback.
func (c *Config) MediaIP() string {
	if c.ExternalIP != "" {
		return c.ExternalIP
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) TDegrade() time.Duration        { return time.Duration(c.TDegradeMs) * time.Millisecond }
func (c *Config) TIdle() time.Duration            { return time.Duration(c.TIdleSeconds) * time.Second }
func (c *Config) TSessionMax() time.Duration       { return time.Duration(c.TSessionMaxSecond) * time.Second }
func (c *Config) THandshake() time.Duration        { return time.Duration(c.THandshakeSeconds) * time.Second }
func (c *Config) RingBufferWindow() time.Duration { return time.Duration(c.RingBufferMs) * time.Millisecond }

// RingBufferFrames returns the media fork manager's ring buffer depth in
// frames, derived from the configured buffer window and frame duration.
func (c *Config) RingBufferFrames() int {
	frames := c.RingBufferMs / c.FrameDurationMs
	if frames < 1 {
		return 1
	}
	return frames
}
func (c *Config) LLMTimeout() time.Duration       { return time.Duration(c.LLMTimeoutSecs) * time.Second }

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}
	if c.RTPPortMin < 1024 || c.RTPPortMin > 65534 {
		return fmt.Errorf("rtp-port-min must be between 1024 and 65534, got %d", c.RTPPortMin)
	}
	if c.RTPPortMax < c.RTPPortMin+2 || c.RTPPortMax > 65535 {
		return fmt.Errorf("rtp-port-max must be between rtp-port-min+2 and 65535, got %d", c.RTPPortMax)
	}
	if c.RTPPortMin%2 != 0 {
		return fmt.Errorf("rtp-port-min must be even, got %d", c.RTPPortMin)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	validRates := map[int]bool{8000: true, 16000: true, 24000: true, 48000: true}
	if !validRates[c.SampleRate] {
		return fmt.Errorf("sample-rate must be one of 8000, 16000, 24000, 48000; got %d", c.SampleRate)
	}
	validEncodings := map[string]bool{"pcm_s16le": true, "mulaw": true, "alaw": true}
	if !validEncodings[c.Encoding] {
		return fmt.Errorf("encoding must be one of pcm_s16le, mulaw, alaw; got %q", c.Encoding)
	}
	validFrameDur := map[int]bool{10: true, 20: true, 30: true}
	if !validFrameDur[c.FrameDurationMs] {
		return fmt.Errorf("frame-duration-ms must be one of 10, 20, 30; got %d", c.FrameDurationMs)
	}

	validLLMBackends := map[string]bool{"openai": true, "anyllm": true}
	if !validLLMBackends[c.LLMBackend] {
		return fmt.Errorf("llm-backend must be one of openai, anyllm; got %q", c.LLMBackend)
	}
	validSTTBackends := map[string]bool{"deepgram": true, "whisper": true}
	if !validSTTBackends[c.STTBackend] {
		return fmt.Errorf("stt-backend must be one of deepgram, whisper; got %q", c.STTBackend)
	}
	validTTSBackends := map[string]bool{"elevenlabs": true, "coqui": true}
	if !validTTSBackends[c.TTSBackend] {
		return fmt.Errorf("tts-backend must be one of elevenlabs, coqui; got %q", c.TTSBackend)
	}
	if c.LLMBackend == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("openai-api-key is required when llm-backend is openai")
	}
	if c.STTBackend == "deepgram" && c.DeepgramAPIKey == "" {
		return fmt.Errorf("deepgram-api-key is required when stt-backend is deepgram")
	}
	if c.TTSBackend == "elevenlabs" && c.ElevenLabsAPIKey == "" {
		return fmt.Errorf("elevenlabs-api-key is required when tts-backend is elevenlabs")
	}

	if c.AMIHost == "" {
		return fmt.Errorf("ami-host is required")
	}
	if c.AMIUsername == "" {
		return fmt.Errorf("ami-username is required")
	}
	if c.AMISecret == "" {
		return fmt.Errorf("ami-secret is required")
	}

	return nil
}

// parseTransferTargets parses a "name=extension,name=extension" string into
// a map, the way flowpbx's config parses its own delimited env overrides.
func parseTransferTargets(s string) map[string]string {
	out := map[string]string{}
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}
