package config

import (
	"flag"
	"os"
	"strconv"
)

// newFlagSet registers every Config field as a CLI flag bound directly to
// cfg, mirroring flowpbx's internal/config/config.go (one fs.XVar call per
// field, defaults pre-applied to cfg before this is called).
func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("voiceagent", flag.ContinueOnError)

	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "ASP websocket + /metrics + /healthz listen port")
	fs.IntVar(&cfg.SIPPort, "sip-port", cfg.SIPPort, "SIP UDP/TCP listen port")
	fs.IntVar(&cfg.RTPPortMin, "rtp-port-min", cfg.RTPPortMin, "minimum UDP port for RTP termination")
	fs.IntVar(&cfg.RTPPortMax, "rtp-port-max", cfg.RTPPortMax, "maximum UDP port for RTP termination")
	fs.StringVar(&cfg.ExternalIP, "external-ip", cfg.ExternalIP, "public IP for SDP (auto-detected if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log output format (text, json)")

	fs.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "legacy (non-ASP) default sample rate")
	fs.IntVar(&cfg.FrameDurationMs, "frame-duration-ms", cfg.FrameDurationMs, "legacy default frame duration in ms")
	fs.StringVar(&cfg.Encoding, "encoding", cfg.Encoding, "legacy default encoding")

	fs.BoolVar(&cfg.VADEnabled, "vad-enabled", cfg.VADEnabled, "default VAD enabled flag")
	fs.IntVar(&cfg.VADSilenceThresholdMs, "vad-silence-threshold-ms", cfg.VADSilenceThresholdMs, "default VAD silence threshold in ms")
	fs.IntVar(&cfg.VADMinSpeechMs, "vad-min-speech-ms", cfg.VADMinSpeechMs, "default VAD minimum speech duration in ms")
	fs.Float64Var(&cfg.VADThreshold, "vad-threshold", cfg.VADThreshold, "default VAD speech probability threshold")
	fs.IntVar(&cfg.VADRingBufferFrames, "vad-ring-buffer-frames", cfg.VADRingBufferFrames, "default VAD ring buffer depth in frames")
	fs.Float64Var(&cfg.VADSpeechRatio, "vad-speech-ratio", cfg.VADSpeechRatio, "default VAD speech ratio")
	fs.IntVar(&cfg.VADPrefixPaddingMs, "vad-prefix-padding-ms", cfg.VADPrefixPaddingMs, "default VAD prefix padding in ms")

	fs.BoolVar(&cfg.BargeInEnabled, "barge-in-enabled", cfg.BargeInEnabled, "enable monitor-mode VAD during playback")
	fs.IntVar(&cfg.MaxBufferSeconds, "max-buffer-seconds", cfg.MaxBufferSeconds, "upper bound on per-utterance buffer")
	fs.IntVar(&cfg.RingBufferMs, "ring-buffer-ms", cfg.RingBufferMs, "media fork manager buffer depth")
	fs.IntVar(&cfg.TDegradeMs, "t-degrade-ms", cfg.TDegradeMs, "consumer-unavailability threshold for fallback")
	fs.IntVar(&cfg.TIdleSeconds, "t-idle-s", cfg.TIdleSeconds, "session idle timeout")
	fs.IntVar(&cfg.TSessionMaxSecond, "t-session-max-s", cfg.TSessionMaxSecond, "session max duration")
	fs.IntVar(&cfg.THandshakeSeconds, "t-handshake-s", cfg.THandshakeSeconds, "ASP handshake timeout (not read by the AI session, which waits asp.DefaultHandshakeTimeout)")

	fs.IntVar(&cfg.LLMMaxTokens, "llm-max-tokens", cfg.LLMMaxTokens, "LLM completion token budget")
	fs.IntVar(&cfg.LLMTimeoutSecs, "llm-timeout-s", cfg.LLMTimeoutSecs, "LLM call timeout")

	fs.IntVar(&cfg.MaxUnresolvedInteractions, "max-unresolved-interactions", cfg.MaxUnresolvedInteractions, "consecutive no-tool-call turns before forced escalation")
	fs.StringVar(&cfg.DefaultTransferTarget, "default-transfer-target", cfg.DefaultTransferTarget, "escalation transfer target extension")
	fs.StringVar(&transferTargetsFlag, "transfer-targets", "", "name=extension pairs, comma-separated")

	fs.StringVar(&cfg.AMIHost, "ami-host", cfg.AMIHost, "PBX control channel host")
	fs.IntVar(&cfg.AMIPort, "ami-port", cfg.AMIPort, "PBX control channel port")
	fs.StringVar(&cfg.AMIUsername, "ami-username", cfg.AMIUsername, "PBX control channel username")
	fs.StringVar(&cfg.AMISecret, "ami-secret", cfg.AMISecret, "PBX control channel secret")

	fs.StringVar(&cfg.LLMBackend, "llm-backend", cfg.LLMBackend, "LLM backend: openai or anyllm")
	fs.StringVar(&cfg.STTBackend, "stt-backend", cfg.STTBackend, "STT backend: deepgram or whisper")
	fs.StringVar(&cfg.TTSBackend, "tts-backend", cfg.TTSBackend, "TTS backend: elevenlabs or coqui")

	fs.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", cfg.OpenAIAPIKey, "OpenAI API key")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "OpenAI chat model")
	fs.StringVar(&cfg.AnyLLMModel, "anyllm-model", cfg.AnyLLMModel, "local LLM model name (ollama/llama.cpp)")

	fs.StringVar(&cfg.DeepgramAPIKey, "deepgram-api-key", cfg.DeepgramAPIKey, "Deepgram API key")
	fs.StringVar(&cfg.WhisperURL, "whisper-url", cfg.WhisperURL, "whisper.cpp server URL")

	fs.StringVar(&cfg.ElevenLabsAPIKey, "elevenlabs-api-key", cfg.ElevenLabsAPIKey, "ElevenLabs API key")
	fs.StringVar(&cfg.ElevenLabsVoice, "elevenlabs-voice", cfg.ElevenLabsVoice, "ElevenLabs voice ID")
	fs.StringVar(&cfg.CoquiURL, "coqui-url", cfg.CoquiURL, "Coqui TTS server URL")
	fs.StringVar(&cfg.CoquiVoice, "coqui-voice", cfg.CoquiVoice, "Coqui speaker/voice name")

	fs.StringVar(&cfg.SystemPrompt, "system-prompt", cfg.SystemPrompt, "LLM system prompt")
	fs.StringVar(&cfg.GreetingText, "greeting-text", cfg.GreetingText, "spoken greeting at session start")
	fs.StringVar(&cfg.EscalationNoticeText, "escalation-notice-text", cfg.EscalationNoticeText, "spoken notice before automatic escalation transfer")
	fs.StringVar(&cfg.ApologyText, "apology-text", cfg.ApologyText, "spoken apology when a provider call fails")

	return fs
}

// transferTargetsFlag is a package-level scratch var because flag.FlagSet
// needs an addressable destination; it is copied into cfg.TransferTargets
// by applyEnvOverrides/Load after parsing.
var transferTargetsFlag string

// envMap maps flag name to its VOICEAGENT_-prefixed environment variable.
var envMap = map[string]string{
	"http-port":                   envPrefix + "HTTP_PORT",
	"sip-port":                    envPrefix + "SIP_PORT",
	"rtp-port-min":                envPrefix + "RTP_PORT_MIN",
	"rtp-port-max":                envPrefix + "RTP_PORT_MAX",
	"external-ip":                 envPrefix + "EXTERNAL_IP",
	"log-level":                   envPrefix + "LOG_LEVEL",
	"log-format":                  envPrefix + "LOG_FORMAT",
	"sample-rate":                 envPrefix + "SAMPLE_RATE",
	"frame-duration-ms":           envPrefix + "FRAME_DURATION_MS",
	"encoding":                    envPrefix + "ENCODING",
	"vad-enabled":                 envPrefix + "VAD_ENABLED",
	"vad-silence-threshold-ms":    envPrefix + "VAD_SILENCE_THRESHOLD_MS",
	"vad-min-speech-ms":           envPrefix + "VAD_MIN_SPEECH_MS",
	"vad-threshold":               envPrefix + "VAD_THRESHOLD",
	"vad-ring-buffer-frames":      envPrefix + "VAD_RING_BUFFER_FRAMES",
	"vad-speech-ratio":            envPrefix + "VAD_SPEECH_RATIO",
	"vad-prefix-padding-ms":       envPrefix + "VAD_PREFIX_PADDING_MS",
	"barge-in-enabled":            envPrefix + "BARGE_IN_ENABLED",
	"max-buffer-seconds":          envPrefix + "MAX_BUFFER_SECONDS",
	"ring-buffer-ms":              envPrefix + "RING_BUFFER_MS",
	"t-degrade-ms":                envPrefix + "T_DEGRADE_MS",
	"t-idle-s":                    envPrefix + "T_IDLE_S",
	"t-session-max-s":             envPrefix + "T_SESSION_MAX_S",
	"t-handshake-s":               envPrefix + "T_HANDSHAKE_S",
	"llm-max-tokens":              envPrefix + "LLM_MAX_TOKENS",
	"llm-timeout-s":               envPrefix + "LLM_TIMEOUT_S",
	"max-unresolved-interactions": envPrefix + "MAX_UNRESOLVED_INTERACTIONS",
	"default-transfer-target":     envPrefix + "DEFAULT_TRANSFER_TARGET",
	"transfer-targets":            envPrefix + "TRANSFER_TARGETS",
	"ami-host":                    envPrefix + "AMI_HOST",
	"ami-port":                    envPrefix + "AMI_PORT",
	"ami-username":                envPrefix + "AMI_USERNAME",
	"ami-secret":                  envPrefix + "AMI_SECRET",
	"llm-backend":                 envPrefix + "LLM_BACKEND",
	"stt-backend":                 envPrefix + "STT_BACKEND",
	"tts-backend":                 envPrefix + "TTS_BACKEND",
	"openai-api-key":              envPrefix + "OPENAI_API_KEY",
	"openai-model":                envPrefix + "OPENAI_MODEL",
	"anyllm-model":                envPrefix + "ANYLLM_MODEL",
	"deepgram-api-key":            envPrefix + "DEEPGRAM_API_KEY",
	"whisper-url":                 envPrefix + "WHISPER_URL",
	"elevenlabs-api-key":          envPrefix + "ELEVENLABS_API_KEY",
	"elevenlabs-voice":            envPrefix + "ELEVENLABS_VOICE",
	"coqui-url":                   envPrefix + "COQUI_URL",
	"coqui-voice":                 envPrefix + "COQUI_VOICE",
	"system-prompt":               envPrefix + "SYSTEM_PROMPT",
	"greeting-text":               envPrefix + "GREETING_TEXT",
	"escalation-notice-text":      envPrefix + "ESCALATION_NOTICE_TEXT",
	"apology-text":                envPrefix + "APOLOGY_TEXT",
}

// applyEnvOverrides checks environment variables for any flag not
// explicitly provided on the command line, preserving the precedence
// CLI flags > env vars > defaults — the same scheme flowpbx's config.go
// uses.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		applyOne(cfg, flagName, val)
	}

	cfg.TransferTargets = mergeTransferTargets(cfg.TransferTargets, transferTargetsFlag)
	if !set["transfer-targets"] {
		if val, ok := os.LookupEnv(envMap["transfer-targets"]); ok && val != "" {
			cfg.TransferTargets = mergeTransferTargets(cfg.TransferTargets, val)
		}
	}
}

func mergeTransferTargets(base map[string]string, raw string) map[string]string {
	parsed := parseTransferTargets(raw)
	for k, v := range parsed {
		base[k] = v
	}
	return base
}

func applyOne(cfg *Config, flagName, val string) {
	switch flagName {
	case "http-port":
		setInt(&cfg.HTTPPort, val)
	case "sip-port":
		setInt(&cfg.SIPPort, val)
	case "rtp-port-min":
		setInt(&cfg.RTPPortMin, val)
	case "rtp-port-max":
		setInt(&cfg.RTPPortMax, val)
	case "external-ip":
		cfg.ExternalIP = val
	case "log-level":
		cfg.LogLevel = val
	case "log-format":
		cfg.LogFormat = val
	case "sample-rate":
		setInt(&cfg.SampleRate, val)
	case "frame-duration-ms":
		setInt(&cfg.FrameDurationMs, val)
	case "encoding":
		cfg.Encoding = val
	case "vad-enabled":
		setBool(&cfg.VADEnabled, val)
	case "vad-silence-threshold-ms":
		setInt(&cfg.VADSilenceThresholdMs, val)
	case "vad-min-speech-ms":
		setInt(&cfg.VADMinSpeechMs, val)
	case "vad-threshold":
		setFloat(&cfg.VADThreshold, val)
	case "vad-ring-buffer-frames":
		setInt(&cfg.VADRingBufferFrames, val)
	case "vad-speech-ratio":
		setFloat(&cfg.VADSpeechRatio, val)
	case "vad-prefix-padding-ms":
		setInt(&cfg.VADPrefixPaddingMs, val)
	case "barge-in-enabled":
		setBool(&cfg.BargeInEnabled, val)
	case "max-buffer-seconds":
		setInt(&cfg.MaxBufferSeconds, val)
	case "ring-buffer-ms":
		setInt(&cfg.RingBufferMs, val)
	case "t-degrade-ms":
		setInt(&cfg.TDegradeMs, val)
	case "t-idle-s":
		setInt(&cfg.TIdleSeconds, val)
	case "t-session-max-s":
		setInt(&cfg.TSessionMaxSecond, val)
	case "t-handshake-s":
		setInt(&cfg.THandshakeSeconds, val)
	case "llm-max-tokens":
		setInt(&cfg.LLMMaxTokens, val)
	case "llm-timeout-s":
		setInt(&cfg.LLMTimeoutSecs, val)
	case "max-unresolved-interactions":
		setInt(&cfg.MaxUnresolvedInteractions, val)
	case "default-transfer-target":
		cfg.DefaultTransferTarget = val
	case "ami-host":
		cfg.AMIHost = val
	case "ami-port":
		setInt(&cfg.AMIPort, val)
	case "ami-username":
		cfg.AMIUsername = val
	case "ami-secret":
		cfg.AMISecret = val
	case "llm-backend":
		cfg.LLMBackend = val
	case "stt-backend":
		cfg.STTBackend = val
	case "tts-backend":
		cfg.TTSBackend = val
	case "openai-api-key":
		cfg.OpenAIAPIKey = val
	case "openai-model":
		cfg.OpenAIModel = val
	case "anyllm-model":
		cfg.AnyLLMModel = val
	case "deepgram-api-key":
		cfg.DeepgramAPIKey = val
	case "whisper-url":
		cfg.WhisperURL = val
	case "elevenlabs-api-key":
		cfg.ElevenLabsAPIKey = val
	case "elevenlabs-voice":
		cfg.ElevenLabsVoice = val
	case "coqui-url":
		cfg.CoquiURL = val
	case "coqui-voice":
		cfg.CoquiVoice = val
	case "system-prompt":
		cfg.SystemPrompt = val
	case "greeting-text":
		cfg.GreetingText = val
	case "escalation-notice-text":
		cfg.EscalationNoticeText = val
	case "apology-text":
		cfg.ApologyText = val
	}
}

func setInt(dst *int, val string) {
	if v, err := strconv.Atoi(val); err == nil {
		*dst = v
	}
}

func setFloat(dst *float64, val string) {
	if v, err := strconv.ParseFloat(val, 64); err == nil {
		*dst = v
	}
}

func setBool(dst *bool, val string) {
	if v, err := strconv.ParseBool(val); err == nil {
		*dst = v
	}
}
