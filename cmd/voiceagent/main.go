// Command voiceagent runs the voice-agent broker: it terminates SIP calls
// from the PBX, bridges their audio to an AI Session Server over ASP, and
// exposes /metrics and /healthz for operations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voiceagent/broker/internal/aisession"
	"github.com/voiceagent/broker/internal/config"
	"github.com/voiceagent/broker/internal/fork"
	"github.com/voiceagent/broker/internal/httpmw"
	"github.com/voiceagent/broker/internal/orchestrator"
	"github.com/voiceagent/broker/internal/provider/llm"
	"github.com/voiceagent/broker/internal/provider/llm/anyllm"
	"github.com/voiceagent/broker/internal/provider/llm/openai"
	"github.com/voiceagent/broker/internal/provider/stt"
	"github.com/voiceagent/broker/internal/provider/stt/deepgram"
	"github.com/voiceagent/broker/internal/provider/stt/whisper"
	"github.com/voiceagent/broker/internal/provider/tts"
	"github.com/voiceagent/broker/internal/provider/tts/coqui"
	"github.com/voiceagent/broker/internal/provider/tts/elevenlabs"
	"github.com/voiceagent/broker/internal/provider/vad/buffer"
	"github.com/voiceagent/broker/internal/resilience"
)

const aspPath = "/asp"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("starting voiceagent",
		"http_port", cfg.HTTPPort,
		"sip_port", cfg.SIPPort,
		"llm_backend", cfg.LLMBackend,
		"stt_backend", cfg.STTBackend,
		"tts_backend", cfg.TTSBackend,
	)

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		logger.Error("failed to build providers", "error", err)
		os.Exit(1)
	}

	aiSessionCfg := aisession.Config{
		Voice:                     aiVoiceProfile(cfg),
		SystemPrompt:              cfg.SystemPrompt,
		MaxUnresolvedInteractions: cfg.MaxUnresolvedInteractions,
		DefaultTransferTarget:     cfg.DefaultTransferTarget,
		TransferTargets:           cfg.TransferTargets,
		LLMMaxTokens:              cfg.LLMMaxTokens,
		LLMTimeout:                cfg.LLMTimeout(),
		MaxBufferSeconds:          cfg.MaxBufferSeconds,
		GreetingText:              cfg.GreetingText,
		EscalationNoticeText:      cfg.EscalationNoticeText,
		ApologyText:               cfg.ApologyText,
		TIdle:                     cfg.TIdle(),
		TSessionMax:               cfg.TSessionMax(),
	}
	aiHandler := aisession.NewHandler(providers, aiSessionCfg, logger)

	reg := prometheus.NewRegistry()
	forkMetrics := fork.NewMetricsRegistry(reg)

	aiSessionURL := fmt.Sprintf("ws://127.0.0.1:%d%s", cfg.HTTPPort, aspPath)
	orchSrv, err := orchestrator.NewServer(cfg, aiSessionURL, forkMetrics, logger)
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	if err := orchSrv.Start(appCtx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(httpmw.StructuredLogger(logger))
	r.Use(httpmw.Recoverer(logger))

	r.Get("/healthz", handleHealthz(orchSrv))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Handle(aspPath, aiHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // ASP websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutting down")
	appCancel()
	orchSrv.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("voiceagent stopped")
}

func handleHealthz(orchSrv *orchestrator.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","active_calls":%d}`, orchSrv.ActiveCallCount())
	}
}

func aiVoiceProfile(cfg *config.Config) tts.VoiceProfile {
	switch cfg.TTSBackend {
	case "elevenlabs":
		return tts.VoiceProfile{ID: cfg.ElevenLabsVoice, Provider: "elevenlabs"}
	default:
		return tts.VoiceProfile{ID: cfg.CoquiVoice, Provider: "coqui"}
	}
}

// buildProviders constructs the selected LLM/STT/TTS backend for each leg,
// wrapped in a resilience fallback group whenever the pack's other backend
// for that leg can also be constructed without additional operator setup
// (the local legs need no API key, so they always double as a fallback for
// a remote primary).
func buildProviders(cfg *config.Config, logger *slog.Logger) (aisession.Providers, error) {
	llmProvider, err := buildLLM(cfg, logger)
	if err != nil {
		return aisession.Providers{}, fmt.Errorf("building llm provider: %w", err)
	}
	sttProvider, err := buildSTT(cfg, logger)
	if err != nil {
		return aisession.Providers{}, fmt.Errorf("building stt provider: %w", err)
	}
	ttsProvider, err := buildTTS(cfg, logger)
	if err != nil {
		return aisession.Providers{}, fmt.Errorf("building tts provider: %w", err)
	}

	return aisession.Providers{
		LLM: llmProvider,
		STT: sttProvider,
		TTS: ttsProvider,
		VAD: buffer.New(),
	}, nil
}

func breakerConfig(name string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Name:         name,
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
	}
}

func buildLLM(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	local, localErr := anyllm.NewOllama(cfg.AnyLLMModel)

	if cfg.LLMBackend == "openai" {
		remote, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		group := resilience.NewLLMFallback(remote, "openai", breakerConfig("llm"))
		if localErr == nil {
			group.AddFallback("anyllm", local)
		} else {
			logger.Warn("local llm fallback unavailable", "error", localErr)
		}
		return group, nil
	}

	if localErr != nil {
		return nil, localErr
	}
	return resilience.NewLLMFallback(local, "anyllm", breakerConfig("llm")), nil
}

func buildSTT(cfg *config.Config, logger *slog.Logger) (stt.Provider, error) {
	local, localErr := whisper.New(cfg.WhisperURL)

	if cfg.STTBackend == "deepgram" {
		remote, err := deepgram.New(cfg.DeepgramAPIKey)
		if err != nil {
			return nil, err
		}
		group := resilience.NewSTTFallback(remote, "deepgram", breakerConfig("stt"))
		if localErr == nil {
			group.AddFallback("whisper", local)
		} else {
			logger.Warn("local stt fallback unavailable", "error", localErr)
		}
		return group, nil
	}

	if localErr != nil {
		return nil, localErr
	}
	return resilience.NewSTTFallback(local, "whisper", breakerConfig("stt")), nil
}

func buildTTS(cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	local, localErr := coqui.New(cfg.CoquiURL)

	if cfg.TTSBackend == "elevenlabs" {
		remote, err := elevenlabs.New(cfg.ElevenLabsAPIKey)
		if err != nil {
			return nil, err
		}
		group := resilience.NewTTSFallback(remote, "elevenlabs", breakerConfig("tts"))
		if localErr == nil {
			group.AddFallback("coqui", local)
		} else {
			logger.Warn("local tts fallback unavailable", "error", localErr)
		}
		return group, nil
	}

	if localErr != nil {
		return nil, localErr
	}
	return resilience.NewTTSFallback(local, "coqui", breakerConfig("tts")), nil
}
