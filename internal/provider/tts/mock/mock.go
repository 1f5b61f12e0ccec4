// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/voiceagent/broker/internal/provider/tts"
)

// Provider is a scriptable mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is emitted, one per received text fragment, on the channel
	// returned by SynthesizeStream. If shorter than the number of fragments
	// received, a fixed filler chunk is emitted for the remainder.
	Chunks [][]byte

	// Err, if non-nil, is returned by SynthesizeStream and ListVoices.
	Err error

	// Texts records every fragment received across all calls.
	Texts []string
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile, sampleRate int) (<-chan []byte, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		i := 0
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.Texts = append(p.Texts, fragment)
				p.mu.Unlock()

				var chunk []byte
				if i < len(p.Chunks) {
					chunk = p.Chunks[i]
				} else {
					chunk = []byte("mock-audio")
				}
				i++
				select {
				case audioCh <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return []tts.VoiceProfile{{ID: "mock-voice", Name: "Mock", Provider: "mock"}}, nil
}
