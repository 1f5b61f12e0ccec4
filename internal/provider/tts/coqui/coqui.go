// Package coqui provides a local TTS provider that connects to a standard
// Coqui TTS server (ghcr.io/coqui-ai/tts-cpu) via its REST API — the "local
// model" leg of SPEC_FULL.md §6.4. Synthesis is GET /api/tts with the
// sentence as a query parameter; the server returns a WAV file per call.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voiceagent/broker/internal/provider/tts"
)

const (
	ttsEndpoint     = "/api/tts"
	detailsEndpoint = "/details"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider backed by a local Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language_id query parameter.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout overrides the default 30s per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// New creates a Provider that connects to the Coqui TTS server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		language:   "en",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SynthesizeStream implements tts.Provider. Each sentence received on text
// is synthesised with one blocking HTTP call, in order; the resulting PCM is
// forwarded as a single chunk per sentence.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile, sampleRate int) (<-chan []byte, error) {
	audioCh := make(chan []byte, 64)

	go func() {
		defer close(audioCh)
		for {
			select {
			case sentence, ok := <-text:
				if !ok {
					return
				}
				if sentence == "" {
					continue
				}
				pcm, err := p.synthesize(ctx, sentence, voice, sampleRate)
				if err != nil {
					return
				}
				select {
				case audioCh <- pcm:
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

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile, sampleRate int) ([]byte, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}

	reqURL := p.serverURL + ttsEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read wav response: %w", err)
	}
	return wavData(wav)
}

// wavData extracts the raw PCM payload from a RIFF/WAV container, assuming a
// canonical 44-byte header with a single "data" sub-chunk.
func wavData(wav []byte) ([]byte, error) {
	if len(wav) < 44 || !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("coqui: not a RIFF/WAVE file")
	}
	offset := 12
	for offset+8 <= len(wav) {
		id := wav[offset : offset+4]
		size := binary.LittleEndian.Uint32(wav[offset+4 : offset+8])
		start := offset + 8
		if bytes.Equal(id, []byte("data")) {
			end := start + int(size)
			if end > len(wav) {
				end = len(wav)
			}
			return wav[start:end], nil
		}
		offset = start + int(size)
		if size%2 == 1 {
			offset++
		}
	}
	return nil, fmt.Errorf("coqui: no data sub-chunk found")
}

type detailsResponse struct {
	Speakers []string `json:"speakers"`
}

// ListVoices implements tts.Provider. Single-speaker models return an empty
// list; multi-speaker models return one VoiceProfile per speaker ID.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+detailsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create details request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", detailsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", detailsEndpoint, resp.StatusCode)
	}

	var details detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("coqui: decode details: %w", err)
	}

	profiles := make([]tts.VoiceProfile, 0, len(details.Speakers))
	for _, s := range details.Speakers {
		profiles = append(profiles, tts.VoiceProfile{ID: s, Name: s, Provider: "coqui"})
	}
	return profiles, nil
}
