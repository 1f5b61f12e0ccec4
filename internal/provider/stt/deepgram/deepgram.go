// Package deepgram provides a Deepgram-backed STT provider using the
// Deepgram streaming WebSocket API — the "remote API" leg of
// SPEC_FULL.md §6.4. Deepgram's wire protocol is inherently streaming, but
// this broker's utterance buffer (internal/aisession) already delivers one
// complete utterance at a time, so Transcribe opens a session, writes the
// whole buffer, signals end-of-stream, and waits for the final result.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"

	"github.com/voiceagent/broker/internal/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// New creates a Deepgram-backed Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: apiKey must not be empty")
	}
	p := &Provider{apiKey: apiKey, model: defaultModel, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	wsURL, err := p.buildURL(sampleRate)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "transcription complete")

	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: write audio: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: write close: %w", err)
	}

	var best stt.Result
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if best.Text != "" {
				return best, nil
			}
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}
		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}
		alt := resp.Channel.Alternatives[0]
		best = stt.Result{Text: alt.Transcript, Language: p.language, Confidence: alt.Confidence}
		if resp.IsFinal {
			return best, nil
		}
	}
}

func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("encoding", "linear16")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
