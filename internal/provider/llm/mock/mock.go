// Package mock provides a test double for the llm.Provider interface, used
// by internal/aisession's tests to drive the pipeline without a live model.
package mock

import (
	"context"
	"sync"

	"github.com/voiceagent/broker/internal/provider/llm"
)

// Provider is a scriptable mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of Chunk values emitted on the channel returned
	// by StreamCompletion, in order, each delivered as a separate send.
	Chunks []llm.Chunk

	// CompleteResponse, if non-nil, is returned by Complete.
	CompleteResponse *llm.CompletionResponse

	// Err, if non-nil, is returned by both StreamCompletion and Complete.
	Err error

	// Caps is returned by Capabilities.
	Caps llm.ModelCapabilities

	// Requests records every CompletionRequest passed to either method.
	Requests []llm.CompletionRequest
}

func (p *Provider) record(req llm.CompletionRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.record(req)
	if p.Err != nil {
		return nil, p.Err
	}
	ch := make(chan llm.Chunk, len(p.Chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range p.Chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.record(req)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}
	return &llm.CompletionResponse{}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.Caps
}
