// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/voiceagent/broker/internal/provider/stt"
)

// Provider is a scriptable mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call, unless Err is set.
	Result stt.Result

	// Err, if non-nil, is returned by Transcribe instead of Result.
	Err error

	// Calls records the PCM length and sample rate of every Transcribe call.
	Calls []struct {
		PCMLen     int
		SampleRate int
	}
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, struct {
		PCMLen     int
		SampleRate int
	}{len(pcm), sampleRate})
	p.mu.Unlock()

	if p.Err != nil {
		return stt.Result{}, p.Err
	}
	return p.Result, nil
}
