// Package mock provides a test double for the vad.Engine/vad.SessionHandle
// interfaces.
package mock

import (
	"sync"

	"github.com/voiceagent/broker/internal/provider/vad"
)

// Engine is a scriptable mock implementation of vad.Engine. Every session it
// creates returns Events in order, one per ProcessFrame call, cycling back to
// the start once exhausted.
type Engine struct {
	Events []vad.VADEvent
	Err    error
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return &session{events: e.Events}, nil
}

type session struct {
	mu     sync.Mutex
	events []vad.VADEvent
	idx    int
	frames [][]byte
	closed bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	if len(s.events) == 0 {
		return vad.VADEvent{Type: vad.VADSilence}, nil
	}
	ev := s.events[s.idx%len(s.events)]
	s.idx++
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
