// Package orchestrator implements the Call Orchestrator (C3): the SIP UA
// that answers every incoming INVITE, allocates RTP media, and
// bridges it through the Media Fork Manager to the AI Session Server.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voiceagent/broker/internal/asp"
	"github.com/voiceagent/broker/internal/fork"
	"github.com/voiceagent/broker/internal/media"
)

// CallState is the SIP-facing call lifecycle, per spec.md §4.3.
type CallState int

const (
	StateRinging CallState = iota
	StateConfirmed
	StateEscalating
	StateEnding
	StateDisconnected
)

func (s CallState) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateConfirmed:
		return "confirmed"
	case StateEscalating:
		return "escalating"
	case StateEnding:
		return "ending"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// CallerInfo holds header-extracted information about the inbound leg,
// per SPEC_FULL.md's caller-channel header extraction.
type CallerInfo struct {
	CallerIDName string
	CallerIDNum  string
	DialedNumber string
	RemoteAddr   string
	Channel      string
}

// DeferredAction is a transfer/hangup request that arrived while the call
// was mid-utterance. The deferred-action rule (P5, spec.md §4.3) holds it
// until the current utterance finishes rather than acting immediately,
// so a TTS response in flight is never cut off mid-sentence.
type DeferredAction struct {
	Kind   asp.CallActionKind
	Target string
}

// Call is one active voice-agent session: the SIP dialog, its RTP media,
// the fork.Manager bridging the two, and the ASP connection to the AI
// Session Server.
type Call struct {
	ID     string
	Caller CallerInfo

	mu          sync.Mutex
	state       CallState
	startedAt   time.Time
	deferred    *DeferredAction
	inUtterance bool

	Fork  *fork.Manager
	ASP   *asp.Conn
	Codec *media.Codec

	cancel context.CancelFunc
}

// NewCall allocates a new Call with a fresh ID.
func NewCall(caller CallerInfo) *Call {
	return &Call{
		ID:        uuid.NewString(),
		Caller:    caller,
		state:     StateRinging,
		startedAt: time.Now(),
	}
}

// State returns the current SIP-facing state.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState transitions the call to a new state.
func (c *Call) SetState(s CallState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SetUtteranceActive marks whether C4 currently has an in-flight response
// (STT listening does not count; only the responding phase defers
// actions). Call with false when a response finishes, then call
// TakeDeferred to collect any action deferred meanwhile.
func (c *Call) SetUtteranceActive(active bool) {
	c.mu.Lock()
	c.inUtterance = active
	c.mu.Unlock()
}

// RequestAction submits a transfer/hangup request. If an utterance is in
// flight, the action is deferred and returned as pending=true; the caller
// must check TakeDeferred once the utterance ends. Otherwise the action
// should be executed immediately by the caller.
func (c *Call) RequestAction(kind asp.CallActionKind, target string) (pending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUtterance {
		c.deferred = &DeferredAction{Kind: kind, Target: target}
		return true
	}
	return false
}

// TakeDeferred returns and clears any deferred action, or nil if none is
// pending. Call this after an utterance completes.
func (c *Call) TakeDeferred() *DeferredAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.deferred
	c.deferred = nil
	return d
}

// Duration returns how long the call has been active.
func (c *Call) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.startedAt)
}

// End tears down the call's media and ASP connection.
func (c *Call) End() {
	c.SetState(StateDisconnected)
	if c.cancel != nil {
		c.cancel()
	}
	if c.Fork != nil {
		c.Fork.Close()
	}
	if c.ASP != nil {
		c.ASP.CloseNormal("call ended")
	}
}

// Registry tracks all active calls, keyed by SIP Call-ID.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

// NewRegistry creates an empty call registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

// Add registers a call under the given SIP Call-ID.
func (r *Registry) Add(sipCallID string, call *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[sipCallID] = call
}

// Get looks up a call by SIP Call-ID.
func (r *Registry) Get(sipCallID string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[sipCallID]
	return c, ok
}

// Remove deletes a call from the registry.
func (r *Registry) Remove(sipCallID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, sipCallID)
}

// Count returns the number of active calls.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// All returns a snapshot of every active call.
func (r *Registry) All() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out
}
