package asp

import (
	"fmt"
	"sync"
)

// Handshake drives the per-connection state machine described in §4.1:
// IDLE → CONNECTED → CAPS_SENT → NEGOTIATING → ACTIVE → (UPDATING ↔ ACTIVE)
// → ENDING → CLOSED.
//
// It holds no transport; callers drive transitions explicitly and can ask
// CanCarryAudio whether binary frames are valid in the current state.
type Handshake struct {
	mu    sync.Mutex
	state HandshakeState
}

// NewHandshake returns a Handshake in StateConnected — the transport is
// already open, capabilities have not yet been sent.
func NewHandshake() *Handshake {
	return &Handshake{state: StateConnected}
}

func (h *Handshake) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// CapsSent transitions CONNECTED -> CAPS_SENT once protocol.capabilities
// has been written to the transport.
func (h *Handshake) CapsSent() error {
	return h.transition(StateConnected, StateCapsSent)
}

// BeginNegotiate transitions CAPS_SENT -> NEGOTIATING on receipt of
// session.start.
func (h *Handshake) BeginNegotiate() error {
	return h.transition(StateCapsSent, StateNegotiating)
}

// Accept transitions NEGOTIATING -> ACTIVE after a successful (or
// accepted_with_changes) negotiation.
func (h *Handshake) Accept() error {
	return h.transition(StateNegotiating, StateActive)
}

// Reject returns NEGOTIATING -> CAPS_SENT so the client may retry with a
// corrected session.start, per §4.1 ("remain in CAPS_SENT, client may retry").
func (h *Handshake) Reject() error {
	return h.transition(StateNegotiating, StateCapsSent)
}

// BeginUpdate transitions ACTIVE -> UPDATING while a session.update is
// being applied.
func (h *Handshake) BeginUpdate() error {
	return h.transition(StateActive, StateUpdating)
}

// EndUpdate returns UPDATING -> ACTIVE once the update has been applied
// (or rejected — VAD updates never fail terminally, §4.1).
func (h *Handshake) EndUpdate() error {
	return h.transition(StateUpdating, StateActive)
}

// BeginEnd transitions ACTIVE -> ENDING on session.end or on an
// orchestrator-initiated teardown.
func (h *Handshake) BeginEnd() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateActive && h.state != StateUpdating {
		return fmt.Errorf("asp: cannot end from state %s", h.state)
	}
	h.state = StateEnding
	return nil
}

// Close transitions to CLOSED from any state; idempotent.
func (h *Handshake) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateClosed
}

// CanCarryAudio reports whether binary audio frames are currently valid
// (§3: only while state=listening at the session layer, but at the
// connection/handshake layer audio is valid in ACTIVE and UPDATING).
func (h *Handshake) CanCarryAudio() bool {
	s := h.State()
	return s == StateActive || s == StateUpdating
}

func (h *Handshake) transition(from, to HandshakeState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != from {
		return fmt.Errorf("asp: invalid transition %s -> %s (currently %s)", from, to, h.state)
	}
	h.state = to
	return nil
}
