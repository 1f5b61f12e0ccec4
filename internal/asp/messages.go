package asp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message tag values, §4.1.
const (
	TypeProtocolCapabilities = "protocol.capabilities"
	TypeSessionStart         = "session.start"
	TypeSessionStarted       = "session.started"
	TypeSessionUpdate        = "session.update"
	TypeSessionUpdated       = "session.updated"
	TypeSessionEnd           = "session.end"
	TypeSessionEnded         = "session.ended"
	TypeProtocolError        = "protocol.error"
	TypeSpeechStart          = "audio.speech_start"
	TypeSpeechEnd            = "audio.speech_end"
	TypeResponseStart        = "response.start"
	TypeResponseEnd          = "response.end"
	TypeCallAction           = "call.action"
)

// ASPMessage is the sum type every control message implements. Every
// variant carries Type and Timestamp per §4.1; Parse returns the concrete
// variant behind this interface so callers can type-switch on it.
type ASPMessage interface {
	MsgType() string
}

// envelope is embedded in every concrete message so json.Marshal emits the
// required `type`/`timestamp` fields without repeating them per struct.
type envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e envelope) MsgType() string { return e.Type }

func newEnvelope(typ string) envelope {
	return envelope{Type: typ, Timestamp: time.Now().UTC()}
}

type CapabilitiesMsg struct {
	envelope
	ProtocolCapabilities
}

func NewCapabilitiesMsg(caps ProtocolCapabilities) *CapabilitiesMsg {
	return &CapabilitiesMsg{envelope: newEnvelope(TypeProtocolCapabilities), ProtocolCapabilities: caps}
}

type SessionStartMsg struct {
	envelope
	SessionID string                 `json:"session_id"`
	CallID    string                 `json:"call_id,omitempty"`
	Audio     *AudioConfig           `json:"audio,omitempty"`
	VAD       *VADConfig             `json:"vad,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func NewSessionStartMsg(sessionID, callID string, audio *AudioConfig, vad *VADConfig, metadata map[string]interface{}) *SessionStartMsg {
	return &SessionStartMsg{
		envelope:  newEnvelope(TypeSessionStart),
		SessionID: sessionID,
		CallID:    callID,
		Audio:     audio,
		VAD:       vad,
		Metadata:  metadata,
	}
}

type SessionStartedMsg struct {
	envelope
	SessionID  string            `json:"session_id"`
	Status     SessionStatus     `json:"status"`
	Negotiated *NegotiatedConfig `json:"negotiated,omitempty"`
	Errors     []ProtocolError   `json:"errors,omitempty"`
}

func NewSessionStartedMsg(sessionID string, status SessionStatus, negotiated *NegotiatedConfig, errs []ProtocolError) *SessionStartedMsg {
	return &SessionStartedMsg{
		envelope:   newEnvelope(TypeSessionStarted),
		SessionID:  sessionID,
		Status:     status,
		Negotiated: negotiated,
		Errors:     errs,
	}
}

type SessionUpdateMsg struct {
	envelope
	SessionID string    `json:"session_id"`
	VAD       VADConfig `json:"vad"`
}

type SessionUpdatedMsg struct {
	envelope
	SessionID string          `json:"session_id"`
	Status    SessionStatus   `json:"status"`
	VAD       VADConfig       `json:"vad"`
	Errors    []ProtocolError `json:"errors,omitempty"`
}

func NewSessionUpdatedMsg(sessionID string, status SessionStatus, vad VADConfig, errs []ProtocolError) *SessionUpdatedMsg {
	return &SessionUpdatedMsg{envelope: newEnvelope(TypeSessionUpdated), SessionID: sessionID, Status: status, VAD: vad, Errors: errs}
}

type SessionEndMsg struct {
	envelope
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func NewSessionEndMsg(sessionID, reason string) *SessionEndMsg {
	return &SessionEndMsg{envelope: newEnvelope(TypeSessionEnd), SessionID: sessionID, Reason: reason}
}

type SessionEndedMsg struct {
	envelope
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func NewSessionEndedMsg(sessionID, reason string) *SessionEndedMsg {
	return &SessionEndedMsg{envelope: newEnvelope(TypeSessionEnded), SessionID: sessionID, Reason: reason}
}

type ProtocolErrorMsg struct {
	envelope
	SessionID string `json:"session_id,omitempty"`
	ProtocolError
}

func NewProtocolErrorMsg(sessionID string, perr ProtocolError) *ProtocolErrorMsg {
	return &ProtocolErrorMsg{envelope: newEnvelope(TypeProtocolError), SessionID: sessionID, ProtocolError: perr}
}

type SpeechStartMsg struct {
	envelope
	SessionID string `json:"session_id"`
}

type SpeechEndMsg struct {
	envelope
	SessionID  string `json:"session_id"`
	DurationMs int64  `json:"duration_ms"`
}

func NewSpeechEndMsg(sessionID string, duration time.Duration) *SpeechEndMsg {
	return &SpeechEndMsg{envelope: newEnvelope(TypeSpeechEnd), SessionID: sessionID, DurationMs: duration.Milliseconds()}
}

type ResponseStartMsg struct {
	envelope
	SessionID string `json:"session_id"`
}

func NewResponseStartMsg(sessionID string) *ResponseStartMsg {
	return &ResponseStartMsg{envelope: newEnvelope(TypeResponseStart), SessionID: sessionID}
}

type ResponseEndMsg struct {
	envelope
	SessionID string `json:"session_id"`
}

func NewResponseEndMsg(sessionID string) *ResponseEndMsg {
	return &ResponseEndMsg{envelope: newEnvelope(TypeResponseEnd), SessionID: sessionID}
}

// CallActionKind enumerates the two whitelisted call-affecting tools (§4.4).
type CallActionKind string

const (
	ActionTransfer CallActionKind = "transfer"
	ActionHangup   CallActionKind = "hangup"
)

type CallActionMsg struct {
	envelope
	SessionID string         `json:"session_id"`
	Action    CallActionKind `json:"action"`
	Target    string         `json:"target,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func NewCallActionMsg(sessionID string, action CallActionKind, target, reason string) *CallActionMsg {
	return &CallActionMsg{envelope: newEnvelope(TypeCallAction), SessionID: sessionID, Action: action, Target: target, Reason: reason}
}

// ParseError is returned by Parse for malformed or unrecognized input.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parsing asp message: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// tagProbe is used to sniff the `type` field before picking a concrete
// struct to unmarshal into, so the caller never has to handle raw
// interface{} payloads (§9's "tagged variant" refactor).
type tagProbe struct {
	Type string `json:"type"`
}

// Parse decodes one JSON control frame into its concrete ASPMessage variant.
func Parse(data []byte) (ASPMessage, error) {
	var probe tagProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ParseError{Raw: string(data), Err: err}
	}

	var (
		msg ASPMessage
		err error
	)
	switch probe.Type {
	case TypeSessionStart:
		var m SessionStartMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeSessionUpdate:
		var m SessionUpdateMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeSessionEnd:
		var m SessionEndMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeProtocolCapabilities:
		var m CapabilitiesMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeSessionStarted:
		var m SessionStartedMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeSessionUpdated:
		var m SessionUpdatedMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeSessionEnded:
		var m SessionEndedMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeProtocolError:
		var m ProtocolErrorMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeSpeechStart:
		var m SpeechStartMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeSpeechEnd:
		var m SpeechEndMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeResponseStart:
		var m ResponseStartMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeResponseEnd:
		var m ResponseEndMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	case TypeCallAction:
		var m CallActionMsg
		err = json.Unmarshal(data, &m)
		msg = &m
	default:
		return nil, &ParseError{Raw: string(data), Err: fmt.Errorf("unknown message type %q", probe.Type)}
	}
	if err != nil {
		return nil, &ParseError{Raw: string(data), Err: err}
	}
	return msg, nil
}

// Encode serializes any ASPMessage back to its wire JSON form.
func Encode(msg ASPMessage) ([]byte, error) {
	return json.Marshal(msg)
}
