package aisession

import (
	"context"
	"errors"
	"fmt"

	"github.com/voiceagent/broker/internal/asp"
)

// metadataProtocolVersion is the metadata key a client may use to declare
// its ASP protocol version in session.start. The wire format (messages.go)
// carries no dedicated version field, so absence is treated permissively:
// the session is assumed to speak the server's own version.
const metadataProtocolVersion = "protocol_version"

// metadataTransferRetry is the metadata key set by the PBX when re-dialing
// after a failed transfer (spec.md §4.4 Greeting, end-to-end scenario 4).
const metadataTransferRetry = "transfer_retry"

// handshake drives the server side of the ASP handshake FSM (§4.1):
// send protocol.capabilities, wait for session.start, negotiate, and reply
// with session.started. A rejected-but-recoverable negotiation loops back
// to wait for a corrected session.start; a non-recoverable rejection
// returns an error (the caller closes the connection). The whole wait for
// session.start is bounded by asp.DefaultHandshakeTimeout (T_handshake,
// spec §5): a client that never sends it gets protocol.error(1002) and the
// connection is closed rather than leaking the session goroutine forever.
func (s *Session) handshake(ctx context.Context) error {
	caps := asp.DefaultCapabilities()
	if err := s.conn.WriteControl(ctx, asp.NewCapabilitiesMsg(caps)); err != nil {
		return fmt.Errorf("aisession: sending protocol.capabilities: %w", err)
	}
	if err := s.conn.Handshake.CapsSent(); err != nil {
		return err
	}

	hsCtx, cancel := context.WithTimeout(ctx, asp.DefaultHandshakeTimeout)
	defer cancel()

	for {
		msg, _, err := s.conn.ReadMessage(hsCtx)
		if err != nil {
			if errors.Is(hsCtx.Err(), context.DeadlineExceeded) {
				perr := asp.ProtocolError{
					Code:        asp.ErrHandshakeTimeout,
					Message:     "no session.start received within handshake timeout",
					Recoverable: false,
				}
				_ = s.conn.CloseProtocolError(ctx, "", perr)
				return fmt.Errorf("aisession: handshake timed out waiting for session.start")
			}
			return fmt.Errorf("aisession: reading session.start: %w", err)
		}
		start, ok := msg.(*asp.SessionStartMsg)
		if !ok {
			continue
		}

		if err := s.conn.Handshake.BeginNegotiate(); err != nil {
			return err
		}

		clientVersion := asp.ProtocolVersion
		if v, ok := start.Metadata[metadataProtocolVersion].(string); ok && v != "" {
			clientVersion = v
		}

		negotiated, status, errs := asp.Negotiate(caps, clientVersion, start.Audio, start.VAD)

		sessionID := start.SessionID
		if sessionID == "" {
			sessionID = start.CallID
		}

		if status == asp.StatusRejected {
			_ = s.conn.WriteControl(ctx, asp.NewSessionStartedMsg(sessionID, status, nil, errs))
			if err := s.conn.Handshake.Reject(); err != nil {
				return err
			}
			if len(errs) > 0 && !errs[0].Recoverable {
				return fmt.Errorf("aisession: non-recoverable session.start rejection: %v", errs)
			}
			continue
		}

		if err := s.conn.WriteControl(ctx, asp.NewSessionStartedMsg(sessionID, status, &negotiated, errs)); err != nil {
			return fmt.Errorf("aisession: sending session.started: %w", err)
		}
		if err := s.conn.Handshake.Accept(); err != nil {
			return err
		}

		s.id = sessionID
		s.sessionHash = asp.SessionHash(sessionID)
		s.audio = negotiated.Audio
		s.vad = negotiated.VAD
		if _, ok := start.Metadata[metadataTransferRetry]; ok {
			s.transferRetry = true
		}
		return nil
	}
}
