package orchestrator

import (
	"context"

	"github.com/voiceagent/broker/internal/asp"
	"github.com/voiceagent/broker/internal/fork"
)

// aspAdapter implements fork.Adapter, forwarding ring-buffered caller audio
// to the AI Session Server as ASP binary AudioFrames.
type aspAdapter struct {
	conn       *asp.Conn
	sessionID  string
	sessionHash [8]byte
}

func newASPAdapter(conn *asp.Conn, sessionID string) *aspAdapter {
	return &aspAdapter{
		conn:        conn,
		sessionID:   sessionID,
		sessionHash: asp.SessionHash(sessionID),
	}
}

// Forward sends each buffered frame as one binary AudioFrame, direction
// inbound (caller → AI session).
func (a *aspAdapter) Forward(ctx context.Context, frames []fork.Frame) error {
	for _, f := range frames {
		if err := a.conn.WriteAudio(ctx, asp.DirectionInbound, a.sessionHash, f.Payload); err != nil {
			return err
		}
	}
	return nil
}
