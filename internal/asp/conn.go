package asp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Conn is one ASP transport: a websocket carrying both JSON control frames
// and binary AudioFrames, with the handshake state machine attached. It has
// no notion of Session/Call — those are owned by C4 and C3 respectively;
// Conn only serializes/parses and tracks handshake state, per §4.1's
// "no dependency on the others".
type Conn struct {
	ws        *websocket.Conn
	Handshake *Handshake
}

// Upgrade promotes an incoming HTTP request to an ASP websocket connection.
// Used server-side by C4 to accept connections from C1 clients (C3, or any
// ASP-speaking consumer).
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("asp: upgrading connection: %w", err)
	}
	return &Conn{ws: ws, Handshake: NewHandshake()}, nil
}

// Dial opens an outbound ASP connection to an AI Session Server. Used by
// C3 to talk to C4, per the component dependency order in §2.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("asp: dialing %s: %w", url, err)
	}
	return &Conn{ws: ws, Handshake: NewHandshake()}, nil
}

// ReadMessage blocks for the next frame and returns either a parsed
// ASPMessage (text frame) or a decoded AudioFrame (binary frame), never
// both.
func (c *Conn) ReadMessage(ctx context.Context) (ASPMessage, *AudioFrame, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, nil, err
	}
	switch typ {
	case websocket.MessageText:
		msg, err := Parse(data)
		if err != nil {
			return nil, nil, err
		}
		return msg, nil, nil
	case websocket.MessageBinary:
		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, nil, err
		}
		return nil, frame, nil
	default:
		return nil, nil, fmt.Errorf("asp: unexpected websocket message type %v", typ)
	}
}

// WriteControl sends one JSON control message.
func (c *Conn) WriteControl(ctx context.Context, msg ASPMessage) error {
	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("asp: encoding %s: %w", msg.MsgType(), err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// WriteAudio sends one binary AudioFrame.
func (c *Conn) WriteAudio(ctx context.Context, direction byte, sessionHash [8]byte, payload []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, EncodeFrame(direction, sessionHash, payload))
}

// Close closes the transport with the given close code/reason.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	c.Handshake.Close()
	return c.ws.Close(code, reason)
}

// CloseProtocolError sends a protocol.error message and, if the error is
// non-recoverable, closes the transport — the propagation rule from §7.
func (c *Conn) CloseProtocolError(ctx context.Context, sessionID string, perr ProtocolError) error {
	_ = c.WriteControl(ctx, NewProtocolErrorMsg(sessionID, perr))
	if !perr.Recoverable {
		return c.Close(websocket.StatusPolicyViolation, perr.Message)
	}
	return nil
}

// CloseNormal closes the transport with a normal-closure status, for
// callers (e.g. C3 ending a call) that have no specific error to report.
func (c *Conn) CloseNormal(reason string) error {
	return c.Close(websocket.StatusNormalClosure, reason)
}

// DefaultHandshakeTimeout is T_handshake (server side), §5.
const DefaultHandshakeTimeout = 30 * time.Second
