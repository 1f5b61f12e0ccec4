package asp

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Binary AudioFrame wire layout (§3, §6.1): 12-byte header + PCM payload,
// little-endian throughout.
//
//	byte 0      magic (0x01)
//	byte 1      direction (0x00 inbound, 0x01 outbound)
//	bytes 2-9   session-hash (first 8 bytes of sha256(session_id))
//	bytes 10-11 reserved
//	bytes 12..  PCM payload (sample_rate * frame_duration_ms / 1000 * 2 bytes, mono s16le)
const (
	FrameMagic     byte = 0x01
	FrameHeaderLen      = 12

	DirectionInbound  byte = 0x00
	DirectionOutbound byte = 0x01
)

// SessionHash returns the first 8 bytes of sha256(sessionID), used to
// identify the session a binary audio frame belongs to without a JSON
// wrapper per frame.
func SessionHash(sessionID string) [8]byte {
	sum := sha256.Sum256([]byte(sessionID))
	var h [8]byte
	copy(h[:], sum[:8])
	return h
}

// AudioFrame is the decoded form of one binary frame.
type AudioFrame struct {
	Direction   byte
	SessionHash [8]byte
	Payload     []byte
}

// EncodeFrame serializes an AudioFrame to its wire representation.
func EncodeFrame(direction byte, sessionHash [8]byte, payload []byte) []byte {
	buf := make([]byte, FrameHeaderLen+len(payload))
	buf[0] = FrameMagic
	buf[1] = direction
	copy(buf[2:10], sessionHash[:])
	binary.LittleEndian.PutUint16(buf[10:12], 0) // reserved
	copy(buf[FrameHeaderLen:], payload)
	return buf
}

// DecodeFrame parses a raw binary WebSocket message into an AudioFrame.
// Per §4.1, frames with a bad magic or a truncated header are a protocol
// violation (the transport is misbehaving, not just this frame); the
// caller should treat an error here more seriously than an unknown
// session-hash, which is silently dropped instead (§4.1's lossy-by-design
// rule).
func DecodeFrame(data []byte) (*AudioFrame, error) {
	if len(data) < FrameHeaderLen {
		return nil, fmt.Errorf("asp: frame too short (%d bytes, need at least %d)", len(data), FrameHeaderLen)
	}
	if data[0] != FrameMagic {
		return nil, fmt.Errorf("asp: bad frame magic 0x%02x", data[0])
	}
	f := &AudioFrame{Direction: data[1]}
	copy(f.SessionHash[:], data[2:10])
	f.Payload = data[FrameHeaderLen:]
	return f, nil
}
