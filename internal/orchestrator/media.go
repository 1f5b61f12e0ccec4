package orchestrator

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/voiceagent/broker/internal/fork"
	"github.com/voiceagent/broker/internal/media"
)

const (
	rtpHeaderLen  = 12
	rtpVersion2   = 0x80
	maxRTPPacket  = 1500
	rtpReadWindow = 100 * time.Millisecond
)

// atomicAddr is a thread-safe holder for the learned remote RTP address.
// Grounded on media/relay.go's symmetric-RTP address-learning idiom.
type atomicAddr struct {
	v atomic.Pointer[net.UDPAddr]
}

func (a *atomicAddr) load() *net.UDPAddr  { return a.v.Load() }
func (a *atomicAddr) store(addr *net.UDPAddr) { a.v.Store(addr) }

func (a *atomicAddr) learn(addr *net.UDPAddr) bool {
	old := a.v.Load()
	if old != nil && old.IP.Equal(addr.IP) && old.Port == addr.Port {
		return false
	}
	a.v.Store(addr)
	return true
}

// RTPEndpoint is the single RTP leg between the PBX and this broker: it
// receives the caller's audio and feeds it to a fork.Manager, and sends
// the AI session's synthesized audio back to the caller. Unlike flowpbx's
// two-leg Relay (caller⟷callee), there is only one remote party here —
// the far side of the pipeline is the AI Session Server, reached over ASP
// rather than RTP.
type RTPEndpoint struct {
	pair        *media.SocketPair
	payloadType int
	clockRate   int
	remote      atomicAddr
	manager     *fork.Manager
	logger      *slog.Logger

	seq       atomic.Uint32
	timestamp atomic.Uint32
	ssrc      uint32

	stopped atomic.Bool

	// playbackStart/samplesSent pace SendAudio to real time (one byte per
	// sample for the PCMU/PCMA codecs this broker terminates), so a
	// response's audio is not handed to the caller's phone faster than it
	// can be played. SendAudio is only ever called from the single
	// bridgeToAISession goroutine per call, so these need no locking.
	playbackStart time.Time
	samplesSent   uint64
}

// NewRTPEndpoint binds pair to manager. remoteHint is the SDP-signaled
// remote address; it is refined by symmetric RTP on the first received
// packet. clockRate is the negotiated codec's clock rate (samples/sec),
// used to pace outbound audio to real time.
func NewRTPEndpoint(pair *media.SocketPair, remoteHint *net.UDPAddr, payloadType int, clockRate int, manager *fork.Manager, ssrc uint32, logger *slog.Logger) *RTPEndpoint {
	e := &RTPEndpoint{
		pair:        pair,
		payloadType: payloadType,
		clockRate:   clockRate,
		manager:     manager,
		ssrc:        ssrc,
		logger:      logger.With("subsystem", "rtp-endpoint"),
	}
	e.remote.store(remoteHint)
	return e
}

// Start begins the receive loop in a new goroutine: every inbound RTP
// packet is validated, stripped of its header, and pushed to the fork
// manager. Runs until Stop is called.
func (e *RTPEndpoint) Start() {
	go e.receiveLoop()
}

// Stop halts the receive loop.
func (e *RTPEndpoint) Stop() {
	e.stopped.Store(true)
}

func (e *RTPEndpoint) receiveLoop() {
	buf := make([]byte, maxRTPPacket)
	learned := false
	for {
		if e.stopped.Load() {
			return
		}
		e.pair.RTPConn.SetReadDeadline(time.Now().Add(rtpReadWindow))
		n, srcAddr, err := e.pair.RTPConn.ReadFromUDP(buf)
		if err != nil {
			if e.stopped.Load() {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			e.logger.Debug("rtp read error", "error", err)
			continue
		}
		if n < rtpHeaderLen {
			continue
		}
		pt := int(buf[1] & 0x7F)
		if pt != e.payloadType {
			continue
		}
		if !learned {
			if e.remote.learn(srcAddr) {
				e.logger.Info("symmetric rtp: learned caller address", "address", srcAddr.String())
			}
			learned = true
		}

		payload := make([]byte, n-rtpHeaderLen)
		copy(payload, buf[rtpHeaderLen:n])
		e.manager.Push(payload)
	}
}

// BeginPlayback resets the real-time pacing clock at the start of a new
// response cycle, so a gap in speech (listening time) is never "made up"
// by bursting the next response's audio out faster than real time.
func (e *RTPEndpoint) BeginPlayback() {
	e.playbackStart = time.Now()
	e.samplesSent = 0
}

// SendAudio wraps one payload in an RTP header and sends it to the learned
// caller address, pacing the send to real time the way a phone consumes
// RTP: one payload byte is one sample at this endpoint's clock rate (true
// for the PCMU/PCMA codecs this broker terminates). Called for each
// AudioFrame arriving from the AI Session Server over ASP.
func (e *RTPEndpoint) SendAudio(payload []byte) error {
	remote := e.remote.load()
	if remote == nil {
		return errors.New("rtp endpoint: no learned remote address yet")
	}

	if e.playbackStart.IsZero() {
		e.BeginPlayback()
	}
	e.pacePlayback(len(payload))

	pkt := make([]byte, rtpHeaderLen+len(payload))
	pkt[0] = rtpVersion2
	pkt[1] = byte(e.payloadType)
	binary.BigEndian.PutUint16(pkt[2:4], uint16(e.seq.Add(1)))
	binary.BigEndian.PutUint32(pkt[4:8], e.timestamp.Add(uint32(len(payload))))
	binary.BigEndian.PutUint32(pkt[8:12], e.ssrc)
	copy(pkt[rtpHeaderLen:], payload)

	_, err := e.pair.RTPConn.WriteToUDP(pkt, remote)
	return err
}

// pacePlayback sleeps, if necessary, so that sending n more samples never
// gets ahead of wall-clock playback time. Grounded on flowpbx's
// internal/media/player.go packetDuration pacing (elapsed-vs-expected
// wall-clock sleep rather than a fixed per-packet sleep, to avoid drift).
func (e *RTPEndpoint) pacePlayback(n int) {
	if e.clockRate <= 0 {
		return
	}
	e.samplesSent += uint64(n)
	expected := time.Duration(e.samplesSent) * time.Second / time.Duration(e.clockRate)
	elapsed := time.Since(e.playbackStart)
	if sleep := expected - elapsed; sleep > 0 {
		time.Sleep(sleep)
	}
}

// DrainDuration returns how much playback time remains unsent as of now,
// for callers that must wait until the caller's phone has actually
// finished playing everything handed to SendAudio.
func (e *RTPEndpoint) DrainDuration() time.Duration {
	if e.clockRate <= 0 || e.playbackStart.IsZero() {
		return 0
	}
	expected := time.Duration(e.samplesSent) * time.Second / time.Duration(e.clockRate)
	remaining := expected - time.Since(e.playbackStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}
