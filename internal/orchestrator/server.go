package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/voiceagent/broker/internal/asp"
	"github.com/voiceagent/broker/internal/config"
	"github.com/voiceagent/broker/internal/fork"
	"github.com/voiceagent/broker/internal/media"
)

// Server is the SIP UA for the voice-agent broker: it auto-answers every
// INVITE it receives (the dialed number is not checked), allocates one RTP
// leg, and bridges its audio to an AI Session Server over ASP. Grounded on
// flowpbx's internal/sip/server.go wiring, trimmed to a plain UAS with
// no forking, registrar, or trunk registration (the broker sits behind
// the PBX, not in front of it).
type Server struct {
	cfg   *config.Config
	ua    *sipgo.UserAgent
	srv   *sipgo.Server
	proxy *media.Proxy
	reg   *Registry
	pbx   *PBXClient

	aiSessionURL string
	forkMetrics  *fork.MetricsFamily

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewServer creates a SIP server that answers calls and bridges them to
// aiSessionURL, an ASP websocket endpoint exposed by the AI Session Server.
// forkMetrics may be nil, in which case per-call fork managers run without
// prometheus instrumentation.
func NewServer(cfg *config.Config, aiSessionURL string, forkMetrics *fork.MetricsFamily, logger *slog.Logger) (*Server, error) {
	l := logger.With("component", "orchestrator")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("voiceagent-broker"),
		sipgo.WithUserAgentHostname(cfg.SIPHost()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(l))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip server: %w", err)
	}

	proxy, err := media.NewProxy(cfg.RTPPortMin, cfg.RTPPortMax, l)
	if err != nil {
		srv.Close()
		ua.Close()
		return nil, fmt.Errorf("creating rtp media proxy: %w", err)
	}

	pbx := NewPBXClient(cfg.AMIHost, cfg.AMIPort, cfg.AMIUsername, cfg.AMISecret, l)

	s := &Server{
		cfg:          cfg,
		ua:           ua,
		srv:          srv,
		proxy:        proxy,
		reg:          NewRegistry(),
		pbx:          pbx,
		aiSessionURL: aiSessionURL,
		forkMetrics:  forkMetrics,
		logger:       l,
	}
	s.registerHandlers()
	return s, nil
}

func (s *Server) registerHandlers() {
	s.srv.OnInvite(s.handleInvite)
	s.srv.OnAck(s.handleACK)
	s.srv.OnBye(s.handleBye)
	s.srv.OnCancel(s.handleCancel)
	s.srv.OnOptions(s.handleOptions)
}

// Start begins listening for SIP traffic until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	udpAddr := fmt.Sprintf("0.0.0.0:%d", s.cfg.SIPPort)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("sip udp listener starting", "addr", udpAddr)
		if err := s.srv.ListenAndServe(ctx, "udp", udpAddr); err != nil {
			s.logger.Error("sip udp listener stopped", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pbx.Run(ctx)
	}()

	return nil
}

// Stop gracefully shuts down the SIP listener and releases all active calls.
func (s *Server) Stop() {
	s.logger.Info("stopping orchestrator")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	for _, c := range s.reg.All() {
		c.End()
	}
}

// ActiveCallCount returns the number of calls currently bridged.
func (s *Server) ActiveCallCount() int {
	return s.reg.Count()
}

func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	logger := s.logger.With("sip_call_id", callID)

	logger.Info("invite received", "from", req.From().Address.User, "to", req.To().Address.User)

	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		logger.Error("failed to send 100 trying", "error", err)
		return
	}

	caller := extractCallerInfo(req)
	call := NewCall(caller)

	remoteSDP, err := media.ParseSDP(req.Body())
	if err != nil {
		logger.Error("failed to parse offered sdp", "error", err)
		s.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}
	audioMedia := remoteSDP.AudioMedia()
	if audioMedia == nil {
		logger.Error("no audio media in offer")
		s.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}
	codec := selectCodec(audioMedia)
	if codec == nil {
		logger.Error("no supported codec in offer")
		s.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}

	pair, err := s.proxy.Allocate()
	if err != nil {
		logger.Error("failed to allocate rtp port pair", "error", err)
		s.respondError(req, tx, 500, "Internal Server Error")
		return
	}

	remoteIP := remoteSDP.ConnectionAddress(audioMedia)
	remoteAddr := &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: audioMedia.Port}

	var callMetrics *fork.Metrics
	if s.forkMetrics != nil {
		callMetrics = s.forkMetrics.ForCall(call.ID)
	}
	manager := fork.NewManager(s.cfg.RingBufferFrames(), s.cfg.TDegrade(), logger, callMetrics)
	endpoint := NewRTPEndpoint(pair, remoteAddr, codec.PayloadType, codec.ClockRate, manager, rand.Uint32(), logger)

	call.Fork = manager
	call.Codec = codec

	answerSDP := buildAnswerSDP(remoteSDP, audioMedia, codec, s.cfg.MediaIP(), pair.Ports.RTP)
	answer := sip.NewResponseFromRequest(req, 200, "OK", answerSDP.Marshal())
	answer.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))

	if err := tx.Respond(answer); err != nil {
		logger.Error("failed to answer invite", "error", err)
		s.proxy.Release(pair)
		return
	}

	call.SetState(StateConfirmed)
	s.reg.Add(callID, call)
	endpoint.Start()

	go s.bridgeToAISession(context.Background(), call, endpoint, logger)

	logger.Info("call answered and bridged",
		"call_id", call.ID,
		"caller", caller.CallerIDNum,
		"local_rtp_port", pair.Ports.RTP,
		"remote_rtp", remoteAddr.String(),
		"codec", codec.Name,
	)
}

// bridgeToAISession dials the AI Session Server, completes the ASP
// handshake, attaches the consumer that forwards caller audio, and relays
// the AI's synthesized audio and call actions back through the RTP leg.
func (s *Server) bridgeToAISession(ctx context.Context, call *Call, endpoint *RTPEndpoint, logger *slog.Logger) {
	conn, err := asp.Dial(ctx, s.aiSessionURL)
	if err != nil {
		logger.Error("failed to dial ai session server", "error", err)
		s.endCall(call, endpoint)
		return
	}
	call.ASP = conn

	if err := s.performHandshake(ctx, call, conn, logger); err != nil {
		logger.Error("ai session handshake failed", "error", err)
		s.endCall(call, endpoint)
		return
	}

	adapter := newASPAdapter(conn, call.ID)
	call.Fork.AttachConsumer(ctx, "ai-session", adapter)

	fallbackStop := make(chan struct{})
	defer close(fallbackStop)
	go s.runFallbackTicker(call, endpoint, logger, fallbackStop)

	for {
		msg, frame, err := conn.ReadMessage(ctx)
		if err != nil {
			logger.Info("ai session connection closed", "error", err)
			s.endCall(call, endpoint)
			return
		}

		if frame != nil {
			if frame.Direction == asp.DirectionOutbound {
				if err := endpoint.SendAudio(frame.Payload); err != nil {
					logger.Debug("failed to send outbound rtp", "error", err)
				}
			}
			continue
		}

		switch m := msg.(type) {
		case *asp.ResponseStartMsg:
			call.SetUtteranceActive(true)
			endpoint.BeginPlayback()
		case *asp.ResponseEndMsg:
			time.Sleep(endpoint.DrainDuration())
			call.SetUtteranceActive(false)
			if deferred := call.TakeDeferred(); deferred != nil {
				s.executeAction(call, deferred, logger)
			}
		case *asp.CallActionMsg:
			if call.Fork.FallbackActive() {
				logger.Warn("call.action rejected: call is in fallback mode", "call_id", call.ID)
				continue
			}
			if pending := call.RequestAction(m.Action, m.Target); !pending {
				s.executeAction(call, &DeferredAction{Kind: m.Action, Target: m.Target}, logger)
			}
		case *asp.SessionEndedMsg:
			s.endCall(call, endpoint)
			return
		}
	}
}

// endCall tears down an RTP endpoint and its fork manager's metrics
// together with the call, so ForCall/Forget stay paired.
func (s *Server) endCall(call *Call, endpoint *RTPEndpoint) {
	call.End()
	endpoint.Stop()
	if s.forkMetrics != nil {
		s.forkMetrics.Forget(call.ID)
	}
}

// performHandshake drives the client side of the ASP handshake FSM (§4.1):
// wait for the server's protocol.capabilities, offer session.start with the
// negotiated RTP codec's audio parameters, and wait for session.started.
func (s *Server) performHandshake(ctx context.Context, call *Call, conn *asp.Conn, logger *slog.Logger) error {
	msg, _, err := conn.ReadMessage(ctx)
	if err != nil {
		return fmt.Errorf("reading protocol.capabilities: %w", err)
	}
	if _, ok := msg.(*asp.CapabilitiesMsg); !ok {
		return fmt.Errorf("expected protocol.capabilities, got %T", msg)
	}
	if err := conn.Handshake.CapsSent(); err != nil {
		return err
	}

	audio := asp.DefaultAudioConfig()
	if call.Codec != nil {
		audio.SampleRate = call.Codec.ClockRate
		audio.Encoding = audioEncodingForCodec(call.Codec.Name)
	}
	vad := asp.DefaultVADConfig()

	start := asp.NewSessionStartMsg(call.ID, call.ID, &audio, &vad, nil)
	if err := conn.WriteControl(ctx, start); err != nil {
		return fmt.Errorf("sending session.start: %w", err)
	}
	if err := conn.Handshake.BeginNegotiate(); err != nil {
		return err
	}

	msg, _, err = conn.ReadMessage(ctx)
	if err != nil {
		return fmt.Errorf("reading session.started: %w", err)
	}
	started, ok := msg.(*asp.SessionStartedMsg)
	if !ok {
		return fmt.Errorf("expected session.started, got %T", msg)
	}
	if started.Status == asp.StatusRejected {
		conn.Handshake.Reject()
		return fmt.Errorf("ai session server rejected session.start: %v", started.Errors)
	}

	logger.Info("ai session negotiated", "status", started.Status, "adjustments", len(negotiatedAdjustments(started)))
	return conn.Handshake.Accept()
}

func negotiatedAdjustments(started *asp.SessionStartedMsg) []asp.Adjustment {
	if started.Negotiated == nil {
		return nil
	}
	return started.Negotiated.Adjustments
}

func (s *Server) executeAction(call *Call, action *DeferredAction, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch action.Kind {
	case asp.ActionHangup:
		logger.Info("executing hangup action", "call_id", call.ID)
		call.SetState(StateEnding)
		if call.Caller.Channel != "" && s.pbx.Connected() {
			if err := s.pbx.Hangup(ctx, call.Caller.Channel); err != nil {
				logger.Error("ami hangup failed", "call_id", call.ID, "error", err)
			}
		}
	case asp.ActionTransfer:
		logger.Info("executing transfer action", "call_id", call.ID, "target", action.Target)
		call.SetState(StateEscalating)
		if call.Caller.Channel == "" {
			logger.Warn("transfer requested but no ami channel known for call", "call_id", call.ID)
			return
		}
		if !s.pbx.Connected() {
			logger.Error("transfer requested but ami is disconnected", "call_id", call.ID)
			return
		}
		if err := s.pbx.Redirect(ctx, call.Caller.Channel, action.Target, "from-internal"); err != nil {
			logger.Error("ami redirect failed", "call_id", call.ID, "error", err)
		}
	}
}

func (s *Server) handleACK(req *sip.Request, tx sip.ServerTransaction) {}

func (s *Server) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	if call, ok := s.reg.Get(callID); ok {
		call.End()
		s.reg.Remove(callID)
		if s.forkMetrics != nil {
			s.forkMetrics.Forget(call.ID)
		}
	}
	ok := sip.NewResponseFromRequest(req, 200, "OK", nil)
	tx.Respond(ok)
}

func (s *Server) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	if call, ok := s.reg.Get(callID); ok {
		call.End()
		s.reg.Remove(callID)
		if s.forkMetrics != nil {
			s.forkMetrics.Forget(call.ID)
		}
	}
}

func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	ok := sip.NewResponseFromRequest(req, 200, "OK", nil)
	tx.Respond(ok)
}

func (s *Server) respondError(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		s.logger.Error("failed to send error response", "code", code, "error", err)
	}
}
