package aisession

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/voiceagent/broker/internal/asp"
	"github.com/voiceagent/broker/internal/provider/llm"
)

const (
	// audioQueueDepth bounds the inbound-frame channel; the reader goroutine
	// drops the oldest frame on overflow (spec.md §5 "bounded queues...
	// drop-oldest on audio queues").
	audioQueueDepth = 64

	controlQueueDepth = 16
)

// Session drives one ASP connection end to end: handshake, greeting, and
// the listen/process/respond loop, until the connection closes or ctx is
// cancelled.
type Session struct {
	conn   *asp.Conn
	cfg    Config
	logger *slog.Logger

	providers Providers

	id          string
	sessionHash [8]byte
	audio       asp.AudioConfig
	vad         asp.VADConfig

	transferRetry bool

	state   pipelineState
	buf     *utteranceBuffer
	history []llm.Message

	unresolvedCount int
	droppedFrames   int
}

// New creates a Session bound to an already-upgraded ASP connection. Run
// must be called to drive the handshake and pipeline.
func New(conn *asp.Conn, providers Providers, cfg Config, logger *slog.Logger) *Session {
	return &Session{
		conn:      conn,
		providers: providers,
		cfg:       cfg,
		logger:    logger,
		state:     stateListening,
	}
}

// Run blocks until the ASP connection ends. It always closes conn before
// returning.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close(0, "")

	if err := s.handshake(ctx); err != nil {
		return err
	}
	s.logger = s.logger.With("session_id", s.id)

	buf, err := newUtteranceBuffer(s.providers.VAD, s.audio, s.vad, s.cfg.MaxBufferSeconds)
	if err != nil {
		return err
	}
	s.buf = buf
	defer s.buf.close()

	if !s.transferRetry && s.cfg.GreetingText != "" {
		s.speak(ctx, s.cfg.GreetingText)
	}

	return s.loop(ctx)
}

// loop reads inbound frames and control messages from a background reader
// and dispatches them, running the listen/process/respond pipeline
// in-line on this goroutine (spec.md §5: "one logical task per session").
func (s *Session) loop(ctx context.Context) error {
	audioCh := make(chan *asp.AudioFrame, audioQueueDepth)
	controlCh := make(chan asp.ASPMessage, controlQueueDepth)
	readErrCh := make(chan error, 1)

	go s.readLoop(ctx, audioCh, controlCh, readErrCh)

	idleTimer := newOptionalTimer(s.cfg.TIdle)
	defer idleTimer.Stop()
	sessionMaxCh := newOptionalAfter(s.cfg.TSessionMax)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-audioCh:
			idleTimer.Reset(s.cfg.TIdle)
			s.handleInboundFrame(ctx, frame)
		case msg := <-controlCh:
			idleTimer.Reset(s.cfg.TIdle)
			if end := s.handleControlMessage(ctx, msg); end {
				return nil
			}
		case err := <-readErrCh:
			return err
		case <-idleTimer.C():
			s.endWithReason(ctx, "idle_timeout")
			return nil
		case <-sessionMaxCh:
			s.endWithReason(ctx, "session_max_duration")
			return nil
		}
	}
}

// endWithReason sends session.ended with reason and logs the server-initiated
// termination (spec.md §3 Session lifecycle / §5 T_idle, T_session_max).
func (s *Session) endWithReason(ctx context.Context, reason string) {
	s.logger.Info("session ending", "reason", reason)
	_ = s.conn.WriteControl(ctx, asp.NewSessionEndedMsg(s.id, reason))
}

// readLoop is the only goroutine that calls conn.ReadMessage. Binary
// frames and control messages are pushed onto separate bounded channels;
// a full audio channel drops the oldest queued frame to make room, never
// blocking the websocket read.
func (s *Session) readLoop(ctx context.Context, audioCh chan *asp.AudioFrame, controlCh chan asp.ASPMessage, errCh chan error) {
	for {
		msg, frame, err := s.conn.ReadMessage(ctx)
		if err != nil {
			errCh <- err
			return
		}
		if frame != nil {
			enqueueFrameDropOldest(audioCh, frame)
			continue
		}
		select {
		case controlCh <- msg:
		default:
			s.logger.Warn("control queue full, dropping message", "type", msg.MsgType())
		}
	}
}

// enqueueFrameDropOldest pushes frame onto ch, discarding the oldest queued
// frame first if ch is full, so the reader goroutine never blocks on a
// slow consumer (spec.md §5 "drop-oldest on audio queues").
func enqueueFrameDropOldest(ch chan *asp.AudioFrame, frame *asp.AudioFrame) {
	select {
	case ch <- frame:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- frame:
	default:
	}
}

// handleInboundFrame feeds a frame to the utterance buffer while listening,
// and otherwise drops it (barge-in monitor mode, spec.md §4.3/P6).
func (s *Session) handleInboundFrame(ctx context.Context, frame *asp.AudioFrame) {
	if frame.Direction != asp.DirectionInbound {
		return
	}
	if frame.SessionHash != s.sessionHash {
		return
	}
	if s.state != stateListening {
		s.droppedFrames++
		return
	}

	utterance, durationMs, complete, err := s.buf.addFrame(frame.Payload)
	if err != nil {
		s.logger.Error("vad processing failed", "error", err)
		return
	}
	if !complete {
		return
	}

	_ = s.conn.WriteControl(ctx, asp.NewSpeechEndMsg(s.id, time.Duration(durationMs)*time.Millisecond))
	s.processUtterance(ctx, utterance)
}

// handleControlMessage applies a session.update or session.end received
// mid-call. It returns true when the session should terminate.
func (s *Session) handleControlMessage(ctx context.Context, msg asp.ASPMessage) bool {
	switch m := msg.(type) {
	case *asp.SessionUpdateMsg:
		s.applyUpdate(ctx, m)
	case *asp.SessionEndMsg:
		_ = s.conn.WriteControl(ctx, asp.NewSessionEndedMsg(s.id, m.Reason))
		return true
	}
	return false
}

// applyUpdate re-negotiates only the VAD portion of the session config;
// audio parameters are immutable once accepted (§4.1, error 4004).
func (s *Session) applyUpdate(ctx context.Context, m *asp.SessionUpdateMsg) {
	if err := s.conn.Handshake.BeginUpdate(); err != nil {
		s.logger.Error("session.update rejected", "error", err)
		return
	}
	defer s.conn.Handshake.EndUpdate()

	caps := asp.DefaultCapabilities()
	negotiated, status, errs := asp.Negotiate(caps, asp.ProtocolVersion, &s.audio, &m.VAD)
	s.vad = negotiated.VAD

	buf, err := newUtteranceBuffer(s.providers.VAD, s.audio, s.vad, s.cfg.MaxBufferSeconds)
	if err == nil {
		_ = s.buf.close()
		s.buf = buf
	}

	_ = s.conn.WriteControl(ctx, asp.NewSessionUpdatedMsg(s.id, status, s.vad, errs))
}

// processUtterance drives steps 2-7 of the per-utterance lifecycle
// (spec.md §4.4): STT, LLM streaming, sentence-by-sentence TTS, tool
// dispatch, and escalation bookkeeping.
func (s *Session) processUtterance(ctx context.Context, pcm []byte) {
	s.state = stateProcessing

	result, err := s.providers.STT.Transcribe(ctx, pcm, s.audio.SampleRate)
	if err != nil {
		s.logger.Error("stt failed", "error", err)
		s.speak(ctx, s.cfg.ApologyText)
		s.state = stateListening
		return
	}

	s.history = append(s.history, llm.Message{Role: "user", Content: result.Text})
	s.respond(ctx)
	s.state = stateListening
}

// respond runs one full LLM-to-TTS response cycle: stream completion
// tokens into sentence-sized fragments, forward each to TTS as it
// completes, and emit response.start/response.end around the cycle.
// Tool calls accumulated during the stream are dispatched only after
// response.end (spec.md §4.4 step 6, ordering guarantee (i)).
func (s *Session) respond(ctx context.Context) {
	llmCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.LLMTimeout > 0 {
		llmCtx, cancel = context.WithTimeout(ctx, s.cfg.LLMTimeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		Messages:     s.history,
		Tools:        toolDefinitions(),
		MaxTokens:    s.cfg.LLMMaxTokens,
		SystemPrompt: s.cfg.SystemPrompt,
	}
	chunks, err := s.providers.LLM.StreamCompletion(llmCtx, req)
	if err != nil {
		s.logger.Error("llm stream failed to start", "error", err)
		s.speak(ctx, s.cfg.ApologyText)
		return
	}

	s.state = stateResponding

	textCh := make(chan string, 8)
	audioDone := make(chan struct{})
	started := false

	go func() {
		defer close(audioDone)
		audioCh, err := s.providers.TTS.SynthesizeStream(ctx, textCh, s.cfg.Voice, s.audio.SampleRate)
		if err != nil {
			s.logger.Error("tts stream failed to start", "error", err)
			return
		}
		for chunk := range audioCh {
			if !started {
				_ = s.conn.WriteControl(ctx, asp.NewResponseStartMsg(s.id))
				started = true
			}
			if err := s.conn.WriteAudio(ctx, asp.DirectionOutbound, s.sessionHash, chunk); err != nil {
				s.logger.Debug("failed writing outbound audio frame", "error", err)
			}
		}
	}()

	var reply strings.Builder
	var toolCalls []llm.ToolCall
	drainAndForward(ctx, chunks, textCh, &reply, &toolCalls)

	<-audioDone
	_ = s.conn.WriteControl(ctx, asp.NewResponseEndMsg(s.id))

	if reply.Len() > 0 || len(toolCalls) > 0 {
		s.history = append(s.history, llm.Message{Role: "assistant", Content: reply.String(), ToolCalls: toolCalls})
	}

	dispatched := s.dispatchToolCalls(ctx, toolCalls)
	s.trackEscalation(ctx, dispatched)
}

// dispatchToolCalls sends one call.action per whitelisted tool call, in
// order, and appends a synthetic tool-result to history for each so the
// model does not re-emit it next turn (spec.md §4.4 Idempotence). Returns
// whether any tool call was dispatched, for escalation bookkeeping.
func (s *Session) dispatchToolCalls(ctx context.Context, calls []llm.ToolCall) bool {
	dispatched := false
	for _, tc := range calls {
		action, ok := s.resolveToolCall(tc)
		if !ok {
			continue
		}
		_ = s.conn.WriteControl(ctx, asp.NewCallActionMsg(s.id, action.Kind, action.Target, fmtToolReason(action)))
		s.history = append(s.history, toolResultMessage(tc.ID))
		dispatched = true
	}
	return dispatched
}

// trackEscalation implements spec.md §4.4 Escalation: N_unresolved
// consecutive turns with no tool call trigger an automatic transfer,
// preceded by a spoken notice.
func (s *Session) trackEscalation(ctx context.Context, toolDispatched bool) {
	if toolDispatched {
		s.unresolvedCount = 0
		return
	}
	s.unresolvedCount++
	if s.unresolvedCount < s.cfg.MaxUnresolvedInteractions {
		return
	}
	s.unresolvedCount = 0

	s.speak(ctx, s.cfg.EscalationNoticeText)
	_ = s.conn.WriteControl(ctx, asp.NewCallActionMsg(s.id, asp.ActionTransfer, s.cfg.DefaultTransferTarget, "automatic escalation"))
}

// speak synthesizes a single fixed string outside of the LLM pipeline
// (greeting, apology, escalation notice). response.end is always emitted,
// even if synthesis fails, per spec.md §4.4's failure-mode guarantee.
func (s *Session) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	defer func() {
		_ = s.conn.WriteControl(ctx, asp.NewResponseEndMsg(s.id))
	}()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := s.providers.TTS.SynthesizeStream(ctx, textCh, s.cfg.Voice, s.audio.SampleRate)
	if err != nil {
		s.logger.Error("tts failed", "error", err)
		return
	}
	started := false
	for chunk := range audioCh {
		if !started {
			_ = s.conn.WriteControl(ctx, asp.NewResponseStartMsg(s.id))
			started = true
		}
		if err := s.conn.WriteAudio(ctx, asp.DirectionOutbound, s.sessionHash, chunk); err != nil {
			s.logger.Debug("failed writing outbound audio frame", "error", err)
			return
		}
	}
}
