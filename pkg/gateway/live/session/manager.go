// Package session implements the per-connection Session Manager: the
// authenticated state machine that demultiplexes one WebSocket's frame
// stream, drives the turn pipeline, and writes replies back in order.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aurora-labs/voxgate/pkg/gateway/live/protocol"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/sessions"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/turn"
	"github.com/aurora-labs/voxgate/pkg/identity"
	"github.com/aurora-labs/voxgate/pkg/store"
)

// turnState is the Session Manager's state per §4.11.
type turnState int

const (
	stateIdle turnState = iota
	stateAwaitingAudio
	stateProcessing
	stateClosed
)

// Config bounds connection-level behavior: ping cadence, write deadlines,
// and inbound backpressure.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	// RequireAuth mirrors the gateway-wide REQUIRE_AUTH setting.
	RequireAuth bool

	// NormalQueueHighWaterMark bounds the buffered-normal-frame channel;
	// a connection that cannot drain fast enough is closed with
	// policy-violation rather than buffered unboundedly.
	NormalQueueHighWaterMark int

	// Inbound audio budget, reused from the teacher's token-bucket limiter.
	AudioFPS          int
	AudioBPS          int64
	AudioBurstSeconds int
}

func (c Config) normalized() Config {
	if c.NormalQueueHighWaterMark <= 0 {
		c.NormalQueueHighWaterMark = 64
	}
	return c
}

type wsConn interface {
	wsWriter
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	ReadMessage() (messageType int, p []byte, err error)
}

// Session owns one connection's lifecycle: identity, current chat id,
// turn state, and the outbound writer. Created on accept, discarded on
// close.
type Session struct {
	id       string
	ws       wsConn
	cfg      Config
	verifier identity.Verifier
	pipeline *turn.Pipeline
	store    store.Store
	logger   *slog.Logger

	unregisterUser func()

	priority chan outboundFrame
	normal   chan outboundFrame

	audioLimiter *inboundAudioLimiter

	closeConn context.CancelFunc

	mu            sync.Mutex
	identity      identity.Identity
	authenticated bool
	currentChatID string
	state         turnState
	pending       []any // buffered non-turn-initiating control frames, replayed after a turn completes
}

// New constructs a Session for one accepted connection. identity/authed
// reflect the outcome of the upgrade-time token check (C10); the
// connection may still re-authenticate mid-session via an "auth" frame.
func New(id string, ws wsConn, cfg Config, verifier identity.Verifier, pipeline *turn.Pipeline, st store.Store, logger *slog.Logger, initialIdentity identity.Identity, authenticated bool) *Session {
	cfg = cfg.normalized()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:            id,
		ws:            ws,
		cfg:           cfg,
		verifier:      verifier,
		pipeline:      pipeline,
		store:         st,
		logger:        logger,
		priority:      make(chan outboundFrame, 16),
		normal:        make(chan outboundFrame, cfg.NormalQueueHighWaterMark),
		audioLimiter:  newInboundAudioLimiter(nil, cfg.AudioFPS, cfg.AudioBPS, cfg.AudioBurstSeconds),
		identity:      initialIdentity,
		authenticated: authenticated,
		state:         stateIdle,
	}
}

// BindRegistry wires the session into the userID-keyed connection registry
// used for out-of-band sendToUser delivery. Call before Run.
func (s *Session) BindRegistry(add func(userID, connID string, send sessions.Sender) (remove func())) {
	if add == nil {
		return
	}
	s.mu.Lock()
	userID := s.identity.UserID
	s.mu.Unlock()
	if userID == "" {
		return
	}
	remove := add(userID, s.id, func(payload []byte) error {
		return s.enqueue(s.priority, outboundFrame{payload: payload})
	})
	s.unregisterUser = remove
}

// Warn delivers an out-of-band advisory frame ahead of the queue's normal
// traffic, used by the Connection Acceptor's graceful-drain sequence.
func (s *Session) Warn(code, message string) error {
	payload, err := json.Marshal(protocol.NewWarning(code, message))
	if err != nil {
		return err
	}
	return s.enqueue(s.priority, outboundFrame{payload: payload})
}

type inboundEvent struct {
	control any
	binary  []byte
	decErr  error
}

// Run drives the connection until ctx is canceled or the socket closes.
// It starts the outbound writer, a read loop, and the single dispatch
// loop that processes one inbound event at a time, preserving the
// per-connection ordering guarantee. A connection whose outbound queue
// exceeds its high-water mark is closed with policy-violation rather than
// buffered unboundedly.
func (s *Session) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.closeConn = cancel

	writerDone := make(chan error, 1)
	writer := &outboundWriter{ws: s.ws, ctx: ctx, cfg: s.cfg, priority: s.priority, normal: s.normal}
	go func() { writerDone <- writer.Run() }()

	s.enqueuePriority(protocol.NewConnectionEstablished(s.authenticated))

	inboundCh := make(chan inboundEvent, 8)
	go s.readLoop(ctx, inboundCh)

	turnDoneCh := make(chan turn.Outcome, 1)
	var chatIDForTurn string

	defer func() {
		s.mu.Lock()
		s.state = stateClosed
		s.mu.Unlock()
		if s.unregisterUser != nil {
			s.unregisterUser()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return <-writerDone
		case err := <-writerDone:
			return err
		case ev, ok := <-inboundCh:
			if !ok {
				return <-writerDone
			}
			if ev.decErr != nil {
				s.enqueuePriority(protocol.NewErrorFrame(ev.decErr.Error()))
				continue
			}
			if ev.binary != nil {
				s.handleBinary(ctx, ev.binary, turnDoneCh, &chatIDForTurn)
				continue
			}
			s.handleControl(ctx, ev.control, turnDoneCh, &chatIDForTurn)
		case outcome := <-turnDoneCh:
			s.finishTurn(outcome, chatIDForTurn)
			s.drainPending(ctx, turnDoneCh, &chatIDForTurn)
		}
	}
}

func (s *Session) readLoop(ctx context.Context, out chan<- inboundEvent) {
	defer close(out)
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch msgType {
		case websocket.BinaryMessage:
			if s.audioLimiter != nil && !s.audioLimiter.Allow(len(data)) {
				out <- inboundEvent{decErr: errAudioRateExceeded}
				continue
			}
			out <- inboundEvent{binary: data}
		case websocket.TextMessage:
			msg, err := protocol.DecodeClientMessage(data)
			if err != nil {
				out <- inboundEvent{decErr: err}
				continue
			}
			out <- inboundEvent{control: msg}
		}
	}
}

var errAudioRateExceeded = &audioRateError{}

type audioRateError struct{}

func (*audioRateError) Error() string { return "audio rate exceeded" }

var errBackpressure = &backpressureError{}

type backpressureError struct{}

func (*backpressureError) Error() string { return "outbound queue backpressure" }

// handleControl dispatches one decoded control frame per §4.7's table.
// text_message is the only turn-initiating control frame; beginTurn
// applies the Busy guard itself. Every other control type is advisory or
// mutates connection state only, so while a turn is Processing it is
// buffered and replayed once the turn completes, rather than raced against
// the in-flight pipeline call.
func (s *Session) handleControl(ctx context.Context, msg any, turnDoneCh chan turn.Outcome, chatIDForTurn *string) {
	if _, isText := msg.(protocol.ClientTextMessage); !isText {
		s.mu.Lock()
		if s.state == stateProcessing {
			s.pending = append(s.pending, msg)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}

	switch m := msg.(type) {
	case protocol.ClientAuth:
		s.handleAuth(m)
	case protocol.ClientUserInfo:
		s.handleUserInfo(m)
	case protocol.ClientSetChatID:
		s.handleSetChatID(ctx, m)
	case protocol.ClientStartStream:
		s.handleStartStream()
	case protocol.ClientEndStream:
		// advisory only; the turn begins when a binary frame arrives.
	case protocol.ClientTextMessage:
		s.beginTurn(ctx, turn.Input{Text: m.Text}, turnDoneCh, chatIDForTurn)
	case protocol.ClientClearContext:
		// deprecated advisory no-op, per design note (c).
	}
}

func (s *Session) handleAuth(m protocol.ClientAuth) {
	id, err := s.verifier.Verify(context.Background(), m.Token)
	if err != nil {
		s.enqueuePriority(protocol.NewAuthError("invalid or expired token"))
		return
	}
	s.mu.Lock()
	s.identity = id
	s.authenticated = true
	s.mu.Unlock()
	s.enqueuePriority(protocol.NewAuthSuccess(id.UserID))
}

func (s *Session) handleUserInfo(m protocol.ClientUserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authenticated {
		return // ignored once already authenticated
	}
	s.identity.UserID = m.UserID
}

func (s *Session) handleSetChatID(ctx context.Context, m protocol.ClientSetChatID) {
	s.mu.Lock()
	userID := s.identity.UserID
	s.mu.Unlock()

	if _, err := s.store.LoadSession(ctx, userID, m.ChatID); err != nil {
		s.enqueuePriority(protocol.NewErrorFrame("forbidden"))
		return
	}

	s.mu.Lock()
	s.currentChatID = m.ChatID
	s.mu.Unlock()
}

func (s *Session) handleStartStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateIdle {
		s.state = stateAwaitingAudio
	}
}

func (s *Session) handleBinary(ctx context.Context, data []byte, turnDoneCh chan turn.Outcome, chatIDForTurn *string) {
	s.beginTurn(ctx, turn.Input{Audio: data}, turnDoneCh, chatIDForTurn)
}

// beginTurn applies the guards in §4.6 before handing off to the turn
// pipeline, buffering non-turn-initiating frames received while Processing
// and rejecting a second turn-initiating frame with Busy.
func (s *Session) beginTurn(ctx context.Context, in turn.Input, turnDoneCh chan turn.Outcome, chatIDForTurn *string) {
	s.mu.Lock()
	if s.state == stateProcessing {
		s.mu.Unlock()
		s.enqueuePriority(protocol.NewErrorFrame("Busy"))
		return
	}
	if s.cfg.RequireAuth && !s.authenticated {
		s.mu.Unlock()
		s.enqueuePriority(protocol.NewErrorFrame("Authentication required"))
		return
	}
	if s.currentChatID == "" {
		s.mu.Unlock()
		s.enqueuePriority(protocol.NewErrorFrame("No active chat session"))
		return
	}
	in.ChatID = s.currentChatID
	in.UserID = s.identity.UserID
	*chatIDForTurn = s.currentChatID
	s.state = stateProcessing
	s.mu.Unlock()

	go func() {
		turnDoneCh <- s.pipeline.Run(ctx, in)
	}()
}

func (s *Session) finishTurn(outcome turn.Outcome, chatID string) {
	s.mu.Lock()
	s.state = stateIdle
	s.mu.Unlock()

	if outcome.PersistLoggedFailure != nil {
		s.logger.Error("turn completed with unsurfaced persist failure", "session_id", s.id, "chat_id", chatID, "error", outcome.PersistLoggedFailure)
	}

	speech := protocol.ServerSpeechResponse{
		Type:          "speech_response",
		Success:       outcome.Speech.Success,
		Transcription: outcome.Speech.Transcription,
		TextResponse:  outcome.Speech.TextResponse,
		Reason:        string(outcome.Speech.Reason),
	}
	if outcome.Speech.Success && outcome.Speech.Intent != "" {
		speech.Metadata = &protocol.SpeechMetadata{Intent: outcome.Speech.Intent, Confidence: outcome.Speech.Confidence}
	}
	// Turn replies go on the normal queue, which is bounded by the
	// high-water mark.
	if payload, err := json.Marshal(speech); err == nil {
		_ = s.enqueue(s.normal, outboundFrame{payload: payload})
	}

	if outcome.Speech.Success && len(outcome.AudioContent) > 0 {
		payload, err := json.Marshal(protocol.ServerAudioContent{
			Type:         "audio_content",
			AudioContent: base64.StdEncoding.EncodeToString(outcome.AudioContent),
		})
		if err == nil {
			_ = s.enqueue(s.normal, outboundFrame{payload: payload})
		}
	}
}

// drainPending replays control frames buffered while a turn was
// Processing, in arrival order, after the turn's replies have been queued.
func (s *Session) drainPending(ctx context.Context, turnDoneCh chan turn.Outcome, chatIDForTurn *string) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, m := range pending {
		s.handleControl(ctx, m, turnDoneCh, chatIDForTurn)
	}
}

func (s *Session) enqueuePriority(frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = s.enqueue(s.priority, outboundFrame{payload: payload})
}

// enqueue queues frame for delivery, closing the connection with
// policy-violation if ch is full: an unbounded buffer for a slow client
// risks OOM, per §5.
func (s *Session) enqueue(ch chan outboundFrame, frame outboundFrame) error {
	select {
	case ch <- frame:
		return nil
	default:
		s.logger.Warn("session: outbound queue exceeded high-water mark, closing", "session_id", s.id)
		if s.ws != nil {
			_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "outbound queue full"), time.Now().Add(time.Second))
		}
		if s.closeConn != nil {
			s.closeConn()
		}
		return errBackpressure
	}
}

// NewConnectionID generates an opaque per-connection identifier, used as
// the registry key and for log correlation.
func NewConnectionID() string {
	return uuid.NewString()
}
