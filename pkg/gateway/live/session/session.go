// Package session runs one live connection: it owns the client socket, the
// upstream provider handle, and the turn buffers that pair a user's
// transcription with the model's response. All state transitions happen on
// the Run goroutine; the reader, the writer, and the provider feed it through
// channels.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/symbiosisnm/Sales-Wizard/pkg/audio"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/history"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/live/protocol"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/metrics"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/upstream"
)

const (
	statusListening    = "Listening..."
	statusReconnecting = "Reconnecting..."
	statusClosed       = "Session closed"

	errMsgNotStarted = "Not started"
	errMsgBadAPIKey  = "Error: Invalid API key"

	replayPreamble = "Till now all these questions were asked in the interview, answer the last one please:\n\n"
)

func readyStatus(model string) string {
	if model == "" {
		return "Live session ready"
	}
	return "Live session ready on model " + model
}

// ClientConn is the subset of *websocket.Conn the session needs. Tests
// substitute a fake.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	wsWriter
}

type Config struct {
	MaxMessageBytes   int64
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	OutboundQueueSize int

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	VADEnabled        bool
	VADEnterThreshold float64
	VADHysteresis     float64
	VADKeepAlive      time.Duration
}

type Dependencies struct {
	Conn         ClientConn
	Logger       *slog.Logger
	Connector    upstream.Connector
	History      history.Sink
	Metrics      *metrics.Metrics
	SessionID    string
	RequestID    string
	DefaultModel string
	Config       Config
	Now          func() time.Time
}

type state int

const (
	stateIdle state = iota
	stateStarting
	stateActive
	stateReconnecting
	stateClosed
)

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type LiveSession struct {
	conn         ClientConn
	logger       *slog.Logger
	connector    upstream.Connector
	history      history.Sink
	metrics      *metrics.Metrics
	sessionID    string
	requestID    string
	defaultModel string
	cfg          Config
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan []byte

	state       state
	handle      upstream.Handle
	events      <-chan upstream.Event
	startParams upstream.StartParams
	gate        *audio.Gate

	pendingTranscription string
	pendingResponse      string
	turns                []history.Turn

	clientEnded bool
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("upstream connector is required")
	}
	if deps.History == nil {
		deps.History = history.NewMemoryStore()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.MaxReconnectAttempts <= 0 {
		deps.Config.MaxReconnectAttempts = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		conn:         deps.Conn,
		logger:       deps.Logger.With("session_id", deps.SessionID),
		connector:    deps.Connector,
		history:      deps.History,
		metrics:      deps.Metrics,
		sessionID:    deps.SessionID,
		requestID:    deps.RequestID,
		defaultModel: deps.DefaultModel,
		cfg:          deps.Config,
		now:          deps.Now,
		ctx:          ctx,
		cancel:       cancel,
		outbound:     make(chan []byte, deps.Config.OutboundQueueSize),
	}
	if deps.Config.VADEnabled {
		s.gate = audio.NewGate(deps.Config.VADEnterThreshold, deps.Config.VADHysteresis, deps.Config.VADKeepAlive)
	}
	return s, nil
}

// Run drives the session until the client disconnects, the client sends an
// end frame, or the upstream fails terminally. The upstream handle is closed
// exactly once on every exit path.
func (s *LiveSession) Run() error {
	defer s.cancel()
	defer s.closeUpstream()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	go s.readLoop(readCh)

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:           s.conn,
			ctx:          s.ctx,
			frames:       s.outbound,
			pingInterval: s.cfg.PingInterval,
			writeTimeout: s.cfg.WriteTimeout,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				s.logger.Warn("outbound writer failed", "error", err)
			}
			return err
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				// Client gone; implicit end.
				return nil
			}
			done, err := s.handleClientFrame(frame)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case ev, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			done, err := s.handleUpstreamEvent(ev)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (s *LiveSession) readLoop(readCh chan<- inboundFrame) {
	defer close(readCh)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err == nil && s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		select {
		case readCh <- inboundFrame{messageType: messageType, data: data, err: err}:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *LiveSession) handleClientFrame(frame inboundFrame) (done bool, err error) {
	if frame.messageType == websocket.BinaryMessage {
		return false, s.sendError("bad_request", "binary frames are not supported")
	}

	msg, decErr := protocol.DecodeClientMessage(frame.data)
	if decErr != nil {
		code := "bad_request"
		if de, ok := decErr.(*protocol.DecodeError); ok {
			code = de.Code
		}
		return false, s.sendError(code, decErr.Error())
	}

	switch m := msg.(type) {
	case protocol.ClientStart:
		s.countClientFrame("start")
		return false, s.handleStart(m)
	case protocol.ClientText:
		s.countClientFrame("text")
		return false, s.handleText(m)
	case protocol.ClientAudio:
		s.countClientFrame("audio")
		return false, s.handleAudio(m)
	case protocol.ClientImage:
		s.countClientFrame("image")
		return false, s.handleImage(m)
	case protocol.ClientFlush:
		s.countClientFrame("flush")
		return false, nil
	case protocol.ClientEnd:
		s.countClientFrame("end")
		s.clientEnded = true
		s.state = stateClosed
		return true, s.sendStatus(statusClosed)
	default:
		return false, s.sendError("bad_request", "unsupported message type")
	}
}

func (s *LiveSession) handleStart(msg protocol.ClientStart) error {
	if s.state != stateIdle {
		return s.sendError("bad_request", "session already started")
	}
	s.state = stateStarting
	model := msg.Model
	if model == "" {
		model = s.defaultModel
	}
	s.startParams = upstream.StartParams{
		Model:              model,
		ResponseModalities: msg.ResponseModalities,
		SystemInstruction:  msg.SystemInstruction,
	}

	handle, err := s.connector.Connect(s.ctx, s.startParams)
	if err != nil {
		s.state = stateIdle
		s.logger.Warn("upstream connect failed", "error", err)
		if upstream.IsAuthFailure(err.Error()) {
			return s.sendError("unauthorized", errMsgBadAPIKey)
		}
		return s.sendError("upstream_error", "failed to open model session")
	}
	s.handle = handle
	s.events = handle.Events()
	return nil
}

func (s *LiveSession) handleText(msg protocol.ClientText) error {
	if s.handle == nil {
		return s.sendError("not_started", errMsgNotStarted)
	}
	if err := s.handle.SendText(s.ctx, msg.Text); err != nil {
		s.logger.Warn("forward text failed", "error", err)
		return s.sendError("upstream_error", "failed to forward text")
	}
	// A typed question stands in for its own transcription.
	s.pendingTranscription = msg.Text
	return nil
}

func (s *LiveSession) handleAudio(msg protocol.ClientAudio) error {
	if s.handle == nil {
		return s.sendError("not_started", errMsgNotStarted)
	}
	chunk, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return s.sendError("bad_request", "audio.data must be base64")
	}
	if s.gate != nil && !s.gate.ShouldForward(chunk, s.now()) {
		if s.metrics != nil {
			s.metrics.SuppressedChunks.Inc()
		}
		return nil
	}
	if err := s.handle.SendAudio(s.ctx, chunk, msg.Mime); err != nil {
		s.logger.Warn("forward audio failed", "error", err)
		return s.sendError("upstream_error", "failed to forward audio")
	}
	return nil
}

func (s *LiveSession) handleImage(msg protocol.ClientImage) error {
	if s.handle == nil {
		return s.sendError("not_started", errMsgNotStarted)
	}
	frame, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return s.sendError("bad_request", "image.data must be base64")
	}
	if err := s.handle.SendImage(s.ctx, frame, msg.Mime); err != nil {
		s.logger.Warn("forward image failed", "error", err)
		return s.sendError("upstream_error", "failed to forward image")
	}
	return nil
}

func (s *LiveSession) handleUpstreamEvent(ev upstream.Event) (done bool, err error) {
	switch ev.Kind {
	case upstream.KindOpened:
		reconnected := s.state == stateReconnecting
		s.state = stateActive
		if reconnected {
			return false, s.sendStatus(statusListening)
		}
		return false, s.sendStatus(readyStatus(s.startParams.Model))
	case upstream.KindTextDelta:
		s.pendingResponse += ev.Text
		return false, s.sendJSON("model_text", protocol.ModelText(ev.Text))
	case upstream.KindTranscriptDelta:
		s.pendingTranscription += ev.Text
		return false, nil
	case upstream.KindAudioDelta:
		return false, s.sendJSON("model_audio", protocol.ModelAudio(base64.StdEncoding.EncodeToString(ev.Audio), ev.Mime))
	case upstream.KindTurnComplete:
		return false, s.commitTurn()
	case upstream.KindError:
		if s.metrics != nil {
			s.metrics.UpstreamErrors.Inc()
		}
		s.logger.Warn("upstream error", "error", ev.Err)
		if ev.Err != nil && upstream.IsAuthFailure(ev.Err.Error()) {
			return s.failAuth()
		}
		// Non-auth errors are reported but the session stays open.
		msg := "upstream error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return false, s.sendError("upstream_error", msg)
	case upstream.KindClosed:
		return s.handleUpstreamClosed(ev)
	default:
		return false, nil
	}
}

func (s *LiveSession) handleUpstreamClosed(ev upstream.Event) (done bool, err error) {
	if s.clientEnded || s.state == stateClosed {
		return true, nil
	}
	if upstream.IsAuthFailure(ev.Reason) {
		return s.failAuth()
	}
	s.logger.Info("upstream closed, reconnecting", "reason", ev.Reason)
	return s.reconnect()
}

// reconnect tries to restore the upstream connection with a bounded number
// of fixed-delay attempts. Only the Run goroutine calls it, so at most one
// reconnection is in flight per session.
func (s *LiveSession) reconnect() (done bool, err error) {
	s.state = stateReconnecting
	if err := s.sendStatus(statusReconnecting); err != nil {
		return true, err
	}

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		if s.cfg.ReconnectDelay > 0 {
			timer := time.NewTimer(s.cfg.ReconnectDelay)
			select {
			case <-timer.C:
			case <-s.ctx.Done():
				timer.Stop()
				return true, nil
			}
		}
		if s.metrics != nil {
			s.metrics.ReconnectAttempts.Inc()
		}

		handle, connErr := s.connector.Connect(s.ctx, s.startParams)
		if connErr != nil {
			s.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", connErr)
			if upstream.IsAuthFailure(connErr.Error()) {
				if s.metrics != nil {
					s.metrics.ReconnectOutcomes.WithLabelValues("auth_failed").Inc()
				}
				return s.failAuth()
			}
			continue
		}

		s.closeUpstream()
		s.handle = handle
		s.events = handle.Events()
		if s.metrics != nil {
			s.metrics.ReconnectOutcomes.WithLabelValues("recovered").Inc()
		}
		if replay := s.replayMessage(); replay != "" {
			if sendErr := handle.SendText(s.ctx, replay); sendErr != nil {
				s.logger.Warn("context replay failed", "error", sendErr)
			}
		}
		return false, nil
	}

	if s.metrics != nil {
		s.metrics.ReconnectOutcomes.WithLabelValues("exhausted").Inc()
	}
	s.state = stateClosed
	return true, s.sendStatus(statusClosed)
}

// replayMessage rebuilds conversation context from the committed turns so a
// fresh upstream connection can pick up where the old one dropped.
func (s *LiveSession) replayMessage() string {
	var questions []string
	for _, turn := range s.turns {
		if q := strings.TrimSpace(turn.Transcription); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return ""
	}
	return replayPreamble + strings.Join(questions, "\n")
}

func (s *LiveSession) failAuth() (done bool, err error) {
	s.state = stateClosed
	if err := s.sendError("unauthorized", errMsgBadAPIKey); err != nil {
		return true, err
	}
	return true, s.sendStatus(statusClosed)
}

// commitTurn pairs the buffered transcription with the buffered response.
// Both must be non-empty; a turn is never persisted half-filled.
func (s *LiveSession) commitTurn() error {
	transcription := strings.TrimSpace(s.pendingTranscription)
	response := strings.TrimSpace(s.pendingResponse)
	if transcription == "" || response == "" {
		return nil
	}

	turn := history.Turn{
		Timestamp:     s.now().UTC(),
		Transcription: transcription,
		Response:      response,
	}
	s.turns = append(s.turns, turn)
	if err := s.history.Append(s.ctx, s.sessionID, turn); err != nil {
		s.logger.Warn("history append failed", "error", err)
	}
	if s.metrics != nil {
		s.metrics.TurnsCommitted.Inc()
	}

	s.pendingTranscription = ""
	s.pendingResponse = ""
	return s.sendStatus(statusListening)
}

// Cancel aborts the session from outside the Run goroutine. Safe to call
// more than once.
func (s *LiveSession) Cancel() {
	s.cancel()
}

// Notify pushes a status frame to the client from outside the Run goroutine.
// The drain path uses it to announce impending shutdown.
func (s *LiveSession) Notify(message string) error {
	return s.sendStatus(message)
}

// Turns returns the turns committed so far, oldest first.
func (s *LiveSession) Turns() []history.Turn {
	out := make([]history.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *LiveSession) closeUpstream() {
	if s.handle != nil {
		_ = s.handle.Close()
	}
}

func (s *LiveSession) countClientFrame(frameType string) {
	if s.metrics != nil {
		s.metrics.ClientFrames.WithLabelValues(frameType).Inc()
	}
}

func (s *LiveSession) sendStatus(msg string) error {
	return s.sendJSON("status", protocol.Status(s.timestamp(), msg))
}

func (s *LiveSession) sendError(code, msg string) error {
	return s.sendJSON("error", protocol.Error(s.timestamp(), code, msg))
}

func (s *LiveSession) sendJSON(frameType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ServerFrames.WithLabelValues(frameType).Inc()
	}
	select {
	case s.outbound <- payload:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *LiveSession) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
