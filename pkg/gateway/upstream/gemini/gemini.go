// Package gemini speaks the Gemini Live (BidiGenerateContent) WebSocket
// protocol directly. The official SDK hides close codes and error text,
// which the gateway needs for auth-failure classification, so the wire
// format is implemented here on gorilla/websocket.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/upstream"
)

const (
	// DefaultEndpoint is the v1beta bidirectional generation endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultModel is used when a start frame omits the model.
	DefaultModel = "gemini-2.0-flash-live-001"

	defaultDialTimeout    = 15 * time.Second
	defaultSetupTimeout   = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultMaxMessageSize = 16 << 20
)

// Connector dials Gemini Live sessions. One Connector may serve many
// sessions; each Connect call produces an independent connection.
type Connector struct {
	APIKey   string
	Endpoint string

	DialTimeout  time.Duration
	SetupTimeout time.Duration
	WriteTimeout time.Duration

	Dialer *websocket.Dialer
}

func (c *Connector) Connect(ctx context.Context, params upstream.StartParams) (upstream.Handle, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = DefaultModel
	}

	dialTimeout := c.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}

	headers := http.Header{}
	headers.Set("x-goog-api-key", c.APIKey)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, endpoint, headers)
	if err != nil {
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}
	conn.SetReadLimit(defaultMaxMessageSize)

	writeTimeout := c.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	h := &liveHandle{
		conn:         conn,
		writeTimeout: writeTimeout,
		events:       make(chan upstream.Event, 32),
	}

	if err := h.sendSetup(model, params); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}
	if err := h.awaitSetupComplete(c.SetupTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	// Queue the ready event before the read loop can contribute, so it is
	// always the first event a session observes.
	h.events <- upstream.Event{Kind: upstream.KindOpened}
	go h.readLoop()
	return h, nil
}

type liveHandle struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	events chan upstream.Event
}

// Wire shapes per the BidiGenerateContent protocol. Only the fields the
// gateway uses are modeled.

type setupMessage struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model             string            `json:"model"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *inlineData `json:"audio,omitempty"`
	Video *inlineData `json:"video,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
}

type serverContent struct {
	ModelTurn          *content  `json:"modelTurn,omitempty"`
	InputTranscription *textPart `json:"inputTranscription,omitempty"`
	TurnComplete       bool      `json:"turnComplete,omitempty"`
	GenerationComplete bool      `json:"generationComplete,omitempty"`
	Interrupted        bool      `json:"interrupted,omitempty"`
}

type textPart struct {
	Text string `json:"text,omitempty"`
}

func (h *liveHandle) sendSetup(model string, params upstream.StartParams) error {
	body := setupBody{Model: "models/" + strings.TrimPrefix(model, "models/")}
	if len(params.ResponseModalities) > 0 {
		body.GenerationConfig = &generationConfig{ResponseModalities: params.ResponseModalities}
	}
	if instruction := strings.TrimSpace(params.SystemInstruction); instruction != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: instruction}}}
	}
	return h.writeJSON(setupMessage{Setup: body})
}

func (h *liveHandle) awaitSetupComplete(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultSetupTimeout
	}
	_ = h.conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = h.conn.SetReadDeadline(time.Time{}) }()

	_, data, err := h.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await setup: %w", err)
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode setup response: %w", err)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("setup not acknowledged")
	}
	return nil
}

func (h *liveHandle) SendText(ctx context.Context, text string) error {
	return h.writeJSON(clientContentMessage{
		ClientContent: clientContent{
			Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: true,
		},
	})
}

func (h *liveHandle) SendAudio(ctx context.Context, data []byte, mime string) error {
	return h.writeJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: &inlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(data)},
		},
	})
}

func (h *liveHandle) SendImage(ctx context.Context, data []byte, mime string) error {
	return h.writeJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Video: &inlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(data)},
		},
	})
}

func (h *liveHandle) Events() <-chan upstream.Event { return h.events }

func (h *liveHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.writeMu.Lock()
		_ = h.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(h.writeTimeout))
		h.writeMu.Unlock()
		_ = h.conn.Close()
	})
	return nil
}

func (h *liveHandle) writeJSON(v any) error {
	if h.closed.Load() {
		return fmt.Errorf("upstream connection is closed")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return h.conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *liveHandle) readLoop() {
	defer close(h.events)

	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			h.events <- closedEvent(err, h.closed.Load())
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.events <- upstream.Event{Kind: upstream.KindError, Err: fmt.Errorf("decode server message: %w", err)}
			continue
		}
		for _, ev := range translate(&msg) {
			h.events <- ev
		}
	}
}

// translate fans one server message out into gateway events, preserving part
// order within the message.
func translate(msg *serverMessage) []upstream.Event {
	if msg.ServerContent == nil {
		return nil
	}
	sc := msg.ServerContent

	var events []upstream.Event
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, upstream.Event{Kind: upstream.KindTranscriptDelta, Text: sc.InputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.Text != "" {
				events = append(events, upstream.Event{Kind: upstream.KindTextDelta, Text: p.Text})
			}
			if p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "audio/") {
				raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					events = append(events, upstream.Event{Kind: upstream.KindError, Err: fmt.Errorf("decode audio part: %w", err)})
					continue
				}
				events = append(events, upstream.Event{Kind: upstream.KindAudioDelta, Audio: raw, Mime: p.InlineData.MimeType})
			}
		}
	}
	if sc.TurnComplete || sc.GenerationComplete {
		events = append(events, upstream.Event{Kind: upstream.KindTurnComplete})
	}
	return events
}

func closedEvent(err error, localClose bool) upstream.Event {
	if localClose {
		return upstream.Event{Kind: upstream.KindClosed}
	}
	var reason string
	if ce, ok := err.(*websocket.CloseError); ok {
		reason = ce.Text
	} else if err != nil {
		reason = err.Error()
	}
	return upstream.Event{Kind: upstream.KindClosed, Reason: reason}
}
