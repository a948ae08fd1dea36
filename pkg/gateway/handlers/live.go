package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/config"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/history"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/live/session"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/live/sessions"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/metrics"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/mw"
	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/upstream"
)

// LiveHandler upgrades /live requests and runs one session per connection.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Connector    upstream.Connector
	History      history.Sink
	Metrics      *metrics.Metrics
	LiveSessions *sessions.Tracker
	Draining     *atomic.Bool
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if h.Draining != nil && h.Draining.Load() {
		mw.WriteJSONError(w, http.StatusServiceUnavailable, "draining", "gateway is draining")
		return
	}
	if !h.originAllowed(r) {
		mw.WriteJSONError(w, http.StatusForbidden, "forbidden", "origin is not allowed")
		return
	}
	if !h.tokenAllowed(r) {
		mw.WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid auth token")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := "s_" + uuid.NewString()
	requestID, _ := mw.RequestIDFrom(r.Context())

	s, err := session.New(session.Dependencies{
		Conn:         conn,
		Logger:       h.Logger,
		Connector:    h.Connector,
		History:      h.History,
		Metrics:      h.Metrics,
		SessionID:    sessionID,
		RequestID:    requestID,
		DefaultModel: h.Config.DefaultModel,
		Config: session.Config{
			MaxMessageBytes:      h.Config.LiveMaxMessageBytes,
			ReadTimeout:          h.Config.LiveWSReadTimeout,
			WriteTimeout:         h.Config.LiveWSWriteTimeout,
			PingInterval:         h.Config.LiveWSPingInterval,
			OutboundQueueSize:    h.Config.LiveOutboundQueue,
			MaxReconnectAttempts: h.Config.ReconnectMaxAttempts,
			ReconnectDelay:       h.Config.ReconnectDelay,
			VADEnabled:           h.Config.VADEnabled,
			VADEnterThreshold:    h.Config.VADEnterThreshold,
			VADHysteresis:        h.Config.VADHysteresis,
			VADKeepAlive:         h.Config.VADKeepAlive,
		},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("failed to initialize live session", "error", err)
		}
		return
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(sessionID, sessions.Handle{
			Cancel: s.Cancel,
			Notify: s.Notify,
		})
	}
	defer unregister()

	if h.Metrics != nil {
		h.Metrics.ActiveSessions.Inc()
		defer h.Metrics.ActiveSessions.Dec()
	}

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error",
				"session_id", sessionID, "request_id", requestID, "error", err)
		}
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.AllowedOrigins) == 0 {
		return true
	}
	_, ok := h.Config.AllowedOrigins[origin]
	return ok
}

// tokenAllowed checks the shared token from the X-Auth-Token header or the
// auth_token query parameter. Browsers cannot set WebSocket headers, hence
// the query fallback.
func (h LiveHandler) tokenAllowed(r *http.Request) bool {
	want := strings.TrimSpace(h.Config.AuthToken)
	if want == "" {
		return true
	}
	got := strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	if got == "" {
		got = strings.TrimSpace(r.URL.Query().Get("auth_token"))
	}
	return got == want
}
