package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/symbiosisnm/Sales-Wizard/pkg/gateway/upstream"
)

// fakeLive upgrades one connection, acknowledges setup, and hands the raw
// conn to the test.
func fakeLive(t *testing.T, serve func(*websocket.Conn)) *Connector {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		var setup setupMessage
		if err := json.Unmarshal(data, &setup); err != nil {
			t.Errorf("decode setup: %v", err)
			return
		}
		if !strings.HasPrefix(setup.Setup.Model, "models/") {
			t.Errorf("model not namespaced: %q", setup.Setup.Model)
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
			t.Errorf("write setupComplete: %v", err)
			return
		}
		serve(conn)
	}))
	t.Cleanup(srv.Close)

	return &Connector{
		APIKey:   "test-key",
		Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func drainUntil(t *testing.T, events <-chan upstream.Event, kind upstream.EventKind) upstream.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for kind %d", kind)
		}
	}
}

func TestConnectHandshakeAndText(t *testing.T) {
	gotText := make(chan string, 1)
	conn := fakeLive(t, func(c *websocket.Conn) {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		var msg clientContentMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Errorf("decode clientContent: %v", err)
			return
		}
		if !msg.ClientContent.TurnComplete {
			t.Error("turnComplete not set on text send")
		}
		gotText <- msg.ClientContent.Turns[0].Parts[0].Text

		reply := `{"serverContent":{"modelTurn":{"parts":[{"text":"hi there"}]},"turnComplete":true}}`
		_ = c.WriteMessage(websocket.TextMessage, []byte(reply))
		time.Sleep(100 * time.Millisecond)
	})

	h, err := conn.Connect(context.Background(), upstream.StartParams{Model: "gemini-2.0-flash-live-001"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer h.Close()

	drainUntil(t, h.Events(), upstream.KindOpened)

	if err := h.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if got := <-gotText; got != "hello" {
		t.Fatalf("server saw %q", got)
	}

	if ev := drainUntil(t, h.Events(), upstream.KindTextDelta); ev.Text != "hi there" {
		t.Fatalf("text delta = %q", ev.Text)
	}
	drainUntil(t, h.Events(), upstream.KindTurnComplete)
}

func TestConnectSurfacesCloseReason(t *testing.T) {
	conn := fakeLive(t, func(c *websocket.Conn) {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "API key not valid"),
			time.Now().Add(time.Second))
	})

	h, err := conn.Connect(context.Background(), upstream.StartParams{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer h.Close()

	ev := drainUntil(t, h.Events(), upstream.KindClosed)
	if !upstream.IsAuthFailure(ev.Reason) {
		t.Fatalf("close reason %q not classified as auth failure", ev.Reason)
	}
}

func TestAudioRoundTrip(t *testing.T) {
	gotAudio := make(chan inlineData, 1)
	conn := fakeLive(t, func(c *websocket.Conn) {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		var msg realtimeInputMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.RealtimeInput.Audio == nil {
			t.Errorf("bad realtimeInput: %v %s", err, data)
			return
		}
		gotAudio <- *msg.RealtimeInput.Audio

		audio := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})
		reply := `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audio + `"}}]}}}`
		_ = c.WriteMessage(websocket.TextMessage, []byte(reply))
		time.Sleep(100 * time.Millisecond)
	})

	h, err := conn.Connect(context.Background(), upstream.StartParams{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer h.Close()

	chunk := []byte{0x10, 0x20, 0x30}
	if err := h.SendAudio(context.Background(), chunk, "audio/pcm;rate=16000"); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	sent := <-gotAudio
	if sent.MimeType != "audio/pcm;rate=16000" {
		t.Fatalf("sent mime = %q", sent.MimeType)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(sent.Data); string(decoded) != string(chunk) {
		t.Fatalf("sent data = %x", decoded)
	}

	ev := drainUntil(t, h.Events(), upstream.KindAudioDelta)
	if string(ev.Audio) != "\x01\x02" || ev.Mime != "audio/pcm;rate=24000" {
		t.Fatalf("audio delta = %x mime %q", ev.Audio, ev.Mime)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := fakeLive(t, func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	h, err := conn.Connect(context.Background(), upstream.StartParams{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := h.SendText(context.Background(), "late"); err == nil {
		t.Fatal("send after close should fail")
	}

	ev := drainUntil(t, h.Events(), upstream.KindClosed)
	if ev.Reason != "" {
		t.Fatalf("local close should carry no reason, got %q", ev.Reason)
	}
	if _, ok := <-h.Events(); ok {
		t.Fatal("event channel should be closed after terminal event")
	}
}

func TestTranslateTranscriptionDelta(t *testing.T) {
	raw := `{"serverContent":{"inputTranscription":{"text":"how do"}}}`
	var msg serverMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	events := translate(&msg)
	if len(events) != 1 || events[0].Kind != upstream.KindTranscriptDelta || events[0].Text != "how do" {
		t.Fatalf("events = %+v", events)
	}
}
