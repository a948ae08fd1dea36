// Package protocol defines the JSON frames exchanged with live clients and
// their validation rules. Decoding is strict about the envelope and required
// fields; everything else is the session's business.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ModalityText  = "TEXT"
	ModalityAudio = "AUDIO"

	DefaultAudioMime = "audio/pcm;rate=16000"
	DefaultImageMime = "image/jpeg"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientStart opens the upstream session for this connection.
type ClientStart struct {
	Type               string   `json:"type"`
	Model              string   `json:"model,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	SystemInstruction  string   `json:"systemInstruction,omitempty"`
}

// ClientText is a complete user turn.
type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientAudio carries one base64 PCM16 chunk of realtime input.
type ClientAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Mime string `json:"mime,omitempty"`
}

// ClientImage carries one base64 image frame of realtime input.
type ClientImage struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Mime string `json:"mime,omitempty"`
}

// ClientFlush is reserved for forcing a turn boundary; currently a no-op.
type ClientFlush struct {
	Type string `json:"type"`
}

// ClientEnd tears the session down. Idempotent.
type ClientEnd struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one inbound frame into its typed form.
// Malformed JSON, a missing type, an unknown type, and missing required
// fields all come back as *DecodeError with code bad_request.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("Bad JSON", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "start":
		var msg ClientStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		if err := validateStart(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text is required", "text")
		}
		return msg, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
			return nil, badRequest("audio.data must be base64", "data")
		}
		if strings.TrimSpace(msg.Mime) == "" {
			msg.Mime = DefaultAudioMime
		}
		return msg, nil
	case "image":
		var msg ClientImage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid image frame", "")
		}
		if strings.TrimSpace(msg.Data) == "" {
			return nil, badRequest("image.data is required", "data")
		}
		if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
			return nil, badRequest("image.data must be base64", "data")
		}
		if strings.TrimSpace(msg.Mime) == "" {
			msg.Mime = DefaultImageMime
		}
		return msg, nil
	case "flush":
		return ClientFlush{Type: typ}, nil
	case "end":
		return ClientEnd{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func validateStart(msg *ClientStart) error {
	msg.Model = strings.TrimSpace(msg.Model)
	if len(msg.ResponseModalities) == 0 {
		msg.ResponseModalities = []string{ModalityText}
		return nil
	}
	for i, m := range msg.ResponseModalities {
		switch strings.ToUpper(strings.TrimSpace(m)) {
		case ModalityText:
			msg.ResponseModalities[i] = ModalityText
		case ModalityAudio:
			msg.ResponseModalities[i] = ModalityAudio
		default:
			return badRequest("responseModalities entries must be TEXT or AUDIO",
				fmt.Sprintf("responseModalities[%d]", i))
		}
	}
	return nil
}

// ServerStatus is an informational lifecycle frame.
type ServerStatus struct {
	Type string `json:"type"`
	TS   string `json:"ts,omitempty"`
	Msg  string `json:"msg"`
}

// ServerError reports a recoverable or terminal failure to the client.
type ServerError struct {
	Type string `json:"type"`
	TS   string `json:"ts,omitempty"`
	Code string `json:"code,omitempty"`
	Msg  string `json:"msg"`
}

// ServerModelText is one incremental model text delta.
type ServerModelText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerModelAudio is one synthesized audio chunk, forwarded as received.
type ServerModelAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Mime string `json:"mime"`
}

func Status(ts, msg string) ServerStatus {
	return ServerStatus{Type: "status", TS: ts, Msg: msg}
}

func Error(ts, code, msg string) ServerError {
	return ServerError{Type: "error", TS: ts, Code: code, Msg: msg}
}

func ModelText(text string) ServerModelText {
	return ServerModelText{Type: "model_text", Text: text}
}

func ModelAudio(dataB64, mime string) ServerModelAudio {
	return ServerModelAudio{Type: "model_audio", Data: dataB64, Mime: mime}
}
