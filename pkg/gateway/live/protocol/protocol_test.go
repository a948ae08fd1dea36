package protocol

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecodeStartDefaults(t *testing.T) {
	decoded, err := DecodeClientMessage([]byte(`{"type":"start"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(ClientStart)
	if !ok {
		t.Fatalf("expected ClientStart, got %T", decoded)
	}
	if len(msg.ResponseModalities) != 1 || msg.ResponseModalities[0] != ModalityText {
		t.Fatalf("expected default [TEXT], got %v", msg.ResponseModalities)
	}
}

func TestDecodeStartRejectsUnknownModality(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"start","responseModalities":["VIDEO"]}`))
	var de *DecodeError
	if !errors.As(err, &de) || de.Code != "bad_request" {
		t.Fatalf("expected bad_request DecodeError, got %v", err)
	}
}

func TestDecodeStartNormalizesModalityCase(t *testing.T) {
	decoded, err := DecodeClientMessage([]byte(`{"type":"start","responseModalities":["text","AUDIO"]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := decoded.(ClientStart)
	if msg.ResponseModalities[0] != ModalityText || msg.ResponseModalities[1] != ModalityAudio {
		t.Fatalf("got %v", msg.ResponseModalities)
	}
}

func TestDecodeBadJSON(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`not json`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Message != "Bad JSON" {
		t.Fatalf("expected Bad JSON message, got %q", de.Message)
	}
}

func TestDecodeMissingType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"text":"hi"}`))
	var de *DecodeError
	if !errors.As(err, &de) || de.Param != "type" {
		t.Fatalf("expected missing-type error, got %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"bogus"}`))
	var de *DecodeError
	if !errors.As(err, &de) || de.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %v", err)
	}
}

func TestDecodeTextRequiresText(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"text","text":"  "}`))
	var de *DecodeError
	if !errors.As(err, &de) || de.Param != "text" {
		t.Fatalf("expected text-required error, got %v", err)
	}
}

func TestDecodeAudioDefaultsMime(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	decoded, err := DecodeClientMessage([]byte(`{"type":"audio","data":"` + data + `"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := decoded.(ClientAudio)
	if msg.Mime != DefaultAudioMime {
		t.Fatalf("expected default mime %q, got %q", DefaultAudioMime, msg.Mime)
	}
}

func TestDecodeAudioRejectsBadBase64(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"audio","data":"!!!"}`))
	var de *DecodeError
	if !errors.As(err, &de) || de.Param != "data" {
		t.Fatalf("expected base64 error, got %v", err)
	}
}

func TestDecodeImageDefaultsMime(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8})
	decoded, err := DecodeClientMessage([]byte(`{"type":"image","data":"` + data + `"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := decoded.(ClientImage)
	if msg.Mime != DefaultImageMime {
		t.Fatalf("expected default mime %q, got %q", DefaultImageMime, msg.Mime)
	}
}

func TestDecodeFlushAndEnd(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":"flush"}`)); err != nil {
		t.Fatalf("flush should decode: %v", err)
	}
	if _, err := DecodeClientMessage([]byte(`{"type":"end"}`)); err != nil {
		t.Fatalf("end should decode: %v", err)
	}
}
