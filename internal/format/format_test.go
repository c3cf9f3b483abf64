package format

import (
	"errors"
	"testing"
)

func TestMessageFraming(t *testing.T) {
	msg := AppendMessage(nil, 6, []byte("abc"))
	if len(msg) != MessageHeaderSize+3 {
		t.Fatalf("framed length = %d, want %d", len(msg), MessageHeaderSize+3)
	}
	h, err := DecodeMessageHeader(msg)
	if err != nil {
		t.Fatalf("DecodeMessageHeader: %v", err)
	}
	if h.Type != 6 || h.Length != 3 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if string(msg[MessageHeaderSize:]) != "abc" {
		t.Fatalf("payload = %q", msg[MessageHeaderSize:])
	}
}

func TestMessageHeaderNegativeType(t *testing.T) {
	h, err := DecodeMessageHeader(AppendMessage(nil, -1, nil))
	if err != nil {
		t.Fatalf("DecodeMessageHeader: %v", err)
	}
	if h.Type != -1 || h.Length != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestMessageHeaderTruncated(t *testing.T) {
	if _, err := DecodeMessageHeader(make([]byte, MessageHeaderSize-1)); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestMessageHeaderTooLarge(t *testing.T) {
	b := AppendMessage(nil, 0, nil)
	b[11] = 0x7f
	if _, err := DecodeMessageHeader(b); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestProbeMapHeader(t *testing.T) {
	b := AppendProbeMapHeader(nil, 42)
	if len(b) != ProbeMapHeaderSize {
		t.Fatalf("header length = %d", len(b))
	}
	h, err := DecodeProbeMapHeader(b)
	if err != nil {
		t.Fatalf("DecodeProbeMapHeader: %v", err)
	}
	if h.Count != 42 || h.Version != ProbeMapVersion {
		t.Fatalf("unexpected header: %+v", h)
	}

	bad := append([]byte(nil), b...)
	bad[0] = 'X'
	if _, err := DecodeProbeMapHeader(bad); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}

	bad = append([]byte(nil), b...)
	bad[4] = 9
	if _, err := DecodeProbeMapHeader(bad); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}

	if _, err := DecodeProbeMapHeader(b[:8]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
