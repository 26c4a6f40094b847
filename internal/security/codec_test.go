package security

import (
	"errors"
	"strings"
	"testing"
)

func TestSegmentRoundTripRestoresPadding(t *testing.T) {
	for _, in := range []string{"a", "ab", "abc", "abcd", "user+tag@example.org", "1717200000"} {
		enc := EncodeSegment(in)
		if strings.Contains(enc, "=") {
			t.Fatalf("encoded segment %q carries padding", enc)
		}
		got, err := DecodeSegment(enc)
		if err != nil {
			t.Fatalf("decode %q: %v", enc, err)
		}
		if got != in {
			t.Fatalf("round trip mismatch: got %q want %q", got, in)
		}
	}
}

func TestDecodeSegmentRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"bad alphabet": "ab$d",
		"only padding": "==",
		"inner pad":    "Y=Q",
		"not utf8":     EncodeBytes([]byte{0xff, 0xfe, 0xfd}),
		"single char":  "Y",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeSegment(in); !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode for %q, got %v", in, err)
			}
		})
	}
}

func TestDecodeSegmentAcceptsExistingPadding(t *testing.T) {
	for in, want := range map[string]string{"YQ==": "a", "YQ=": "a", "YWI=": "ab", "YWI": "ab"} {
		got, err := DecodeSegment(in)
		if err != nil || got != want {
			t.Fatalf("decode %q: got %q err=%v, want %q", in, got, err, want)
		}
	}
}

func TestDecodeBytesStrictTrailingBits(t *testing.T) {
	// "YR" decodes to 'a' only under lenient decoding; the unused bits are non-zero.
	if _, err := DecodeBytes("YR"); err == nil {
		t.Fatal("expected strict decoder to reject non-zero trailing bits")
	}
	if _, err := DecodeBytes("YQ"); err != nil {
		t.Fatalf("expected canonical segment to decode: %v", err)
	}
}

func TestNewRandomHexLength(t *testing.T) {
	a, err := NewRandomHex(16)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewRandomHex(16)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected nonces %q %q", a, b)
	}
}
