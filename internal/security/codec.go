package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrDecode is returned for segments that are not valid URL-safe base64 or
// do not carry UTF-8 text.
var ErrDecode = errors.New("invalid encoded segment")

var segmentEncoding = base64.URLEncoding.Strict()

// EncodeSegment encodes s as URL-safe base64 without padding so it can be
// used as a single path segment.
func EncodeSegment(s string) string {
	return EncodeBytes([]byte(s))
}

func EncodeBytes(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeSegment reverses EncodeSegment. Padding is optional: missing
// padding is restored and existing trailing padding is accepted.
func DecodeSegment(seg string) (string, error) {
	b, err := DecodeBytes(seg)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: payload is not utf-8", ErrDecode)
	}
	return string(b), nil
}

func DecodeBytes(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if seg == "" || strings.ContainsAny(seg, "=\r\n") {
		return nil, ErrDecode
	}
	if rem := len(seg) % 4; rem != 0 {
		seg += strings.Repeat("=", 4-rem)
	}
	b, err := segmentEncoding.DecodeString(seg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}

func NewRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
