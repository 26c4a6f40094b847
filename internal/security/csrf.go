package security

import (
	"context"
	"crypto/hmac"
	"strconv"
	"strings"
	"time"
)

const DefaultCSRFTTL = time.Hour

// CSRFManager issues self-verifying tokens of the form nonce:expiry:signature.
// Tokens are not tracked after issuance, so replay inside the TTL is accepted.
type CSRFManager struct {
	signer *HMACSigner
	ttl    time.Duration
	now    func() time.Time
}

func NewCSRFManager(secret string, ttl time.Duration) (*CSRFManager, error) {
	signer, err := NewHMACSigner(secret)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultCSRFTTL
	}
	return &CSRFManager{signer: signer, ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source. Intended for tests.
func (m *CSRFManager) WithClock(now func() time.Time) *CSRFManager {
	m.now = now
	return m
}

func (m *CSRFManager) Issue() (string, time.Time, error) {
	nonce, err := NewRandomHex(16)
	if err != nil {
		return "", time.Time{}, err
	}
	expiry := m.now().Add(m.ttl).Unix()
	message := nonce + ":" + strconv.FormatInt(expiry, 10)
	return message + ":" + m.signature(message), time.Unix(expiry, 0).UTC(), nil
}

func (m *CSRFManager) Validate(token string) bool {
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return false
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return false
	}
	if m.now().Unix() > expiry {
		return false
	}
	expected := m.signature(parts[0] + ":" + parts[1])
	return hmac.Equal([]byte(expected), []byte(parts[2]))
}

func (m *CSRFManager) signature(message string) string {
	sig, _ := m.signer.Sign(context.Background(), []byte(message))
	return EncodeBytes(sig)
}
