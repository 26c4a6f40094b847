package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
)

var ErrEmptyKey = errors.New("signing key is empty")

// Signer produces and checks MACs over a canonical message. Implementations
// may hold the key locally or delegate to a keyed service that never
// exposes it.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	Verify(ctx context.Context, message, signature []byte) (bool, error)
}

type HMACSigner struct {
	key     []byte
	newHash func() hash.Hash
}

// NewHMACSigner returns a local HMAC-SHA256 signer.
func NewHMACSigner(key string) (*HMACSigner, error) {
	return newHMACSigner(key, sha256.New)
}

// NewLocalMACSigner returns an HMAC-SHA512 signer with the same output shape
// as the delegated backend. Useful for development without a key service.
func NewLocalMACSigner(key string) (*HMACSigner, error) {
	return newHMACSigner(key, sha512.New)
}

func newHMACSigner(key string, h func() hash.Hash) (*HMACSigner, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &HMACSigner{key: []byte(key), newHash: h}, nil
}

func (s *HMACSigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	return s.sum(message), nil
}

func (s *HMACSigner) Verify(_ context.Context, message, signature []byte) (bool, error) {
	return hmac.Equal(s.sum(message), signature), nil
}

func (s *HMACSigner) sum(message []byte) []byte {
	m := hmac.New(s.newHash, s.key)
	m.Write(message)
	return m.Sum(nil)
}
