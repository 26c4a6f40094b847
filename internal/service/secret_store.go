package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	ErrSecretNotFound     = errors.New("secret not found")
	ErrSecretAccessDenied = errors.New("secret access denied")
)

// SecretStore resolves a named secret to its string value.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

var envSecretSanitizer = regexp.MustCompile(`[^A-Z0-9]+`)

// EnvSecretStore reads secrets from SECRET_<NAME> environment variables,
// where NAME is the upper-cased secret name with separators folded to "_".
type EnvSecretStore struct {
	lookup func(string) (string, bool)
}

func NewEnvSecretStore() *EnvSecretStore {
	return &EnvSecretStore{lookup: os.LookupEnv}
}

func EnvSecretKey(name string) string {
	key := envSecretSanitizer.ReplaceAllString(strings.ToUpper(name), "_")
	return "SECRET_" + strings.Trim(key, "_")
}

func (s *EnvSecretStore) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := s.lookup(EnvSecretKey(name))
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

// SecretValue extracts a value from a raw secret string. JSON objects are
// searched for key; anything else is returned as is.
func SecretValue(raw, key string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return trimmed, nil
	}
	v, ok := doc[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: key %q missing from secret", ErrSecretNotFound, key)
	}
	return v, nil
}

// LoadSecretValue fetches name and extracts key from it.
func LoadSecretValue(ctx context.Context, store SecretStore, name, key string) (string, error) {
	raw, err := store.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	return SecretValue(raw, key)
}
