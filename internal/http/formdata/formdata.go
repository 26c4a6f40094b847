// Package formdata normalizes JSON and form-encoded request bodies into one
// Source so handlers read fields the same way regardless of encoding.
package formdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
)

const MaxBodyBytes = 1 << 20

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMalformedBody        = errors.New("malformed request body")
)

type Source interface {
	CSRFToken() string
	// Field returns a top-level string value, or "" when absent or not a string.
	Field(name string) string
	// Decode fills dst using its json tags.
	Decode(dst any) error
}

// Parse accepts application/json and application/x-www-form-urlencoded.
func Parse(r *http.Request) (Source, error) {
	switch mediaType(r) {
	case "application/json":
		return parseJSON(r)
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return parseForm(r)
	default:
		return nil, ErrUnsupportedMediaType
	}
}

// ParseJSON accepts application/json only.
func ParseJSON(r *http.Request) (Source, error) {
	if mediaType(r) != "application/json" {
		return nil, ErrUnsupportedMediaType
	}
	return parseJSON(r)
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

type jsonSource struct {
	raw    []byte
	fields map[string]json.RawMessage
}

func parseJSON(r *http.Request) (Source, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedBody)
	}
	return &jsonSource{raw: raw, fields: fields}, nil
}

func (s *jsonSource) CSRFToken() string { return s.Field("csrf_token") }

func (s *jsonSource) Field(name string) string {
	v, ok := s.fields[name]
	if !ok {
		return ""
	}
	var str string
	if err := json.Unmarshal(v, &str); err != nil {
		return ""
	}
	return str
}

func (s *jsonSource) Decode(dst any) error {
	if err := json.NewDecoder(bytes.NewReader(s.raw)).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}

type formSource struct {
	values url.Values
}

func parseForm(r *http.Request) (Source, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	if mediaType(r) == "multipart/form-data" {
		if err := r.ParseMultipartForm(MaxBodyBytes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return &formSource{values: r.PostForm}, nil
}

func (s *formSource) CSRFToken() string { return s.values.Get("csrf_token") }

func (s *formSource) Field(name string) string { return s.values.Get(name) }

// Decode maps single-valued form fields onto dst through a JSON round trip,
// so the same struct tags serve both encodings. Nested fields are not
// supported in form posts.
func (s *formSource) Decode(dst any) error {
	flat := make(map[string]string, len(s.values))
	for k := range s.values {
		flat[k] = s.values.Get(k)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}
