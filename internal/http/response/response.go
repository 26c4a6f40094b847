// Package response writes the JSON bodies returned to API clients: a
// success/error envelope by default, RFC 7807 problem details on request.
package response

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeAlreadyProcessed     = "ALREADY_PROCESSED"
	CodeSiteMismatch         = "SITE_MISMATCH"
	CodeInvalidLink          = "INVALID_OR_EXPIRED_LINK"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL"
)

const (
	contentJSON    = "application/json"
	contentProblem = "application/problem+json"
)

var titles = map[string]string{
	CodeBadRequest:           "Bad Request",
	CodeValidationFailed:     "Validation Failed",
	CodeForbidden:            "Forbidden",
	CodeNotFound:             "Not Found",
	CodeAlreadyProcessed:     "Already Processed",
	CodeSiteMismatch:         "Site Mismatch",
	CodeInvalidLink:          "Invalid or Expired Link",
	CodeUnsupportedMediaType: "Unsupported Media Type",
	CodeRateLimited:          "Too Many Requests",
	CodeInternal:             "Internal Server Error",
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
	Meta    meta       `json:"meta"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
	Errors    any    `json:"errors,omitempty"`
}

// MessageBody is the data payload of human-readable acknowledgements.
type MessageBody struct {
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, contentJSON, envelope{Success: true, Data: data, Meta: metaFor(r)})
}

func Message(w http.ResponseWriter, r *http.Request, status int, message string) {
	JSON(w, r, status, MessageBody{Message: message})
}

// Error writes a failure. details carries field errors and lands under
// error.details in the envelope or errors in a problem document.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	m := metaFor(r)
	if !acceptsProblem(r) {
		write(w, status, contentJSON, envelope{
			Error: &errorBody{Code: code, Message: message, Details: details},
			Meta:  m,
		})
		return
	}
	write(w, status, contentProblem, problem{
		Type:      problemType(code),
		Title:     problemTitle(code, status),
		Status:    status,
		Detail:    message,
		Instance:  r.URL.Path,
		Code:      code,
		RequestID: m.RequestID,
		Errors:    details,
	})
}

// WantsJSON reports whether the client asked for a JSON reply rather than a
// rendered page.
func WantsJSON(r *http.Request) bool {
	if r.Header.Get("HX-Request") == "true" {
		return false
	}
	if ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && ct == contentJSON {
		return true
	}
	accept := strings.ToLower(r.Header.Get("Accept"))
	return strings.Contains(accept, contentJSON) || strings.Contains(accept, contentProblem)
}

func write(w http.ResponseWriter, status int, contentType string, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func metaFor(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}

// acceptsProblem is true when Accept lists problem+json with a non-zero q.
func acceptsProblem(r *http.Request) bool {
	for _, item := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(item))
		if err != nil || mediaType != contentProblem {
			continue
		}
		q, err := strconv.ParseFloat(params["q"], 64)
		if params["q"] == "" || (err == nil && q > 0) {
			return true
		}
	}
	return false
}

func problemType(code string) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), "_", "-")
	if slug == "" {
		slug = "unknown"
	}
	return "urn:problem:intake:" + slug
}

func problemTitle(code string, status int) string {
	if t, ok := titles[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t
	}
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "Error"
}
