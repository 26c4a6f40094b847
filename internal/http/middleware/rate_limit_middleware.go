package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calendarhub/intake/internal/http/response"
)

// Limiter counts hits for key inside a fixed window. retryAfter is only
// meaningful when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// FailureMode decides what happens to a request when the Limiter errors.
type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// Policy configures a RateLimiter. Zero Mode means FailClosed, empty Scope
// means "forms" and a nil Key means ClientIPKey.
type Policy struct {
	Limit  int
	Window time.Duration
	Mode   FailureMode
	Scope  string
	Key    func(r *http.Request) string
}

// RateLimiter throttles state-changing form posts per client.
type RateLimiter struct {
	backend Limiter
	policy  Policy
}

// NewRateLimiter wraps backend with policy. A nil backend counts in process.
func NewRateLimiter(backend Limiter, policy Policy) *RateLimiter {
	if backend == nil {
		backend = NewLocalFixedWindowLimiter()
	}
	if policy.Mode == "" {
		policy.Mode = FailClosed
	}
	if policy.Scope == "" {
		policy.Scope = "forms"
	}
	if policy.Key == nil {
		policy.Key = ClientIPKey
	}
	return &RateLimiter{backend: backend, policy: policy}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	p := rl.policy
	reject := func(w http.ResponseWriter, r *http.Request, retry time.Duration) {
		w.Header().Set("Retry-After", retryAfterSeconds(retry))
		response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests", nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := p.Key(r)
			if key == "" {
				key = ClientIPKey(r)
			}
			allowed, retry, err := rl.backend.Allow(r.Context(), p.Scope+":"+key, p.Limit, p.Window)
			switch {
			case err != nil && p.Mode == FailOpen:
				slog.WarnContext(r.Context(), "form rate limiter unavailable, letting request through",
					"scope", p.Scope,
					"error", err.Error(),
				)
				next.ServeHTTP(w, r)
			case err != nil:
				reject(w, r, p.Window)
			case !allowed:
				reject(w, r, retry)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// SiteAndIPKey scopes the limit to the site slug in the path as well as the
// client address, so one noisy tenant does not lock out another.
func SiteAndIPKey(r *http.Request) string {
	site, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	return site + ":" + ClientIPKey(r)
}

// ClientIPKey keys on the connection address only. Forwarded headers are
// resolved into RemoteAddr by the router's RealIP middleware.
func ClientIPKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

type counter struct {
	hits  int
	start time.Time
}

type localFixedWindowLimiter struct {
	mu        sync.Mutex
	windows   map[string]*counter
	nextSweep time.Time
	now       func() time.Time
}

// NewLocalFixedWindowLimiter keeps counters in memory. Counts are not shared
// across instances.
func NewLocalFixedWindowLimiter() Limiter {
	return &localFixedWindowLimiter{
		windows:   map[string]*counter{},
		nextSweep: time.Now().Add(time.Minute),
		now:       time.Now,
	}
}

func (l *localFixedWindowLimiter) Allow(_ context.Context, key string, limit int, size time.Duration) (bool, time.Duration, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, w := range l.windows {
			if now.Sub(w.start) > 2*size {
				delete(l.windows, k)
			}
		}
		l.nextSweep = now.Add(size)
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= size {
		l.windows[key] = &counter{hits: 1, start: now}
		return true, 0, nil
	}
	if w.hits >= limit {
		return false, max(size-now.Sub(w.start), 0), nil
	}
	w.hits++
	return true, 0, nil
}
