package router

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/http/handler"
	"github.com/calendarhub/intake/internal/http/middleware"
	"github.com/calendarhub/intake/internal/http/render"
	"github.com/calendarhub/intake/internal/security"
)

func testRouter(t *testing.T, formLimit int) http.Handler {
	t.Helper()
	views, err := render.New()
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	csrf, err := security.NewCSRFManager("router-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewCSRFManager: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sites := domain.NewSiteDirectory([]domain.Site{
		{Slug: "alpha", Name: "Alpha Events", ContactListName: "newsletters", TopicName: "alpha"},
		{Slug: "beta", Name: "Beta Meetups"},
	})
	return NewRouter(Dependencies{
		Sites:             sites,
		SubmissionHandler: handler.NewSubmissionHandler(nil, csrf, views, logger),
		NewsletterHandler: handler.NewNewsletterHandler(nil, csrf, views, "secret", logger),
		FormRateLimiter:   middleware.NewRateLimiter(nil, middleware.Policy{Limit: formLimit, Window: time.Minute}).Middleware(),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
		Logger: logger,
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestRoutes(t *testing.T) {
	h := testRouter(t, 10)
	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/health", wantStatus: http.StatusOK, wantBody: `"healthy"`},
		{path: "/metrics", wantStatus: http.StatusOK, wantBody: "# metrics"},
		{path: "/alpha", wantStatus: http.StatusOK, wantBody: "/alpha/submit"},
		{path: "/alpha/submit", wantStatus: http.StatusOK, wantBody: "csrf_token"},
		{path: "/beta/meetup", wantStatus: http.StatusOK, wantBody: "Beta Meetups"},
		{path: "/beta/ical", wantStatus: http.StatusOK, wantBody: "iCal"},
		{path: "/gamma/submit", wantStatus: http.StatusNotFound, wantBody: "Site not found"},
		{path: "/newsletter", wantStatus: http.StatusOK, wantBody: "/newsletter/signup"},
		{path: "/alpha/newsletter", wantStatus: http.StatusOK, wantBody: "/alpha/newsletter/signup"},
		{path: "/beta/newsletter", wantStatus: http.StatusNotFound, wantBody: "Newsletter not available"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rr := get(h, tc.path)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d body=%s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tc.wantBody) {
				t.Fatalf("expected body to contain %q: %s", tc.wantBody, rr.Body.String())
			}
		})
	}
}

func TestRootRedirectsToDefaultSite(t *testing.T) {
	rr := get(testRouter(t, 10), "/")
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/alpha" {
		t.Fatalf("expected redirect to /alpha, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestEveryResponseIsNoIndex(t *testing.T) {
	h := testRouter(t, 10)
	for _, path := range []string{"/health", "/alpha/submit", "/missing/page/here"} {
		rr := get(h, path)
		if rr.Header().Get("X-Robots-Tag") != "noindex, nofollow" {
			t.Fatalf("%s: missing X-Robots-Tag", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: missing security headers", path)
		}
	}
}

func TestFormPostsAreRateLimited(t *testing.T) {
	h := testRouter(t, 1)
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/alpha/submit", strings.NewReader(`{"csrf_token":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.9:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}
	if rr := post(); rr.Code != http.StatusForbidden {
		t.Fatalf("first post: expected csrf rejection, got %d", rr.Code)
	}
	rr := post()
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("second post: expected 429 with Retry-After, got %d", rr.Code)
	}
	if rr := get(h, "/alpha/submit"); rr.Code != http.StatusOK {
		t.Fatalf("GET must bypass the limiter, got %d", rr.Code)
	}
}
