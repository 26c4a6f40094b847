package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/http/middleware"
	"github.com/calendarhub/intake/internal/http/render"
	"github.com/calendarhub/intake/internal/security"
	"github.com/calendarhub/intake/internal/service"
)

var (
	alphaSite = domain.Site{
		Slug:            "alpha",
		Name:            "Alpha Events",
		GitHubRepo:      "calendarhub/alpha-site",
		ContactListName: "newsletters",
		TopicName:       "alpha",
	}
	betaSite = domain.Site{Slug: "beta", Name: "Beta Meetups", GitHubRepo: "calendarhub/beta-site"}
)

type stubSubmissionService struct {
	createEventsFn func(ctx context.Context, site domain.Site, in service.EventSubmissionInput) (*domain.Submission, error)
	createGroupsFn func(ctx context.Context, site domain.Site, in service.MeetupSubmissionInput) (*domain.Submission, error)
	createFeedFn   func(ctx context.Context, site domain.Site, in service.ICalSubmissionInput) (*domain.Submission, error)
	getFn          func(ctx context.Context, id, siteSlug string) (*domain.Submission, error)
	confirmFn      func(ctx context.Context, id string, site domain.Site) (domain.Artifact, error)
}

func (s *stubSubmissionService) CreateEvents(ctx context.Context, site domain.Site, in service.EventSubmissionInput) (*domain.Submission, error) {
	return s.createEventsFn(ctx, site, in)
}

func (s *stubSubmissionService) CreateMeetupGroups(ctx context.Context, site domain.Site, in service.MeetupSubmissionInput) (*domain.Submission, error) {
	return s.createGroupsFn(ctx, site, in)
}

func (s *stubSubmissionService) CreateICalFeed(ctx context.Context, site domain.Site, in service.ICalSubmissionInput) (*domain.Submission, error) {
	return s.createFeedFn(ctx, site, in)
}

func (s *stubSubmissionService) Get(ctx context.Context, id, siteSlug string) (*domain.Submission, error) {
	return s.getFn(ctx, id, siteSlug)
}

func (s *stubSubmissionService) Confirm(ctx context.Context, id string, site domain.Site) (domain.Artifact, error) {
	return s.confirmFn(ctx, id, site)
}

type stubNewsletterService struct {
	signupFn             func(ctx context.Context, site domain.Site, email string) error
	previewConfirmFn     func(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error)
	confirmFn            func(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error)
	previewUnsubscribeFn func(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error)
	unsubscribeFn        func(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error)
	feedbackFn           func(ctx context.Context, site domain.Site, n service.FeedbackNotification) (int, error)
}

func (s *stubNewsletterService) Signup(ctx context.Context, site domain.Site, email string) error {
	return s.signupFn(ctx, site, email)
}

func (s *stubNewsletterService) PreviewConfirm(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error) {
	return s.previewConfirmFn(ctx, site, link)
}

func (s *stubNewsletterService) Confirm(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error) {
	return s.confirmFn(ctx, site, link)
}

func (s *stubNewsletterService) PreviewUnsubscribe(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error) {
	return s.previewUnsubscribeFn(ctx, site, link)
}

func (s *stubNewsletterService) Unsubscribe(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error) {
	return s.unsubscribeFn(ctx, site, link)
}

func (s *stubNewsletterService) HandleFeedback(ctx context.Context, site domain.Site, n service.FeedbackNotification) (int, error) {
	return s.feedbackFn(ctx, site, n)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCSRF(t *testing.T) *security.CSRFManager {
	t.Helper()
	m, err := security.NewCSRFManager("handler-test-csrf-secret", 0)
	if err != nil {
		t.Fatalf("NewCSRFManager: %v", err)
	}
	return m
}

func testViews(t *testing.T) *render.Renderer {
	t.Helper()
	views, err := render.New()
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	return views
}

func issueToken(t *testing.T, m *security.CSRFManager) string {
	t.Helper()
	tok, _, err := m.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

// siteRouter mounts routes under a chi router with site resolution, the same
// way the application router does.
func siteRouter(mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	sites := domain.NewSiteDirectory([]domain.Site{alphaSite, betaSite})
	r.Group(func(r chi.Router) {
		r.Use(middleware.ResolveSite(sites))
		mount(r)
	})
	return r
}

func doRequest(h http.Handler, method, target, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelopeBody {
	t.Helper()
	var env envelopeBody
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rr.Body.String())
	}
	return env
}
