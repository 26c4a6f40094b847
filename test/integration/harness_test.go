package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/calendarhub/intake/internal/database"
	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/http/handler"
	"github.com/calendarhub/intake/internal/http/middleware"
	"github.com/calendarhub/intake/internal/http/render"
	"github.com/calendarhub/intake/internal/http/router"
	"github.com/calendarhub/intake/internal/repository"
	"github.com/calendarhub/intake/internal/security"
	"github.com/calendarhub/intake/internal/service"
)

const publicBaseURL = "https://intake.example.org"

var csrfFieldPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type countingPublisher struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *countingPublisher) Name() string { return "counting" }

func (p *countingPublisher) Publish(_ context.Context, site domain.Site, sub domain.Submission) (domain.Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[sub.ID]++
	return domain.Artifact{URL: "https://github.com/" + site.RepoName() + "/pull/" + sub.ID[:8]}, nil
}

func (p *countingPublisher) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

type harness struct {
	handler   http.Handler
	mail      *service.DevEmailService
	publisher *countingPublisher
}

func testSites() []domain.Site {
	return []domain.Site{
		{Slug: "alpha", Name: "Alpha Events", GitHubRepo: "acme/alpha-events", ContactListName: "alpha-list", TopicName: "weekly", TemplateName: "alpha-newsletter"},
		{Slug: "beta", Name: "Beta Events", GitHubRepo: "acme/beta-events"},
	}
}

func newHarness(t *testing.T, limit func(http.Handler) http.Handler) *harness {
	t.Helper()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mail := service.NewDevEmailService(discard)
	pub := &countingPublisher{calls: map[string]int{}}
	validator := service.NewValidator()
	submissions := service.NewSubmissionService(
		repository.NewGormSubmissionRepository(db),
		service.PublisherSet{domain.PublisherGitHub: pub},
		mail,
		validator,
		service.SubmissionServiceConfig{PublicBaseURL: publicBaseURL, SenderEmail: "noreply@example.org", ClaimTTL: time.Minute},
		discard,
	)
	signer, err := security.NewLocalMACSigner("integration-signing-key-0001")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	newsletter := service.NewNewsletterService(
		security.NewLinkProtocol(signer, 6*time.Hour),
		mail,
		validator,
		service.NewsletterServiceConfig{PublicBaseURL: publicBaseURL, SenderEmail: "noreply@example.org"},
		discard,
	)

	views, err := render.New()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	formCSRF, err := security.NewCSRFManager("integration-form-csrf-secret-0001", time.Hour)
	if err != nil {
		t.Fatalf("csrf: %v", err)
	}
	newsletterCSRF, err := security.NewCSRFManager("integration-newsletter-csrf-0001", time.Hour)
	if err != nil {
		t.Fatalf("csrf: %v", err)
	}
	if limit == nil {
		limit = middleware.NewRateLimiter(nil, middleware.Policy{Limit: 1000, Window: time.Minute}).Middleware()
	}

	h := router.NewRouter(router.Dependencies{
		Sites:             domain.NewSiteDirectory(testSites()),
		SubmissionHandler: handler.NewSubmissionHandler(submissions, formCSRF, views, discard),
		NewsletterHandler: handler.NewNewsletterHandler(newsletter, newsletterCSRF, views, "integration-feedback-secret", discard),
		FormRateLimiter:   limit,
		Logger:            discard,
	})
	return &harness{handler: h, mail: mail, publisher: pub}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	return h.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (h *harness) postJSON(path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func (h *harness) postForm(path string, values url.Values, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return h.do(req)
}

// formToken renders the page at path and returns the CSRF token embedded in it.
func (h *harness) formToken(t *testing.T, path string) string {
	t.Helper()
	w := h.get(path)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: status %d body=%s", path, w.Code, w.Body.String())
	}
	m := csrfFieldPattern.FindStringSubmatch(w.Body.String())
	if m == nil {
		t.Fatalf("no csrf token in %s", path)
	}
	return html.UnescapeString(m[1])
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, w.Body.String())
	}
	return env
}

// lastLinkPath returns the path of the first base-URL link in the most
// recent email.
func (h *harness) lastLinkPath(t *testing.T) string {
	t.Helper()
	sent := h.mail.Sent()
	if len(sent) == 0 {
		t.Fatal("no email sent")
	}
	text := sent[len(sent)-1].Text
	i := strings.Index(text, publicBaseURL)
	if i < 0 {
		t.Fatalf("no link in email text %q", text)
	}
	link := strings.Fields(text[i:])[0]
	return strings.TrimPrefix(link, publicBaseURL)
}
