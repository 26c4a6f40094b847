package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/http/formdata"
	"github.com/calendarhub/intake/internal/http/middleware"
	"github.com/calendarhub/intake/internal/http/render"
	"github.com/calendarhub/intake/internal/http/response"
	"github.com/calendarhub/intake/internal/security"
	"github.com/calendarhub/intake/internal/service"
)

const (
	msgInvalidCSRF     = "Invalid or missing CSRF token"
	msgJSONRequired    = "Content-Type must be application/json"
	msgUnsupportedType = "Unsupported content type"
	msgInvalidBody     = "Invalid request body"
	msgSiteNotFound    = "Site not found"
	msgInvalidLink     = "Invalid or expired link"
)

type SubmissionService interface {
	CreateEvents(ctx context.Context, site domain.Site, in service.EventSubmissionInput) (*domain.Submission, error)
	CreateMeetupGroups(ctx context.Context, site domain.Site, in service.MeetupSubmissionInput) (*domain.Submission, error)
	CreateICalFeed(ctx context.Context, site domain.Site, in service.ICalSubmissionInput) (*domain.Submission, error)
	Get(ctx context.Context, id, siteSlug string) (*domain.Submission, error)
	Confirm(ctx context.Context, id string, site domain.Site) (domain.Artifact, error)
}

type NewsletterService interface {
	Signup(ctx context.Context, site domain.Site, email string) error
	PreviewConfirm(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error)
	Confirm(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error)
	PreviewUnsubscribe(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error)
	Unsubscribe(ctx context.Context, site domain.Site, link security.Link) (security.Claims, error)
	HandleFeedback(ctx context.Context, site domain.Site, n service.FeedbackNotification) (int, error)
}

// pages renders HTML or JSON depending on what the client asked for. Both
// form handlers share it.
type pages struct {
	views  *render.Renderer
	csrf   *security.CSRFManager
	logger *slog.Logger
}

func (p pages) site(w http.ResponseWriter, r *http.Request) (domain.Site, bool) {
	site, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		p.fail(w, r, http.StatusNotFound, response.CodeNotFound, msgSiteNotFound, nil)
	}
	return site, ok
}

func (p pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data render.PageData) {
	if err := p.views.Page(w, status, name, data); err != nil {
		p.logger.ErrorContext(r.Context(), "render page failed", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// fail writes an error as JSON for API clients and as the error page for
// browsers.
func (p pages) fail(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	if response.WantsJSON(r) {
		response.Error(w, r, status, code, message, details)
		return
	}
	site, _ := middleware.SiteFromContext(r.Context())
	p.render(w, r, status, "error", render.PageData{Site: site, Title: "Error", Error: message})
}

// token issues a fresh CSRF token, writing a 500 when the random source
// fails.
func (p pages) token(w http.ResponseWriter, r *http.Request) (string, bool) {
	tok, _, err := p.csrf.Issue()
	if err != nil {
		p.logger.ErrorContext(r.Context(), "issue csrf token failed", "error", err)
		p.fail(w, r, http.StatusInternalServerError, response.CodeInternal, "Failed to render form", nil)
		return "", false
	}
	return tok, true
}

// checkCSRF rejects the request unless src carries a valid token.
func (p pages) checkCSRF(w http.ResponseWriter, r *http.Request, src formdata.Source) bool {
	if !p.csrf.Validate(src.CSRFToken()) {
		p.fail(w, r, http.StatusForbidden, response.CodeForbidden, msgInvalidCSRF, nil)
		return false
	}
	return true
}

// bodyError maps formdata failures to 415 or 400.
func (p pages) bodyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, formdata.ErrUnsupportedMediaType) {
		p.fail(w, r, http.StatusUnsupportedMediaType, response.CodeUnsupportedMediaType, msgUnsupportedType, nil)
		return
	}
	p.fail(w, r, http.StatusBadRequest, response.CodeBadRequest, msgInvalidBody, nil)
}
