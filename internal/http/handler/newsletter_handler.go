package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/http/formdata"
	"github.com/calendarhub/intake/internal/http/render"
	"github.com/calendarhub/intake/internal/http/response"
	"github.com/calendarhub/intake/internal/security"
	"github.com/calendarhub/intake/internal/service"
)

const (
	msgNewsletterUnavailable = "Newsletter not available for this site"
	msgSubscriptionFailed    = "Failed to process subscription"
	msgSubscribed            = "Subscription confirmed"
	msgUnsubscribed          = "You have been unsubscribed"
)

type NewsletterHandler struct {
	pages
	svc            NewsletterService
	feedbackSecret string
}

func NewNewsletterHandler(svc NewsletterService, csrf *security.CSRFManager, views *render.Renderer, feedbackSecret string, logger *slog.Logger) *NewsletterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NewsletterHandler{
		pages:          pages{views: views, csrf: csrf, logger: logger},
		svc:            svc,
		feedbackSecret: feedbackSecret,
	}
}

// basePath is where the newsletter routes are mounted for this request:
// "/newsletter" for the default site or "/{site}/newsletter".
func basePath(r *http.Request, site domain.Site) string {
	if chi.URLParam(r, "site") != "" {
		return "/" + site.Slug + "/newsletter"
	}
	return "/newsletter"
}

func (h *NewsletterHandler) newsletterSite(w http.ResponseWriter, r *http.Request) (domain.Site, bool) {
	site, ok := h.site(w, r)
	if !ok {
		return domain.Site{}, false
	}
	if !site.HasNewsletter() {
		h.fail(w, r, http.StatusNotFound, response.CodeNotFound, msgNewsletterUnavailable, nil)
		return domain.Site{}, false
	}
	return site, true
}

func (h *NewsletterHandler) Index(w http.ResponseWriter, r *http.Request) {
	site, ok := h.newsletterSite(w, r)
	if !ok {
		return
	}
	tok, ok := h.token(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "newsletter_index", render.PageData{
		Site:      site,
		Title:     "Newsletter",
		CSRFToken: tok,
		Action:    basePath(r, site) + "/signup",
	})
}

// Signup answers JSON clients with the envelope, HTMX with the message
// fragment and plain form posts with a full page.
func (h *NewsletterHandler) Signup(w http.ResponseWriter, r *http.Request) {
	site, ok := h.newsletterSite(w, r)
	if !ok {
		return
	}
	src, err := formdata.Parse(r)
	if err != nil {
		h.bodyError(w, r, err)
		return
	}
	if !h.csrf.Validate(src.CSRFToken()) {
		h.signupReply(w, r, site, http.StatusForbidden, response.CodeForbidden, msgInvalidCSRF, nil)
		return
	}

	err = h.svc.Signup(r.Context(), site, src.Field("email"))
	var verr *service.ValidationError
	switch {
	case err == nil:
		h.signupReply(w, r, site, http.StatusOK, "", service.SignupReceivedMessage, nil)
	case errors.As(err, &verr):
		h.signupReply(w, r, site, http.StatusBadRequest, response.CodeValidationFailed, verr.Message, verr.Fields)
	default:
		h.logger.ErrorContext(r.Context(), "newsletter signup failed", "site", site.Slug, "error", err)
		h.signupReply(w, r, site, http.StatusInternalServerError, response.CodeInternal, msgSubscriptionFailed, nil)
	}
}

// signupReply writes a success when code is empty. HTMX swaps only on 2xx,
// so fragments always go out with 200.
func (h *NewsletterHandler) signupReply(w http.ResponseWriter, r *http.Request, site domain.Site, status int, code, message string, details any) {
	data := render.PageData{Site: site, Title: "Newsletter"}
	if code == "" {
		data.Message = message
	} else {
		data.Error = message
	}
	switch {
	case r.Header.Get("HX-Request") == "true":
		if err := h.views.Partial(w, http.StatusOK, "message", data); err != nil {
			h.logger.ErrorContext(r.Context(), "render partial failed", "error", err)
		}
	case response.WantsJSON(r):
		if code == "" {
			response.Message(w, r, status, message)
			return
		}
		response.Error(w, r, status, code, message, details)
	default:
		h.render(w, r, status, "newsletter_message", data)
	}
}

func linkFromPath(r *http.Request) security.Link {
	return security.Link{
		Identity:  chi.URLParam(r, "identity"),
		Timestamp: chi.URLParam(r, "timestamp"),
		Signature: chi.URLParam(r, "signature"),
	}
}

func linkFromSource(src formdata.Source) security.Link {
	return security.Link{
		Identity:  src.Field("email"),
		Timestamp: src.Field("timestamp"),
		Signature: src.Field("signature"),
	}
}

func (h *NewsletterHandler) ConfirmPreview(w http.ResponseWriter, r *http.Request) {
	site, ok := h.newsletterSite(w, r)
	if !ok {
		return
	}
	link := linkFromPath(r)
	claims, err := h.svc.PreviewConfirm(r.Context(), site, link)
	if err != nil {
		h.linkError(w, r, site, err)
		return
	}
	h.actionPage(w, r, site, "newsletter_confirm", "Confirm subscription", "/confirm", link, claims)
}

func (h *NewsletterHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	site, src, ok := h.linkPost(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.Confirm(r.Context(), site, linkFromSource(src)); err != nil {
		h.linkError(w, r, site, err)
		return
	}
	if response.WantsJSON(r) {
		response.Message(w, r, http.StatusOK, msgSubscribed)
		return
	}
	http.Redirect(w, r, basePath(r, site)+"/confirm/success", http.StatusSeeOther)
}

func (h *NewsletterHandler) ConfirmSuccess(w http.ResponseWriter, r *http.Request) {
	site, ok := h.newsletterSite(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "newsletter_success", render.PageData{Site: site, Title: msgSubscribed})
}

func (h *NewsletterHandler) UnsubscribePreview(w http.ResponseWriter, r *http.Request) {
	site, ok := h.newsletterSite(w, r)
	if !ok {
		return
	}
	link := linkFromPath(r)
	claims, err := h.svc.PreviewUnsubscribe(r.Context(), site, link)
	if err != nil {
		h.linkError(w, r, site, err)
		return
	}
	h.actionPage(w, r, site, "newsletter_unsubscribe", "Unsubscribe", "/unsubscribe", link, claims)
}

func (h *NewsletterHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	site, src, ok := h.linkPost(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.Unsubscribe(r.Context(), site, linkFromSource(src)); err != nil {
		h.linkError(w, r, site, err)
		return
	}
	if response.WantsJSON(r) {
		response.Message(w, r, http.StatusOK, msgUnsubscribed)
		return
	}
	h.render(w, r, http.StatusOK, "newsletter_unsubscribed", render.PageData{Site: site, Title: msgUnsubscribed})
}

func (h *NewsletterHandler) actionPage(w http.ResponseWriter, r *http.Request, site domain.Site, page, title, action string, link security.Link, claims security.Claims) {
	tok, ok := h.token(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, page, render.PageData{
		Site:      site,
		Title:     title,
		CSRFToken: tok,
		Email:     claims.Identity,
		Link:      link,
		Action:    basePath(r, site) + action,
	})
}

func (h *NewsletterHandler) linkPost(w http.ResponseWriter, r *http.Request) (domain.Site, formdata.Source, bool) {
	site, ok := h.newsletterSite(w, r)
	if !ok {
		return domain.Site{}, nil, false
	}
	src, err := formdata.Parse(r)
	if err != nil {
		h.bodyError(w, r, err)
		return domain.Site{}, nil, false
	}
	if !h.checkCSRF(w, r, src) {
		return domain.Site{}, nil, false
	}
	return site, src, true
}

// linkError collapses every link rejection into one message.
func (h *NewsletterHandler) linkError(w http.ResponseWriter, r *http.Request, site domain.Site, err error) {
	switch {
	case errors.Is(err, security.ErrLinkRejected):
		h.fail(w, r, http.StatusBadRequest, response.CodeInvalidLink, msgInvalidLink, nil)
	case errors.Is(err, service.ErrNewsletterDisabled):
		h.fail(w, r, http.StatusNotFound, response.CodeNotFound, msgNewsletterUnavailable, nil)
	default:
		h.logger.ErrorContext(r.Context(), "newsletter link action failed", "site", site.Slug, "error", err)
		h.fail(w, r, http.StatusInternalServerError, response.CodeInternal, msgSubscriptionFailed, nil)
	}
}

// Feedback removes bounced or complaining addresses. The body must carry an
// HMAC-SHA256 of itself in X-Signature.
func (h *NewsletterHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	site, ok := h.newsletterSite(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, formdata.MaxBodyBytes))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, msgInvalidBody, nil)
		return
	}
	if !security.VerifyBodySignature(h.feedbackSecret, body, r.Header.Get(security.WebhookSignatureHeader)) {
		response.Error(w, r, http.StatusForbidden, response.CodeForbidden, "Invalid signature", nil)
		return
	}
	n, err := service.ParseFeedback(body)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "Invalid notification", nil)
		return
	}
	removed, err := h.svc.HandleFeedback(r.Context(), site, n)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "newsletter feedback failed",
			"site", site.Slug,
			"removed", removed,
			"error", err,
		)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "Failed to process notification", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]int{"removed": removed})
}
