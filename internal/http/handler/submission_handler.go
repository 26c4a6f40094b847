package handler

import (
	"errors"
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

const confirmedMessage = "Submission confirmed"

type SubmissionHandler struct {
	pages
	svc SubmissionService
}

func NewSubmissionHandler(svc SubmissionService, csrf *security.CSRFManager, views *render.Renderer, logger *slog.Logger) *SubmissionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionHandler{pages: pages{views: views, csrf: csrf, logger: logger}, svc: svc}
}

func (h *SubmissionHandler) SiteIndex(w http.ResponseWriter, r *http.Request) {
	site, ok := h.site(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "site_index", render.PageData{Site: site})
}

func (h *SubmissionHandler) EventForm(w http.ResponseWriter, r *http.Request) {
	h.form(w, r, "submit_events", "Submit events", "/submit")
}

func (h *SubmissionHandler) MeetupForm(w http.ResponseWriter, r *http.Request) {
	h.form(w, r, "submit_meetup", "Submit meetup groups", "/submit_meetup")
}

func (h *SubmissionHandler) ICalForm(w http.ResponseWriter, r *http.Request) {
	h.form(w, r, "submit_ical", "Submit an iCal feed", "/submit_ical")
}

func (h *SubmissionHandler) form(w http.ResponseWriter, r *http.Request, page, title, action string) {
	site, ok := h.site(w, r)
	if !ok {
		return
	}
	tok, ok := h.token(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, page, render.PageData{
		Site:      site,
		Title:     title,
		CSRFToken: tok,
		Action:    "/" + site.Slug + action,
		MaxItems:  domain.MaxItemsPerSubmission,
	})
}

func (h *SubmissionHandler) SubmitEvents(w http.ResponseWriter, r *http.Request) {
	site, src, ok := h.intake(w, r)
	if !ok {
		return
	}
	var in service.EventSubmissionInput
	if err := src.Decode(&in); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, msgInvalidBody, nil)
		return
	}
	sub, err := h.svc.CreateEvents(r.Context(), site, in)
	h.created(w, r, sub, err)
}

func (h *SubmissionHandler) SubmitMeetupGroups(w http.ResponseWriter, r *http.Request) {
	site, src, ok := h.intake(w, r)
	if !ok {
		return
	}
	var in service.MeetupSubmissionInput
	if err := src.Decode(&in); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, msgInvalidBody, nil)
		return
	}
	sub, err := h.svc.CreateMeetupGroups(r.Context(), site, in)
	h.created(w, r, sub, err)
}

func (h *SubmissionHandler) SubmitICalFeed(w http.ResponseWriter, r *http.Request) {
	site, src, ok := h.intake(w, r)
	if !ok {
		return
	}
	var in service.ICalSubmissionInput
	if err := src.Decode(&in); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, msgInvalidBody, nil)
		return
	}
	sub, err := h.svc.CreateICalFeed(r.Context(), site, in)
	h.created(w, r, sub, err)
}

// intake runs the checks every submission POST shares: JSON body, then CSRF.
// Replies are always JSON since the forms post through fetch.
func (h *SubmissionHandler) intake(w http.ResponseWriter, r *http.Request) (domain.Site, formdata.Source, bool) {
	site, ok := h.site(w, r)
	if !ok {
		return domain.Site{}, nil, false
	}
	src, err := formdata.ParseJSON(r)
	switch {
	case errors.Is(err, formdata.ErrUnsupportedMediaType):
		response.Error(w, r, http.StatusUnsupportedMediaType, response.CodeUnsupportedMediaType, msgJSONRequired, nil)
		return domain.Site{}, nil, false
	case err != nil:
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, msgInvalidBody, nil)
		return domain.Site{}, nil, false
	}
	if !h.csrf.Validate(src.CSRFToken()) {
		response.Error(w, r, http.StatusForbidden, response.CodeForbidden, msgInvalidCSRF, nil)
		return domain.Site{}, nil, false
	}
	return site, src, true
}

func (h *SubmissionHandler) created(w http.ResponseWriter, r *http.Request, sub *domain.Submission, err error) {
	if err != nil {
		h.submissionError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{
		"message":       service.SubmissionReceivedMessage,
		"submission_id": sub.ID,
	})
}

// ConfirmPreview shows a pending submission with a confirm button.
func (h *SubmissionHandler) ConfirmPreview(w http.ResponseWriter, r *http.Request) {
	site, ok := h.site(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	sub, err := h.svc.Get(r.Context(), id, site.Slug)
	if err != nil {
		h.submissionError(w, r, err)
		return
	}
	if response.WantsJSON(r) {
		response.JSON(w, r, http.StatusOK, sub)
		return
	}
	tok, ok := h.token(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "submission_confirm", render.PageData{
		Site:       site,
		Title:      "Confirm submission",
		CSRFToken:  tok,
		Submission: sub,
		Action:     "/" + site.Slug + "/confirm/" + id,
	})
}

// Confirm publishes the submission. The CSRF token is checked before the
// state machine is touched.
func (h *SubmissionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	site, ok := h.site(w, r)
	if !ok {
		return
	}
	src, err := formdata.Parse(r)
	if err != nil {
		h.bodyError(w, r, err)
		return
	}
	if !h.checkCSRF(w, r, src) {
		return
	}
	artifact, err := h.svc.Confirm(r.Context(), chi.URLParam(r, "id"), site)
	if err != nil {
		h.submissionError(w, r, err)
		return
	}
	if response.WantsJSON(r) {
		response.JSON(w, r, http.StatusOK, response.MessageBody{Message: confirmedMessage, URL: artifact.URL})
		return
	}
	h.render(w, r, http.StatusOK, "submission_success", render.PageData{
		Site:        site,
		Title:       confirmedMessage,
		ArtifactURL: artifact.URL,
	})
}

func (h *SubmissionHandler) submissionError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		h.fail(w, r, http.StatusBadRequest, response.CodeValidationFailed, verr.Message, verr.Fields)
	case errors.Is(err, service.ErrSubmissionNotFound):
		h.fail(w, r, http.StatusNotFound, response.CodeNotFound, "Submission not found", nil)
	case errors.Is(err, service.ErrSiteMismatch):
		h.fail(w, r, http.StatusBadRequest, response.CodeSiteMismatch, "Invalid site for this submission", nil)
	case errors.Is(err, service.ErrAlreadyProcessed):
		h.fail(w, r, http.StatusBadRequest, response.CodeAlreadyProcessed, "Submission already processed", nil)
	default:
		h.logger.ErrorContext(r.Context(), "submission request failed",
			"path", r.URL.Path,
			"error", err,
		)
		h.fail(w, r, http.StatusInternalServerError, response.CodeInternal, "Failed to process submission", nil)
	}
}
