package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/http/handler"
	"github.com/calendarhub/intake/internal/http/middleware"
	"github.com/calendarhub/intake/internal/http/response"
)

type Dependencies struct {
	Sites             *domain.SiteDirectory
	SubmissionHandler *handler.SubmissionHandler
	NewsletterHandler *handler.NewsletterHandler
	FormRateLimiter   func(http.Handler) http.Handler
	MetricsHandler    http.Handler
	Logger            *slog.Logger
}

func NewRouter(dep Dependencies) http.Handler {
	logger := dep.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := dep.FormRateLimiter
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.NoIndex)
	r.Use(middleware.SecurityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, http.StatusMethodNotAllowed, response.CodeBadRequest, "Method not allowed", nil)
	})

	r.Get("/health", handler.Health)
	if dep.MetricsHandler != nil {
		r.Handle("/metrics", dep.MetricsHandler)
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		site, ok := dep.Sites.Default()
		if !ok {
			response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "Site not found", nil)
			return
		}
		http.Redirect(w, r, "/"+site.Slug, http.StatusFound)
	})

	newsletter := func(nr chi.Router) {
		h := dep.NewsletterHandler
		nr.Get("/", h.Index)
		nr.Get("/confirm/success", h.ConfirmSuccess)
		nr.Get("/confirm/{identity}/{timestamp}/{signature}", h.ConfirmPreview)
		nr.Get("/unsubscribe/{identity}/{timestamp}/{signature}", h.UnsubscribePreview)
		nr.Post("/feedback", h.Feedback)
		nr.With(limit).Post("/signup", h.Signup)
		nr.With(limit).Post("/confirm", h.Confirm)
		nr.With(limit).Post("/unsubscribe", h.Unsubscribe)
	}

	// Site resolution needs the {site} parameter, so it runs as inline
	// middleware after routing.
	r.Group(func(r chi.Router) {
		r.Use(middleware.ResolveSite(dep.Sites))
		r.Route("/newsletter", newsletter)
		r.Route("/{site}/newsletter", newsletter)

		s := dep.SubmissionHandler
		r.Get("/{site}", s.SiteIndex)
		r.Get("/{site}/submit", s.EventForm)
		r.Get("/{site}/meetup", s.MeetupForm)
		r.Get("/{site}/ical", s.ICalForm)
		r.Get("/{site}/confirm/{id}", s.ConfirmPreview)
		r.With(limit).Post("/{site}/submit", s.SubmitEvents)
		r.With(limit).Post("/{site}/submit_meetup", s.SubmitMeetupGroups)
		r.With(limit).Post("/{site}/submit_ical", s.SubmitICalFeed)
		r.With(limit).Post("/{site}/confirm/{id}", s.Confirm)
	})
	return r
}
