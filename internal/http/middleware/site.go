package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/http/response"
)

type siteContextKey struct{}

// ResolveSite looks up the {site} path parameter, falling back to the first
// configured site on routes that carry none, and stores it in the request
// context. Unknown slugs get a 404.
func ResolveSite(sites *domain.SiteDirectory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				site domain.Site
				ok   bool
			)
			if slug := chi.URLParam(r, "site"); slug != "" {
				site, ok = sites.Lookup(slug)
			} else {
				site, ok = sites.Default()
			}
			if !ok {
				response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "Site not found", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSite(r.Context(), site)))
		})
	}
}

func WithSite(ctx context.Context, site domain.Site) context.Context {
	return context.WithValue(ctx, siteContextKey{}, site)
}

func SiteFromContext(ctx context.Context) (domain.Site, bool) {
	site, ok := ctx.Value(siteContextKey{}).(domain.Site)
	return site, ok
}
