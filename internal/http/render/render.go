// Package render serves the HTML pages of the intake forms and the
// newsletter flow from templates embedded in the binary.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/security"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "layout.html"

// PageData is the single view model for every page. Unused fields stay zero.
type PageData struct {
	Site        domain.Site
	Title       string
	CSRFToken   string
	Message     string
	Error       string
	Submission  *domain.Submission
	ArtifactURL string
	Email       string
	Link        security.Link
	Action      string
	MaxItems    int
}

type Renderer struct {
	pages    map[string]*template.Template
	partials map[string]*template.Template
}

func New() (*Renderer, error) {
	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	r := &Renderer{pages: map[string]*template.Template{}, partials: map[string]*template.Template{}}
	for _, e := range entries {
		name := e.Name()
		if name == layoutFile {
			continue
		}
		key := strings.TrimSuffix(name, path.Ext(name))
		if strings.HasPrefix(name, "partial_") {
			t, err := template.New(name).ParseFS(templateFS, "templates/"+name)
			if err != nil {
				return nil, fmt.Errorf("parse partial %s: %w", name, err)
			}
			r.partials[strings.TrimPrefix(key, "partial_")] = t
			continue
		}
		t, err := template.New(layoutFile).ParseFS(templateFS, "templates/"+layoutFile, "templates/"+name, "templates/partial_*.html")
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		r.pages[key] = t
	}
	return r, nil
}

// Page renders a full page inside the layout. Pages may include any partial
// by its file name.
func (r *Renderer) Page(w http.ResponseWriter, status int, name string, data PageData) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return write(w, status, t, layoutFile, data)
}

// Partial renders a fragment for HTMX swaps.
func (r *Renderer) Partial(w http.ResponseWriter, status int, name string, data PageData) error {
	t, ok := r.partials[name]
	if !ok {
		return fmt.Errorf("unknown partial %q", name)
	}
	return write(w, status, t, "partial_"+name+".html", data)
}

func write(w http.ResponseWriter, status int, t *template.Template, entry string, data PageData) error {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, entry, data); err != nil {
		return fmt.Errorf("render %s: %w", entry, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
