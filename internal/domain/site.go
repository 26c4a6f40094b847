package domain

import "strings"

const (
	PublisherGitHub      = "github"
	PublisherObjectStore = "object_store"
)

// Site is read-only tenant configuration resolved by slug on every request.
type Site struct {
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	GitHubRepo      string `json:"github_repo"`
	FromEmail       string `json:"from_email,omitempty"`
	ReplyToEmail    string `json:"reply_to_email,omitempty"`
	ContactListName string `json:"contact_list_name,omitempty"`
	TopicName       string `json:"topic_name,omitempty"`
	TemplateName    string `json:"template_name,omitempty"`
	Publisher       string `json:"publisher,omitempty"`
}

// RepoName returns owner/name from either a full GitHub URL or a bare slug.
func (s Site) RepoName() string {
	repo := strings.TrimSpace(s.GitHubRepo)
	if i := strings.Index(repo, "github.com/"); i >= 0 {
		repo = repo[i+len("github.com/"):]
	}
	repo = strings.TrimSuffix(strings.Trim(repo, "/"), ".git")
	return repo
}

func (s Site) HasNewsletter() bool {
	return s.ContactListName != "" && s.TopicName != ""
}

func (s Site) PublisherKind() string {
	if s.Publisher == "" {
		return PublisherGitHub
	}
	return s.Publisher
}

// SiteDirectory is an ordered, immutable set of sites.
type SiteDirectory struct {
	order []string
	sites map[string]Site
}

func NewSiteDirectory(sites []Site) *SiteDirectory {
	d := &SiteDirectory{sites: make(map[string]Site, len(sites))}
	for _, s := range sites {
		if _, dup := d.sites[s.Slug]; dup {
			continue
		}
		d.order = append(d.order, s.Slug)
		d.sites[s.Slug] = s
	}
	return d
}

func (d *SiteDirectory) Lookup(slug string) (Site, bool) {
	s, ok := d.sites[slug]
	return s, ok
}

// Default is the first configured site.
func (d *SiteDirectory) Default() (Site, bool) {
	if len(d.order) == 0 {
		return Site{}, false
	}
	return d.sites[d.order[0]], true
}

func (d *SiteDirectory) All() []Site {
	out := make([]Site, 0, len(d.order))
	for _, slug := range d.order {
		out = append(out, d.sites[slug])
	}
	return out
}
