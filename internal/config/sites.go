package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/calendarhub/intake/internal/domain"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// LoadSites reads the sites file, a JSON array of site objects.
func LoadSites(path string) ([]domain.Site, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	return ParseSites(raw)
}

func ParseSites(raw []byte) ([]domain.Site, error) {
	var sites []domain.Site
	if err := json.Unmarshal(raw, &sites); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	var errs []string
	seen := make(map[string]bool, len(sites))
	for i, s := range sites {
		s.Slug = strings.TrimSpace(s.Slug)
		sites[i] = s
		switch {
		case !slugPattern.MatchString(s.Slug):
			errs = append(errs, fmt.Sprintf("site[%d]: invalid slug %q", i, s.Slug))
		case seen[s.Slug]:
			errs = append(errs, fmt.Sprintf("site[%d]: duplicate slug %q", i, s.Slug))
		}
		seen[s.Slug] = true
		if strings.TrimSpace(s.Name) == "" {
			errs = append(errs, fmt.Sprintf("site[%d]: name is required", i))
		}
		switch s.PublisherKind() {
		case domain.PublisherGitHub:
			if s.RepoName() == "" || !strings.Contains(s.RepoName(), "/") {
				errs = append(errs, fmt.Sprintf("site[%d]: github_repo must name owner/repo", i))
			}
		case domain.PublisherObjectStore:
		default:
			errs = append(errs, fmt.Sprintf("site[%d]: unknown publisher %q", i, s.Publisher))
		}
	}
	if len(errs) > 0 {
		return nil, errors.New(strings.Join(errs, "; "))
	}
	return sites, nil
}
