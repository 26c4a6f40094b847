package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/calendarhub/intake/internal/domain"
)

var ErrPublisherUnavailable = errors.New("no publisher configured for site")

// Publisher turns a confirmed submission into a durable artifact. Calling it
// twice for the same submission must not corrupt anything; a second branch
// or object prefix is acceptable.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, site domain.Site, sub domain.Submission) (domain.Artifact, error)
}

// PublisherSet selects a publisher by the site's publisher kind.
type PublisherSet map[string]Publisher

func (s PublisherSet) For(site domain.Site) (Publisher, error) {
	p, ok := s[site.PublisherKind()]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrPublisherUnavailable, site.Slug, site.PublisherKind())
	}
	return p, nil
}

// branchName is submission-<first 8 chars of id>.
func branchName(id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return "submission-" + short
}
