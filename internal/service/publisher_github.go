package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/calendarhub/intake/internal/domain"
)

var ErrBranchExists = errors.New("branch already exists")

// SourceControl is the subset of a code host the publisher needs.
type SourceControl interface {
	DefaultBranch(ctx context.Context, repo string) (string, error)
	// CreateBranch returns ErrBranchExists when the name is taken.
	CreateBranch(ctx context.Context, repo, branch, base string) error
	CreateFile(ctx context.Context, repo, branch, path string, content []byte, message string) error
	OpenPullRequest(ctx context.Context, repo, branch, base, title, body string) (string, error)
}

// GitHubPublisher opens one pull request per confirmed submission.
type GitHubPublisher struct {
	scm SourceControl
	now func() time.Time
}

func NewGitHubPublisher(scm SourceControl) *GitHubPublisher {
	return &GitHubPublisher{scm: scm, now: time.Now}
}

func (p *GitHubPublisher) Name() string { return domain.PublisherGitHub }

func (p *GitHubPublisher) Publish(ctx context.Context, site domain.Site, sub domain.Submission) (domain.Artifact, error) {
	change, err := BuildContentChange(sub)
	if err != nil {
		return domain.Artifact{}, err
	}
	repo := site.RepoName()
	base, err := p.scm.DefaultBranch(ctx, repo)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("resolve default branch: %w", err)
	}

	branch := branchName(sub.ID)
	err = p.scm.CreateBranch(ctx, repo, branch, base)
	if errors.Is(err, ErrBranchExists) {
		// A previous attempt got this far and then failed.
		branch = branch + "-" + strconv.FormatInt(p.now().Unix(), 10)
		err = p.scm.CreateBranch(ctx, repo, branch, base)
	}
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("create branch %s: %w", branch, err)
	}

	for _, f := range change.Files {
		if err := p.scm.CreateFile(ctx, repo, branch, f.Path, f.Body, f.Message); err != nil {
			return domain.Artifact{}, fmt.Errorf("create file %s: %w", f.Path, err)
		}
	}
	url, err := p.scm.OpenPullRequest(ctx, repo, branch, base, change.Title, change.Body)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("open pull request: %w", err)
	}
	return domain.Artifact{URL: url, Branch: branch}, nil
}
