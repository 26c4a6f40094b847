package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v65/github"
)

// GitHubClient adapts the GitHub REST API to SourceControl.
type GitHubClient struct {
	client *github.Client
}

func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{client: github.NewClient(nil).WithAuthToken(token)}
}

// NewGitHubClientWith wraps a preconfigured client (custom base URL, transport).
func NewGitHubClientWith(client *github.Client) *GitHubClient {
	return &GitHubClient{client: client}
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository %q", repo)
	}
	return owner, name, nil
}

func (c *GitHubClient) DefaultBranch(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	r, _, err := c.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", err
	}
	if r.GetDefaultBranch() == "" {
		return "main", nil
	}
	return r.GetDefaultBranch(), nil
}

func (c *GitHubClient) CreateBranch(ctx context.Context, repo, branch, base string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	baseRef, _, err := c.client.Git.GetRef(ctx, owner, name, "refs/heads/"+base)
	if err != nil {
		return fmt.Errorf("get base ref: %w", err)
	}
	_, _, err = c.client.Git.CreateRef(ctx, owner, name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.GetObject().SHA},
	})
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: %s", ErrBranchExists, branch)
	}
	return err
}

func (c *GitHubClient) CreateFile(ctx context.Context, repo, branch, path string, content []byte, message string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = c.client.Repositories.CreateFile(ctx, owner, name, path, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	})
	return err
}

func (c *GitHubClient) OpenPullRequest(ctx context.Context, repo, branch, base, title, body string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	pr, _, err := c.client.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(branch),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return "", err
	}
	return pr.GetHTMLURL(), nil
}
