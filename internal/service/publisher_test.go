package service

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/calendarhub/intake/internal/domain"
)

type fakeSCM struct {
	defaultBranch string
	branches      map[string]bool
	files         map[string]string
	prs           []string
	failFile      error
}

func newFakeSCM() *fakeSCM {
	return &fakeSCM{defaultBranch: "main", branches: map[string]bool{}, files: map[string]string{}}
}

func (f *fakeSCM) DefaultBranch(context.Context, string) (string, error) { return f.defaultBranch, nil }

func (f *fakeSCM) CreateBranch(_ context.Context, _, branch, _ string) error {
	if f.branches[branch] {
		return ErrBranchExists
	}
	f.branches[branch] = true
	return nil
}

func (f *fakeSCM) CreateFile(_ context.Context, _, branch, path string, content []byte, _ string) error {
	if f.failFile != nil {
		return f.failFile
	}
	f.files[branch+":"+path] = string(content)
	return nil
}

func (f *fakeSCM) OpenPullRequest(_ context.Context, repo, branch, base, title, _ string) (string, error) {
	f.prs = append(f.prs, branch+"->"+base+":"+title)
	return "https://github.com/" + repo + "/pull/" + strconv.Itoa(len(f.prs)), nil
}

func eventSubmission(id string) domain.Submission {
	return domain.Submission{
		ID:       id,
		Type:     domain.SubmissionEvent,
		SiteSlug: "alpha",
		Payload: domain.Payload{Events: []domain.Event{{
			Title: "Launch Party", Date: "2024-06-01", Time: "18:00", URL: "https://example.org/launch",
		}}},
	}
}

func TestGitHubPublisherOpensPullRequest(t *testing.T) {
	scm := newFakeSCM()
	pub := NewGitHubPublisher(scm)
	site := domain.Site{Slug: "alpha", GitHubRepo: "https://github.com/acme/alpha-events"}

	art, err := pub.Publish(context.Background(), site, eventSubmission("1234abcd-0000-4000-8000-000000000000"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if art.Branch != "submission-1234abcd" || art.URL != "https://github.com/acme/alpha-events/pull/1" {
		t.Fatalf("unexpected artifact %+v", art)
	}
	if _, ok := scm.files["submission-1234abcd:_single_events/2024-06-01-launch-party.yaml"]; !ok {
		t.Fatalf("expected event file on branch, got %v", scm.files)
	}
	if scm.prs[0] != "submission-1234abcd->main:Event Submission: Launch Party" {
		t.Fatalf("unexpected pull request %q", scm.prs[0])
	}
}

func TestGitHubPublisherRetryUsesFreshBranch(t *testing.T) {
	scm := newFakeSCM()
	scm.branches["submission-1234abcd"] = true
	pub := NewGitHubPublisher(scm)
	pub.now = func() time.Time { return time.Unix(1717200000, 0) }

	art, err := pub.Publish(context.Background(), domain.Site{GitHubRepo: "acme/alpha"}, eventSubmission("1234abcd-ffff"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if art.Branch != "submission-1234abcd-1717200000" {
		t.Fatalf("unexpected retry branch %q", art.Branch)
	}
}

func TestGitHubPublisherPropagatesFileErrors(t *testing.T) {
	scm := newFakeSCM()
	scm.failFile = errors.New("409 conflict")
	pub := NewGitHubPublisher(scm)
	if _, err := pub.Publish(context.Background(), domain.Site{GitHubRepo: "acme/alpha"}, eventSubmission("abc")); err == nil {
		t.Fatal("expected publish to fail")
	}
	if len(scm.prs) != 0 {
		t.Fatal("expected no pull request after file failure")
	}
}

type fakeObjectStore struct {
	exists  bool
	made    int
	objects map[string]string
}

func (f *fakeObjectStore) BucketExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeObjectStore) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	f.made++
	f.exists = true
	return nil
}

func (f *fakeObjectStore) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	b, _ := io.ReadAll(r)
	f.objects[bucket+"/"+key] = string(b)
	return minio.UploadInfo{Bucket: bucket, Key: key}, nil
}

func (f *fakeObjectStore) EndpointURL() *url.URL {
	return &url.URL{Scheme: "https", Host: "objects.example.org"}
}

func TestObjectStorePublisherWritesFilesUnderPrefix(t *testing.T) {
	store := &fakeObjectStore{objects: map[string]string{}}
	pub := newObjectStorePublisher(store, "submissions")
	pub.now = func() time.Time { return time.Unix(1717200000, 0) }

	art, err := pub.Publish(context.Background(), domain.Site{Slug: "beta"}, eventSubmission("1234abcd-0000"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if store.made != 1 {
		t.Fatalf("expected bucket to be created once, got %d", store.made)
	}
	wantPrefix := "submissions/beta/submission-1234abcd-1717200000/"
	if art.URL != "https://objects.example.org/"+wantPrefix {
		t.Fatalf("unexpected artifact url %q", art.URL)
	}
	if _, ok := store.objects[wantPrefix+"_single_events/2024-06-01-launch-party.yaml"]; !ok {
		t.Fatalf("missing event object, got %v", store.objects)
	}
	if !strings.HasPrefix(store.objects[wantPrefix+"SUBMISSION.md"], "# Event Submission: Launch Party") {
		t.Fatalf("unexpected summary object %q", store.objects[wantPrefix+"SUBMISSION.md"])
	}

	if _, err := pub.Publish(context.Background(), domain.Site{Slug: "beta"}, eventSubmission("1234abcd-0000")); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if store.made != 1 {
		t.Fatalf("expected bucket check to be cached, made=%d", store.made)
	}
}

func TestPublisherSetSelectsBySiteKind(t *testing.T) {
	gh := NewGitHubPublisher(newFakeSCM())
	set := PublisherSet{domain.PublisherGitHub: gh}
	if p, err := set.For(domain.Site{Slug: "alpha"}); err != nil || p != gh {
		t.Fatalf("expected github publisher, got %v err=%v", p, err)
	}
	if _, err := set.For(domain.Site{Slug: "beta", Publisher: domain.PublisherObjectStore}); !errors.Is(err, ErrPublisherUnavailable) {
		t.Fatalf("expected ErrPublisherUnavailable, got %v", err)
	}
}
