package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/repository"
)

type memSubmissionRepository struct {
	mu   sync.Mutex
	subs map[string]domain.Submission
}

func newMemSubmissionRepository() *memSubmissionRepository {
	return &memSubmissionRepository{subs: map[string]domain.Submission{}}
}

func (r *memSubmissionRepository) Create(_ context.Context, sub *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; ok {
		return errors.New("duplicate id")
	}
	r.subs[sub.ID] = *sub
	return nil
}

func (r *memSubmissionRepository) FindByID(_ context.Context, id string) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return &sub, nil
}

func (r *memSubmissionRepository) Claim(_ context.Context, id, token string, now time.Time, lease time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	if !sub.Pending() || (sub.ClaimUntil != nil && !sub.ClaimUntil.Before(now)) {
		return repository.ErrSubmissionConflict
	}
	until := now.Add(lease)
	sub.ClaimUntil = &until
	sub.ClaimToken = token
	r.subs[id] = sub
	return nil
}

func (r *memSubmissionRepository) MarkConfirmed(_ context.Context, id, token, artifactURL string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || !sub.Pending() || sub.ClaimToken != token {
		return repository.ErrSubmissionConflict
	}
	sub.Status = domain.SubmissionConfirmed
	sub.ArtifactURL = artifactURL
	sub.ConfirmedAt = &now
	sub.ClaimUntil = nil
	sub.ClaimToken = ""
	r.subs[id] = sub
	return nil
}

func (r *memSubmissionRepository) Release(_ context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || !sub.Pending() || sub.ClaimToken != token {
		return repository.ErrSubmissionConflict
	}
	sub.ClaimUntil = nil
	sub.ClaimToken = ""
	r.subs[id] = sub
	return nil
}

func (r *memSubmissionRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

type stubPublisher struct {
	mu        sync.Mutex
	calls     int
	publishFn func(ctx context.Context, sub domain.Submission) (domain.Artifact, error)
}

func (p *stubPublisher) Name() string { return "stub" }

func (p *stubPublisher) Publish(ctx context.Context, _ domain.Site, sub domain.Submission) (domain.Artifact, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.publishFn == nil {
		return domain.Artifact{URL: "https://example.org/pr/" + sub.ID}, nil
	}
	return p.publishFn(ctx, sub)
}

func (p *stubPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var (
	alphaSite = domain.Site{Slug: "alpha", Name: "Alpha Events", GitHubRepo: "acme/alpha-events", FromEmail: "events@alpha.example.org"}
	betaSite  = domain.Site{Slug: "beta", Name: "Beta Events", GitHubRepo: "acme/beta-events"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type submissionFixture struct {
	svc   *SubmissionService
	repo  *memSubmissionRepository
	mail  *DevEmailService
	clock time.Time
}

func newSubmissionFixture(t *testing.T, pub Publisher) *submissionFixture {
	t.Helper()
	f := &submissionFixture{
		repo:  newMemSubmissionRepository(),
		mail:  NewDevEmailService(discardLogger()),
		clock: time.Unix(1717200000, 0).UTC(),
	}
	f.svc = NewSubmissionService(
		f.repo,
		PublisherSet{domain.PublisherGitHub: pub},
		f.mail,
		NewValidator(),
		SubmissionServiceConfig{PublicBaseURL: "https://intake.example.org/", SenderEmail: "noreply@example.org"},
		discardLogger(),
	)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func validEvent(title string) domain.Event {
	return domain.Event{Title: title, Date: "2024-06-01", Time: "18:00", URL: "https://example.org/" + strings.ReplaceAll(strings.ToLower(title), " ", "-")}
}

func submitter() domain.Submitter {
	return domain.Submitter{SubmittedBy: "Grace", Email: "grace@example.org"}
}

func TestSubmissionLaunchPartyScenario(t *testing.T) {
	scm := newFakeSCM()
	f := newSubmissionFixture(t, NewGitHubPublisher(scm))
	f.svc.newID = func() string { return "9f8e7d6c-1111-4222-8333-444455556666" }
	ctx := context.Background()

	sub, err := f.svc.CreateEvents(ctx, alphaSite, EventSubmissionInput{Submitter: submitter(), Events: []domain.Event{validEvent("Launch Party")}})
	if err != nil {
		t.Fatalf("CreateEvents: %v", err)
	}
	stored, err := f.repo.FindByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.SubmissionPending || stored.Type != domain.SubmissionEvent || stored.SiteSlug != "alpha" {
		t.Fatalf("unexpected stored submission %+v", stored)
	}

	sent := f.mail.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one confirmation email, got %d", len(sent))
	}
	if sent[0].Subject != "Complete your Alpha Events submission" || sent[0].From != "events@alpha.example.org" {
		t.Fatalf("unexpected email %+v", sent[0])
	}
	if !strings.Contains(sent[0].Text, "https://intake.example.org/alpha/confirm/"+sub.ID) {
		t.Fatalf("confirmation url missing from %q", sent[0].Text)
	}

	f.clock = f.clock.Add(3000 * time.Second)
	art, err := f.svc.Confirm(ctx, sub.ID, alphaSite)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if art.Branch != "submission-9f8e7d6c" {
		t.Fatalf("expected branch from id prefix, got %q", art.Branch)
	}
	if len(scm.prs) != 1 {
		t.Fatalf("expected exactly one pull request, got %d", len(scm.prs))
	}
	confirmed, _ := f.repo.FindByID(ctx, sub.ID)
	if confirmed.Status != domain.SubmissionConfirmed || confirmed.ArtifactURL != art.URL {
		t.Fatalf("unexpected confirmed record %+v", confirmed)
	}
}

func TestSubmissionConfirmTwiceDoesNotRepublish(t *testing.T) {
	pub := &stubPublisher{}
	f := newSubmissionFixture(t, pub)
	ctx := context.Background()
	sub, err := f.svc.CreateEvents(ctx, alphaSite, EventSubmissionInput{Submitter: submitter(), Events: []domain.Event{validEvent("Hack Night")}})
	if err != nil {
		t.Fatalf("CreateEvents: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, sub.ID, alphaSite); err != nil {
		t.Fatalf("first Confirm: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, sub.ID, alphaSite); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if pub.callCount() != 1 {
		t.Fatalf("expected one publish, got %d", pub.callCount())
	}
}

func TestSubmissionConfirmRejections(t *testing.T) {
	pub := &stubPublisher{}
	f := newSubmissionFixture(t, pub)
	ctx := context.Background()
	sub, err := f.svc.CreateEvents(ctx, alphaSite, EventSubmissionInput{Submitter: submitter(), Events: []domain.Event{validEvent("Hack Night")}})
	if err != nil {
		t.Fatalf("CreateEvents: %v", err)
	}

	if _, err := f.svc.Confirm(ctx, sub.ID, betaSite); !errors.Is(err, ErrSiteMismatch) {
		t.Fatalf("expected ErrSiteMismatch, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, "missing", alphaSite); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
	if pub.callCount() != 0 {
		t.Fatalf("expected no publish on rejection, got %d", pub.callCount())
	}
}

func TestSubmissionPublishFailureLeavesPending(t *testing.T) {
	fail := true
	pub := &stubPublisher{publishFn: func(_ context.Context, sub domain.Submission) (domain.Artifact, error) {
		if fail {
			return domain.Artifact{}, errors.New("github unavailable")
		}
		return domain.Artifact{URL: "https://example.org/pr/2"}, nil
	}}
	f := newSubmissionFixture(t, pub)
	ctx := context.Background()
	sub, err := f.svc.CreateEvents(ctx, alphaSite, EventSubmissionInput{Submitter: submitter(), Events: []domain.Event{validEvent("Hack Night")}})
	if err != nil {
		t.Fatalf("CreateEvents: %v", err)
	}

	if _, err := f.svc.Confirm(ctx, sub.ID, alphaSite); err == nil {
		t.Fatal("expected publish failure")
	}
	stored, _ := f.repo.FindByID(ctx, sub.ID)
	if !stored.Pending() || stored.ClaimUntil != nil {
		t.Fatalf("expected pending unclaimed submission, got %+v", stored)
	}

	fail = false
	art, err := f.svc.Confirm(ctx, sub.ID, alphaSite)
	if err != nil {
		t.Fatalf("retry Confirm: %v", err)
	}
	if art.URL != "https://example.org/pr/2" || pub.callCount() != 2 {
		t.Fatalf("unexpected retry result %+v calls=%d", art, pub.callCount())
	}
}

func TestSubmissionConcurrentConfirmPublishesOnce(t *testing.T) {
	pub := &stubPublisher{publishFn: func(_ context.Context, sub domain.Submission) (domain.Artifact, error) {
		time.Sleep(5 * time.Millisecond)
		return domain.Artifact{URL: "https://example.org/pr/" + sub.ID}, nil
	}}
	f := newSubmissionFixture(t, pub)
	ctx := context.Background()
	sub, err := f.svc.CreateEvents(ctx, alphaSite, EventSubmissionInput{Submitter: submitter(), Events: []domain.Event{validEvent("Hack Night")}})
	if err != nil {
		t.Fatalf("CreateEvents: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Confirm(ctx, sub.ID, alphaSite)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyProcessed):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if successes != 1 || pub.callCount() != 1 {
		t.Fatalf("expected one success and one publish, got successes=%d publishes=%d", successes, pub.callCount())
	}
}

func TestSubmissionBatchValidationIsAllOrNothing(t *testing.T) {
	f := newSubmissionFixture(t, &stubPublisher{})
	bad := validEvent("Broken")
	bad.Title = ""
	bad.URL = "not a url"

	_, err := f.svc.CreateEvents(context.Background(), alphaSite, EventSubmissionInput{
		Submitter: submitter(),
		Events:    []domain.Event{validEvent("First Event"), validEvent("Second Event"), bad},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields["events[2].title"]) == 0 || len(verr.Fields["events[2].url"]) == 0 {
		t.Fatalf("expected field errors for the invalid event, got %v", verr.Fields)
	}
	if _, ok := verr.Fields["events[0].title"]; ok {
		t.Fatalf("valid events must not report errors: %v", verr.Fields)
	}
	if f.repo.count() != 0 || len(f.mail.Sent()) != 0 {
		t.Fatalf("expected nothing stored or sent, got records=%d mails=%d", f.repo.count(), len(f.mail.Sent()))
	}
}

func TestSubmissionCardinalityBounds(t *testing.T) {
	six := make([]domain.Event, 0, 6)
	for i := 0; i < 6; i++ {
		six = append(six, validEvent("Event Number "+string(rune('A'+i))))
	}
	tests := []struct {
		name    string
		events  []domain.Event
		want    error
		message string
	}{
		{name: "zero items", events: nil, want: ErrNoItems, message: "at least one item required"},
		{name: "six items", events: six, want: ErrTooManyItems, message: "maximum of 5 allowed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newSubmissionFixture(t, &stubPublisher{})
			_, err := f.svc.CreateEvents(context.Background(), alphaSite, EventSubmissionInput{Submitter: submitter(), Events: tc.events})
			if !errors.Is(err, tc.want) || !errors.Is(err, ErrValidation) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if err.Error() != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, err.Error())
			}
			if f.repo.count() != 0 {
				t.Fatalf("expected no stored record, got %d", f.repo.count())
			}
		})
	}
}

func TestSubmissionMeetupAndICalCreate(t *testing.T) {
	f := newSubmissionFixture(t, &stubPublisher{})
	ctx := context.Background()

	groups, err := f.svc.CreateMeetupGroups(ctx, betaSite, MeetupSubmissionInput{
		Submitter: domain.Submitter{Email: "ops@example.org"},
		Groups: []domain.MeetupGroup{
			{Name: "Go Night", URL: "https://meetup.example.org/go"},
			{Name: "Rust Night", URL: "https://meetup.example.org/rust"},
		},
	})
	if err != nil {
		t.Fatalf("CreateMeetupGroups: %v", err)
	}
	if groups.Type != domain.SubmissionMeetupGroup || groups.Payload.SubmittedBy != "anonymous" {
		t.Fatalf("unexpected meetup submission %+v", groups)
	}

	feed, err := f.svc.CreateICalFeed(ctx, betaSite, ICalSubmissionInput{
		Submitter: submitter(),
		ICalFeed:  domain.ICalFeed{Name: "Civic Tech", URL: "https://civic.example.org", ICal: "https://civic.example.org/events.ics"},
	})
	if err != nil {
		t.Fatalf("CreateICalFeed: %v", err)
	}
	if feed.Type != domain.SubmissionICalFeed || feed.Payload.Feed == nil || feed.Payload.Feed.Name != "Civic Tech" {
		t.Fatalf("unexpected ical submission %+v", feed)
	}

	sent := f.mail.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected two emails, got %d", len(sent))
	}
	if sent[0].From != "noreply@example.org" {
		t.Fatalf("expected sender fallback, got %q", sent[0].From)
	}
	if !strings.Contains(sent[0].Text, "(2 meetup groups)") || !strings.Contains(sent[1].Text, "(1 iCal feed)") {
		t.Fatalf("unexpected email bodies %q / %q", sent[0].Text, sent[1].Text)
	}
}

func TestSubmissionGetChecks(t *testing.T) {
	f := newSubmissionFixture(t, &stubPublisher{})
	ctx := context.Background()
	sub, err := f.svc.CreateEvents(ctx, alphaSite, EventSubmissionInput{Submitter: submitter(), Events: []domain.Event{validEvent("Hack Night")}})
	if err != nil {
		t.Fatalf("CreateEvents: %v", err)
	}
	got, err := f.svc.Get(ctx, sub.ID, "alpha")
	if err != nil || got.ID != sub.ID {
		t.Fatalf("Get: %+v err=%v", got, err)
	}
	if _, err := f.svc.Get(ctx, sub.ID, "beta"); !errors.Is(err, ErrSiteMismatch) {
		t.Fatalf("expected ErrSiteMismatch, got %v", err)
	}
}

func TestSubmissionPublishIsBoundedByClaimLease(t *testing.T) {
	var sawDeadline bool
	pub := &stubPublisher{}
	pub.publishFn = func(ctx context.Context, sub domain.Submission) (domain.Artifact, error) {
		if pub.callCount() > 1 {
			return domain.Artifact{URL: "https://example.org/pr/" + sub.ID}, nil
		}
		dl, ok := ctx.Deadline()
		sawDeadline = ok && time.Until(dl) < 100*time.Millisecond
		<-ctx.Done()
		return domain.Artifact{}, ctx.Err()
	}
	f := newSubmissionFixture(t, pub)
	f.svc.cfg.ClaimTTL = 100 * time.Millisecond
	ctx := context.Background()
	sub, err := f.svc.CreateEvents(ctx, alphaSite, EventSubmissionInput{Submitter: submitter(), Events: []domain.Event{validEvent("Hack Night")}})
	if err != nil {
		t.Fatalf("CreateEvents: %v", err)
	}

	if _, err := f.svc.Confirm(ctx, sub.ID, alphaSite); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected publish to hit its deadline, got %v", err)
	}
	if !sawDeadline {
		t.Fatal("expected publish deadline inside the claim lease")
	}
	stored, _ := f.repo.FindByID(ctx, sub.ID)
	if !stored.Pending() || stored.ClaimUntil != nil || stored.ClaimToken != "" {
		t.Fatalf("expected timed out confirm to release its claim, got %+v", stored)
	}

	if _, err := f.svc.Confirm(ctx, sub.ID, alphaSite); err != nil {
		t.Fatalf("retry Confirm: %v", err)
	}
	if pub.callCount() != 2 {
		t.Fatalf("expected two publish attempts, got %d", pub.callCount())
	}
}

func TestSubmissionExpiredHolderCannotTouchNewClaim(t *testing.T) {
	for _, tc := range []struct {
		name       string
		publishErr error
	}{
		{"publish succeeds late", nil},
		{"publish fails late", errors.New("github unavailable")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			entered := make(chan struct{})
			unblock := make(chan struct{})
			pub := &stubPublisher{publishFn: func(_ context.Context, sub domain.Submission) (domain.Artifact, error) {
				close(entered)
				<-unblock
				if tc.publishErr != nil {
					return domain.Artifact{}, tc.publishErr
				}
				return domain.Artifact{URL: "https://example.org/pr/" + sub.ID}, nil
			}}
			f := newSubmissionFixture(t, pub)
			ctx := context.Background()
			sub, err := f.svc.CreateEvents(ctx, alphaSite, EventSubmissionInput{Submitter: submitter(), Events: []domain.Event{validEvent("Hack Night")}})
			if err != nil {
				t.Fatalf("CreateEvents: %v", err)
			}
			claimedAt := f.clock

			done := make(chan error, 1)
			go func() {
				_, err := f.svc.Confirm(ctx, sub.ID, alphaSite)
				done <- err
			}()
			<-entered
			later := claimedAt.Add(DefaultConfirmClaimTTL + time.Second)
			if err := f.repo.Claim(ctx, sub.ID, "next-holder", later, DefaultConfirmClaimTTL); err != nil {
				t.Fatalf("retake expired claim: %v", err)
			}
			close(unblock)

			if err := <-done; err == nil {
				t.Fatal("expected the expired holder to fail")
			}
			stored, _ := f.repo.FindByID(ctx, sub.ID)
			if !stored.Pending() || stored.ClaimToken != "next-holder" || stored.ClaimUntil == nil {
				t.Fatalf("expected the new claim to survive, got %+v", stored)
			}
		})
	}
}

func TestICalSubmissionInputSelectors(t *testing.T) {
	in := ICalSubmissionInput{ICalFeed: domain.ICalFeed{Name: "Civic Tech"}}
	if in.Name != "Civic Tech" || in.DisplayName() != "anonymous" {
		t.Fatalf("unexpected selectors name=%q display=%q", in.Name, in.DisplayName())
	}
	in.SubmittedBy = "Bo"
	if in.DisplayName() != "Bo" {
		t.Fatalf("expected submitter display name, got %q", in.DisplayName())
	}
}
