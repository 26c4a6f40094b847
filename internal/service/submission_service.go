package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/observability"
	"github.com/calendarhub/intake/internal/repository"
)

const (
	SubmissionReceivedMessage = "Submission received. Please check your email (and maybe your spam folder) for an email with a confirmation link."
	DefaultConfirmClaimTTL    = 2 * time.Minute
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSiteMismatch       = errors.New("invalid site for this submission")
	ErrAlreadyProcessed   = errors.New("submission already processed")
	ErrUnknownType        = errors.New("unknown submission type")
)

type EventSubmissionInput struct {
	domain.Submitter
	Events []domain.Event `json:"events"`
}

type MeetupSubmissionInput struct {
	domain.Submitter
	Groups []domain.MeetupGroup `json:"groups"`
}

type ICalSubmissionInput struct {
	domain.Submitter
	domain.ICalFeed
}

type SubmissionServiceConfig struct {
	PublicBaseURL string
	SenderEmail   string
	ClaimTTL      time.Duration
}

// SubmissionService runs the pending -> confirmed lifecycle. Creation
// persists a pending record and mails a confirmation link; confirmation
// claims the record, publishes it, then marks it confirmed.
type SubmissionService struct {
	repo       repository.SubmissionRepository
	publishers PublisherSet
	email      EmailSender
	validator  *Validator
	cfg        SubmissionServiceConfig
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

func NewSubmissionService(
	repo repository.SubmissionRepository,
	publishers PublisherSet,
	email EmailSender,
	validator *Validator,
	cfg SubmissionServiceConfig,
	logger *slog.Logger,
) *SubmissionService {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultConfirmClaimTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionService{
		repo:       repo,
		publishers: publishers,
		email:      email,
		validator:  validator,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (s *SubmissionService) CreateEvents(ctx context.Context, site domain.Site, in EventSubmissionInput) (*domain.Submission, error) {
	if err := s.validator.Events(in.Submitter, in.Events); err != nil {
		observability.RecordSubmissionEvent(ctx, string(domain.SubmissionEvent), "create", "invalid")
		return nil, err
	}
	payload := submitterPayload(in.Submitter)
	payload.Events = in.Events
	return s.create(ctx, site, domain.SubmissionEvent, in.Email, payload)
}

func (s *SubmissionService) CreateMeetupGroups(ctx context.Context, site domain.Site, in MeetupSubmissionInput) (*domain.Submission, error) {
	if err := s.validator.MeetupGroups(in.Submitter, in.Groups); err != nil {
		observability.RecordSubmissionEvent(ctx, string(domain.SubmissionMeetupGroup), "create", "invalid")
		return nil, err
	}
	payload := submitterPayload(in.Submitter)
	payload.Groups = in.Groups
	return s.create(ctx, site, domain.SubmissionMeetupGroup, in.Email, payload)
}

func (s *SubmissionService) CreateICalFeed(ctx context.Context, site domain.Site, in ICalSubmissionInput) (*domain.Submission, error) {
	if err := s.validator.ICalFeed(in.Submitter, in.ICalFeed); err != nil {
		observability.RecordSubmissionEvent(ctx, string(domain.SubmissionICalFeed), "create", "invalid")
		return nil, err
	}
	payload := submitterPayload(in.Submitter)
	feed := in.ICalFeed
	payload.Feed = &feed
	return s.create(ctx, site, domain.SubmissionICalFeed, in.Email, payload)
}

func submitterPayload(sub domain.Submitter) domain.Payload {
	return domain.Payload{SubmittedBy: sub.DisplayName(), SubmitterLink: sub.SubmitterLink}
}

func (s *SubmissionService) create(ctx context.Context, site domain.Site, typ domain.SubmissionType, email string, payload domain.Payload) (*domain.Submission, error) {
	sub := &domain.Submission{
		ID:        s.newID(),
		Status:    domain.SubmissionPending,
		Type:      typ,
		SiteSlug:  site.Slug,
		Email:     email,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		observability.RecordSubmissionEvent(ctx, string(typ), "create", "error")
		return nil, fmt.Errorf("store submission: %w", err)
	}

	msg := s.confirmationEmail(site, sub)
	if err := s.email.Send(ctx, msg); err != nil {
		observability.RecordSubmissionEvent(ctx, string(typ), "create", "email_error")
		return nil, fmt.Errorf("send confirmation email: %w", err)
	}
	observability.RecordSubmissionEvent(ctx, string(typ), "create", "success")
	s.logger.InfoContext(ctx, "submission created",
		"submission_id", sub.ID,
		"site", site.Slug,
		"type", string(typ),
		"items", payload.ItemCount(),
	)
	return sub, nil
}

// ConfirmationURL is the link mailed to the submitter.
func (s *SubmissionService) ConfirmationURL(site domain.Site, id string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + site.Slug + "/confirm/" + id
}

func (s *SubmissionService) confirmationEmail(site domain.Site, sub *domain.Submission) EmailMessage {
	from := site.FromEmail
	if from == "" {
		from = s.cfg.SenderEmail
	}
	noun := sub.Type.Noun()
	count := sub.Payload.ItemCount()
	plural := noun
	if count != 1 {
		plural = noun + "s"
	}
	url := s.ConfirmationURL(site, sub.ID)
	text := fmt.Sprintf("Please confirm your %s submission (%d %s) by clicking this link: %s", noun, count, plural, url)
	html := fmt.Sprintf(`<p>Please confirm your %s submission (%d %s) by clicking this link:</p><p><a href="%s">Confirm submission</a></p>`, noun, count, plural, url)
	return EmailMessage{
		To:      []string{sub.Email},
		From:    from,
		ReplyTo: site.ReplyToEmail,
		Subject: "Complete your " + site.Name + " submission",
		Text:    text,
		HTML:    html,
	}
}

// Get returns a submission that is still pending for the given site, the
// same checks a confirm makes before it writes anything.
func (s *SubmissionService) Get(ctx context.Context, id, siteSlug string) (*domain.Submission, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	if sub.SiteSlug != siteSlug {
		return nil, ErrSiteMismatch
	}
	if !sub.Pending() {
		return nil, ErrAlreadyProcessed
	}
	return sub, nil
}

// Confirm publishes a pending submission exactly once. A publisher failure
// leaves the submission pending and retryable.
func (s *SubmissionService) Confirm(ctx context.Context, id string, site domain.Site) (domain.Artifact, error) {
	ctx, span := observability.StartSpan(ctx, "submission.confirm",
		attribute.String("submission.id", id),
		attribute.String("site.slug", site.Slug),
	)
	defer span.End()

	sub, err := s.Get(ctx, id, site.Slug)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Artifact{}, err
	}
	if !sub.Type.Valid() {
		return domain.Artifact{}, fmt.Errorf("%w: %s", ErrUnknownType, sub.Type)
	}
	publisher, err := s.publishers.For(site)
	if err != nil {
		return domain.Artifact{}, err
	}

	token := s.newID()
	if err := s.repo.Claim(ctx, id, token, s.now().UTC(), s.cfg.ClaimTTL); err != nil {
		if errors.Is(err, repository.ErrSubmissionConflict) {
			observability.RecordSubmissionEvent(ctx, string(sub.Type), "confirm", "conflict")
			return domain.Artifact{}, ErrAlreadyProcessed
		}
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return domain.Artifact{}, ErrSubmissionNotFound
		}
		return domain.Artifact{}, fmt.Errorf("claim submission: %w", err)
	}

	// Publish has to finish while the claim is still held.
	publishCtx, cancel := context.WithTimeout(ctx, publishBudget(s.cfg.ClaimTTL))
	defer cancel()
	started := time.Now()
	artifact, err := publisher.Publish(publishCtx, site, *sub)
	if err != nil {
		observability.RecordPublish(ctx, publisher.Name(), "error", time.Since(started))
		observability.RecordSubmissionEvent(ctx, string(sub.Type), "confirm", "publish_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		s.logger.ErrorContext(ctx, "publish submission failed",
			"submission_id", id,
			"site", site.Slug,
			"publisher", publisher.Name(),
			"error", err,
		)
		if relErr := s.repo.Release(ctx, id, token); relErr != nil {
			s.logger.WarnContext(ctx, "release submission claim failed", "submission_id", id, "error", relErr)
		}
		return domain.Artifact{}, fmt.Errorf("publish submission: %w", err)
	}
	observability.RecordPublish(ctx, publisher.Name(), "success", time.Since(started))

	if err := s.repo.MarkConfirmed(ctx, id, token, artifact.URL, s.now().UTC()); err != nil {
		observability.RecordSubmissionEvent(ctx, string(sub.Type), "confirm", "error")
		s.logger.ErrorContext(ctx, "mark submission confirmed failed",
			"submission_id", id,
			"artifact_url", artifact.URL,
			"error", err,
		)
		return domain.Artifact{}, fmt.Errorf("mark submission confirmed: %w", err)
	}
	observability.RecordSubmissionEvent(ctx, string(sub.Type), "confirm", "success")
	s.logger.InfoContext(ctx, "submission confirmed",
		"submission_id", id,
		"site", site.Slug,
		"artifact_url", artifact.URL,
	)
	return artifact, nil
}

// publishBudget leaves a fifth of the claim lease for the confirm write.
func publishBudget(lease time.Duration) time.Duration {
	return lease - lease/5
}
