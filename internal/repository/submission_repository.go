package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/observability"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionConflict means a conditional write lost: the record is no
	// longer pending or another confirm holds the claim.
	ErrSubmissionConflict = errors.New("submission state conflict")
	errEmptyClaimToken    = errors.New("submission claim token is empty")
)

// SubmissionRepository is the durable record store for submissions. Every
// state change is a conditional write on status.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *domain.Submission) error
	FindByID(ctx context.Context, id string) (*domain.Submission, error)
	// Claim takes a short lease on a pending submission so only one caller
	// publishes it. token identifies the holder for MarkConfirmed and Release.
	Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) error
	// MarkConfirmed succeeds only while token still holds the claim.
	MarkConfirmed(ctx context.Context, id, token, artifactURL string, now time.Time) error
	// Release drops the claim held by token and leaves the submission pending.
	Release(ctx context.Context, id, token string) error
}

type GormSubmissionRepository struct{ db *gorm.DB }

func NewGormSubmissionRepository(db *gorm.DB) *GormSubmissionRepository {
	return &GormSubmissionRepository{db: db}
}

func (r *GormSubmissionRepository) Create(ctx context.Context, sub *domain.Submission) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "submission", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "submission", "create", "success")
	return nil
}

func (r *GormSubmissionRepository) FindByID(ctx context.Context, id string) (*domain.Submission, error) {
	var sub domain.Submission
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "submission", "find_by_id", "not_found")
			return nil, ErrSubmissionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "submission", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "submission", "find_by_id", "success")
	return &sub, nil
}

func (r *GormSubmissionRepository) Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) error {
	if token == "" {
		return errEmptyClaimToken
	}
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&domain.Submission{}).
		Where("id = ? AND status = ? AND (claim_until IS NULL OR claim_until < ?)", id, domain.SubmissionPending, now).
		Updates(map[string]any{
			"claim_until": now.Add(lease),
			"claim_token": token,
		})
	return r.conditionalResult(ctx, "claim", res)
}

func (r *GormSubmissionRepository) MarkConfirmed(ctx context.Context, id, token, artifactURL string, now time.Time) error {
	if token == "" {
		return errEmptyClaimToken
	}
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&domain.Submission{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, domain.SubmissionPending, token).
		Updates(map[string]any{
			"status":       domain.SubmissionConfirmed,
			"artifact_url": artifactURL,
			"confirmed_at": now,
			"claim_until":  gorm.Expr("NULL"),
			"claim_token":  "",
		})
	return r.conditionalResult(ctx, "mark_confirmed", res)
}

func (r *GormSubmissionRepository) Release(ctx context.Context, id, token string) error {
	if token == "" {
		return errEmptyClaimToken
	}
	res := r.db.WithContext(ctx).Model(&domain.Submission{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, domain.SubmissionPending, token).
		Updates(map[string]any{
			"claim_until": gorm.Expr("NULL"),
			"claim_token": "",
		})
	return r.conditionalResult(ctx, "release", res)
}

func (r *GormSubmissionRepository) conditionalResult(ctx context.Context, op string, res *gorm.DB) error {
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "submission", op, "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "submission", op, "conflict")
		return ErrSubmissionConflict
	}
	observability.RecordRepositoryOperation(ctx, "submission", op, "success")
	return nil
}
