package domain

import "time"

type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionConfirmed SubmissionStatus = "confirmed"
)

type SubmissionType string

const (
	SubmissionEvent       SubmissionType = "event"
	SubmissionMeetupGroup SubmissionType = "meetup-group"
	SubmissionICalFeed    SubmissionType = "ical-feed"
)

// Noun is the user-facing name used in confirmation emails.
func (t SubmissionType) Noun() string {
	switch t {
	case SubmissionEvent:
		return "event"
	case SubmissionMeetupGroup:
		return "meetup group"
	case SubmissionICalFeed:
		return "iCal feed"
	default:
		return string(t)
	}
}

func (t SubmissionType) Valid() bool {
	switch t {
	case SubmissionEvent, SubmissionMeetupGroup, SubmissionICalFeed:
		return true
	}
	return false
}

// Submission is a pending or confirmed public contribution. Status only moves
// from pending to confirmed.
type Submission struct {
	ID          string           `gorm:"primaryKey;size:36" json:"submission_id"`
	Status      SubmissionStatus `gorm:"size:16;not null;index;default:pending" json:"status"`
	Type        SubmissionType   `gorm:"size:32;not null" json:"type"`
	SiteSlug    string           `gorm:"size:64;not null;index" json:"site_slug"`
	Email       string           `gorm:"size:320;not null" json:"-"`
	Payload     Payload          `gorm:"serializer:json;type:text;not null" json:"data"`
	ClaimUntil  *time.Time       `gorm:"index" json:"-"`
	ClaimToken  string           `gorm:"size:36" json:"-"`
	ArtifactURL string           `gorm:"size:512" json:"artifact_url,omitempty"`
	ConfirmedAt *time.Time       `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (s Submission) Pending() bool { return s.Status == SubmissionPending }

// Artifact points at whatever a publisher produced for a confirmed submission.
type Artifact struct {
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
}
