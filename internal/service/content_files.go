package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/calendarhub/intake/internal/domain"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[/\\<>:"|?*]`)
	repeatedDashes      = regexp.MustCompile(`-{2,}`)

	ErrEmptyPayload = errors.New("submission payload has no items")
)

// SanitizeFilename turns a free-form title into a lower-case, dash-separated
// file name stem.
func SanitizeFilename(name string) string {
	s := unsafeFilenameChars.ReplaceAllString(name, "-")
	s = strings.Join(strings.Fields(s), "-")
	s = repeatedDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	return strings.ToLower(s)
}

type ContentFile struct {
	Path    string
	Message string
	Body    []byte
}

// ContentChange is the set of repository files that represent one
// confirmed submission, plus the review title and description.
type ContentChange struct {
	Files []ContentFile
	Title string
	Body  string
}

type eventFile struct {
	Title         string `yaml:"title"`
	Date          string `yaml:"date"`
	Time          string `yaml:"time"`
	URL           string `yaml:"url"`
	Location      string `yaml:"location"`
	Cost          string `yaml:"cost"`
	SubmittedBy   string `yaml:"submitted_by"`
	SubmitterLink string `yaml:"submitter_link"`
	EndDate       string `yaml:"end_date,omitempty"`
}

type groupFile struct {
	Name          string `yaml:"name"`
	Website       string `yaml:"website"`
	RSS           string `yaml:"rss,omitempty"`
	ICal          string `yaml:"ical,omitempty"`
	FallbackURL   string `yaml:"fallback_url,omitempty"`
	SubmittedBy   string `yaml:"submitted_by"`
	SubmitterLink string `yaml:"submitter_link"`
	Active        bool   `yaml:"active"`
}

func BuildContentChange(sub domain.Submission) (ContentChange, error) {
	if sub.Payload.ItemCount() == 0 {
		return ContentChange{}, ErrEmptyPayload
	}
	switch sub.Type {
	case domain.SubmissionEvent:
		return buildEventChange(sub.Payload)
	case domain.SubmissionMeetupGroup:
		return buildMeetupChange(sub.Payload)
	case domain.SubmissionICalFeed:
		return buildICalChange(sub.Payload)
	default:
		return ContentChange{}, fmt.Errorf("unsupported submission type %q", sub.Type)
	}
}

func submittedBy(p domain.Payload) string {
	return domain.Submitter{SubmittedBy: p.SubmittedBy}.DisplayName()
}

func buildEventChange(p domain.Payload) (ContentChange, error) {
	var change ContentChange
	var summary strings.Builder
	for _, ev := range p.Events {
		body, err := yaml.Marshal(eventFile{
			Title:         ev.Title,
			Date:          ev.Date,
			Time:          ev.Time,
			URL:           ev.URL,
			Location:      ev.Location,
			Cost:          ev.Cost,
			SubmittedBy:   submittedBy(p),
			SubmitterLink: p.SubmitterLink,
			EndDate:       ev.EndDate,
		})
		if err != nil {
			return ContentChange{}, fmt.Errorf("encode event file: %w", err)
		}
		change.Files = append(change.Files, ContentFile{
			Path:    fmt.Sprintf("_single_events/%s-%s.yaml", ev.Date, SanitizeFilename(ev.Title)),
			Message: "Add event: " + ev.Title,
			Body:    body,
		})
		fmt.Fprintf(&summary, "- %s (%s)\n", ev.Title, ev.Date)
	}
	change.Title = "Event Submission: Multiple"
	if len(p.Events) == 1 {
		change.Title = "Event Submission: " + p.Events[0].Title
	}
	change.Body = prBody(p, "Events", summary.String())
	return change, nil
}

func buildMeetupChange(p domain.Payload) (ContentChange, error) {
	var change ContentChange
	var summary strings.Builder
	for _, g := range p.Groups {
		body, err := yaml.Marshal(groupFile{
			Name:          g.Name,
			Website:       g.URL,
			RSS:           strings.TrimRight(g.URL, "/") + "/events/rss/",
			SubmittedBy:   submittedBy(p),
			SubmitterLink: p.SubmitterLink,
			Active:        true,
		})
		if err != nil {
			return ContentChange{}, fmt.Errorf("encode group file: %w", err)
		}
		change.Files = append(change.Files, ContentFile{
			Path:    fmt.Sprintf("_groups/meetup-%s.yaml", SanitizeFilename(g.Name)),
			Message: "Add meetup group: " + g.Name,
			Body:    body,
		})
		fmt.Fprintf(&summary, "- %s (%s)\n", g.Name, g.URL)
	}
	change.Title = "Add Multiple Meetup Groups"
	if len(p.Groups) == 1 {
		change.Title = "Add Meetup Group: " + p.Groups[0].Name
	}
	change.Body = prBody(p, "Groups", summary.String())
	return change, nil
}

func buildICalChange(p domain.Payload) (ContentChange, error) {
	feed := p.Feed
	body, err := yaml.Marshal(groupFile{
		Name:          feed.Name,
		Website:       feed.URL,
		ICal:          feed.ICal,
		FallbackURL:   feed.FallbackURL,
		SubmittedBy:   submittedBy(p),
		SubmitterLink: p.SubmitterLink,
		Active:        true,
	})
	if err != nil {
		return ContentChange{}, fmt.Errorf("encode ical file: %w", err)
	}
	return ContentChange{
		Files: []ContentFile{{
			Path:    fmt.Sprintf("_groups/ical-%s.yaml", SanitizeFilename(feed.Name)),
			Message: "Add iCal feed: " + feed.Name,
			Body:    body,
		}},
		Title: "Add iCal Feed: " + feed.Name,
		Body:  prBody(p, "Feed", fmt.Sprintf("- %s (%s)\n", feed.Name, feed.ICal)),
	}, nil
}

func prBody(p domain.Payload, heading, items string) string {
	return fmt.Sprintf("Submitted by: %s\nSubmitted via web form\n\n%s:\n%s", submittedBy(p), heading, items)
}
