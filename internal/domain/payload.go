package domain

const MaxItemsPerSubmission = 5

type Submitter struct {
	SubmittedBy   string `json:"submitted_by" validate:"omitempty,min=2,max=200"`
	SubmitterLink string `json:"submitter_link,omitempty" validate:"omitempty,url"`
	Email         string `json:"email" validate:"required,email"`
}

// DisplayName returns the submitter name, defaulting to anonymous.
func (s Submitter) DisplayName() string {
	if s.SubmittedBy == "" {
		return "anonymous"
	}
	return s.SubmittedBy
}

type Event struct {
	Title    string `json:"title" validate:"required,min=3,max=200"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	EndDate  string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Time     string `json:"time" validate:"required"`
	URL      string `json:"url" validate:"required,url"`
	Location string `json:"location,omitempty" validate:"max=300"`
	Cost     string `json:"cost,omitempty" validate:"max=100"`
}

type MeetupGroup struct {
	Name string `json:"name" validate:"required,min=2,max=200"`
	URL  string `json:"url" validate:"required,url"`
}

type ICalFeed struct {
	Name        string `json:"name" validate:"required,min=2,max=200"`
	URL         string `json:"url" validate:"required,url"`
	ICal        string `json:"ical" validate:"required,url"`
	FallbackURL string `json:"fallback_url,omitempty" validate:"omitempty,url"`
}

// Payload is the type-specific body of a submission. Exactly one of Events,
// Groups and Feed is populated, matching Submission.Type.
type Payload struct {
	SubmittedBy   string        `json:"submitted_by"`
	SubmitterLink string        `json:"submitter_link,omitempty"`
	Events        []Event       `json:"events,omitempty"`
	Groups        []MeetupGroup `json:"groups,omitempty"`
	Feed          *ICalFeed     `json:"feed,omitempty"`
}

func (p Payload) ItemCount() int {
	n := len(p.Events) + len(p.Groups)
	if p.Feed != nil {
		n++
	}
	return n
}
