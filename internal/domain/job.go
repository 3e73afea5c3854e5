package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// PageCount is the fixed number of spreads in every storybook.
	PageCount = 5
	// MaxNarrationRunes bounds the narration text of a single page.
	MaxNarrationRunes = 600
	// MaxErrorSummary bounds the diagnostic stored on failed jobs.
	MaxErrorSummary = 280

	MinChildAge = 3
	MaxChildAge = 12

	// NeverStartedSummary is recorded when the sweep fails a job that no run
	// ever picked up.
	NeverStartedSummary = "never started: no run picked up the job"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition encodes the forward-only state machine:
// pending -> processing -> complete|failed, plus pending -> failed for jobs
// that could not be dispatched or were reconciled before they started.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusComplete || to == JobStatusFailed
	default:
		return false
	}
}

// StoryInputs is the immutable child profile captured at intake.
type StoryInputs struct {
	ChildName   string `json:"child_name"`
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
	PhotoURL    string `json:"photo_url"`
	PhotoKey    string `json:"photo_key,omitempty"`
	Language    string `json:"language,omitempty"`
}

// Page pairs the narration of one spread with its illustration.
type Page struct {
	Narration       string `json:"narration"`
	IllustrationURL string `json:"illustration_url"`
}

// Job is the durable record of one storybook generation request.
type Job struct {
	ID           string
	OwnerID      string
	Status       JobStatus
	Inputs       StoryInputs
	Pages        []Page
	ArtifactURL  string
	ErrorSummary string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Clone returns a deep copy so callers never share the Pages backing array.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Pages != nil {
		out.Pages = append([]Page(nil), j.Pages...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// ValidJobID reports whether id is a canonical hyphenated UUID, the only form
// job ids are issued in.
func ValidJobID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// TruncateSummary collapses whitespace and bounds s to MaxErrorSummary runes.
func TruncateSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= MaxErrorSummary {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:MaxErrorSummary-1])) + "…"
}
