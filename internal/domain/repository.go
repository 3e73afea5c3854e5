package domain

import (
	"context"
	"time"
)

// JobRepository is the single source of truth for job status. Every mutating
// method is a compare-and-set on the current status so that a transition is
// applied at most once, whatever the number of concurrent callers.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Job, error)

	// MarkProcessing moves a pending job to processing. It returns
	// ErrInvalidTransition when the job is in any other state.
	MarkProcessing(ctx context.Context, jobID string) error
	// Complete stores pages and artifact and moves processing to complete in
	// a single write.
	Complete(ctx context.Context, jobID string, pages []Page, artifactURL string) error
	// Fail moves a pending or processing job to failed.
	Fail(ctx context.Context, jobID string, summary string) error
	// FailStale fails every pending or processing job not updated since
	// cutoff and returns the affected ids. Processing jobs get summary;
	// pending jobs get NeverStartedSummary.
	FailStale(ctx context.Context, cutoff time.Time, summary string) ([]string, error)
}

// ValidateCompletion guards the all-or-nothing completion rule shared by all
// repository implementations.
func ValidateCompletion(pages []Page, artifactURL string) error {
	if len(pages) != PageCount || artifactURL == "" {
		return ErrIncompleteStory
	}
	for _, p := range pages {
		if p.Narration == "" || p.IllustrationURL == "" {
			return ErrIncompleteStory
		}
	}
	return nil
}
