package orchestrator

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"storybook/internal/domain"
)

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return e.stage + ": " + e.err.Error()
}

func (e *stageError) Unwrap() error {
	return e.err
}

// Stage reports the pipeline stage err originated in, or "" when unknown.
func Stage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return ""
}

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s"']+`)
	secretPattern = regexp.MustCompile(`(?i)((?:api[_-]?)?key|token|secret|bearer)([=: ]+)[A-Za-z0-9._\-]{6,}`)
)

// Summarize turns a run error into the short diagnostic stored on the job,
// shaped "stage: cause". Timeouts and cancellations get fixed wording and
// URLs or credentials never survive.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	stage := Stage(err)
	var cause string
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		cause = "timed out"
	case errors.Is(err, context.Canceled):
		cause = "interrupted"
	default:
		cause = err.Error()
		if stage != "" {
			cause = strings.TrimPrefix(cause, stage+": ")
		}
	}
	cause = urlPattern.ReplaceAllString(cause, "[url]")
	cause = secretPattern.ReplaceAllString(cause, "$1$2[redacted]")

	summary := cause
	if stage != "" {
		summary = stage + ": " + cause
	}
	return domain.TruncateSummary(summary)
}
