package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrIncompleteStory    = errors.New("incomplete story")
	ErrProviderFailure    = errors.New("provider failure")
	ErrMalformedNarrative = errors.New("malformed narrative")
	ErrInvalidPhoto       = errors.New("invalid photo")
	// ErrAlreadyStarted marks a run that lost the claim on its job.
	ErrAlreadyStarted = errors.New("job already started")
)

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
