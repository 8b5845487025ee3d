package repos

import "errors"

var (
	// ErrNotFound is returned when an update targets a job id that is
	// not in the registry
	ErrNotFound = errors.New("job not found")

	// ErrJobExists is returned when a job id is created a second time
	// under a different owner
	ErrJobExists = errors.New("job id already exists for another owner")

	// ErrInvalidTransition is returned when a cancel targets a job that
	// is not in a cancellable state
	ErrInvalidTransition = errors.New("invalid job status transition")
)
