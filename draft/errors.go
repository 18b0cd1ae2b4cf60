package draft

import "errors"

var (
	// ErrDraftNotFound is returned when a draft id is unknown (or was swept).
	ErrDraftNotFound = errors.New("draft not found")

	// ErrConcurrentModification is returned when the stored version differs
	// from the version the caller loaded.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicate is returned when creating a draft whose id already exists.
	ErrDuplicate = errors.New("draft already exists")

	// ErrSubmissionInProgress is returned when a draft is claimed for
	// submission and another submit or edit arrives.
	ErrSubmissionInProgress = errors.New("draft submission in progress")

	// ErrUnknownAction is returned by Reduce for actions outside the closed set.
	ErrUnknownAction = errors.New("unknown draft action")
)
