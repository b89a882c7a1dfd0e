package scheduler

import "errors"

var (
	// ErrMissingEntity marks a schedule whose channel or content item no
	// longer exists. Such schedules fail without a publish attempt.
	ErrMissingEntity = errors.New("missing channel or content")

	// ErrPublishExhausted wraps the last gateway error once every attempt
	// for a schedule has failed.
	ErrPublishExhausted = errors.New("publish attempts exhausted")

	// ErrLockUnavailable is logged when the tick lease is held elsewhere or
	// the lock backend cannot be reached.
	ErrLockUnavailable = errors.New("tick lease unavailable")
)

// missingEntityMessage is stored on schedules failed for ErrMissingEntity.
const missingEntityMessage = "Missing channel or content"
