package service

import "errors"

// Sentinel errors the handler layer maps onto API error codes.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrPaperNotAvailable   = errors.New("paper not available")
	ErrAttemptLimitReached = errors.New("attempt limit reached")
	ErrAttemptNotActive    = errors.New("attempt not active")
	ErrAttemptNotScored    = errors.New("attempt not scored")
	ErrSessionTokenMissing = errors.New("session token missing")
	ErrSessionConflict     = errors.New("session token conflict")
	ErrForceResumeStale    = errors.New("active session not stale")
	ErrSectionLocked       = errors.New("section locked")
	ErrInvalidQuestion     = errors.New("question not in paper")
	ErrPauseNotAllowed     = errors.New("pause not allowed")
)
