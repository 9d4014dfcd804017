package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt session ───────────────────────────────────────────────
	ErrSessionConflict     ErrCode = "SESSION_CONFLICT"
	ErrForceResumeStale    ErrCode = "FORCE_RESUME_STALE"
	ErrSessionTokenMissing ErrCode = "SESSION_TOKEN_MISSING"

	// ─── Attempt state ─────────────────────────────────────────────────
	ErrAttemptNotActive  ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrAttemptNotScored  ErrCode = "ATTEMPT_NOT_SCORED"
	ErrSectionLocked     ErrCode = "SECTION_LOCKED"
	ErrPaperNotAvailable ErrCode = "PAPER_NOT_AVAILABLE"
	ErrAttemptLimit      ErrCode = "ATTEMPT_LIMIT_REACHED"
	ErrPauseNotAllowed   ErrCode = "PAUSE_NOT_ALLOWED"
	ErrInvalidQuestion   ErrCode = "INVALID_QUESTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."
	case ErrForbidden:
		return "You do not have access to this resource."
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrNotFound:
		return "Resource not found."
	case ErrSessionConflict:
		return "This exam appears to be open in another tab or device."
	case ErrForceResumeStale:
		return "Another session is still active. Try again in a moment."
	case ErrSessionTokenMissing:
		return "A session token is required for this operation."
	case ErrAttemptNotActive:
		return "This attempt is no longer in progress."
	case ErrAttemptNotScored:
		return "This attempt has not been scored yet."
	case ErrSectionLocked:
		return "Time is up for this section."
	case ErrPaperNotAvailable:
		return "This paper is not available."
	case ErrAttemptLimit:
		return "You have reached the attempt limit for this paper."
	case ErrPauseNotAllowed:
		return "Pausing is not allowed for this paper."
	case ErrInvalidQuestion:
		return "The question does not belong to this attempt's paper."
	case ErrRateLimitExceeded:
		return "Too many requests. Please slow down."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
