package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptEventType enumerates audit-trail event kinds.
type AttemptEventType string

const (
	EventAttemptStarted  AttemptEventType = "attempt_started"
	EventSessionIssued   AttemptEventType = "session_issued"
	EventSessionReplaced AttemptEventType = "session_replaced"
	EventResponseSaved   AttemptEventType = "response_saved"
	EventProgressSaved   AttemptEventType = "progress_saved"
	EventSectionLocked   AttemptEventType = "section_locked"
	EventAttemptPaused   AttemptEventType = "attempt_paused"
	EventAttemptResumed  AttemptEventType = "attempt_resumed"
	EventAttemptExpired  AttemptEventType = "attempt_expired"
	EventAttemptDone     AttemptEventType = "attempt_submitted"
)

// AttemptEvent is one audit-trail entry. Events are pushed to a Redis queue
// on the request path and batch-inserted by a background worker, so audit
// writes never sit on the save latency.
type AttemptEvent struct {
	AttemptID uuid.UUID        `json:"attempt_id"`
	UserID    uuid.UUID        `json:"user_id"`
	Type      AttemptEventType `json:"type"`
	Payload   map[string]any   `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
