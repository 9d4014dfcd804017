package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptMode distinguishes a full-paper run from a single-section run.
type AttemptMode string

const (
	AttemptModeFull      AttemptMode = "full"
	AttemptModeSectional AttemptMode = "sectional"
)

// AttemptStatus enumerates attempt lifecycle states. submitted is the
// transient state between the finalize CAS and score persistence; completed
// and abandoned are terminal like submitted.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusPaused     AttemptStatus = "paused"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusAbandoned  AttemptStatus = "abandoned"
)

// Terminal reports whether the status forbids further mutation (outside the
// post-submit grace window).
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusCompleted || s == AttemptStatusAbandoned
}

// TimeRemaining maps section name -> remaining seconds at the last checkpoint.
type TimeRemaining map[string]int

// SectionScore is the per-section slice of a scored attempt.
type SectionScore struct {
	Score      float64 `json:"score"`
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	Unanswered int     `json:"unanswered"`
}

// SectionScores maps section name -> score breakdown.
type SectionScores map[string]SectionScore

// Attempt is one candidate's run at a paper (or one section of it) under the
// clock. At most one non-terminal attempt exists per (user, paper, mode,
// sectional section); the storage layer backs that with a partial unique
// index and the session guard enforces single-writer semantics on top.
type Attempt struct {
	ID               uuid.UUID     `json:"id"`
	UserID           uuid.UUID     `json:"user_id"`
	PaperID          uuid.UUID     `json:"paper_id"`
	Mode             AttemptMode   `json:"mode"`
	SectionalSection *string       `json:"sectional_section,omitempty"`
	Status           AttemptStatus `json:"status"`

	CurrentSection  string        `json:"current_section"`
	CurrentQuestion int           `json:"current_question"`
	TimeRemaining   TimeRemaining `json:"time_remaining"`
	// CheckpointAt is when TimeRemaining was last reconciled. The active
	// section's authoritative remaining time is always recomputed as
	// remaining - (now - CheckpointAt); it is never decremented by a tick.
	CheckpointAt   time.Time `json:"checkpoint_at"`
	LockedSections []string  `json:"locked_sections"`

	SessionToken    *string    `json:"-"`
	SessionIssuedAt *time.Time `json:"-"`
	HeartbeatAt     *time.Time `json:"-"`
	SubmissionID    *string    `json:"-"`

	StartedAt          time.Time  `json:"started_at"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	TotalPausedSeconds int        `json:"total_paused_seconds"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	TotalScore       *float64      `json:"total_score,omitempty"`
	MaxScore         *float64      `json:"max_score,omitempty"`
	CorrectCount     *int          `json:"correct_count,omitempty"`
	IncorrectCount   *int          `json:"incorrect_count,omitempty"`
	UnansweredCount  *int          `json:"unanswered_count,omitempty"`
	Accuracy         *float64      `json:"accuracy,omitempty"`
	AttemptRate      *float64      `json:"attempt_rate,omitempty"`
	SectionScores    SectionScores `json:"section_scores,omitempty"`
	TimeTakenSeconds *int          `json:"time_taken_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SectionLocked reports whether the named section was locked by timer expiry.
func (a *Attempt) SectionLocked(name string) bool {
	for _, s := range a.LockedSections {
		if s == name {
			return true
		}
	}
	return false
}

// Sections returns the section names this attempt runs: the single chosen
// section in sectional mode, otherwise every key of the timer map.
func (a *Attempt) Sections() []string {
	if a.Mode == AttemptModeSectional && a.SectionalSection != nil {
		return []string{*a.SectionalSection}
	}
	out := make([]string, 0, len(a.TimeRemaining))
	for name := range a.TimeRemaining {
		out = append(out, name)
	}
	return out
}

// StartAttemptRequest is the payload for creating (or resuming) an attempt.
type StartAttemptRequest struct {
	PaperID string `json:"paper_id" binding:"required,uuid"`
	Mode    string `json:"mode" binding:"required,oneof=full sectional"`
	Section string `json:"section" binding:"omitempty,min=1,max=32"`
}

// ProgressRequest is the heartbeat payload. TimeRemaining carries the
// client's locally computed values; the server recomputes its own and treats
// the client's as telemetry.
type ProgressRequest struct {
	TimeRemaining   map[string]int `json:"time_remaining" binding:"required"`
	CurrentSection  string         `json:"current_section" binding:"required,min=1,max=32"`
	CurrentQuestion *int           `json:"current_question" binding:"required,min=0"`
	SessionToken    string         `json:"session_token" binding:"required"`
}

// PauseRequest mirrors ProgressRequest; the session token is optional so a
// beacon fired from a closing tab can still pause.
type PauseRequest struct {
	TimeRemaining   map[string]int `json:"time_remaining" binding:"required"`
	CurrentSection  string         `json:"current_section" binding:"required,min=1,max=32"`
	CurrentQuestion *int           `json:"current_question" binding:"required,min=0"`
	SessionToken    string         `json:"session_token" binding:"omitempty"`
}

// ForceResumeRequest carries the replacement token minted by the tab taking
// over the attempt.
type ForceResumeRequest struct {
	NewSessionToken string `json:"new_session_token" binding:"required,min=16,max=128"`
}

// SubmitRequest finalizes an attempt. SubmissionID lets a retry of a
// timed-out submit be recognized and answered with the stored result.
type SubmitRequest struct {
	SessionToken string `json:"session_token" binding:"required"`
	SubmissionID string `json:"submission_id" binding:"omitempty,max=64"`
}
