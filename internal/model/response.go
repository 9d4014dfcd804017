package model

import (
	"time"

	"github.com/google/uuid"
)

// ResponseStatus enumerates per-question palette states.
type ResponseStatus string

const (
	ResponseStatusNotVisited      ResponseStatus = "not_visited"
	ResponseStatusVisited         ResponseStatus = "visited"
	ResponseStatusAnswered        ResponseStatus = "answered"
	ResponseStatusMarkedForReview ResponseStatus = "marked_for_review"
	ResponseStatusAnsweredMarked  ResponseStatus = "answered_marked"
)

// Valid reports whether s is a recognized status value.
func (s ResponseStatus) Valid() bool {
	switch s {
	case ResponseStatusNotVisited, ResponseStatusVisited, ResponseStatusAnswered,
		ResponseStatusMarkedForReview, ResponseStatusAnsweredMarked:
		return true
	}
	return false
}

// Response is one (attempt, question) record. IsCorrect stays nil until
// finalize; nil after finalize means "not evaluable".
type Response struct {
	AttemptID         uuid.UUID      `json:"attempt_id"`
	QuestionID        uuid.UUID      `json:"question_id"`
	Answer            *string        `json:"answer"`
	Status            ResponseStatus `json:"status"`
	IsMarkedForReview bool           `json:"is_marked_for_review"`
	IsVisited         bool           `json:"is_visited"`
	TimeSpentSeconds  int            `json:"time_spent_seconds"`
	VisitCount        int            `json:"visit_count"`
	Note              *string        `json:"note,omitempty"`
	IsCorrect         *bool          `json:"is_correct,omitempty"`
	MarksObtained     *float64       `json:"marks_obtained,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// DeriveStatus computes the palette status from answer presence, the review
// flag, and visit history. An answered question that is cleared falls back to
// visited, never to not_visited: "explicitly cleared" must stay
// distinguishable from "never touched".
func DeriveStatus(hasAnswer, markedForReview, visited bool) ResponseStatus {
	switch {
	case hasAnswer && markedForReview:
		return ResponseStatusAnsweredMarked
	case markedForReview:
		return ResponseStatusMarkedForReview
	case hasAnswer:
		return ResponseStatusAnswered
	case visited:
		return ResponseStatusVisited
	}
	return ResponseStatusNotVisited
}

// HasAnswerValue reports whether answer carries a real value. The empty
// string does not; "0" does — a TITA zero is a legitimate answer.
func HasAnswerValue(answer *string) bool {
	return answer != nil && *answer != ""
}

// ResponseUpsert is one save item. Pointer fields distinguish "omitted" from
// a zero value: omitted fields are never clobbered on the conflict merge.
type ResponseUpsert struct {
	QuestionID        string  `json:"question_id" binding:"required,uuid"`
	Answer            *string `json:"answer"`
	Status            *string `json:"status" binding:"omitempty,responsestatus"`
	IsMarkedForReview *bool   `json:"is_marked_for_review"`
	IsVisited         *bool   `json:"is_visited"`
	TimeSpentSeconds  *int    `json:"time_spent_seconds" binding:"omitempty,min=0"`
	VisitCount        *int    `json:"visit_count" binding:"omitempty,min=0"`
}

// SaveResponseRequest is the single-save payload.
type SaveResponseRequest struct {
	ResponseUpsert
	SessionToken string `json:"session_token" binding:"required"`
}

// SaveBatchRequest applies a set of response mutations in one call.
type SaveBatchRequest struct {
	SessionToken string           `json:"session_token" binding:"required"`
	Responses    []ResponseUpsert `json:"responses" binding:"required,min=1,max=100,dive"`
}

// ResultNoteRequest attaches a short note to one response, typically while
// reviewing a finished attempt.
type ResultNoteRequest struct {
	Note string `json:"note" binding:"max=2000"`
}
