package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType enumerates scoring-relevant question kinds. MCQ answers are
// option labels (A-D); TITA answers are typed free values with no negative
// marking.
type QuestionType string

const (
	QuestionTypeMCQ  QuestionType = "MCQ"
	QuestionTypeTITA QuestionType = "TITA"
)

// Question represents a single question with its answer key. The key never
// leaves the server while an attempt is live; handlers serve ExamQuestion.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	PaperID       uuid.UUID       `json:"paper_id"`
	Section       string          `json:"section"`
	Number        int             `json:"number"`
	Text          string          `json:"text"`
	Type          QuestionType    `json:"type"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer string          `json:"correct_answer"`
	PositiveMarks *float64        `json:"positive_marks,omitempty"`
	NegativeMarks *float64        `json:"negative_marks,omitempty"`
	IsActive      bool            `json:"is_active"`
}

// ExamQuestion is the answer-key-free view served to a candidate mid-attempt.
type ExamQuestion struct {
	ID      uuid.UUID       `json:"id"`
	Section string          `json:"section"`
	Number  int             `json:"number"`
	Text    string          `json:"text"`
	Type    QuestionType    `json:"type"`
	Options json.RawMessage `json:"options,omitempty"`
}

// ForExam strips the answer key and solution fields.
func (q *Question) ForExam() ExamQuestion {
	return ExamQuestion{
		ID:      q.ID,
		Section: q.Section,
		Number:  q.Number,
		Text:    q.Text,
		Type:    q.Type,
		Options: q.Options,
	}
}

// EffectivePositiveMarks resolves the question's positive marks, falling back
// to the paper default.
func (q *Question) EffectivePositiveMarks(paper *Paper) float64 {
	if q.PositiveMarks != nil {
		return *q.PositiveMarks
	}
	return paper.DefaultPositiveMarks
}

// EffectiveNegativeMarks resolves the penalty for a wrong attempted answer.
// TITA questions never carry a penalty, even if a row was mis-saved with one.
func (q *Question) EffectiveNegativeMarks(paper *Paper) float64 {
	if q.Type == QuestionTypeTITA {
		return 0
	}
	var n float64
	if q.NegativeMarks != nil {
		n = *q.NegativeMarks
	} else {
		n = paper.DefaultNegativeMarks
	}
	if n < 0 {
		n = -n
	}
	return n
}
