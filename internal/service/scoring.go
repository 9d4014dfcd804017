package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/prepline/examd/internal/model"
	"github.com/prepline/examd/internal/repository"
)

const numericEpsilon = 1e-9

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseNumber accepts plain decimal notation, including a leading sign and a
// trailing dot ("3." reads as 3).
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.TrimSuffix(s, ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// AnswersMatch compares a candidate answer against the key. MCQ compares
// case-insensitively after trimming. TITA first tries numeric equality within
// a small epsilon, so "0.5", ".5" and "0.50" all match, then falls back to a
// normalized string compare for non-numeric keys.
func AnswersMatch(qType model.QuestionType, given, key string) bool {
	if qType == model.QuestionTypeTITA {
		gv, gok := parseNumber(given)
		kv, kok := parseNumber(key)
		if gok && kok {
			return math.Abs(gv-kv) < numericEpsilon
		}
	}
	return normalizeAnswer(given) == normalizeAnswer(key)
}

// ScoreResult is the aggregate outcome of grading one attempt.
type ScoreResult struct {
	TotalScore       float64
	MaxScore         float64
	CorrectCount     int
	IncorrectCount   int
	UnansweredCount  int
	Accuracy         float64
	AttemptRate      float64
	SectionScores    model.SectionScores
	ResponseScores   []repository.ResponseScore
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateScore grades an attempt's responses against the paper's questions.
// Only questions belonging to the attempt's sections count toward the
// maximum; a sectional attempt is graded on its single section. An answered
// wrong MCQ takes the question's negative marks; TITA never deducts.
func CalculateScore(paper *model.Paper, attempt *model.Attempt, questions []model.Question, responses []model.Response) ScoreResult {
	inScope := make(map[string]bool)
	for _, name := range attempt.Sections() {
		inScope[name] = true
	}

	answers := make(map[uuid.UUID]*string, len(responses))
	for _, resp := range responses {
		answers[resp.QuestionID] = resp.Answer
	}

	result := ScoreResult{SectionScores: model.SectionScores{}}
	for _, q := range questions {
		if !inScope[q.Section] {
			continue
		}
		positive := q.EffectivePositiveMarks(paper)
		negative := q.EffectiveNegativeMarks(paper)
		result.MaxScore += positive

		sec := result.SectionScores[q.Section]

		answer := answers[q.ID]
		if !model.HasAnswerValue(answer) {
			result.UnansweredCount++
			sec.Unanswered++
			result.SectionScores[q.Section] = sec
			result.ResponseScores = append(result.ResponseScores, repository.ResponseScore{
				QuestionID: q.ID,
			})
			continue
		}

		correct := AnswersMatch(q.Type, *answer, q.CorrectAnswer)
		var marks float64
		if correct {
			marks = positive
			result.CorrectCount++
			sec.Correct++
		} else {
			marks = -negative
			result.IncorrectCount++
			sec.Incorrect++
		}
		result.TotalScore += marks
		sec.Score += marks
		result.SectionScores[q.Section] = sec

		isCorrect := correct
		result.ResponseScores = append(result.ResponseScores, repository.ResponseScore{
			QuestionID:    q.ID,
			IsCorrect:     &isCorrect,
			MarksObtained: marks,
		})
	}

	attempted := result.CorrectCount + result.IncorrectCount
	total := attempted + result.UnansweredCount
	if attempted > 0 {
		result.Accuracy = round2(float64(result.CorrectCount) / float64(attempted) * 100)
	}
	if total > 0 {
		result.AttemptRate = round2(float64(attempted) / float64(total) * 100)
	}
	result.TotalScore = round2(result.TotalScore)
	for name, sec := range result.SectionScores {
		sec.Score = round2(sec.Score)
		result.SectionScores[name] = sec
	}
	return result
}
