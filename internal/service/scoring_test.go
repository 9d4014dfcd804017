package service

import (
	"testing"

	"github.com/google/uuid"

	"github.com/prepline/examd/internal/model"
)

func TestAnswersMatch(t *testing.T) {
	tests := []struct {
		name  string
		qType model.QuestionType
		given string
		key   string
		want  bool
	}{
		{"mcq exact", model.QuestionTypeMCQ, "B", "B", true},
		{"mcq case insensitive", model.QuestionTypeMCQ, "b", "B", true},
		{"mcq trimmed", model.QuestionTypeMCQ, " C ", "C", true},
		{"mcq wrong", model.QuestionTypeMCQ, "A", "B", false},
		{"tita integer", model.QuestionTypeTITA, "42", "42", true},
		{"tita decimal forms", model.QuestionTypeTITA, ".5", "0.5", true},
		{"tita trailing zeros", model.QuestionTypeTITA, "0.50", "0.5", true},
		{"tita trailing dot", model.QuestionTypeTITA, "3.", "3", true},
		{"tita zero", model.QuestionTypeTITA, "0", "0", true},
		{"tita negative", model.QuestionTypeTITA, "-7", "-7.0", true},
		{"tita numeric mismatch", model.QuestionTypeTITA, "41", "42", false},
		{"tita text key falls back to string", model.QuestionTypeTITA, " Paris ", "paris", true},
		{"tita text mismatch", model.QuestionTypeTITA, "london", "paris", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnswersMatch(tt.qType, tt.given, tt.key); got != tt.want {
				t.Errorf("AnswersMatch(%q, %q) = %v, want %v", tt.given, tt.key, got, tt.want)
			}
		})
	}
}

func strPtr(s string) *string { return &s }

func scoringFixture() (*model.Paper, []model.Question) {
	paper := &model.Paper{
		Sections: []model.SectionConfig{
			{Name: "VARC", TimeMinutes: 40},
			{Name: "QA", TimeMinutes: 40},
		},
		DefaultPositiveMarks: 3,
		DefaultNegativeMarks: 1,
	}
	questions := []model.Question{
		{ID: uuid.New(), Section: "VARC", Number: 1, Type: model.QuestionTypeMCQ, CorrectAnswer: "A"},
		{ID: uuid.New(), Section: "VARC", Number: 2, Type: model.QuestionTypeMCQ, CorrectAnswer: "B"},
		{ID: uuid.New(), Section: "QA", Number: 1, Type: model.QuestionTypeTITA, CorrectAnswer: "0"},
		{ID: uuid.New(), Section: "QA", Number: 2, Type: model.QuestionTypeTITA, CorrectAnswer: "12"},
	}
	return paper, questions
}

func TestCalculateScore(t *testing.T) {
	paper, questions := scoringFixture()
	attempt := &model.Attempt{
		Mode:          model.AttemptModeFull,
		TimeRemaining: model.TimeRemaining{"VARC": 0, "QA": 0},
	}

	responses := []model.Response{
		{QuestionID: questions[0].ID, Answer: strPtr("a")},  // correct, case folded
		{QuestionID: questions[1].ID, Answer: strPtr("C")},  // wrong MCQ, -1
		{QuestionID: questions[2].ID, Answer: strPtr("0")},  // TITA zero is a real answer, +3
		{QuestionID: questions[3].ID, Answer: strPtr("99")}, // wrong TITA, no penalty
	}

	result := CalculateScore(paper, attempt, questions, responses)

	if result.TotalScore != 5 { // 3 - 1 + 3 + 0
		t.Errorf("TotalScore = %v, want 5", result.TotalScore)
	}
	if result.MaxScore != 12 {
		t.Errorf("MaxScore = %v, want 12", result.MaxScore)
	}
	if result.CorrectCount != 2 || result.IncorrectCount != 2 || result.UnansweredCount != 0 {
		t.Errorf("counts = %d/%d/%d", result.CorrectCount, result.IncorrectCount, result.UnansweredCount)
	}
	if result.Accuracy != 50 {
		t.Errorf("Accuracy = %v, want 50", result.Accuracy)
	}
	if result.AttemptRate != 100 {
		t.Errorf("AttemptRate = %v, want 100", result.AttemptRate)
	}

	varc := result.SectionScores["VARC"]
	if varc.Score != 2 || varc.Correct != 1 || varc.Incorrect != 1 {
		t.Errorf("VARC section = %+v", varc)
	}
	qa := result.SectionScores["QA"]
	if qa.Score != 3 {
		t.Errorf("QA section score = %v, want 3 (no TITA penalty)", qa.Score)
	}
}

func TestCalculateScoreClearedAnswerIsUnanswered(t *testing.T) {
	paper, questions := scoringFixture()
	attempt := &model.Attempt{
		Mode:          model.AttemptModeFull,
		TimeRemaining: model.TimeRemaining{"VARC": 0, "QA": 0},
	}

	// An explicitly cleared answer (empty string) and a never-answered
	// question both score as unanswered: no marks either way.
	responses := []model.Response{
		{QuestionID: questions[0].ID, Answer: strPtr(""), Status: model.ResponseStatusVisited},
	}

	result := CalculateScore(paper, attempt, questions, responses)
	if result.TotalScore != 0 {
		t.Errorf("TotalScore = %v, want 0", result.TotalScore)
	}
	if result.UnansweredCount != 4 {
		t.Errorf("UnansweredCount = %d, want 4", result.UnansweredCount)
	}
	if result.AttemptRate != 0 {
		t.Errorf("AttemptRate = %v, want 0", result.AttemptRate)
	}

	// Cleared answers still get a nil correctness marker.
	for _, rs := range result.ResponseScores {
		if rs.IsCorrect != nil {
			t.Errorf("cleared/unanswered question got IsCorrect = %v", *rs.IsCorrect)
		}
		if rs.MarksObtained != 0 {
			t.Errorf("unanswered question got marks %v", rs.MarksObtained)
		}
	}
}

func TestCalculateScoreSectionalScope(t *testing.T) {
	paper, questions := scoringFixture()
	section := "QA"
	attempt := &model.Attempt{
		Mode:             model.AttemptModeSectional,
		SectionalSection: &section,
		TimeRemaining:    model.TimeRemaining{"QA": 0},
	}

	responses := []model.Response{
		{QuestionID: questions[0].ID, Answer: strPtr("A")}, // VARC, out of scope
		{QuestionID: questions[2].ID, Answer: strPtr("0")},
	}

	result := CalculateScore(paper, attempt, questions, responses)
	if result.MaxScore != 6 {
		t.Errorf("MaxScore = %v, want 6 (QA only)", result.MaxScore)
	}
	if result.TotalScore != 3 {
		t.Errorf("TotalScore = %v, want 3", result.TotalScore)
	}
	if _, ok := result.SectionScores["VARC"]; ok {
		t.Error("out-of-scope section appeared in breakdown")
	}
}

func TestCalculateScorePerQuestionMarksOverride(t *testing.T) {
	paper, questions := scoringFixture()
	two := 2.0
	half := 0.5
	questions[0].PositiveMarks = &two
	questions[0].NegativeMarks = &half

	attempt := &model.Attempt{
		Mode:          model.AttemptModeFull,
		TimeRemaining: model.TimeRemaining{"VARC": 0, "QA": 0},
	}
	responses := []model.Response{
		{QuestionID: questions[0].ID, Answer: strPtr("D")}, // wrong, -0.5
	}

	result := CalculateScore(paper, attempt, questions, responses)
	if result.TotalScore != -0.5 {
		t.Errorf("TotalScore = %v, want -0.5", result.TotalScore)
	}
	if result.MaxScore != 11 { // 2 + 3 + 3 + 3
		t.Errorf("MaxScore = %v, want 11", result.MaxScore)
	}
}

func TestParseNumber(t *testing.T) {
	if v, ok := parseNumber(" 12.5 "); !ok || v != 12.5 {
		t.Errorf("parseNumber(12.5) = %v, %v", v, ok)
	}
	if _, ok := parseNumber("abc"); ok {
		t.Error("parseNumber accepted non-numeric input")
	}
	if _, ok := parseNumber(""); ok {
		t.Error("parseNumber accepted empty input")
	}
}
