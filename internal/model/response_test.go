package model

import "testing"

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		hasAnswer bool
		marked    bool
		visited   bool
		want      ResponseStatus
	}{
		{"untouched", false, false, false, ResponseStatusNotVisited},
		{"visited only", false, false, true, ResponseStatusVisited},
		{"answered", true, false, true, ResponseStatusAnswered},
		{"marked only", false, true, true, ResponseStatusMarkedForReview},
		{"answered and marked", true, true, true, ResponseStatusAnsweredMarked},
		// Review flag wins over visit history even if visited is stale false.
		{"marked before visit recorded", false, true, false, ResponseStatusMarkedForReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.hasAnswer, tt.marked, tt.visited); got != tt.want {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeriveStatusClearedFallsToVisited(t *testing.T) {
	// Clearing an answer on a visited question must not regress to
	// not_visited: the candidate did open it.
	if got := DeriveStatus(false, false, true); got != ResponseStatusVisited {
		t.Errorf("cleared answer derived %s, want visited", got)
	}
}

func TestHasAnswerValue(t *testing.T) {
	zero := "0"
	empty := ""
	text := "B"

	if HasAnswerValue(nil) {
		t.Error("nil answer counted as a value")
	}
	if HasAnswerValue(&empty) {
		t.Error("empty string counted as a value")
	}
	if !HasAnswerValue(&zero) {
		t.Error(`"0" must count as a real answer`)
	}
	if !HasAnswerValue(&text) {
		t.Error("option label not counted as a value")
	}
}

func TestResponseStatusValid(t *testing.T) {
	for _, s := range []ResponseStatus{
		ResponseStatusNotVisited, ResponseStatusVisited, ResponseStatusAnswered,
		ResponseStatusMarkedForReview, ResponseStatusAnsweredMarked,
	} {
		if !s.Valid() {
			t.Errorf("%s reported invalid", s)
		}
	}
	if ResponseStatus("bogus").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestAttemptSections(t *testing.T) {
	section := "QA"
	sectional := &Attempt{
		Mode:             AttemptModeSectional,
		SectionalSection: &section,
		TimeRemaining:    TimeRemaining{"QA": 100},
	}
	if got := sectional.Sections(); len(got) != 1 || got[0] != "QA" {
		t.Errorf("sectional Sections() = %v", got)
	}

	full := &Attempt{
		Mode:          AttemptModeFull,
		TimeRemaining: TimeRemaining{"VARC": 1, "QA": 2},
	}
	if got := full.Sections(); len(got) != 2 {
		t.Errorf("full Sections() = %v", got)
	}
}

func TestAttemptStatusTerminal(t *testing.T) {
	if AttemptStatusInProgress.Terminal() || AttemptStatusPaused.Terminal() {
		t.Error("live statuses reported terminal")
	}
	if !AttemptStatusSubmitted.Terminal() || !AttemptStatusCompleted.Terminal() || !AttemptStatusAbandoned.Terminal() {
		t.Error("terminal statuses reported live")
	}
}
