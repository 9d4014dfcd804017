package service

import (
	"testing"
	"time"

	"github.com/prepline/examd/internal/model"
)

func TestRemainingSeconds(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		stored  int
		elapsed time.Duration
		want    int
	}{
		{"no elapsed time", 600, 0, 600},
		{"normal decay", 600, 90 * time.Second, 510},
		{"clamped at zero", 600, 700 * time.Second, 0},
		{"exactly zero", 600, 600 * time.Second, 0},
		{"clock skew backwards", 600, -30 * time.Second, 600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemainingSeconds(tt.stored, base, base.Add(tt.elapsed))
			if got != tt.want {
				t.Errorf("RemainingSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecomputeRemainingOnlyActiveSectionDecays(t *testing.T) {
	checkpoint := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	attempt := &model.Attempt{
		Status:         model.AttemptStatusInProgress,
		CurrentSection: "VARC",
		CheckpointAt:   checkpoint,
		TimeRemaining:  model.TimeRemaining{"VARC": 2400, "DILR": 2400, "QA": 2400},
	}

	got := RecomputeRemaining(attempt, checkpoint.Add(5*time.Minute))

	if got["VARC"] != 2100 {
		t.Errorf("active section = %d, want 2100", got["VARC"])
	}
	if got["DILR"] != 2400 || got["QA"] != 2400 {
		t.Errorf("inactive sections decayed: DILR=%d QA=%d", got["DILR"], got["QA"])
	}
}

func TestRecomputeRemainingPausedIsFrozen(t *testing.T) {
	checkpoint := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	attempt := &model.Attempt{
		Status:         model.AttemptStatusPaused,
		CurrentSection: "QA",
		CheckpointAt:   checkpoint,
		TimeRemaining:  model.TimeRemaining{"QA": 1800},
	}

	// Hours of wall time must not touch a paused attempt.
	got := RecomputeRemaining(attempt, checkpoint.Add(6*time.Hour))
	if got["QA"] != 1800 {
		t.Errorf("paused attempt decayed to %d, want 1800", got["QA"])
	}
}

func TestRecomputeRemainingLockedSectionIsFrozen(t *testing.T) {
	checkpoint := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	attempt := &model.Attempt{
		Status:         model.AttemptStatusInProgress,
		CurrentSection: "VARC",
		LockedSections: []string{"VARC"},
		CheckpointAt:   checkpoint,
		TimeRemaining:  model.TimeRemaining{"VARC": 0, "QA": 1200},
	}

	got := RecomputeRemaining(attempt, checkpoint.Add(time.Minute))
	if got["VARC"] != 0 {
		t.Errorf("locked section changed: %d", got["VARC"])
	}
	if got["QA"] != 1200 {
		t.Errorf("inactive section changed: %d", got["QA"])
	}
}

func TestClampReported(t *testing.T) {
	server := model.TimeRemaining{"VARC": 500, "QA": 100}

	t.Run("client lower wins", func(t *testing.T) {
		got, inflated := ClampReported(server, map[string]int{"VARC": 480, "QA": 100})
		if inflated {
			t.Error("unexpected inflation flag")
		}
		if got["VARC"] != 480 || got["QA"] != 100 {
			t.Errorf("got %v", got)
		}
	})

	t.Run("client higher is clamped and flagged", func(t *testing.T) {
		got, inflated := ClampReported(server, map[string]int{"VARC": 9999})
		if !inflated {
			t.Error("expected inflation flag")
		}
		if got["VARC"] != 500 {
			t.Errorf("VARC = %d, want server value 500", got["VARC"])
		}
	})

	t.Run("invented sections are ignored", func(t *testing.T) {
		got, _ := ClampReported(server, map[string]int{"BOGUS": 100})
		if _, ok := got["BOGUS"]; ok {
			t.Error("invented section leaked into reconciled map")
		}
	})

	t.Run("negative report is ignored", func(t *testing.T) {
		got, _ := ClampReported(server, map[string]int{"QA": -5})
		if got["QA"] != 100 {
			t.Errorf("QA = %d, want 100", got["QA"])
		}
	})
}

func TestExpiredSections(t *testing.T) {
	remaining := model.TimeRemaining{"VARC": 0, "DILR": 10, "QA": 0}

	got := ExpiredSections(remaining, []string{"QA"})
	if len(got) != 1 || got[0] != "VARC" {
		t.Errorf("ExpiredSections() = %v, want [VARC]", got)
	}
}

func TestAllExpired(t *testing.T) {
	full := &model.Attempt{
		Mode:          model.AttemptModeFull,
		TimeRemaining: model.TimeRemaining{"VARC": 0, "QA": 0},
	}
	if !AllExpired(full, full.TimeRemaining) {
		t.Error("expected full attempt with all zeros to be expired")
	}

	partial := &model.Attempt{
		Mode:          model.AttemptModeFull,
		TimeRemaining: model.TimeRemaining{"VARC": 0, "QA": 30},
	}
	if AllExpired(partial, partial.TimeRemaining) {
		t.Error("attempt with time left reported as expired")
	}

	section := "QA"
	sectional := &model.Attempt{
		Mode:             model.AttemptModeSectional,
		SectionalSection: &section,
		TimeRemaining:    model.TimeRemaining{"QA": 0},
	}
	if !AllExpired(sectional, sectional.TimeRemaining) {
		t.Error("sectional attempt with zero remaining not expired")
	}
}

func TestInitialRemaining(t *testing.T) {
	paper := &model.Paper{
		Sections: []model.SectionConfig{
			{Name: "VARC", TimeMinutes: 40},
			{Name: "DILR", TimeMinutes: 40},
			{Name: "QA", TimeMinutes: 40},
		},
	}

	full := InitialRemaining(paper, model.AttemptModeFull, "VARC")
	if len(full) != 3 || full["DILR"] != 2400 {
		t.Errorf("full mode map = %v", full)
	}

	sectional := InitialRemaining(paper, model.AttemptModeSectional, "QA")
	if len(sectional) != 1 || sectional["QA"] != 2400 {
		t.Errorf("sectional mode map = %v", sectional)
	}
}
