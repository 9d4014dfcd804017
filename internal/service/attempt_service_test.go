package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prepline/examd/internal/model"
)

func TestCheckSaveTarget(t *testing.T) {
	svc := &AttemptService{}
	now := time.Now()

	varcQ := model.Question{ID: uuid.New(), Section: "VARC", Number: 1}
	qaQ := model.Question{ID: uuid.New(), Section: "QA", Number: 1}
	questions := map[uuid.UUID]model.Question{varcQ.ID: varcQ, qaQ.ID: qaQ}

	varc := "VARC"

	liveAttempt := func() *model.Attempt {
		return &model.Attempt{
			Mode:           model.AttemptModeFull,
			Status:         model.AttemptStatusInProgress,
			CurrentSection: "VARC",
			CheckpointAt:   now.Add(-10 * time.Second),
			TimeRemaining:  model.TimeRemaining{"VARC": 600, "QA": 600},
		}
	}

	tests := []struct {
		name       string
		attempt    *model.Attempt
		questionID string
		wantErr    error
	}{
		{
			name:       "live section accepts the save",
			attempt:    liveAttempt(),
			questionID: varcQ.ID.String(),
		},
		{
			name:       "inactive section with time left accepts the save",
			attempt:    liveAttempt(),
			questionID: qaQ.ID.String(),
		},
		{
			name:       "malformed question id",
			attempt:    liveAttempt(),
			questionID: "not-a-uuid",
			wantErr:    ErrInvalidQuestion,
		},
		{
			name:       "question from another paper",
			attempt:    liveAttempt(),
			questionID: uuid.New().String(),
			wantErr:    ErrInvalidQuestion,
		},
		{
			name: "section outside a sectional attempt's scope",
			attempt: &model.Attempt{
				Mode:             model.AttemptModeSectional,
				SectionalSection: &varc,
				Status:           model.AttemptStatusInProgress,
				CurrentSection:   "VARC",
				CheckpointAt:     now.Add(-10 * time.Second),
				TimeRemaining:    model.TimeRemaining{"VARC": 600},
			},
			questionID: qaQ.ID.String(),
			wantErr:    ErrInvalidQuestion,
		},
		{
			name: "recorded lock rejects the save",
			attempt: func() *model.Attempt {
				a := liveAttempt()
				a.LockedSections = []string{"VARC"}
				return a
			}(),
			questionID: varcQ.ID.String(),
			wantErr:    ErrSectionLocked,
		},
		{
			// The clock ran out but no progress checkpoint has recorded the
			// lock yet: the save must still be refused.
			name: "elapsed wall time exhausted the active section",
			attempt: func() *model.Attempt {
				a := liveAttempt()
				a.CheckpointAt = now.Add(-20 * time.Minute)
				return a
			}(),
			questionID: varcQ.ID.String(),
			wantErr:    ErrSectionLocked,
		},
		{
			name: "paused attempt with an exhausted section",
			attempt: &model.Attempt{
				Mode:           model.AttemptModeFull,
				Status:         model.AttemptStatusPaused,
				CurrentSection: "VARC",
				CheckpointAt:   now.Add(-time.Hour),
				TimeRemaining:  model.TimeRemaining{"VARC": 0, "QA": 600},
			},
			questionID: varcQ.ID.String(),
			wantErr:    ErrSectionLocked,
		},
		{
			// Pause froze the map an hour ago; the stored value stays valid.
			name: "paused attempt with time left",
			attempt: &model.Attempt{
				Mode:           model.AttemptModeFull,
				Status:         model.AttemptStatusPaused,
				CurrentSection: "VARC",
				CheckpointAt:   now.Add(-time.Hour),
				TimeRemaining:  model.TimeRemaining{"VARC": 600, "QA": 600},
			},
			questionID: varcQ.ID.String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.checkSaveTarget(tt.attempt, questions, tt.questionID, now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("checkSaveTarget() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
