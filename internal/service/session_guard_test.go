package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prepline/examd/internal/model"
)

// fakeSessionStore keeps one attempt's session fields in memory and mimics
// the storage layer's staleness CAS.
type fakeSessionStore struct {
	attempt  *model.Attempt
	now      time.Time
	resumed  int
	setCalls int
}

func (f *fakeSessionStore) GetByID(_ context.Context, _ uuid.UUID) (*model.Attempt, error) {
	return f.attempt, nil
}

func (f *fakeSessionStore) SetSession(_ context.Context, _ uuid.UUID, token string) error {
	f.setCalls++
	f.attempt.SessionToken = &token
	issued := f.now
	f.attempt.SessionIssuedAt = &issued
	f.attempt.HeartbeatAt = &issued
	return nil
}

func (f *fakeSessionStore) ReplaceSessionIfStale(_ context.Context, _ uuid.UUID, newToken string, window time.Duration) (bool, error) {
	lastSeen := time.Time{}
	if f.attempt.SessionIssuedAt != nil {
		lastSeen = *f.attempt.SessionIssuedAt
	}
	if f.attempt.HeartbeatAt != nil && f.attempt.HeartbeatAt.After(lastSeen) {
		lastSeen = *f.attempt.HeartbeatAt
	}
	if f.attempt.SessionToken != nil && f.now.Sub(lastSeen) < window {
		return false, nil
	}
	f.attempt.SessionToken = &newToken
	return true, nil
}

func (f *fakeSessionStore) Resume(_ context.Context, _ uuid.UUID) (bool, error) {
	if f.attempt.Status != model.AttemptStatusPaused {
		return false, nil
	}
	f.attempt.Status = model.AttemptStatusInProgress
	f.resumed++
	return true, nil
}

func newGuardFixture(status model.AttemptStatus) (*SessionGuard, *fakeSessionStore) {
	store := &fakeSessionStore{
		attempt: &model.Attempt{ID: uuid.New(), Status: status},
		now:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	guard := NewSessionGuard(store, 45*time.Second, zerolog.Nop())
	return guard, store
}

func TestIssueInstallsFreshToken(t *testing.T) {
	guard, store := newGuardFixture(model.AttemptStatusInProgress)

	token, err := guard.Issue(context.Background(), store.attempt)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if token == "" || store.attempt.SessionToken == nil || *store.attempt.SessionToken != token {
		t.Error("issued token not installed on the attempt")
	}

	// A second issue invalidates the first.
	token2, err := guard.Issue(context.Background(), store.attempt)
	if err != nil {
		t.Fatalf("second Issue() error: %v", err)
	}
	if token2 == token {
		t.Error("two issues produced the same token")
	}
	if err := guard.Validate(store.attempt, token); !errors.Is(err, ErrSessionConflict) {
		t.Errorf("stale token validated: %v", err)
	}
	if err := guard.Validate(store.attempt, token2); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}
}

func TestIssueResumesPausedAttempt(t *testing.T) {
	guard, store := newGuardFixture(model.AttemptStatusPaused)

	if _, err := guard.Issue(context.Background(), store.attempt); err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if store.resumed != 1 {
		t.Errorf("resumed %d times, want 1", store.resumed)
	}
}

func TestIssueRefusesTerminalAttempt(t *testing.T) {
	guard, store := newGuardFixture(model.AttemptStatusCompleted)

	if _, err := guard.Issue(context.Background(), store.attempt); !errors.Is(err, ErrAttemptNotActive) {
		t.Errorf("Issue() on completed attempt = %v, want ErrAttemptNotActive", err)
	}
}

func TestValidate(t *testing.T) {
	guard, store := newGuardFixture(model.AttemptStatusInProgress)
	tok := "aaaaaaaaaaaaaaaaaaaaaaaa"
	store.attempt.SessionToken = &tok

	if err := guard.Validate(store.attempt, ""); !errors.Is(err, ErrSessionTokenMissing) {
		t.Errorf("empty token = %v, want ErrSessionTokenMissing", err)
	}
	if err := guard.Validate(store.attempt, "other"); !errors.Is(err, ErrSessionConflict) {
		t.Errorf("wrong token = %v, want ErrSessionConflict", err)
	}
	if err := guard.Validate(store.attempt, tok); err != nil {
		t.Errorf("matching token = %v, want nil", err)
	}
}

func TestForceResumeRefusedWhileHolderLive(t *testing.T) {
	guard, store := newGuardFixture(model.AttemptStatusInProgress)

	// Holder heartbeated 10s ago, inside the 45s window.
	tok := "holder-token-aaaaaaaaaaa"
	seen := store.now.Add(-10 * time.Second)
	store.attempt.SessionToken = &tok
	store.attempt.HeartbeatAt = &seen

	err := guard.ForceResume(context.Background(), store.attempt, "new-token-bbbbbbbbbbbbbb")
	if !errors.Is(err, ErrForceResumeStale) {
		t.Errorf("ForceResume() = %v, want ErrForceResumeStale", err)
	}
	if *store.attempt.SessionToken != tok {
		t.Error("refused takeover still replaced the token")
	}
}

func TestForceResumeSucceedsWhenHolderStale(t *testing.T) {
	guard, store := newGuardFixture(model.AttemptStatusInProgress)

	tok := "holder-token-aaaaaaaaaaa"
	seen := store.now.Add(-2 * time.Minute)
	store.attempt.SessionToken = &tok
	store.attempt.SessionIssuedAt = &seen
	store.attempt.HeartbeatAt = &seen

	newToken := "new-token-bbbbbbbbbbbbbb"
	if err := guard.ForceResume(context.Background(), store.attempt, newToken); err != nil {
		t.Fatalf("ForceResume() error: %v", err)
	}
	if *store.attempt.SessionToken != newToken {
		t.Error("takeover did not install the new token")
	}
}

func TestCanForceResume(t *testing.T) {
	guard, store := newGuardFixture(model.AttemptStatusInProgress)
	now := store.now

	if !guard.CanForceResume(store.attempt, now) {
		t.Error("attempt with no session should be takeable")
	}

	tok := "t"
	store.attempt.SessionToken = &tok
	recent := now.Add(-5 * time.Second)
	store.attempt.HeartbeatAt = &recent
	if guard.CanForceResume(store.attempt, now) {
		t.Error("live holder reported takeable")
	}

	old := now.Add(-90 * time.Second)
	store.attempt.HeartbeatAt = &old
	if !guard.CanForceResume(store.attempt, now) {
		t.Error("stale holder reported untakeable")
	}

	// A fresh issue counts as activity even without heartbeats.
	issued := now.Add(-1 * time.Second)
	store.attempt.SessionIssuedAt = &issued
	if guard.CanForceResume(store.attempt, now) {
		t.Error("freshly issued session reported takeable")
	}
}
