package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prepline/examd/internal/model"
)

// sessionStore is the slice of attempt storage the guard needs.
type sessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	SetSession(ctx context.Context, id uuid.UUID, token string) error
	ReplaceSessionIfStale(ctx context.Context, id uuid.UUID, newToken string, window time.Duration) (bool, error)
	Resume(ctx context.Context, id uuid.UUID) (bool, error)
}

// SessionGuard enforces single-writer semantics per attempt. Exactly one
// session token is valid at a time; every mutation presents it, and a second
// tab can only take over through the staleness-gated force resume.
type SessionGuard struct {
	store       sessionStore
	staleWindow time.Duration
	log         zerolog.Logger
}

// NewSessionGuard creates a new SessionGuard. staleWindow is how long the
// token holder may go silent before a takeover is allowed.
func NewSessionGuard(store sessionStore, staleWindow time.Duration, log zerolog.Logger) *SessionGuard {
	return &SessionGuard{
		store:       store,
		staleWindow: staleWindow,
		log:         log.With().Str("component", "session_guard").Logger(),
	}
}

func newSessionToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Issue mints and installs a fresh token for the attempt, invalidating any
// previous holder. Opening a session on a paused attempt resumes it. The
// caller has already verified ownership.
func (g *SessionGuard) Issue(ctx context.Context, attempt *model.Attempt) (string, error) {
	if attempt.Status.Terminal() {
		return "", ErrAttemptNotActive
	}

	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	if err := g.store.SetSession(ctx, attempt.ID, token); err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}

	if attempt.Status == model.AttemptStatusPaused {
		resumed, err := g.store.Resume(ctx, attempt.ID)
		if err != nil {
			return "", fmt.Errorf("resume on session issue: %w", err)
		}
		if resumed {
			g.log.Debug().
				Str("attempt_id", attempt.ID.String()).
				Msg("paused attempt resumed by session issue")
		}
	}
	return token, nil
}

// Validate checks a presented token against the attempt's current one.
// Returns ErrSessionConflict when another session holds the attempt; the
// caller decides whether the conflict is force-resumable.
func (g *SessionGuard) Validate(attempt *model.Attempt, token string) error {
	if token == "" {
		return ErrSessionTokenMissing
	}
	if attempt.SessionToken == nil || *attempt.SessionToken != token {
		return ErrSessionConflict
	}
	return nil
}

// CanForceResume reports whether the current holder has been silent long
// enough for a takeover, judged from the attempt as loaded. The actual
// takeover re-checks atomically; this only shapes the conflict response.
func (g *SessionGuard) CanForceResume(attempt *model.Attempt, now time.Time) bool {
	if attempt.SessionToken == nil {
		return true
	}
	lastSeen := time.Time{}
	if attempt.SessionIssuedAt != nil {
		lastSeen = *attempt.SessionIssuedAt
	}
	if attempt.HeartbeatAt != nil && attempt.HeartbeatAt.After(lastSeen) {
		lastSeen = *attempt.HeartbeatAt
	}
	return now.Sub(lastSeen) >= g.staleWindow
}

// ForceResume installs the caller's replacement token, but only if the
// current holder is stale. The staleness check and the swap are one storage
// statement, so two racing takeovers cannot both win.
func (g *SessionGuard) ForceResume(ctx context.Context, attempt *model.Attempt, newToken string) error {
	if attempt.Status.Terminal() {
		return ErrAttemptNotActive
	}

	replaced, err := g.store.ReplaceSessionIfStale(ctx, attempt.ID, newToken, g.staleWindow)
	if err != nil {
		return fmt.Errorf("force resume: %w", err)
	}
	if !replaced {
		return ErrForceResumeStale
	}

	if attempt.Status == model.AttemptStatusPaused {
		if _, err := g.store.Resume(ctx, attempt.ID); err != nil {
			return fmt.Errorf("resume on force resume: %w", err)
		}
	}

	g.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Msg("session forcibly taken over")
	return nil
}
