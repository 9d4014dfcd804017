package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepline/examd/internal/model"
)

// AttemptRepository handles attempt data access. The attempt row is the unit
// of mutual exclusion: the session token, timer checkpoints, and the status
// transitions all live here and are updated with compare-and-swap WHERE
// clauses so concurrent requests cannot interleave destructively.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, user_id, paper_id, mode, sectional_section, status,
	current_section, current_question, time_remaining, checkpoint_at, locked_sections,
	session_token, session_issued_at, heartbeat_at, submission_id,
	started_at, paused_at, total_paused_seconds, submitted_at, completed_at,
	total_score, max_score, correct_count, incorrect_count, unanswered_count,
	accuracy, attempt_rate, section_scores, time_taken_seconds, created_at, updated_at`

func scanAttempt(row interface{ Scan(dest ...any) error }) (*model.Attempt, error) {
	a := &model.Attempt{}
	var timeRemaining, lockedSections, sectionScores []byte
	err := row.Scan(
		&a.ID, &a.UserID, &a.PaperID, &a.Mode, &a.SectionalSection, &a.Status,
		&a.CurrentSection, &a.CurrentQuestion, &timeRemaining, &a.CheckpointAt, &lockedSections,
		&a.SessionToken, &a.SessionIssuedAt, &a.HeartbeatAt, &a.SubmissionID,
		&a.StartedAt, &a.PausedAt, &a.TotalPausedSeconds, &a.SubmittedAt, &a.CompletedAt,
		&a.TotalScore, &a.MaxScore, &a.CorrectCount, &a.IncorrectCount, &a.UnansweredCount,
		&a.Accuracy, &a.AttemptRate, &sectionScores, &a.TimeTakenSeconds, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(timeRemaining) > 0 {
		if err := json.Unmarshal(timeRemaining, &a.TimeRemaining); err != nil {
			return nil, fmt.Errorf("decode time_remaining: %w", err)
		}
	}
	if len(lockedSections) > 0 {
		if err := json.Unmarshal(lockedSections, &a.LockedSections); err != nil {
			return nil, fmt.Errorf("decode locked_sections: %w", err)
		}
	}
	if len(sectionScores) > 0 {
		if err := json.Unmarshal(sectionScores, &a.SectionScores); err != nil {
			return nil, fmt.Errorf("decode section_scores: %w", err)
		}
	}
	return a, nil
}

// GetByID retrieves a single attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id)
	return scanAttempt(row)
}

// FindActive retrieves the user's non-terminal attempt for a
// (paper, mode, section) tuple, newest first.
func (r *AttemptRepository) FindActive(ctx context.Context, userID, paperID uuid.UUID, mode model.AttemptMode, section *string) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE user_id = $1 AND paper_id = $2 AND mode = $3
		   AND COALESCE(sectional_section, '') = COALESCE($4, '')
		   AND status IN ('in_progress', 'paused')
		 ORDER BY created_at DESC
		 LIMIT 1`, userID, paperID, mode, section)
	return scanAttempt(row)
}

// Create inserts a new attempt. The partial unique index on non-terminal
// attempts makes a concurrent duplicate insert lose: no row is returned and
// the caller re-fetches the winner via FindActive.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	timeRemaining, err := json.Marshal(a.TimeRemaining)
	if err != nil {
		return fmt.Errorf("encode time_remaining: %w", err)
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (user_id, paper_id, mode, sectional_section, status,
		                       current_section, current_question, time_remaining, checkpoint_at)
		 VALUES ($1, $2, $3, $4, 'in_progress', $5, 1, $6, NOW())
		 ON CONFLICT (user_id, paper_id, mode, COALESCE(sectional_section, ''))
		   WHERE status IN ('in_progress', 'paused')
		 DO NOTHING
		 RETURNING id, started_at, checkpoint_at, created_at, updated_at`,
		a.UserID, a.PaperID, a.Mode, a.SectionalSection, a.CurrentSection, timeRemaining,
	).Scan(&a.ID, &a.StartedAt, &a.CheckpointAt, &a.CreatedAt, &a.UpdatedAt)
}

// SetSession unconditionally overwrites the attempt's session token.
// Last writer to open wins the first token.
func (r *AttemptRepository) SetSession(ctx context.Context, id uuid.UUID, token string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET session_token = $2, session_issued_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
		 WHERE id = $1`, id, token)
	return err
}

// ReplaceSessionIfStale installs a new token only when the current holder has
// not been seen (issue or heartbeat) within the staleness window. Returns
// false when the takeover was refused.
func (r *AttemptRepository) ReplaceSessionIfStale(ctx context.Context, id uuid.UUID, newToken string, window time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET session_token = $2, session_issued_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
		 WHERE id = $1
		   AND (session_token IS NULL
		        OR GREATEST(COALESCE(session_issued_at, 'epoch'::timestamptz),
		                    COALESCE(heartbeat_at, 'epoch'::timestamptz))
		           < NOW() - make_interval(secs => $3))`,
		id, newToken, window.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TouchHeartbeat records activity from the current session holder. Returns
// false when the token no longer matches.
func (r *AttemptRepository) TouchHeartbeat(ctx context.Context, id uuid.UUID, token string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET heartbeat_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND session_token = $2`, id, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SaveProgress checkpoints the timer map and current position, guarded by the
// session token in the same statement so a conflicting tab's heartbeat that
// raced a force-resume cannot land. Returns false on token mismatch.
func (r *AttemptRepository) SaveProgress(ctx context.Context, id uuid.UUID, token string, remaining model.TimeRemaining, locked []string, currentSection string, currentQuestion int) (bool, error) {
	timeRemaining, err := json.Marshal(remaining)
	if err != nil {
		return false, fmt.Errorf("encode time_remaining: %w", err)
	}
	lockedSections, err := json.Marshal(locked)
	if err != nil {
		return false, fmt.Errorf("encode locked_sections: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET time_remaining = $3, locked_sections = $4, checkpoint_at = NOW(),
		     current_section = $5, current_question = $6,
		     heartbeat_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND session_token = $2 AND status = 'in_progress'`,
		id, token, timeRemaining, lockedSections, currentSection, currentQuestion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Pause freezes the attempt: the timer map is stored at its recomputed value
// and stops advancing until resume. Returns false if the attempt was not
// in progress.
func (r *AttemptRepository) Pause(ctx context.Context, id uuid.UUID, remaining model.TimeRemaining, currentSection string, currentQuestion int) (bool, error) {
	timeRemaining, err := json.Marshal(remaining)
	if err != nil {
		return false, fmt.Errorf("encode time_remaining: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = 'paused', paused_at = NOW(), time_remaining = $2,
		     checkpoint_at = NOW(), current_section = $3, current_question = $4,
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		id, timeRemaining, currentSection, currentQuestion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Resume unfreezes a paused attempt with a fresh checkpoint and accumulates
// the paused interval. Returns false if the attempt was not paused.
func (r *AttemptRepository) Resume(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = 'in_progress',
		     total_paused_seconds = total_paused_seconds
		         + COALESCE(EXTRACT(EPOCH FROM NOW() - paused_at)::int, 0),
		     paused_at = NULL, checkpoint_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'paused'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSubmitted performs the atomic finalize transition. Exactly one caller
// can move a live attempt to submitted; everyone else sees zero rows and
// falls back to the idempotent already-submitted path.
func (r *AttemptRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, submissionID *string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = 'submitted', submitted_at = NOW(), submission_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN ('in_progress', 'paused')`,
		id, submissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReclaimSubmitted re-arms scoring for an attempt stuck in submitted: its
// finalize winner died between the status CAS and the score write. The
// checkpoint bump hands the claim to exactly one reclaimer per window;
// checkpoint_at is safe to reuse here because only live attempts write it.
// A reclaimer that dies too leaves the attempt claimable again once the
// window passes. Returns false while the current claim is still fresh.
func (r *AttemptRepository) ReclaimSubmitted(ctx context.Context, id uuid.UUID, window time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET checkpoint_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'submitted'
		   AND submitted_at < NOW() - make_interval(secs => $2)
		   AND checkpoint_at < NOW() - make_interval(secs => $2)`,
		id, window.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListStalledSubmitted returns attempts still submitted past cutoff. A
// healthy finalize moves to completed within the same request; anything old
// enough to show up here lost its scorer mid-flight.
func (r *AttemptRepository) ListStalledSubmitted(ctx context.Context, cutoff time.Time, limit int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE status = 'submitted' AND submitted_at < $1
		 ORDER BY submitted_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// ScoreUpdate carries the aggregate finalize results for one attempt.
type ScoreUpdate struct {
	TotalScore       float64
	MaxScore         float64
	CorrectCount     int
	IncorrectCount   int
	UnansweredCount  int
	Accuracy         float64
	AttemptRate      float64
	SectionScores    model.SectionScores
	TimeTakenSeconds int
}

// CompleteWithScores stores the computed scores and moves the attempt to its
// final completed state. Finalize is the only writer of total_score.
func (r *AttemptRepository) CompleteWithScores(ctx context.Context, id uuid.UUID, s ScoreUpdate) error {
	sectionScores, err := json.Marshal(s.SectionScores)
	if err != nil {
		return fmt.Errorf("encode section_scores: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = 'completed', completed_at = NOW(),
		     total_score = $2, max_score = $3,
		     correct_count = $4, incorrect_count = $5, unanswered_count = $6,
		     accuracy = $7, attempt_rate = $8, section_scores = $9,
		     time_taken_seconds = $10, updated_at = NOW()
		 WHERE id = $1`,
		id, s.TotalScore, s.MaxScore,
		s.CorrectCount, s.IncorrectCount, s.UnansweredCount,
		s.Accuracy, s.AttemptRate, sectionScores, s.TimeTakenSeconds)
	return err
}

// ListExpiryCandidates returns in-progress attempts whose last checkpoint is
// older than cutoff. The expiry worker recomputes their remaining time in Go
// and finalizes the ones that have fully run out.
func (r *AttemptRepository) ListExpiryCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE status = 'in_progress' AND checkpoint_at < $1
		 ORDER BY checkpoint_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// ListByUser retrieves a user's attempts, newest first.
func (r *AttemptRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE user_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}
