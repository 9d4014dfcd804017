package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prepline/examd/internal/config"
	"github.com/prepline/examd/internal/model"
	"github.com/prepline/examd/internal/repository"
)

// scoreReclaimWindow is how long a submitted claim is honored before a
// retry or the sweeper may take over scoring.
const scoreReclaimWindow = time.Minute

// SubmissionCoordinator owns the finalize pipeline. Submission is a
// compare-and-swap on the attempt status: exactly one caller moves the
// attempt out of its live state, grades it, and stores the result; every
// duplicate call is answered with the stored result instead of a rescore.
type SubmissionCoordinator struct {
	attemptRepo  *repository.AttemptRepository
	responseRepo *repository.ResponseRepository
	paperRepo    *repository.PaperRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewSubmissionCoordinator creates a new SubmissionCoordinator.
func NewSubmissionCoordinator(
	attemptRepo *repository.AttemptRepository,
	responseRepo *repository.ResponseRepository,
	paperRepo *repository.PaperRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *SubmissionCoordinator {
	return &SubmissionCoordinator{
		attemptRepo:  attemptRepo,
		responseRepo: responseRepo,
		paperRepo:    paperRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "submission").Logger(),
	}
}

// AttemptResult is the scored view of a finished attempt, including the
// answer keys the live exam never exposes.
type AttemptResult struct {
	Attempt   *model.Attempt   `json:"attempt"`
	Responses []model.Response `json:"responses"`
	Questions []model.Question `json:"questions"`
}

// Submit finalizes an attempt. The call is idempotent: a retry, whether it
// carries the original submission id or not, gets the stored result back and
// never rescoring. A submit presenting a superseded session token wins
// anyway; finishing the exam outranks the tab race.
func (c *SubmissionCoordinator) Submit(ctx context.Context, userID, attemptID uuid.UUID, req model.SubmitRequest) (*AttemptResult, error) {
	attempt, err := c.getOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}

	if attempt.Status == model.AttemptStatusCompleted {
		return c.buildResult(ctx, attempt)
	}
	if attempt.Status.Terminal() {
		// submitted but not yet scored: either a finalize is mid-flight, or
		// its winner died before the score write. Once the claim has aged
		// past the reclaim window, take it over and finish the job; grading
		// is deterministic and the score write is an overwrite, so a rerun
		// is safe.
		result, recErr := c.Recover(ctx, attemptID)
		if errors.Is(recErr, ErrAttemptNotActive) {
			return nil, ErrAttemptNotScored
		}
		return result, recErr
	}

	if attempt.SessionToken != nil && *attempt.SessionToken != req.SessionToken {
		// Install the submitting tab's token so its trailing grace-window
		// saves still validate.
		if err := c.attemptRepo.SetSession(ctx, attemptID, req.SessionToken); err != nil {
			return nil, fmt.Errorf("adopt submit session: %w", err)
		}
		c.log.Info().
			Str("attempt_id", attemptID.String()).
			Msg("submit presented a superseded session token, proceeding")
	}

	var submissionID *string
	if req.SubmissionID != "" {
		submissionID = &req.SubmissionID
	}
	won, err := c.attemptRepo.MarkSubmitted(ctx, attemptID, submissionID)
	if err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	if !won {
		// Concurrent submit got there first; serve its result once scored.
		fresh, err := c.attemptRepo.GetByID(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("reload attempt: %w", err)
		}
		if fresh.Status == model.AttemptStatusCompleted {
			return c.buildResult(ctx, fresh)
		}
		return nil, ErrAttemptNotScored
	}

	return c.score(ctx, attemptID, model.EventAttemptDone)
}

// Expire finalizes an attempt whose every section timer has run out, scoring
// whatever was saved. Used by the background sweeper; no session is involved.
func (c *SubmissionCoordinator) Expire(ctx context.Context, attemptID uuid.UUID) (*AttemptResult, error) {
	won, err := c.attemptRepo.MarkSubmitted(ctx, attemptID, nil)
	if err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}
	if !won {
		return nil, ErrAttemptNotActive
	}
	return c.score(ctx, attemptID, model.EventAttemptExpired)
}

// Recover finishes scoring for an attempt stuck in submitted: the finalize
// winner passed the status CAS and then died before persisting scores.
// Returns ErrAttemptNotActive while the existing claim is still fresh or the
// attempt is no longer in the stuck state.
func (c *SubmissionCoordinator) Recover(ctx context.Context, attemptID uuid.UUID) (*AttemptResult, error) {
	reclaimed, err := c.attemptRepo.ReclaimSubmitted(ctx, attemptID, scoreReclaimWindow)
	if err != nil {
		return nil, fmt.Errorf("reclaim submitted: %w", err)
	}
	if !reclaimed {
		return nil, ErrAttemptNotActive
	}
	c.log.Warn().
		Str("attempt_id", attemptID.String()).
		Msg("reclaimed a stalled finalize, rescoring")
	return c.score(ctx, attemptID, model.EventAttemptDone)
}

// score runs grading for an attempt that just won the finalize CAS and
// persists the outcome.
func (c *SubmissionCoordinator) score(ctx context.Context, attemptID uuid.UUID, evType model.AttemptEventType) (*AttemptResult, error) {
	attempt, err := c.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("reload attempt: %w", err)
	}

	paper, err := c.paperRepo.GetByID(ctx, attempt.PaperID)
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}
	questions, err := c.questionRepo.ListByPaper(ctx, attempt.PaperID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	responses, err := c.responseRepo.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}

	result := CalculateScore(paper, attempt, questions, responses)

	if err := c.responseRepo.UpdateScores(ctx, attemptID, result.ResponseScores); err != nil {
		return nil, fmt.Errorf("update response scores: %w", err)
	}

	timeTaken := 0
	if attempt.SubmittedAt != nil {
		timeTaken = int(attempt.SubmittedAt.Sub(attempt.StartedAt).Seconds()) - attempt.TotalPausedSeconds
		if timeTaken < 0 {
			timeTaken = 0
		}
	}

	if err := c.attemptRepo.CompleteWithScores(ctx, attemptID, repository.ScoreUpdate{
		TotalScore:       result.TotalScore,
		MaxScore:         result.MaxScore,
		CorrectCount:     result.CorrectCount,
		IncorrectCount:   result.IncorrectCount,
		UnansweredCount:  result.UnansweredCount,
		Accuracy:         result.Accuracy,
		AttemptRate:      result.AttemptRate,
		SectionScores:    result.SectionScores,
		TimeTakenSeconds: timeTaken,
	}); err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}

	c.cleanup(ctx, attempt)

	c.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("event", string(evType)).
		Float64("total_score", result.TotalScore).
		Int("correct", result.CorrectCount).
		Int("incorrect", result.IncorrectCount).
		Msg("attempt finalized")

	fresh, err := c.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("reload attempt: %w", err)
	}
	return c.buildResult(ctx, fresh)
}

// cleanup drops the attempt's Redis mirrors. Best effort.
func (c *SubmissionCoordinator) cleanup(ctx context.Context, attempt *model.Attempt) {
	keys := []string{
		config.CacheKey.AttemptAnswersKey(attempt.ID.String()),
		config.CacheKey.AttemptHeartbeatKey(attempt.ID.String()),
		config.CacheKey.UserActiveAttemptKey(attempt.UserID.String()),
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Msg("failed to clean attempt cache keys")
	}
}

// Result serves the scored view of a finished attempt.
func (c *SubmissionCoordinator) Result(ctx context.Context, userID, attemptID uuid.UUID) (*AttemptResult, error) {
	attempt, err := c.getOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusCompleted {
		return nil, ErrAttemptNotScored
	}
	return c.buildResult(ctx, attempt)
}

func (c *SubmissionCoordinator) buildResult(ctx context.Context, attempt *model.Attempt) (*AttemptResult, error) {
	responses, err := c.responseRepo.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	questions, err := c.questionRepo.ListByPaper(ctx, attempt.PaperID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	inScope := make(map[string]bool)
	for _, name := range attempt.Sections() {
		inScope[name] = true
	}
	scoped := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		if inScope[q.Section] {
			scoped = append(scoped, q)
		}
	}

	return &AttemptResult{Attempt: attempt, Responses: responses, Questions: scoped}, nil
}

func (c *SubmissionCoordinator) getOwned(ctx context.Context, userID, attemptID uuid.UUID) (*model.Attempt, error) {
	attempt, err := c.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.UserID != userID {
		return nil, ErrForbidden
	}
	return attempt, nil
}
