package service

import (
	"context"
	"encoding/json"
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

const heartbeatMirrorTTL = 5 * time.Minute

// AttemptService owns the attempt lifecycle: start/resume, state reads,
// answer saves, timer checkpoints, and pause. Finalize lives in
// SubmissionCoordinator.
type AttemptService struct {
	attemptRepo  *repository.AttemptRepository
	responseRepo *repository.ResponseRepository
	paperRepo    *repository.PaperRepository
	questionRepo *repository.QuestionRepository
	guard        *SessionGuard
	rdb          *redis.Client
	graceWindow  time.Duration
	log          zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	responseRepo *repository.ResponseRepository,
	paperRepo *repository.PaperRepository,
	questionRepo *repository.QuestionRepository,
	guard *SessionGuard,
	rdb *redis.Client,
	graceWindow time.Duration,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo:  attemptRepo,
		responseRepo: responseRepo,
		paperRepo:    paperRepo,
		questionRepo: questionRepo,
		guard:        guard,
		rdb:          rdb,
		graceWindow:  graceWindow,
		log:          log.With().Str("component", "attempt_service").Logger(),
	}
}

// StartResult is what a start/resume call hands back: the attempt plus the
// freshly issued session token and whether the attempt already existed.
type StartResult struct {
	Attempt      *model.Attempt `json:"attempt"`
	SessionToken string         `json:"session_token"`
	Resumed      bool           `json:"resumed"`
}

// AttemptState is the snapshot a client rebuilds its screen from. The timer
// map is recomputed server-side at ServerTime; the stored checkpoint values
// are never served raw.
type AttemptState struct {
	Attempt       *model.Attempt      `json:"attempt"`
	TimeRemaining model.TimeRemaining `json:"time_remaining"`
	Responses     []model.Response    `json:"responses"`
	ServerTime    time.Time           `json:"server_time"`
}

// Start creates a new attempt, or resumes the user's existing live attempt
// for the same (paper, mode, section). Either way the caller walks away
// holding the one valid session token.
func (s *AttemptService) Start(ctx context.Context, userID uuid.UUID, req model.StartAttemptRequest) (*StartResult, error) {
	paperID, err := uuid.Parse(req.PaperID)
	if err != nil {
		return nil, ErrNotFound
	}
	paper, err := s.paperRepo.GetByID(ctx, paperID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get paper: %w", err)
	}
	if !paper.Published || len(paper.Sections) == 0 {
		return nil, ErrPaperNotAvailable
	}

	mode := model.AttemptMode(req.Mode)
	var section *string
	if mode == model.AttemptModeSectional {
		if !paper.AllowSectional || req.Section == "" || !paper.HasSection(req.Section) {
			return nil, ErrPaperNotAvailable
		}
		section = &req.Section
	}

	// Resume path: a live attempt for this tuple absorbs the start call.
	existing, err := s.attemptRepo.FindActive(ctx, userID, paperID, mode, section)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find active attempt: %w", err)
	}
	if existing != nil {
		return s.openSession(ctx, existing, true)
	}

	if paper.AttemptLimit != nil {
		count, err := s.paperRepo.CountAttempts(ctx, paperID, userID)
		if err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		if count >= *paper.AttemptLimit {
			return nil, ErrAttemptLimitReached
		}
	}

	currentSection := paper.Sections[0].Name
	if section != nil {
		currentSection = *section
	}
	attempt := &model.Attempt{
		UserID:           userID,
		PaperID:          paperID,
		Mode:             mode,
		SectionalSection: section,
		Status:           model.AttemptStatusInProgress,
		CurrentSection:   currentSection,
		CurrentQuestion:  1,
		TimeRemaining:    InitialRemaining(paper, mode, currentSection),
	}

	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start lost the insert race; adopt the winner.
			winner, fetchErr := s.attemptRepo.FindActive(ctx, userID, paperID, mode, section)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return s.openSession(ctx, winner, true)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	if err := s.seedResponses(ctx, attempt); err != nil {
		return nil, err
	}

	s.enqueueEvent(ctx, attempt, model.EventAttemptStarted, map[string]any{"mode": string(mode)})
	return s.openSession(ctx, attempt, false)
}

// seedResponses pre-creates a not_visited row per in-scope question.
func (s *AttemptService) seedResponses(ctx context.Context, attempt *model.Attempt) error {
	questions, err := s.questionRepo.ListByPaper(ctx, attempt.PaperID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	inScope := make(map[string]bool)
	for _, name := range attempt.Sections() {
		inScope[name] = true
	}
	var ids []uuid.UUID
	for _, q := range questions {
		if inScope[q.Section] {
			ids = append(ids, q.ID)
		}
	}
	if err := s.responseRepo.InitForAttempt(ctx, attempt.ID, ids); err != nil {
		return fmt.Errorf("seed responses: %w", err)
	}
	return nil
}

// openSession issues a token for the attempt and mirrors the active-attempt
// pointer into Redis. Cache writes are best effort.
func (s *AttemptService) openSession(ctx context.Context, attempt *model.Attempt, resumed bool) (*StartResult, error) {
	wasPaused := attempt.Status == model.AttemptStatusPaused
	token, err := s.guard.Issue(ctx, attempt)
	if err != nil {
		return nil, err
	}

	if err := s.rdb.Set(ctx, config.CacheKey.UserActiveAttemptKey(attempt.UserID.String()),
		attempt.ID.String(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache active attempt pointer")
	}

	// Re-read so the caller sees post-resume status and checkpoint.
	fresh, err := s.attemptRepo.GetByID(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("reload attempt: %w", err)
	}

	if wasPaused {
		s.enqueueEvent(ctx, fresh, model.EventAttemptResumed, nil)
	}
	s.enqueueEvent(ctx, fresh, model.EventSessionIssued, nil)
	return &StartResult{Attempt: fresh, SessionToken: token, Resumed: resumed}, nil
}

// getOwned loads an attempt and verifies the caller owns it.
func (s *AttemptService) getOwned(ctx context.Context, userID, attemptID uuid.UUID) (*model.Attempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
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

// State returns the full reload snapshot for an attempt.
func (s *AttemptService) State(ctx context.Context, userID, attemptID uuid.UUID) (*AttemptState, error) {
	attempt, err := s.getOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}

	responses, err := s.responseRepo.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}

	now := time.Now()
	return &AttemptState{
		Attempt:       attempt,
		TimeRemaining: RecomputeRemaining(attempt, now),
		Responses:     responses,
		ServerTime:    now,
	}, nil
}

// IssueSession mints a new token for an attempt the caller owns, kicking out
// whichever tab held it before.
func (s *AttemptService) IssueSession(ctx context.Context, userID, attemptID uuid.UUID) (*StartResult, error) {
	attempt, err := s.getOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, attempt, attempt.Status == model.AttemptStatusPaused)
}

// ForceResume takes over a conflicted attempt with the caller's replacement
// token, refused while the current holder is still live.
func (s *AttemptService) ForceResume(ctx context.Context, userID, attemptID uuid.UUID, newToken string) (*model.Attempt, error) {
	attempt, err := s.getOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	wasPaused := attempt.Status == model.AttemptStatusPaused
	if err := s.guard.ForceResume(ctx, attempt, newToken); err != nil {
		return nil, err
	}

	if wasPaused {
		s.enqueueEvent(ctx, attempt, model.EventAttemptResumed, nil)
	}
	s.enqueueEvent(ctx, attempt, model.EventSessionReplaced, nil)

	fresh, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("reload attempt: %w", err)
	}
	return fresh, nil
}

// writable decides whether the attempt still accepts answer writes: live, or
// submitted so recently that a save racing the submit is still honored.
func (s *AttemptService) writable(attempt *model.Attempt, now time.Time) bool {
	switch attempt.Status {
	case model.AttemptStatusInProgress, model.AttemptStatusPaused:
		return true
	case model.AttemptStatusSubmitted, model.AttemptStatusCompleted:
		return attempt.SubmittedAt != nil && now.Sub(*attempt.SubmittedAt) <= s.graceWindow
	}
	return false
}

// checkSaveTarget validates that the question belongs to the attempt's paper
// and its section is in scope and not locked. A section whose clock has run
// out counts as locked even before a progress checkpoint records it.
func (s *AttemptService) checkSaveTarget(attempt *model.Attempt, questions map[uuid.UUID]model.Question, questionID string, now time.Time) error {
	qid, err := uuid.Parse(questionID)
	if err != nil {
		return ErrInvalidQuestion
	}
	q, ok := questions[qid]
	if !ok {
		return ErrInvalidQuestion
	}
	inScope := false
	for _, name := range attempt.Sections() {
		if name == q.Section {
			inScope = true
			break
		}
	}
	if !inScope {
		return ErrInvalidQuestion
	}
	if attempt.SectionLocked(q.Section) {
		return ErrSectionLocked
	}
	switch attempt.Status {
	case model.AttemptStatusInProgress, model.AttemptStatusPaused:
		if secs, ok := RecomputeRemaining(attempt, now)[q.Section]; ok && secs <= 0 {
			return ErrSectionLocked
		}
	}
	return nil
}

func (s *AttemptService) questionIndex(ctx context.Context, paperID uuid.UUID) (map[uuid.UUID]model.Question, error) {
	questions, err := s.questionRepo.ListByPaper(ctx, paperID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	index := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		index[q.ID] = q
	}
	return index, nil
}

// SaveResponse persists one answer mutation.
func (s *AttemptService) SaveResponse(ctx context.Context, userID, attemptID uuid.UUID, req model.SaveResponseRequest) error {
	attempt, err := s.getOwned(ctx, userID, attemptID)
	if err != nil {
		return err
	}
	if err := s.checkSaveAccess(attempt, req.SessionToken); err != nil {
		return err
	}

	questions, err := s.questionIndex(ctx, attempt.PaperID)
	if err != nil {
		return err
	}
	if err := s.checkSaveTarget(attempt, questions, req.QuestionID, time.Now()); err != nil {
		return err
	}

	if err := s.responseRepo.Merge(ctx, attemptID, req.ResponseUpsert); err != nil {
		return fmt.Errorf("save response: %w", err)
	}

	s.afterSave(ctx, attempt, req.SessionToken, []model.ResponseUpsert{req.ResponseUpsert})
	return nil
}

// SaveBatch persists up to a page of answer mutations in one call. All items
// are validated before the first row is touched.
func (s *AttemptService) SaveBatch(ctx context.Context, userID, attemptID uuid.UUID, req model.SaveBatchRequest) (int, error) {
	attempt, err := s.getOwned(ctx, userID, attemptID)
	if err != nil {
		return 0, err
	}
	if err := s.checkSaveAccess(attempt, req.SessionToken); err != nil {
		return 0, err
	}

	questions, err := s.questionIndex(ctx, attempt.PaperID)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for _, item := range req.Responses {
		if err := s.checkSaveTarget(attempt, questions, item.QuestionID, now); err != nil {
			return 0, err
		}
	}

	saved, err := s.responseRepo.MergeBatch(ctx, attemptID, req.Responses)
	if err != nil {
		return saved, fmt.Errorf("save batch: %w", err)
	}

	s.afterSave(ctx, attempt, req.SessionToken, req.Responses)
	return saved, nil
}

// checkSaveAccess combines the writability and session checks for saves.
func (s *AttemptService) checkSaveAccess(attempt *model.Attempt, token string) error {
	if !s.writable(attempt, time.Now()) {
		return ErrAttemptNotActive
	}
	return s.guard.Validate(attempt, token)
}

// afterSave does the off-path bookkeeping for a successful save: heartbeat,
// answer mirror, audit event. None of it can fail the save.
func (s *AttemptService) afterSave(ctx context.Context, attempt *model.Attempt, token string, items []model.ResponseUpsert) {
	if _, err := s.attemptRepo.TouchHeartbeat(ctx, attempt.ID, token); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat update failed")
	}

	mirror := make(map[string]any, len(items))
	for _, item := range items {
		if item.Answer != nil {
			mirror[item.QuestionID] = *item.Answer
		}
	}
	if len(mirror) > 0 {
		key := config.CacheKey.AttemptAnswersKey(attempt.ID.String())
		if err := s.rdb.HSet(ctx, key, mirror).Err(); err != nil {
			s.log.Warn().Err(err).Msg("answer mirror update failed")
		}
	}
	if err := s.rdb.Set(ctx, config.CacheKey.AttemptHeartbeatKey(attempt.ID.String()),
		time.Now().Unix(), heartbeatMirrorTTL).Err(); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat mirror update failed")
	}

	s.enqueueEvent(ctx, attempt, model.EventResponseSaved, map[string]any{"count": len(items)})
}

// ProgressResult reports the reconciled timer state after a checkpoint.
type ProgressResult struct {
	TimeRemaining  model.TimeRemaining `json:"time_remaining"`
	LockedSections []string            `json:"locked_sections"`
	AllExpired     bool                `json:"all_expired"`
	ServerTime     time.Time           `json:"server_time"`
}

// Progress checkpoints the timer. The server recomputes remaining time from
// its own clock, clamps the client's report to it, and locks any section
// that has hit zero. The client's numbers can only ever lower the clock.
func (s *AttemptService) Progress(ctx context.Context, userID, attemptID uuid.UUID, req model.ProgressRequest) (*ProgressResult, error) {
	attempt, err := s.getOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotActive
	}
	if err := s.guard.Validate(attempt, req.SessionToken); err != nil {
		return nil, err
	}

	now := time.Now()
	server := RecomputeRemaining(attempt, now)
	reconciled, inflated := ClampReported(server, req.TimeRemaining)
	if inflated {
		s.log.Warn().
			Str("attempt_id", attempt.ID.String()).
			Interface("reported", req.TimeRemaining).
			Interface("server", server).
			Msg("client reported more remaining time than allowed")
	}

	locked := attempt.LockedSections
	expired := ExpiredSections(reconciled, locked)
	if len(expired) > 0 {
		locked = append(append([]string{}, locked...), expired...)
		s.enqueueEvent(ctx, attempt, model.EventSectionLocked, map[string]any{"sections": expired})
	}

	currentSection := req.CurrentSection
	if attempt.Mode == model.AttemptModeSectional && attempt.SectionalSection != nil {
		currentSection = *attempt.SectionalSection
	}
	currentQuestion := attempt.CurrentQuestion
	if req.CurrentQuestion != nil {
		currentQuestion = *req.CurrentQuestion
	}

	ok, err := s.attemptRepo.SaveProgress(ctx, attemptID, req.SessionToken,
		reconciled, locked, currentSection, currentQuestion)
	if err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	if !ok {
		return nil, ErrSessionConflict
	}

	s.enqueueEvent(ctx, attempt, model.EventProgressSaved, nil)

	return &ProgressResult{
		TimeRemaining:  reconciled,
		LockedSections: locked,
		AllExpired:     AllExpired(attempt, reconciled),
		ServerTime:     now,
	}, nil
}

// Pause freezes a live attempt. Only papers that allow pausing accept it; a
// missing session token is tolerated so a beacon from a closing tab works.
func (s *AttemptService) Pause(ctx context.Context, userID, attemptID uuid.UUID, req model.PauseRequest) (*model.Attempt, error) {
	attempt, err := s.getOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotActive
	}

	paper, err := s.paperRepo.GetByID(ctx, attempt.PaperID)
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}
	if !paper.AllowPause {
		return nil, ErrPauseNotAllowed
	}

	if req.SessionToken != "" {
		if err := s.guard.Validate(attempt, req.SessionToken); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	server := RecomputeRemaining(attempt, now)
	reconciled, _ := ClampReported(server, req.TimeRemaining)

	currentQuestion := attempt.CurrentQuestion
	if req.CurrentQuestion != nil {
		currentQuestion = *req.CurrentQuestion
	}

	ok, err := s.attemptRepo.Pause(ctx, attemptID, reconciled, req.CurrentSection, currentQuestion)
	if err != nil {
		return nil, fmt.Errorf("pause attempt: %w", err)
	}
	if !ok {
		return nil, ErrAttemptNotActive
	}

	s.enqueueEvent(ctx, attempt, model.EventAttemptPaused, nil)

	fresh, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("reload attempt: %w", err)
	}
	return fresh, nil
}

// SetNote attaches a review note to one response. Notes are review-time
// metadata, so terminal attempts accept them.
func (s *AttemptService) SetNote(ctx context.Context, userID, attemptID, questionID uuid.UUID, note string) error {
	attempt, err := s.getOwned(ctx, userID, attemptID)
	if err != nil {
		return err
	}
	if _, err := s.questionRepo.GetForPaper(ctx, questionID, attempt.PaperID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidQuestion
		}
		return fmt.Errorf("get question: %w", err)
	}

	ok, err := s.responseRepo.SetNote(ctx, attemptID, questionID, note)
	if err != nil {
		return fmt.Errorf("set note: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// History returns the caller's attempts, newest first.
func (s *AttemptService) History(ctx context.Context, userID uuid.UUID) ([]model.Attempt, error) {
	attempts, err := s.attemptRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// ConflictHint reports whether a force resume against the attempt would
// currently succeed. Used to shape session-conflict responses; failures read
// as "holder still live" so a flaky lookup never invites a takeover.
func (s *AttemptService) ConflictHint(ctx context.Context, attemptID uuid.UUID) bool {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		return false
	}
	return s.guard.CanForceResume(attempt, time.Now())
}

// enqueueEvent pushes an audit event onto the Redis queue for the background
// writer. Best effort: a lost audit event never fails a request.
func (s *AttemptService) enqueueEvent(ctx context.Context, attempt *model.Attempt, evType model.AttemptEventType, payload map[string]any) {
	event := model.AttemptEvent{
		AttemptID: attempt.ID,
		UserID:    attempt.UserID,
		Type:      evType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode audit event")
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.AttemptEventsQueue, raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("type", string(evType)).Msg("failed to enqueue audit event")
	}
}
