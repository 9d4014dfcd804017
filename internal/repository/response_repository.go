package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepline/examd/internal/model"
)

// ResponseRepository handles per-question response rows. Saves are upserts
// with a field-level merge: every column a client omits keeps its stored
// value, so a batch item touching only the answer cannot clobber the review
// flag a previous save set.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

const responseMergeSQL = `
	INSERT INTO responses (attempt_id, question_id, answer, status,
	                       is_marked_for_review, is_visited, time_spent_seconds, visit_count)
	VALUES ($1, $2, $3, COALESCE($4, 'not_visited'),
	        COALESCE($5, FALSE), COALESCE($6, FALSE), COALESCE($7, 0), COALESCE($8, 0))
	ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		answer = excluded.answer,
		status = COALESCE($4, responses.status),
		is_marked_for_review = COALESCE($5, responses.is_marked_for_review),
		is_visited = responses.is_visited OR COALESCE($6, FALSE),
		time_spent_seconds = COALESCE($7, responses.time_spent_seconds),
		visit_count = COALESCE($8, responses.visit_count),
		updated_at = NOW()`

// Merge upserts one response. The answer column is always applied, nil
// included, so clearing an answer works; every other field merges with the
// existing row. is_visited only ever moves to true.
func (r *ResponseRepository) Merge(ctx context.Context, attemptID uuid.UUID, u model.ResponseUpsert) error {
	_, err := r.pool.Exec(ctx, responseMergeSQL,
		attemptID, u.QuestionID, u.Answer, u.Status,
		u.IsMarkedForReview, u.IsVisited, u.TimeSpentSeconds, u.VisitCount)
	return err
}

// MergeBatch applies a set of response mutations in one round trip and
// returns how many landed.
func (r *ResponseRepository) MergeBatch(ctx context.Context, attemptID uuid.UUID, items []model.ResponseUpsert) (int, error) {
	batch := &pgx.Batch{}
	for _, u := range items {
		batch.Queue(responseMergeSQL,
			attemptID, u.QuestionID, u.Answer, u.Status,
			u.IsMarkedForReview, u.IsVisited, u.TimeSpentSeconds, u.VisitCount)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	saved := 0
	for i := range items {
		if _, err := results.Exec(); err != nil {
			return saved, fmt.Errorf("batch item %d (question %s): %w", i, items[i].QuestionID, err)
		}
		saved++
	}
	return saved, nil
}

// InitForAttempt seeds a not_visited row per question so the palette reads
// complete from the first fetch. Re-running is harmless.
func (r *ResponseRepository) InitForAttempt(ctx context.Context, attemptID uuid.UUID, questionIDs []uuid.UUID) error {
	if len(questionIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO responses (attempt_id, question_id, status)
		 SELECT $1, qid, 'not_visited'
		 FROM UNNEST($2::uuid[]) AS qid
		 ON CONFLICT (attempt_id, question_id) DO NOTHING`,
		attemptID, questionIDs)
	return err
}

// ListByAttempt retrieves every response row for an attempt.
func (r *ResponseRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, answer, status, is_marked_for_review,
		        is_visited, time_spent_seconds, visit_count, note,
		        is_correct, marks_obtained, updated_at
		 FROM responses
		 WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		if err := rows.Scan(
			&resp.AttemptID, &resp.QuestionID, &resp.Answer, &resp.Status,
			&resp.IsMarkedForReview, &resp.IsVisited, &resp.TimeSpentSeconds,
			&resp.VisitCount, &resp.Note, &resp.IsCorrect, &resp.MarksObtained,
			&resp.UpdatedAt,
		); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

// ResponseScore is one graded response produced by finalize.
type ResponseScore struct {
	QuestionID    uuid.UUID
	IsCorrect     *bool
	MarksObtained float64
}

// UpdateScores writes per-question grading results in a single statement.
func (r *ResponseRepository) UpdateScores(ctx context.Context, attemptID uuid.UUID, scores []ResponseScore) error {
	if len(scores) == 0 {
		return nil
	}

	questionIDs := make([]uuid.UUID, len(scores))
	isCorrect := make([]*bool, len(scores))
	marks := make([]float64, len(scores))
	for i, s := range scores {
		questionIDs[i] = s.QuestionID
		isCorrect[i] = s.IsCorrect
		marks[i] = s.MarksObtained
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE responses AS resp
		 SET is_correct = upd.is_correct, marks_obtained = upd.marks, updated_at = NOW()
		 FROM (
		     SELECT UNNEST($2::uuid[]) AS question_id,
		            UNNEST($3::boolean[]) AS is_correct,
		            UNNEST($4::numeric[]) AS marks
		 ) AS upd
		 WHERE resp.attempt_id = $1 AND resp.question_id = upd.question_id`,
		attemptID, questionIDs, isCorrect, marks)
	return err
}

// SetNote attaches a review note to one response. Returns false when no such
// response row exists.
func (r *ResponseRepository) SetNote(ctx context.Context, attemptID, questionID uuid.UUID, note string) (bool, error) {
	var noteArg *string
	if note != "" {
		noteArg = &note
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE responses SET note = $3, updated_at = NOW()
		 WHERE attempt_id = $1 AND question_id = $2`,
		attemptID, questionID, noteArg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
