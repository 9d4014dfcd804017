package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepline/examd/internal/model"
)

// QuestionRepository handles question data access. The correct_answer column
// is fetched here and stripped in the service layer before anything reaches
// a live attempt.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByPaper retrieves all active questions for a paper in exam order.
func (r *QuestionRepository) ListByPaper(ctx context.Context, paperID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, paper_id, section, number, text, type, options,
		        correct_answer, positive_marks, negative_marks, is_active
		 FROM questions
		 WHERE paper_id = $1 AND is_active = TRUE
		 ORDER BY section, number`, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(
			&q.ID, &q.PaperID, &q.Section, &q.Number, &q.Text, &q.Type, &q.Options,
			&q.CorrectAnswer, &q.PositiveMarks, &q.NegativeMarks, &q.IsActive,
		); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetForPaper retrieves one active question, verifying it belongs to the
// paper. Used as the integrity check before a response write.
func (r *QuestionRepository) GetForPaper(ctx context.Context, questionID, paperID uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, paper_id, section, number, text, type, options,
		        correct_answer, positive_marks, negative_marks, is_active
		 FROM questions
		 WHERE id = $1 AND paper_id = $2 AND is_active = TRUE`,
		questionID, paperID,
	).Scan(
		&q.ID, &q.PaperID, &q.Section, &q.Number, &q.Text, &q.Type, &q.Options,
		&q.CorrectAnswer, &q.PositiveMarks, &q.NegativeMarks, &q.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return q, nil
}
