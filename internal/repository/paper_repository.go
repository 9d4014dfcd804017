package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepline/examd/internal/model"
)

// PaperRepository handles paper data access.
type PaperRepository struct {
	pool *pgxpool.Pool
}

// NewPaperRepository creates a new PaperRepository.
func NewPaperRepository(pool *pgxpool.Pool) *PaperRepository {
	return &PaperRepository{pool: pool}
}

const paperColumns = `id, slug, title, year, sections, duration_minutes,
	default_positive_marks, default_negative_marks, published, allow_pause,
	allow_sectional, attempt_limit, created_at, updated_at`

func scanPaper(row interface{ Scan(dest ...any) error }) (*model.Paper, error) {
	p := &model.Paper{}
	var sections []byte
	err := row.Scan(
		&p.ID, &p.Slug, &p.Title, &p.Year, &sections, &p.DurationMinutes,
		&p.DefaultPositiveMarks, &p.DefaultNegativeMarks, &p.Published, &p.AllowPause,
		&p.AllowSectional, &p.AttemptLimit, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &p.Sections); err != nil {
			return nil, fmt.Errorf("decode sections: %w", err)
		}
	}
	return p, nil
}

// GetByID retrieves a single paper.
func (r *PaperRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Paper, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE id = $1`, id)
	return scanPaper(row)
}

// ListPublished retrieves all papers available for attempts.
func (r *PaperRepository) ListPublished(ctx context.Context) ([]model.Paper, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE published = TRUE ORDER BY year DESC, title ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []model.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// CountAttempts returns how many attempts (any status) a user has made
// against a paper, used to enforce attempt_limit.
func (r *PaperRepository) CountAttempts(ctx context.Context, paperID, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE paper_id = $1 AND user_id = $2`,
		paperID, userID,
	).Scan(&n)
	return n, err
}
