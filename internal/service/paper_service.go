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

const paperPayloadTTL = 10 * time.Minute

// PaperService serves the paper catalog and the exam-safe paper payload.
type PaperService struct {
	paperRepo    *repository.PaperRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewPaperService creates a new PaperService.
func NewPaperService(
	paperRepo *repository.PaperRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *PaperService {
	return &PaperService{
		paperRepo:    paperRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "paper_service").Logger(),
	}
}

// PaperPayload is a paper plus its questions with the answer keys stripped.
// This is what an exam screen renders from.
type PaperPayload struct {
	Paper     *model.Paper         `json:"paper"`
	Questions []model.ExamQuestion `json:"questions"`
}

// List returns the published paper catalog.
func (s *PaperService) List(ctx context.Context) ([]model.Paper, error) {
	papers, err := s.paperRepo.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	return papers, nil
}

// GetPayload returns the renderable paper, cached in Redis. The payload never
// carries answer keys, so a cache leak exposes nothing gradable.
func (s *PaperService) GetPayload(ctx context.Context, paperID uuid.UUID) (*PaperPayload, error) {
	key := config.CacheKey.PaperPayloadKey(paperID.String())

	cached, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		payload := &PaperPayload{}
		if err := json.Unmarshal([]byte(cached), payload); err == nil {
			return payload, nil
		}
		// Corrupt cache entry; fall through to the database.
		s.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("paper payload cache read failed")
	}

	paper, err := s.paperRepo.GetByID(ctx, paperID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get paper: %w", err)
	}
	if !paper.Published {
		return nil, ErrPaperNotAvailable
	}

	questions, err := s.questionRepo.ListByPaper(ctx, paperID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	payload := &PaperPayload{Paper: paper, Questions: make([]model.ExamQuestion, 0, len(questions))}
	for i := range questions {
		payload.Questions = append(payload.Questions, questions[i].ForExam())
	}

	if raw, err := json.Marshal(payload); err == nil {
		if err := s.rdb.Set(ctx, key, raw, paperPayloadTTL).Err(); err != nil {
			s.log.Warn().Err(err).Msg("paper payload cache write failed")
		}
	}
	return payload, nil
}
