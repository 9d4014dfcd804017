package worker

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/prepline/examd/internal/repository"
	"github.com/prepline/examd/internal/service"
)

const expiryScanLimit = 200

// ExpiryWorker periodically sweeps for in-progress attempts whose every
// section timer has run out and finalizes them server-side, so an abandoned
// tab still produces a scored result. The sweep only selects attempts that
// have gone quiet: anything still heartbeating keeps a fresh checkpoint and
// never shows up as a candidate.
type ExpiryWorker struct {
	attemptRepo *repository.AttemptRepository
	coordinator *service.SubmissionCoordinator
	scheduler   *gocron.Scheduler
	interval    time.Duration
	log         zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(
	attemptRepo *repository.AttemptRepository,
	coordinator *service.SubmissionCoordinator,
	interval time.Duration,
	log zerolog.Logger,
) *ExpiryWorker {
	return &ExpiryWorker{
		attemptRepo: attemptRepo,
		coordinator: coordinator,
		scheduler:   gocron.NewScheduler(time.UTC),
		interval:    interval,
		log:         log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start schedules the sweep and runs it asynchronously.
func (w *ExpiryWorker) Start() {
	_, err := w.scheduler.Every(w.interval).Do(w.sweep)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to schedule expiry sweep")
		return
	}
	w.scheduler.StartAsync()
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")
}

// Stop terminates the scheduler, waiting for a running sweep to finish.
func (w *ExpiryWorker) Stop() {
	w.scheduler.Stop()
}

func (w *ExpiryWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	// Only attempts silent for at least one interval are worth recomputing.
	cutoff := time.Now().Add(-w.interval)
	candidates, err := w.attemptRepo.ListExpiryCandidates(ctx, cutoff, expiryScanLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("Expiry scan failed")
		return
	}

	now := time.Now()
	expired := 0
	for i := range candidates {
		attempt := &candidates[i]
		remaining := service.RecomputeRemaining(attempt, now)
		if !service.AllExpired(attempt, remaining) {
			continue
		}

		if _, err := w.coordinator.Expire(ctx, attempt.ID); err != nil {
			if errors.Is(err, service.ErrAttemptNotActive) {
				continue // Lost the race to a real submit.
			}
			w.log.Error().Err(err).
				Str("attempt_id", attempt.ID.String()).
				Msg("Failed to expire attempt")
			continue
		}
		expired++
		w.log.Info().
			Str("attempt_id", attempt.ID.String()).
			Str("mode", string(attempt.Mode)).
			Msg("Expired attempt finalized")
	}

	if expired > 0 || len(candidates) > 0 {
		w.log.Debug().
			Int("candidates", len(candidates)).
			Int("expired", expired).
			Msg("Expiry sweep complete")
	}

	w.recoverStalled(ctx, cutoff)
}

// recoverStalled finishes scoring for attempts whose finalize won the submit
// CAS and then died before writing scores. Recover itself gates on the
// reclaim window, so a finalize that is merely slow is left alone.
func (w *ExpiryWorker) recoverStalled(ctx context.Context, cutoff time.Time) {
	stalled, err := w.attemptRepo.ListStalledSubmitted(ctx, cutoff, expiryScanLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("Stalled finalize scan failed")
		return
	}

	for i := range stalled {
		attempt := &stalled[i]
		if _, err := w.coordinator.Recover(ctx, attempt.ID); err != nil {
			if errors.Is(err, service.ErrAttemptNotActive) {
				continue // Claim still fresh, or another reclaimer got it.
			}
			w.log.Error().Err(err).
				Str("attempt_id", attempt.ID.String()).
				Msg("Failed to recover stalled finalize")
			continue
		}
		w.log.Info().
			Str("attempt_id", attempt.ID.String()).
			Msg("Stalled finalize recovered")
	}
}
