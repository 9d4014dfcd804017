package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prepline/examd/internal/config"
	"github.com/prepline/examd/internal/model"
)

const (
	EventBatchSize    = 50
	EventBatchTimeout = 2 * time.Second
	EventPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventWorker drains the attempt audit-event queue into PostgreSQL. Events
// are enqueued on the request path and batched here, so an audit write never
// adds latency to a save.
type EventWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewEventWorker creates a new EventWorker.
func NewEventWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "event_worker").Logger(),
	}
}

// Start runs the consume loop until ctx is cancelled, then flushes whatever
// is buffered.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]*model.AttemptEvent, 0, EventBatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= EventBatchSize || time.Since(lastFlush) >= EventBatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlush = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, EventPollTimeout, config.WorkerKey.AttemptEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check the flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var event model.AttemptEvent
		if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed event")
			continue
		}
		buffer = append(buffer, &event)
	}
}

// flushSafe attempts a bulk insert, falling back to row-by-row with requeue.
func (w *EventWorker) flushSafe(ctx context.Context, batch []*model.AttemptEvent) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *EventWorker) bulkInsert(ctx context.Context, batch []*model.AttemptEvent) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		rows = append(rows, []interface{}{
			e.AttemptID, e.UserID, string(e.Type), string(payload), e.CreatedAt,
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"attempt_events"},
		[]string{"attempt_id", "user_id", "event_type", "payload", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *EventWorker) fallbackInsert(ctx context.Context, batch []*model.AttemptEvent) {
	requeueList := make([]*model.AttemptEvent, 0)

	for _, e := range batch {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			w.log.Error().Str("attempt_id", e.AttemptID.String()).Msg("Dropping event with unencodable payload")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO attempt_events (attempt_id, user_id, event_type, payload, created_at)
			 VALUES ($1, $2, $3, $4::jsonb, $5)`,
			e.AttemptID, e.UserID, string(e.Type), string(payload), e.CreatedAt,
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", e.AttemptID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, e)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *EventWorker) requeue(ctx context.Context, items []*model.AttemptEvent) {
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.AttemptEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed events back to Redis")
		// Avoid thrashing if the DB is down hard.
		time.Sleep(2 * time.Second)
	}
}

func (w *EventWorker) shutdown(buffer []*model.AttemptEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
