package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizdeck/proctor-gateway/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
)

// ResultWorker drains terminal submission outcomes into the attempt_results
// audit table and clears each session's autosave buffer once its row is
// safely on disk.
type ResultWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewResultWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "result_worker").Logger(),
	}
}

type resultPayload struct {
	SessionID  string  `json:"session_id"`
	AttemptID  string  `json:"attempt_id"`
	QuizID     string  `json:"quiz_id"`
	Username   string  `json:"username"`
	Reason     string  `json:"reason"`
	SubmitErr  string  `json:"submit_err"`
	At         int64   `json:"at"`
	Result     string  `json:"result"`
	Percentage float64 `json:"percentage"`
	Marks      float64 `json:"marks"`
}

func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]*resultPayload, 0, ResultBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ResultBatchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p resultPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

func (w *ResultWorker) flushSafe(ctx context.Context, batch []*resultPayload) {
	if len(batch) == 0 {
		return
	}

	failed := make([]*resultPayload, 0)
	cleared := make([]*resultPayload, 0, len(batch))

	// One upsert per row. Result volume is one per session, so a bulk path
	// buys nothing here; the violation worker carries the COPY fast path.
	for _, p := range batch {
		if err := w.persistSingle(ctx, p); err != nil {
			w.log.Error().Err(err).Str("session_id", p.SessionID).Msg("Result upsert failed, requeueing")
			failed = append(failed, p)
			continue
		}
		cleared = append(cleared, p)
	}

	w.bulkClearAutosavedAnswers(ctx, cleared)

	if len(failed) > 0 {
		pipe := w.rdb.Pipeline()
		for _, p := range failed {
			raw, _ := json.Marshal(p)
			pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue results to Redis. Data loss occurred.")
		}
	}
}

// persistSingle upserts one terminal outcome. ON CONFLICT keeps the row
// idempotent when a requeued payload lands twice.
func (w *ResultWorker) persistSingle(ctx context.Context, p *resultPayload) error {
	sessionID, err := uuid.Parse(p.SessionID)
	if err != nil {
		w.log.Error().Str("session_id", p.SessionID).Msg("Dropping result with invalid session id")
		return nil
	}

	_, err = w.pool.Exec(ctx,
		`INSERT INTO attempt_results
		     (session_id, attempt_id, quiz_id, username, reason, submit_error,
		      result, percentage, marks_obtained, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO UPDATE
		 SET reason = EXCLUDED.reason,
		     submit_error = EXCLUDED.submit_error,
		     result = EXCLUDED.result,
		     percentage = EXCLUDED.percentage,
		     marks_obtained = EXCLUDED.marks_obtained,
		     finished_at = EXCLUDED.finished_at`,
		sessionID, p.AttemptID, p.QuizID, p.Username, p.Reason, p.SubmitErr,
		p.Result, p.Percentage, p.Marks, time.Unix(p.At, 0),
	)
	return err
}

// bulkClearAutosavedAnswers deletes each finished session's tentative-answer
// buffer. The session is over; there is nothing left to restore.
func (w *ResultWorker) bulkClearAutosavedAnswers(ctx context.Context, batch []*resultPayload) {
	if len(batch) == 0 {
		return
	}

	pipe := w.rdb.Pipeline()
	for _, p := range batch {
		pipe.Del(ctx, config.CacheKey.SessionAnswersKey(p.SessionID))
	}
	_, _ = pipe.Exec(ctx)
}
