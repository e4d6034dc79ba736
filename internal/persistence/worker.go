package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"pismocore/internal/event"
	"pismocore/internal/observability"
)

// Worker drains the event channel and batch-writes to Postgres. It flushes
// when the batch fills or the flush timeout expires, and on a write failure
// it retries with exponential backoff rather than dropping the batch.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// Run blocks until ctx is cancelled or the input channel closes. Remaining
// buffered events are flushed on the way out.
func (pw *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			row, err := toRow(env)
			if err != nil {
				pw.log.Error().Int64("sequence", env.Sequence).Err(err).Msg("drop unmarshalable event")
				continue
			}
			batch = append(batch, row)

			if len(batch) >= pw.batchSize {
				pw.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				pw.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries until the write succeeds or ctx is cancelled. On
// cancellation it makes one last attempt with a background context so the
// batch is not lost to shutdown.
func (pw *Worker) flushWithRetry(ctx context.Context, batch []EventRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return
		}

		pw.log.Error().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.Inc()
		}
	}
}

func (pw *Worker) flush(ctx context.Context, batch []EventRow) error {
	if err := pw.writer.WriteEventBatch(ctx, batch); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.PersistBatchSize.Observe(float64(len(batch)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch)))
	}
	return nil
}

func toRow(env event.Envelope) (EventRow, error) {
	payload, err := MarshalEventPayload(env.Payload)
	if err != nil {
		return EventRow{}, err
	}
	return EventRow{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		AccountID: env.Payload.Account(),
		Payload:   payload,
		Timestamp: time.UnixMilli(env.Timestamp).UTC(),
	}, nil
}
