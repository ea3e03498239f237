package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Handler interface {
	Handle(ctx context.Context, id uuid.UUID) error
}

// Abandoner is implemented by handlers that can settle a request whose
// event was parked.
type Abandoner interface {
	Abandon(ctx context.Context, id uuid.UUID, cause error) error
}

type WorkerConfig struct {
	BatchSize         int
	VisibilityTimeout time.Duration
	MaxAttempts       int
	// HandleTimeout bounds one pipeline invocation.
	HandleTimeout time.Duration
}

// Worker drains the booking outbox. Delivery is at-least-once: a crash
// between handling and acknowledging replays the event after the
// visibility timeout, and the pipeline's lock makes the replay a no-op.
// Events are only acked once the handler reports the request settled.
type Worker struct {
	outbox  Outbox
	handler Handler
	cfg     WorkerConfig
	now     func() time.Time
	log     zerolog.Logger
}

func NewWorker(outbox Outbox, handler Handler, cfg WorkerConfig, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.HandleTimeout <= 0 || cfg.HandleTimeout > cfg.VisibilityTimeout {
		cfg.HandleTimeout = cfg.VisibilityTimeout
	}
	return &Worker{outbox: outbox, handler: handler, cfg: cfg, now: time.Now, log: log}
}

// RunOnce claims one batch and handles it. It returns how many events were
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.now()
	events, err := w.outbox.ClaimEvents(ctx, w.cfg.BatchSize, now, now.Add(w.cfg.VisibilityTimeout))
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		w.handle(ctx, ev)
	}
	return len(events), nil
}

func (w *Worker) handle(ctx context.Context, ev Event) {
	log := w.log.With().
		Str("event_id", ev.ID.String()).
		Str("booking_request_id", ev.BookingRequestID.String()).
		Int("attempt", ev.Attempts).
		Logger()

	hctx, cancel := context.WithTimeout(ctx, w.cfg.HandleTimeout)
	err := w.handler.Handle(hctx, ev.BookingRequestID)
	cancel()

	if err == nil {
		if ackErr := w.outbox.AckEvent(ctx, ev.ID, w.now()); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ack booking event")
		}
		return
	}

	retryAt := w.now().Add(backoff(ev.Attempts))
	if failErr := w.outbox.FailEvent(ctx, ev.ID, err.Error(), retryAt, w.cfg.MaxAttempts); failErr != nil {
		log.Error().Err(failErr).Msg("failed to record booking event failure")
	}
	if ev.Attempts >= w.cfg.MaxAttempts {
		log.Error().Err(err).Msg("booking event parked after max attempts")
		if a, ok := w.handler.(Abandoner); ok {
			if abandonErr := a.Abandon(ctx, ev.BookingRequestID, err); abandonErr != nil {
				log.Error().Err(abandonErr).Msg("failed to settle parked booking request")
			}
		}
		return
	}
	log.Warn().Err(err).Time("retry_at", retryAt).Msg("booking event failed")
}

// backoff doubles from one second up to five minutes.
func backoff(attempts int) time.Duration {
	d := time.Second
	for i := 1; i < attempts && d < 5*time.Minute; i++ {
		d *= 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		n, err := w.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			w.log.Error().Err(err).Msg("outbox poll failed")
		case n > 0:
			w.log.Info().Int("events", n).Dur("took", time.Since(start)).Msg("outbox batch handled")
		}
		if n == w.cfg.BatchSize && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping booking worker")
			return
		case <-ticker.C:
		}
	}
}
