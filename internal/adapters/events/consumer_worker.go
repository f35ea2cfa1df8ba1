package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Payload   []byte
}

// Consumer hands out messages and takes acknowledgements separately. A fetched
// message that is never committed is delivered again.
type Consumer interface {
	Fetch(ctx context.Context, max int) ([]Message, error)
	Commit(ctx context.Context, msgs ...Message) error
}

// EnvelopeHandler applies one canonical event. *application.Service satisfies it.
type EnvelopeHandler interface {
	HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error
}

// ConsumerWorker applies order and checkout events in fetch order. A message is
// committed once its handler succeeds or fails permanently; transient failures
// are retried in place with backoff, holding back the rest of the batch.
type ConsumerWorker struct {
	logger       *slog.Logger
	consumer     Consumer
	handler      EnvelopeHandler
	interval     time.Duration
	batchSize    int
	retryInitial time.Duration
	retryMax     time.Duration
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler EnvelopeHandler, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, handler: handler, interval: interval, batchSize: 50,
		retryInitial: 500 * time.Millisecond, retryMax: 30 * time.Second,
	}
}

// WithRetryBackoff bounds the wait between attempts on a transient failure.
func (w *ConsumerWorker) WithRetryBackoff(initial, max time.Duration) *ConsumerWorker {
	if initial > 0 {
		w.retryInitial = initial
	}
	if max >= w.retryInitial {
		w.retryMax = max
	}
	return w
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processOnce returns how many fetched messages were committed.
func (w *ConsumerWorker) processOnce(ctx context.Context) (int, error) {
	msgs, err := w.consumer.Fetch(ctx, w.batchSize)
	if err != nil && len(msgs) == 0 {
		return 0, err
	}
	committed := 0
	for _, msg := range msgs {
		if err := w.deliver(ctx, msg); err != nil {
			return committed, err
		}
		if err := w.consumer.Commit(ctx, msg); err != nil {
			return committed, err
		}
		committed++
	}
	return committed, err
}

// deliver returns nil once msg may be committed, or the context error when the
// worker stops before that.
func (w *ConsumerWorker) deliver(ctx context.Context, msg Message) error {
	var envelope contracts.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		w.logger.WarnContext(ctx, "dropping undecodable event",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "decode",
			"outcome", "rejected",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	backoff := w.retryInitial
	for attempt := 1; ; attempt++ {
		err := w.handler.HandleCanonicalEvent(ctx, envelope)
		if err == nil {
			return nil
		}
		if permanentEventError(err) {
			w.logger.WarnContext(ctx, "skipping rejected event",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "handle",
				"outcome", "rejected",
				"topic", msg.Topic,
				"event_id", envelope.EventID,
				"event_type", envelope.EventType,
				"error", err,
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.ErrorContext(ctx, "failed to handle event, retrying",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "handle",
			"outcome", "retry",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"event_id", envelope.EventID,
			"event_type", envelope.EventType,
			"attempt", attempt,
			"error", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > w.retryMax {
			backoff = w.retryMax
		}
	}
}

// permanentEventError reports failures that no retry of the same payload can
// fix. An unknown affiliate counts: affiliates are registered before they earn.
func permanentEventError(err error) bool {
	return errors.Is(err, domain.ErrInvalidEnvelope) ||
		errors.Is(err, domain.ErrUnsupportedEventType) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrNotFound)
}
