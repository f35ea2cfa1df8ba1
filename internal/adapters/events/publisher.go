package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

// LoggingPublisher stands in for Kafka when no brokers are configured. It
// still checks that each outbox payload is a settlement envelope of the named
// type, so a malformed record fails here the way it would downstream.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	var envelope contracts.EventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
	}
	if envelope.EventType != eventType || !domain.IsCanonicalEmittedEvent(eventType) {
		return fmt.Errorf("%w: record for %s carries %q", domain.ErrInvalidEnvelope, eventType, envelope.EventType)
	}
	p.logger.InfoContext(ctx, "settlement event published",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "logged",
		"event_id", envelope.EventID,
		"event_type", eventType,
		"event_class", envelope.EventClass,
		"partition_key", partitionKey,
		"trace_id", envelope.TraceID,
	)
	return nil
}
