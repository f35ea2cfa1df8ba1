package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

// HandleCanonicalEvent applies an order or checkout event. Each event id is
// applied at most once. Apply paths are keyed on their own (accruals by source,
// voids by status, redemptions by event id), so an event replayed after a lost
// dedup mark changes nothing.
func (s *Service) HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	if !domain.IsCanonicalInputEvent(envelope.EventType) {
		return domain.ErrUnsupportedEventType
	}
	if s.eventDedup != nil {
		dup, err := s.eventDedup.IsDuplicate(ctx, envelope.EventID, s.nowFn())
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}
	if err := s.applyEvent(ctx, envelope); err != nil {
		return err
	}
	if s.eventDedup != nil {
		return s.eventDedup.MarkProcessed(ctx, envelope.EventID, envelope.EventType, s.nowFn().Add(s.cfg.EventDedupTTL))
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, envelope contracts.EventEnvelope) error {
	switch envelope.EventType {
	case domain.EventOrderCommissionEarned:
		var payload contracts.OrderCommissionEarnedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
		}
		_, _, err := s.Accrue(ctx, AccrueInput{
			AffiliateID:   payload.AffiliateID,
			AmountCents:   payload.AmountCents,
			SourceRef:     orderSourceRef(payload.OrderID),
			AttributionID: payload.AttributionID,
			HoldbackDays:  payload.HoldbackDays,
		})
		return err
	case domain.EventOrderRefunded:
		var payload contracts.OrderRefundedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
		}
		_, err := s.VoidBySource(ctx, orderSourceRef(payload.OrderID))
		return err
	case domain.EventPromoCodeRedeemed:
		var payload contracts.PromoCodeRedeemedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
		}
		_, err := s.RecordRedemption(ctx, payload.Code, envelope.EventID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	default:
		return domain.ErrUnsupportedEventType
	}
}

func orderSourceRef(orderID string) string {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ""
	}
	return "order:" + orderID
}

func (s *Service) enqueueEvent(ctx context.Context, eventType, traceID string, data any, partitionKey string, now time.Time) error {
	if s.outbox == nil {
		return nil
	}
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return domain.ErrUnsupportedEventType
	}
	b, err := json.Marshal(data)
	if err != nil {
		return domain.ErrInvalidInput
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	env := contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClass(eventType),
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          traceID,
		SchemaVersion:    "v1",
		Data:             b,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.outbox.Enqueue(ctx, ports.OutboxRecord{
		RecordID:     uuid.NewString(),
		EventType:    eventType,
		EventClass:   env.EventClass,
		PartitionKey: partitionKey,
		Payload:      payload,
		CreatedAt:    now,
	}); err != nil {
		s.logger.WarnContext(ctx, "outbox enqueue failed",
			"module", "application.events",
			"layer", "application",
			"operation", "enqueue_event",
			"outcome", "failure",
			"event_type", eventType,
			"error", err,
		)
		return err
	}
	return nil
}

func validateEnvelope(event contracts.EventEnvelope) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" || event.OccurredAt.IsZero() {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.SourceService) == "" || strings.TrimSpace(event.SchemaVersion) == "" {
		return domain.ErrInvalidEnvelope
	}
	if len(event.Data) == 0 {
		return domain.ErrInvalidEnvelope
	}
	return nil
}
