package ports

import (
	"context"
	"time"
)

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

type PayoutRunStats struct {
	Processed int
	Skipped   int
	Failed    int
	PaidCents int64
	Duration  time.Duration
	Outcome   string
}

type PayoutMetrics interface {
	ObserveRun(stats PayoutRunStats)
	ObserveSkip(reason string)
	ObserveTransfer(outcome string, amountCents int64)
}
