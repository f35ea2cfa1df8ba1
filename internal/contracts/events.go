package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

// Consumed payloads.

type OrderCommissionEarnedPayload struct {
	OrderID       string `json:"order_id"`
	AffiliateID   string `json:"affiliate_id"`
	AttributionID string `json:"attribution_id,omitempty"`
	AmountCents   int64  `json:"amount_cents"`
	HoldbackDays  *int   `json:"holdback_days,omitempty"`
}

type OrderRefundedPayload struct {
	OrderID string `json:"order_id"`
}

type PromoCodeRedeemedPayload struct {
	Code    string `json:"code"`
	OrderID string `json:"order_id"`
}

// Emitted payloads.

type AttributionCreatedPayload struct {
	AttributionID string `json:"attribution_id"`
	AffiliateID   string `json:"affiliate_id"`
	UserID        string `json:"user_id"`
	Type          string `json:"type"`
	Source        string `json:"source"`
	EndsAt        string `json:"ends_at"`
}

type CommissionAccruedPayload struct {
	EntryID     string `json:"entry_id"`
	AffiliateID string `json:"affiliate_id"`
	AmountCents int64  `json:"amount_cents"`
	SourceRef   string `json:"source_ref"`
	AvailableAt string `json:"available_at"`
}

type CommissionVoidedPayload struct {
	EntryID     string `json:"entry_id"`
	AffiliateID string `json:"affiliate_id"`
	AmountCents int64  `json:"amount_cents"`
	SourceRef   string `json:"source_ref"`
	VoidedAt    string `json:"voided_at"`
}

type PromoCodeChangedPayload struct {
	PromoCodeID      string `json:"promo_code_id"`
	AffiliateID      string `json:"affiliate_id"`
	Code             string `json:"code"`
	Action           string `json:"action"`
	DiscountSharePct int    `json:"discount_share_pct"`
	Status           string `json:"status"`
}

type PayoutSentPayload struct {
	PayoutID    string `json:"payout_id"`
	AffiliateID string `json:"affiliate_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	TransferRef string `json:"transfer_ref"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	EntryCount  int    `json:"entry_count"`
}

type PayoutFailedPayload struct {
	AffiliateID    string `json:"affiliate_id"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
	TransferRef    string `json:"transfer_ref,omitempty"`
	Error          string `json:"error"`
}

type PayoutRunCompletedPayload struct {
	RunID     string `json:"run_id"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	PaidCents int64  `json:"paid_cents"`
	StartedAt string `json:"started_at"`
}
