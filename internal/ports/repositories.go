package ports

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

type AffiliateRepository interface {
	GetByID(ctx context.Context, affiliateID string) (domain.Affiliate, error)
	GetByReferralCode(ctx context.Context, code string) (domain.Affiliate, error)
	GetByUserID(ctx context.Context, userID string) (domain.Affiliate, error)
	ListByIDs(ctx context.Context, affiliateIDs []string) (map[string]domain.Affiliate, error)
	HasChildren(ctx context.Context, affiliateID string) (bool, error)
	Upsert(ctx context.Context, row domain.Affiliate) error
}

type AttributionQuery struct {
	UserID      string
	AffiliateID string
	Limit       int
}

type AttributionRepository interface {
	// CreateExclusive loads the affiliate, runs guard on it and inserts row
	// unless an attribution for the same (user, affiliate, type) is still
	// active at row.CreatedAt, all inside one transaction. A blocking record
	// is reported as *domain.AttributionConflict.
	CreateExclusive(ctx context.Context, row domain.Attribution, guard func(domain.Affiliate) error) (domain.Attribution, error)
	List(ctx context.Context, q AttributionQuery) ([]domain.Attribution, error)
}

type PromoCodeRepository interface {
	Create(ctx context.Context, row domain.PromoCode) error
	GetByID(ctx context.Context, promoCodeID string) (domain.PromoCode, error)
	GetByCode(ctx context.Context, code string) (domain.PromoCode, error)
	ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.PromoCode, error)
	Update(ctx context.Context, row domain.PromoCode) error
	// DeleteUnredeemed removes the row only while redemption_count is zero.
	DeleteUnredeemed(ctx context.Context, promoCodeID string) (bool, error)
	Disable(ctx context.Context, promoCodeID string, at time.Time) (domain.PromoCode, error)
	// IncrementRedemptions counts the redemption carried by eventID once. A
	// repeated eventID returns the stored row with counted=false.
	IncrementRedemptions(ctx context.Context, code, eventID string, at time.Time) (row domain.PromoCode, counted bool, err error)
}

type LedgerRepository interface {
	// Accrue inserts row unless an entry with the same (affiliate_id,
	// source_ref) exists, in which case the stored entry is returned with
	// created=false.
	Accrue(ctx context.Context, row domain.LedgerEntry) (domain.LedgerEntry, bool, error)
	ListAvailable(ctx context.Context, now time.Time) ([]domain.LedgerEntry, error)
	ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.LedgerEntry, error)
	VoidBySource(ctx context.Context, sourceRef string, at time.Time) ([]domain.LedgerEntry, error)
}

type PayoutQuery struct {
	AffiliateID string
	Limit       int
}

type PayoutRepository interface {
	LastSent(ctx context.Context, affiliateID string) (*domain.AffiliatePayout, error)
	// ReservePending stores payout as PENDING together with payout.EntryIDs
	// before any money moves. It fails with domain.ErrConflict while the
	// affiliate already has a pending payout, and with
	// domain.ErrSettlementMismatch when the entries are no longer open or no
	// longer add up to payout.AmountCents.
	ReservePending(ctx context.Context, payout domain.AffiliatePayout) error
	ListPending(ctx context.Context) ([]domain.AffiliatePayout, error)
	// FailPending closes a pending payout as FAILED without touching its
	// entries, so the next run reserves them again under a new key.
	FailPending(ctx context.Context, payoutID string, at time.Time) (domain.AffiliatePayout, error)
	// CommitSettlement marks payout SENT and flips entryIDs that are still
	// open to PAID in one transaction. A pending row with payout.PayoutID is
	// promoted; otherwise the payout is inserted. It rolls back with
	// domain.ErrSettlementMismatch when the flipped amount differs from
	// payout.AmountCents.
	CommitSettlement(ctx context.Context, payout domain.AffiliatePayout, entryIDs []string) error
	List(ctx context.Context, q PayoutQuery) ([]domain.AffiliatePayout, error)
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type OutboxRecord struct {
	RecordID     string
	EventType    string
	EventClass   string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	LastError    string
	CreatedAt    time.Time
	SentAt       *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, record OutboxRecord) error
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, recordID string, at time.Time) error
	MarkFailed(ctx context.Context, recordID, errMsg string, at time.Time) error
}
