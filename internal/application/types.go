package application

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

type Config struct {
	ServiceName         string
	AttributionWindow   time.Duration
	DefaultHoldbackDays int
	MinimumPayoutCents  int64
	PayoutCurrency      string
	PayoutLookback      time.Duration
	TransferTimeout     time.Duration
	CommitTimeout       time.Duration
	RunLockTTL          time.Duration
	ReferralCacheTTL    time.Duration
	IdempotencyTTL      time.Duration
	EventDedupTTL       time.Duration
	DefaultPageSize     int
	MaxPageSize         int
}

type Actor struct {
	SubjectID       string
	Role            string
	RequestID       string
	IdempotencyKey  string
	SchedulerSecret string
}

type CreateAttributionInput struct {
	UserID      string
	AffiliateID string
	Type        string
	Source      string
}

type SignupAttributionInput struct {
	ReferralCode string
	PromoCode    string
	Type         string
}

type AttributionFilter struct {
	UserID      string
	AffiliateID string
	Limit       int
}

type CreatePromoCodeInput struct {
	AffiliateID      string
	Code             string
	DiscountSharePct decimal.Decimal
	StartsAt         *time.Time
	EndsAt           *time.Time
	MaxRedemptions   *int
}

type UpdatePromoCodeInput struct {
	DiscountSharePct *decimal.Decimal
	EndsAt           *time.Time
	MaxRedemptions   *int
	Status           *string
}

type DeletePromoCodeResult struct {
	PromoCodeID string
	Action      domain.PromoDeleteAction
}

type AccrueInput struct {
	AffiliateID   string
	AmountCents   int64
	SourceRef     string
	AttributionID string
	HoldbackDays  *int
}

type UpsertAffiliateInput struct {
	AffiliateID        string
	UserID             string
	Status             string
	ParentAffiliateID  *string
	ReferralCode       string
	PayoutAccountRef   string
	PayoutAccountReady bool
}

type PayoutSkip struct {
	AffiliateID string
	Reason      domain.SkipReason
	TotalCents  int64
}

type PayoutFailure struct {
	AffiliateID string
	Error       string
}

type PayoutRunResult struct {
	RunID     string
	StartedAt time.Time
	Processed int
	Skipped   int
	Failed    int
	PaidCents int64
	Cancelled bool
	Payouts   []domain.AffiliatePayout
	Skips     []PayoutSkip
	Errors    []PayoutFailure
}

type Service struct {
	cfg    Config
	logger *slog.Logger

	affiliates   ports.AffiliateRepository
	attributions ports.AttributionRepository
	promoCodes   ports.PromoCodeRepository
	ledger       ports.LedgerRepository
	payouts      ports.PayoutRepository
	idempotency  ports.IdempotencyRepository
	eventDedup   ports.EventDedupRepository
	outbox       ports.OutboxRepository

	referralCache ports.Cache
	runLock       ports.RunLock
	transfers     ports.TransferClient
	secrets       ports.SecretVerifier
	metrics       ports.PayoutMetrics

	nowFn func() time.Time
}

type Dependencies struct {
	Config Config
	Logger *slog.Logger

	Affiliates   ports.AffiliateRepository
	Attributions ports.AttributionRepository
	PromoCodes   ports.PromoCodeRepository
	Ledger       ports.LedgerRepository
	Payouts      ports.PayoutRepository
	Idempotency  ports.IdempotencyRepository
	EventDedup   ports.EventDedupRepository
	Outbox       ports.OutboxRepository

	ReferralCache ports.Cache
	RunLock       ports.RunLock
	Transfers     ports.TransferClient
	Secrets       ports.SecretVerifier
	Metrics       ports.PayoutMetrics

	Clock func() time.Time
}
