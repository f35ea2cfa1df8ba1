package postgres

import (
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Affiliates   ports.AffiliateRepository
	Attributions ports.AttributionRepository
	PromoCodes   ports.PromoCodeRepository
	Ledger       ports.LedgerRepository
	Payouts      ports.PayoutRepository
	Outbox       ports.OutboxRepository
	EventDedup   ports.EventDedupRepository
	Idempotency  ports.IdempotencyRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Affiliates:   &affiliateRepository{db: db},
		Attributions: &attributionRepository{db: db},
		PromoCodes:   &promoCodeRepository{db: db},
		Ledger:       &ledgerRepository{db: db},
		Payouts:      &payoutRepository{db: db},
		Outbox:       &outboxRepository{db: db},
		EventDedup:   &eventDedupRepository{db: db},
		Idempotency:  &idempotencyRepository{db: db},
	}
}
