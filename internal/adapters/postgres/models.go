package postgres

import "time"

type affiliateModel struct {
	AffiliateID        string    `gorm:"column:affiliate_id;primaryKey"`
	UserID             string    `gorm:"column:user_id"`
	Status             string    `gorm:"column:status"`
	ParentAffiliateID  *string   `gorm:"column:parent_affiliate_id"`
	ReferralCode       string    `gorm:"column:referral_code"`
	PayoutAccountRef   string    `gorm:"column:payout_account_ref"`
	PayoutAccountReady bool      `gorm:"column:payout_account_ready"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (affiliateModel) TableName() string { return "affiliates" }

type attributionModel struct {
	AttributionID string    `gorm:"column:attribution_id;primaryKey"`
	UserID        string    `gorm:"column:user_id"`
	AffiliateID   string    `gorm:"column:affiliate_id"`
	Type          string    `gorm:"column:type"`
	Source        string    `gorm:"column:source"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	EndsAt        time.Time `gorm:"column:ends_at"`
}

func (attributionModel) TableName() string { return "affiliate_attributions" }

type promoCodeModel struct {
	PromoCodeID      string     `gorm:"column:promo_code_id;primaryKey"`
	AffiliateID      string     `gorm:"column:affiliate_id"`
	Code             string     `gorm:"column:code"`
	DiscountSharePct int        `gorm:"column:discount_share_pct"`
	StartsAt         time.Time  `gorm:"column:starts_at"`
	EndsAt           *time.Time `gorm:"column:ends_at"`
	MaxRedemptions   *int       `gorm:"column:max_redemptions"`
	RedemptionCount  int        `gorm:"column:redemption_count"`
	Status           string     `gorm:"column:status"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (promoCodeModel) TableName() string { return "affiliate_promo_codes" }

type ledgerEntryModel struct {
	EntryID       string     `gorm:"column:entry_id;primaryKey"`
	AffiliateID   string     `gorm:"column:affiliate_id"`
	AmountCents   int64      `gorm:"column:amount_cents"`
	Status        string     `gorm:"column:status"`
	AvailableAt   time.Time  `gorm:"column:available_at"`
	SourceRef     string     `gorm:"column:source_ref"`
	AttributionID *string    `gorm:"column:attribution_id"`
	PayoutID      *string    `gorm:"column:payout_id"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	PaidAt        *time.Time `gorm:"column:paid_at"`
	VoidedAt      *time.Time `gorm:"column:voided_at"`
}

func (ledgerEntryModel) TableName() string { return "affiliate_commission_ledger" }

type payoutModel struct {
	PayoutID       string    `gorm:"column:payout_id;primaryKey"`
	AffiliateID    string    `gorm:"column:affiliate_id"`
	AmountCents    int64     `gorm:"column:amount_cents"`
	Currency       string    `gorm:"column:currency"`
	Status         string    `gorm:"column:status"`
	TransferRef    string    `gorm:"column:transfer_ref"`
	IdempotencyKey string    `gorm:"column:idempotency_key"`
	PeriodStart    time.Time `gorm:"column:period_start"`
	PeriodEnd      time.Time `gorm:"column:period_end"`
	EntryCount     int       `gorm:"column:entry_count"`
	EntryIDs       string    `gorm:"column:entry_ids;type:jsonb"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (payoutModel) TableName() string { return "affiliate_payouts" }

type promoRedemptionModel struct {
	EventID    string    `gorm:"column:event_id;primaryKey"`
	Code       string    `gorm:"column:code"`
	RedeemedAt time.Time `gorm:"column:redeemed_at"`
}

func (promoRedemptionModel) TableName() string { return "affiliate_promo_redemptions" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "affiliate_idempotency" }

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "affiliate_event_dedup" }

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	EventClass   string     `gorm:"column:event_class"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      string     `gorm:"column:payload;type:jsonb"`
	RetryCount   int        `gorm:"column:retry_count"`
	LastError    *string    `gorm:"column:last_error"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string { return "affiliate_outbox" }
