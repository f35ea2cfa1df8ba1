package contracts

import "github.com/shopspring/decimal"

type SuccessResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ResolveReferralResponse struct {
	Code        string `json:"code"`
	AffiliateID string `json:"affiliate_id"`
}

type CreateAttributionRequest struct {
	UserID      string `json:"user_id"`
	AffiliateID string `json:"affiliate_id"`
	Type        string `json:"type"`
	Source      string `json:"source"`
}

type SignupAttributionRequest struct {
	ReferralCode string `json:"referral_code"`
	PromoCode    string `json:"promo_code"`
	Type         string `json:"type"`
}

type AttributionResponse struct {
	AttributionID string `json:"attribution_id"`
	UserID        string `json:"user_id"`
	AffiliateID   string `json:"affiliate_id"`
	Type          string `json:"type"`
	Source        string `json:"source"`
	CreatedAt     string `json:"created_at"`
	EndsAt        string `json:"ends_at"`
	Active        bool   `json:"active"`
}

type AttributionListResponse struct {
	Items []AttributionResponse `json:"items"`
}

type CreatePromoCodeRequest struct {
	Code             string          `json:"code"`
	DiscountSharePct decimal.Decimal `json:"discount_share_pct"`
	StartsAt         *string         `json:"starts_at,omitempty"`
	EndsAt           *string         `json:"ends_at,omitempty"`
	MaxRedemptions   *int            `json:"max_redemptions,omitempty"`
}

type UpdatePromoCodeRequest struct {
	DiscountSharePct *decimal.Decimal `json:"discount_share_pct,omitempty"`
	EndsAt           *string          `json:"ends_at,omitempty"`
	MaxRedemptions   *int             `json:"max_redemptions,omitempty"`
	Status           *string          `json:"status,omitempty"`
}

type PromoCodeResponse struct {
	PromoCodeID      string  `json:"promo_code_id"`
	AffiliateID      string  `json:"affiliate_id"`
	Code             string  `json:"code"`
	DiscountSharePct int     `json:"discount_share_pct"`
	StartsAt         string  `json:"starts_at"`
	EndsAt           *string `json:"ends_at,omitempty"`
	MaxRedemptions   *int    `json:"max_redemptions,omitempty"`
	RedemptionCount  int     `json:"redemption_count"`
	Status           string  `json:"status"`
}

type PromoCodeListResponse struct {
	Items []PromoCodeResponse `json:"items"`
}

type DeletePromoCodeResponse struct {
	PromoCodeID string `json:"promo_code_id"`
	Action      string `json:"action"`
}

type ValidatePromoCodeResponse struct {
	Code             string `json:"code"`
	AffiliateID      string `json:"affiliate_id"`
	DiscountSharePct int    `json:"discount_share_pct"`
	Valid            bool   `json:"valid"`
}

type BalanceResponse struct {
	AffiliateID    string `json:"affiliate_id"`
	Currency       string `json:"currency"`
	PendingCents   int64  `json:"pending_cents"`
	AvailableCents int64  `json:"available_cents"`
	PaidCents      int64  `json:"paid_cents"`
	Available      string `json:"available"`
}

type AccrualRequest struct {
	AffiliateID   string `json:"affiliate_id"`
	AmountCents   int64  `json:"amount_cents"`
	SourceRef     string `json:"source_ref"`
	AttributionID string `json:"attribution_id"`
	HoldbackDays  *int   `json:"holdback_days,omitempty"`
}

type LedgerEntryResponse struct {
	EntryID     string `json:"entry_id"`
	AffiliateID string `json:"affiliate_id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	AvailableAt string `json:"available_at"`
	SourceRef   string `json:"source_ref"`
	Created     bool   `json:"created"`
}

type PayoutRunResponse struct {
	RunID     string                `json:"run_id"`
	Processed int                   `json:"processed"`
	Skipped   int                   `json:"skipped"`
	Failed    int                   `json:"failed"`
	PaidCents int64                 `json:"paid_cents"`
	Skips     []PayoutSkipResponse  `json:"skips,omitempty"`
	Errors    []PayoutErrorResponse `json:"errors,omitempty"`
}

type PayoutSkipResponse struct {
	AffiliateID string `json:"affiliate_id"`
	Reason      string `json:"reason"`
	TotalCents  int64  `json:"total_cents"`
}

type PayoutErrorResponse struct {
	AffiliateID string `json:"affiliate_id"`
	Error       string `json:"error"`
}

type PayoutResponse struct {
	PayoutID    string `json:"payout_id"`
	AffiliateID string `json:"affiliate_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	TransferRef string `json:"transfer_ref"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	EntryCount  int    `json:"entry_count"`
	CreatedAt   string `json:"created_at"`
}

type PayoutListResponse struct {
	Items []PayoutResponse `json:"items"`
}

type UpsertAffiliateRequest struct {
	UserID             string  `json:"user_id"`
	Status             string  `json:"status"`
	ParentAffiliateID  *string `json:"parent_affiliate_id,omitempty"`
	ReferralCode       string  `json:"referral_code"`
	PayoutAccountRef   string  `json:"payout_account_ref"`
	PayoutAccountReady bool    `json:"payout_account_ready"`
}

type AffiliateResponse struct {
	AffiliateID        string  `json:"affiliate_id"`
	UserID             string  `json:"user_id"`
	Status             string  `json:"status"`
	ParentAffiliateID  *string `json:"parent_affiliate_id,omitempty"`
	ReferralCode       string  `json:"referral_code"`
	PayoutAccountRef   string  `json:"payout_account_ref,omitempty"`
	PayoutAccountReady bool    `json:"payout_account_ready"`
	Tier               string  `json:"tier"`
	UpdatedAt          string  `json:"updated_at"`
}
