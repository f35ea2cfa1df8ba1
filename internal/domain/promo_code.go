package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type PromoCodeStatus string

const (
	PromoCodeStatusActive   PromoCodeStatus = "ACTIVE"
	PromoCodeStatusDisabled PromoCodeStatus = "DISABLED"
)

type PromoCode struct {
	PromoCodeID      string          `json:"promo_code_id"`
	AffiliateID      string          `json:"affiliate_id"`
	Code             string          `json:"code"`
	DiscountSharePct int             `json:"discount_share_pct"`
	StartsAt         time.Time       `json:"starts_at"`
	EndsAt           *time.Time      `json:"ends_at,omitempty"`
	MaxRedemptions   *int            `json:"max_redemptions,omitempty"`
	RedemptionCount  int             `json:"redemption_count"`
	Status           PromoCodeStatus `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type PromoDeleteAction string

const (
	PromoDeleteActionDeleted  PromoDeleteAction = "deleted"
	PromoDeleteActionDisabled PromoDeleteAction = "disabled"
)

// DeleteAction keeps redeemed codes around for reporting.
func (p PromoCode) DeleteAction() PromoDeleteAction {
	if p.RedemptionCount == 0 {
		return PromoDeleteActionDeleted
	}
	return PromoDeleteActionDisabled
}

// Redeemable reports why the code cannot be used at now, or nil.
func (p PromoCode) Redeemable(now time.Time) error {
	switch {
	case p.Status != PromoCodeStatusActive:
		return fmt.Errorf("%w: promo code is disabled", ErrInvalidInput)
	case now.Before(p.StartsAt):
		return fmt.Errorf("%w: promo code is not active yet", ErrInvalidInput)
	case p.EndsAt != nil && !now.Before(*p.EndsAt):
		return fmt.Errorf("%w: promo code has expired", ErrInvalidInput)
	case p.MaxRedemptions != nil && p.RedemptionCount >= *p.MaxRedemptions:
		return fmt.Errorf("%w: promo code redemption limit reached", ErrInvalidInput)
	}
	return nil
}

var promoCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidatePromoCode(p PromoCode) error {
	if !promoCodePattern.MatchString(p.Code) {
		return fmt.Errorf("%w: code must match ^[A-Z0-9_-]{3,32}$", ErrInvalidInput)
	}
	if p.DiscountSharePct < 0 || p.DiscountSharePct > 100 {
		return fmt.Errorf("%w: discount_share_pct must be between 0 and 100", ErrInvalidInput)
	}
	if p.EndsAt != nil && !p.EndsAt.After(p.StartsAt) {
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidInput)
	}
	if p.MaxRedemptions != nil && *p.MaxRedemptions < 1 {
		return fmt.Errorf("%w: max_redemptions must be positive", ErrInvalidInput)
	}
	return nil
}
