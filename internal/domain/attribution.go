package domain

import (
	"fmt"
	"strings"
	"time"
)

type AttributionType string

const (
	AttributionTypeUserSignup     AttributionType = "USER_SIGNUP"
	AttributionTypeBusinessSignup AttributionType = "BUSINESS_SIGNUP"
)

type AttributionSource string

const (
	AttributionSourceOrganic   AttributionSource = "ORGANIC"
	AttributionSourceManual    AttributionSource = "MANUAL"
	AttributionSourcePromoCode AttributionSource = "PROMO_CODE"
)

type Attribution struct {
	AttributionID string            `json:"attribution_id"`
	UserID        string            `json:"user_id"`
	AffiliateID   string            `json:"affiliate_id"`
	Type          AttributionType   `json:"type"`
	Source        AttributionSource `json:"source"`
	CreatedAt     time.Time         `json:"created_at"`
	EndsAt        time.Time         `json:"ends_at"`
}

// IsActive is the only expiry rule: nothing is ever transitioned or deleted.
func (a Attribution) IsActive(now time.Time) bool { return a.EndsAt.After(now) }

func ParseAttributionType(raw string) (AttributionType, error) {
	switch t := AttributionType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case AttributionTypeUserSignup, AttributionTypeBusinessSignup:
		return t, nil
	default:
		return "", fmt.Errorf("%w: type must be USER_SIGNUP or BUSINESS_SIGNUP", ErrInvalidInput)
	}
}

func ParseAttributionSource(raw string) (AttributionSource, error) {
	switch s := AttributionSource(strings.ToUpper(strings.TrimSpace(raw))); s {
	case AttributionSourceOrganic, AttributionSourceManual, AttributionSourcePromoCode:
		return s, nil
	case "":
		return AttributionSourceOrganic, nil
	default:
		return "", fmt.Errorf("%w: unsupported attribution source %q", ErrInvalidInput, raw)
	}
}

// CheckAttributable runs the affiliate-side rules of attribution creation.
func CheckAttributable(aff Affiliate, userID string) error {
	if !aff.IsActive() {
		return fmt.Errorf("%w: affiliate is not active", ErrInvalidInput)
	}
	if aff.UserID == userID {
		return fmt.Errorf("%w: self-referral is not allowed", ErrForbidden)
	}
	return nil
}

// AttributionConflict carries the still-active attribution that blocked a create.
type AttributionConflict struct {
	Existing Attribution
}

func (e *AttributionConflict) Error() string {
	return fmt.Sprintf("active attribution %s already exists until %s", e.Existing.AttributionID, e.Existing.EndsAt.UTC().Format(time.RFC3339))
}

func (e *AttributionConflict) Unwrap() error { return ErrConflict }
