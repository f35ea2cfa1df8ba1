package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type AffiliateStatus string

const (
	AffiliateStatusPending   AffiliateStatus = "PENDING"
	AffiliateStatusActive    AffiliateStatus = "ACTIVE"
	AffiliateStatusSuspended AffiliateStatus = "SUSPENDED"
)

// Affiliate is a flat record; a non-nil ParentAffiliateID marks a sub-affiliate.
type Affiliate struct {
	AffiliateID        string          `json:"affiliate_id"`
	UserID             string          `json:"user_id"`
	Status             AffiliateStatus `json:"status"`
	ParentAffiliateID  *string         `json:"parent_affiliate_id,omitempty"`
	ReferralCode       string          `json:"referral_code"`
	PayoutAccountRef   string          `json:"payout_account_ref,omitempty"`
	PayoutAccountReady bool            `json:"payout_account_ready"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (a Affiliate) IsSubAffiliate() bool {
	return a.ParentAffiliateID != nil && strings.TrimSpace(*a.ParentAffiliateID) != ""
}

func (a Affiliate) IsActive() bool { return a.Status == AffiliateStatusActive }

var referralCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidateReferralCode(code string) error {
	if !referralCodePattern.MatchString(code) {
		return fmt.Errorf("%w: referral code must match ^[A-Z0-9_-]{3,32}$", ErrInvalidInput)
	}
	return nil
}

func ParseAffiliateStatus(raw string) (AffiliateStatus, error) {
	switch s := AffiliateStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case AffiliateStatusPending, AffiliateStatusActive, AffiliateStatusSuspended:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unsupported affiliate status %q", ErrInvalidInput, raw)
	}
}

// ValidateHierarchy enforces the depth-1 invariant: a parent must itself be
// top-level, and an affiliate can never be its own parent. hasChildren reports
// whether the affiliate being written already has sub-affiliates.
func ValidateHierarchy(child Affiliate, parent *Affiliate, hasChildren bool) error {
	if !child.IsSubAffiliate() {
		return nil
	}
	if *child.ParentAffiliateID == child.AffiliateID {
		return fmt.Errorf("%w: affiliate cannot be its own parent", ErrInvalidInput)
	}
	if parent == nil {
		return fmt.Errorf("%w: parent affiliate not found", ErrInvalidInput)
	}
	if parent.IsSubAffiliate() {
		return fmt.Errorf("%w: sub-affiliates cannot have sub-affiliates", ErrInvalidInput)
	}
	if hasChildren {
		return fmt.Errorf("%w: an affiliate with sub-affiliates cannot become a sub-affiliate", ErrInvalidInput)
	}
	return nil
}
