package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	TopLevelMaxDiscountPct     = 80
	SubAffiliateMaxDiscountPct = 75
)

type AffiliateTier string

const (
	TierTopLevel     AffiliateTier = "top_level"
	TierSubAffiliate AffiliateTier = "sub_affiliate"
)

func TierOf(a Affiliate) AffiliateTier {
	if a.IsSubAffiliate() {
		return TierSubAffiliate
	}
	return TierTopLevel
}

// MaxDiscountPct is the largest share of commission the affiliate may hand
// to buyers as a discount.
func MaxDiscountPct(a Affiliate) int {
	if TierOf(a) == TierSubAffiliate {
		return SubAffiliateMaxDiscountPct
	}
	return TopLevelMaxDiscountPct
}

// DiscountRejection is returned when a requested discount share is not allowed.
type DiscountRejection struct {
	Tier            AffiliateTier `json:"tier"`
	RequestedPct    string        `json:"requested_pct"`
	MaxPct          int           `json:"max_pct"`
	MinRetentionPct int           `json:"min_retention_pct"`
	Reason          string        `json:"reason"`
}

func (e *DiscountRejection) Error() string { return e.Reason }

func (e *DiscountRejection) Unwrap() error { return ErrInvalidInput }

var (
	hundred = decimal.NewFromInt(100)
)

// ValidateDiscount checks requested against the affiliate's tier cap and
// returns the accepted integer percentage, rounded half up.
func ValidateDiscount(a Affiliate, requested decimal.Decimal) (int, error) {
	maxPct := MaxDiscountPct(a)
	tier := TierOf(a)
	if requested.IsNegative() || requested.GreaterThan(hundred) {
		return 0, &DiscountRejection{
			Tier:            tier,
			RequestedPct:    requested.String(),
			MaxPct:          maxPct,
			MinRetentionPct: 100 - maxPct,
			Reason:          "discount share must be between 0 and 100 percent",
		}
	}
	if requested.GreaterThan(decimal.NewFromInt(int64(maxPct))) {
		who := "affiliates"
		if tier == TierSubAffiliate {
			who = "sub-affiliates"
		}
		return 0, &DiscountRejection{
			Tier:            tier,
			RequestedPct:    requested.String(),
			MaxPct:          maxPct,
			MinRetentionPct: 100 - maxPct,
			Reason:          fmt.Sprintf("%s may share at most %d%% of commission as discount (must retain at least %d%%)", who, maxPct, 100-maxPct),
		}
	}
	// decimal.Round rounds half away from zero, which is half up for non-negative values.
	return int(requested.Round(0).IntPart()), nil
}
