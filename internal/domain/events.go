package domain

const (
	CanonicalEventClassDomain = "domain"
	CanonicalEventClassOps    = "ops"
)

const (
	EventAffiliateAttributionCreated = "affiliate.attribution.created"
	EventAffiliateCommissionAccrued  = "affiliate.commission.accrued"
	EventAffiliateCommissionVoided   = "affiliate.commission.voided"
	EventAffiliatePromoCodeChanged   = "affiliate.promo_code.changed"
	EventAffiliatePayoutSent         = "affiliate.payout.sent"
	EventAffiliatePayoutFailed       = "affiliate.payout.failed"
	EventAffiliatePayoutRunCompleted = "affiliate.payout_run.completed"
)

const (
	EventOrderCommissionEarned = "order.commission_earned"
	EventOrderRefunded         = "order.refunded"
	EventPromoCodeRedeemed     = "promo_code.redeemed"
)

func IsCanonicalInputEvent(eventType string) bool {
	switch eventType {
	case EventOrderCommissionEarned, EventOrderRefunded, EventPromoCodeRedeemed:
		return true
	default:
		return false
	}
}

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventAffiliateAttributionCreated, EventAffiliateCommissionAccrued, EventAffiliateCommissionVoided,
		EventAffiliatePromoCodeChanged, EventAffiliatePayoutSent, EventAffiliatePayoutFailed, EventAffiliatePayoutRunCompleted:
		return true
	default:
		return false
	}
}

func CanonicalEventClass(eventType string) string {
	switch eventType {
	case EventAffiliatePayoutRunCompleted:
		return CanonicalEventClassOps
	default:
		if IsCanonicalEmittedEvent(eventType) {
			return CanonicalEventClassDomain
		}
		return ""
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	switch eventType {
	case EventAffiliatePayoutRunCompleted:
		return "data.run_id"
	default:
		if IsCanonicalEmittedEvent(eventType) {
			return "data.affiliate_id"
		}
		return ""
	}
}
