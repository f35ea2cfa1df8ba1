package postgres

import (
	"encoding/json"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

func toDomainAffiliate(m affiliateModel) domain.Affiliate {
	return domain.Affiliate{
		AffiliateID: m.AffiliateID, UserID: m.UserID, Status: domain.AffiliateStatus(m.Status),
		ParentAffiliateID: m.ParentAffiliateID, ReferralCode: m.ReferralCode,
		PayoutAccountRef: m.PayoutAccountRef, PayoutAccountReady: m.PayoutAccountReady,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func fromDomainAffiliate(a domain.Affiliate) affiliateModel {
	return affiliateModel{
		AffiliateID: a.AffiliateID, UserID: a.UserID, Status: string(a.Status),
		ParentAffiliateID: a.ParentAffiliateID, ReferralCode: a.ReferralCode,
		PayoutAccountRef: a.PayoutAccountRef, PayoutAccountReady: a.PayoutAccountReady,
		CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func toDomainAttribution(m attributionModel) domain.Attribution {
	return domain.Attribution{
		AttributionID: m.AttributionID, UserID: m.UserID, AffiliateID: m.AffiliateID,
		Type: domain.AttributionType(m.Type), Source: domain.AttributionSource(m.Source),
		CreatedAt: m.CreatedAt, EndsAt: m.EndsAt,
	}
}

func toDomainPromoCode(m promoCodeModel) domain.PromoCode {
	return domain.PromoCode{
		PromoCodeID: m.PromoCodeID, AffiliateID: m.AffiliateID, Code: m.Code,
		DiscountSharePct: m.DiscountSharePct, StartsAt: m.StartsAt, EndsAt: m.EndsAt,
		MaxRedemptions: m.MaxRedemptions, RedemptionCount: m.RedemptionCount,
		Status: domain.PromoCodeStatus(m.Status), CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func toDomainLedgerEntry(m ledgerEntryModel) domain.LedgerEntry {
	out := domain.LedgerEntry{
		EntryID: m.EntryID, AffiliateID: m.AffiliateID, AmountCents: m.AmountCents,
		Status: domain.LedgerStatus(m.Status), AvailableAt: m.AvailableAt, SourceRef: m.SourceRef,
		CreatedAt: m.CreatedAt, PaidAt: m.PaidAt, VoidedAt: m.VoidedAt,
	}
	if m.AttributionID != nil {
		out.AttributionID = *m.AttributionID
	}
	if m.PayoutID != nil {
		out.PayoutID = *m.PayoutID
	}
	return out
}

func toDomainPayout(m payoutModel) domain.AffiliatePayout {
	out := domain.AffiliatePayout{
		PayoutID: m.PayoutID, AffiliateID: m.AffiliateID, AmountCents: m.AmountCents,
		Currency: m.Currency, Status: domain.PayoutStatus(m.Status), TransferRef: m.TransferRef,
		IdempotencyKey: m.IdempotencyKey, PeriodStart: m.PeriodStart, PeriodEnd: m.PeriodEnd,
		EntryCount: m.EntryCount, CreatedAt: m.CreatedAt,
	}
	if m.EntryIDs != "" {
		_ = json.Unmarshal([]byte(m.EntryIDs), &out.EntryIDs)
	}
	return out
}

func fromDomainPayout(p domain.AffiliatePayout) payoutModel {
	ids := p.EntryIDs
	if ids == nil {
		ids = []string{}
	}
	raw, _ := json.Marshal(ids)
	return payoutModel{
		PayoutID: p.PayoutID, AffiliateID: p.AffiliateID, AmountCents: p.AmountCents,
		Currency: p.Currency, Status: string(p.Status), TransferRef: p.TransferRef,
		IdempotencyKey: p.IdempotencyKey, PeriodStart: p.PeriodStart, PeriodEnd: p.PeriodEnd,
		EntryCount: p.EntryCount, EntryIDs: string(raw), CreatedAt: p.CreatedAt,
	}
}
