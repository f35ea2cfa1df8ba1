package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

// ValidateDiscount checks a requested discount share against the affiliate's tier.
func (s *Service) ValidateDiscount(ctx context.Context, affiliateID string, requestedPct decimal.Decimal) (int, error) {
	aff, err := s.affiliates.GetByID(ctx, strings.TrimSpace(affiliateID))
	if err != nil {
		return 0, err
	}
	return domain.ValidateDiscount(aff, requestedPct)
}

func (s *Service) CreatePromoCode(ctx context.Context, actor Actor, in CreatePromoCodeInput) (domain.PromoCode, error) {
	aff, err := s.affiliates.GetByID(ctx, strings.TrimSpace(in.AffiliateID))
	if err != nil {
		return domain.PromoCode{}, err
	}
	if err := s.requireOwnerOrAdmin(actor, aff); err != nil {
		return domain.PromoCode{}, err
	}
	pct, err := domain.ValidateDiscount(aff, in.DiscountSharePct)
	if err != nil {
		return domain.PromoCode{}, err
	}
	now := s.nowFn()
	row := domain.PromoCode{
		PromoCodeID:      "promo_" + uuid.NewString(),
		AffiliateID:      aff.AffiliateID,
		Code:             domain.NormalizePromoCode(in.Code),
		DiscountSharePct: pct,
		StartsAt:         now,
		EndsAt:           in.EndsAt,
		MaxRedemptions:   in.MaxRedemptions,
		Status:           domain.PromoCodeStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.StartsAt != nil {
		row.StartsAt = in.StartsAt.UTC()
	}
	if err := domain.ValidatePromoCode(row); err != nil {
		return domain.PromoCode{}, err
	}
	if err := s.promoCodes.Create(ctx, row); err != nil {
		return domain.PromoCode{}, err
	}
	_ = s.enqueuePromoCodeChanged(ctx, row, "created", actor.RequestID, now)
	return row, nil
}

// UpdatePromoCode re-checks the tier cap on every write, so a stale share
// cannot survive an edit after the affiliate moved under a parent.
func (s *Service) UpdatePromoCode(ctx context.Context, actor Actor, promoCodeID string, in UpdatePromoCodeInput) (domain.PromoCode, error) {
	row, err := s.promoCodes.GetByID(ctx, strings.TrimSpace(promoCodeID))
	if err != nil {
		return domain.PromoCode{}, err
	}
	aff, err := s.affiliates.GetByID(ctx, row.AffiliateID)
	if err != nil {
		return domain.PromoCode{}, err
	}
	if err := s.requireOwnerOrAdmin(actor, aff); err != nil {
		return domain.PromoCode{}, err
	}
	requested := decimal.NewFromInt(int64(row.DiscountSharePct))
	if in.DiscountSharePct != nil {
		requested = *in.DiscountSharePct
	}
	pct, err := domain.ValidateDiscount(aff, requested)
	if err != nil {
		return domain.PromoCode{}, err
	}
	row.DiscountSharePct = pct
	if in.EndsAt != nil {
		endsAt := in.EndsAt.UTC()
		row.EndsAt = &endsAt
	}
	if in.MaxRedemptions != nil {
		row.MaxRedemptions = in.MaxRedemptions
	}
	if in.Status != nil {
		switch st := domain.PromoCodeStatus(strings.ToUpper(strings.TrimSpace(*in.Status))); st {
		case domain.PromoCodeStatusActive, domain.PromoCodeStatusDisabled:
			row.Status = st
		default:
			return domain.PromoCode{}, fmt.Errorf("%w: status must be ACTIVE or DISABLED", domain.ErrInvalidInput)
		}
	}
	if err := domain.ValidatePromoCode(row); err != nil {
		return domain.PromoCode{}, err
	}
	now := s.nowFn()
	row.UpdatedAt = now
	if err := s.promoCodes.Update(ctx, row); err != nil {
		return domain.PromoCode{}, err
	}
	_ = s.enqueuePromoCodeChanged(ctx, row, "updated", actor.RequestID, now)
	return row, nil
}

// DeletePromoCode hard-deletes unredeemed codes and disables the rest.
func (s *Service) DeletePromoCode(ctx context.Context, actor Actor, promoCodeID string) (DeletePromoCodeResult, error) {
	row, err := s.promoCodes.GetByID(ctx, strings.TrimSpace(promoCodeID))
	if err != nil {
		return DeletePromoCodeResult{}, err
	}
	aff, err := s.affiliates.GetByID(ctx, row.AffiliateID)
	if err != nil {
		return DeletePromoCodeResult{}, err
	}
	if err := s.requireOwnerOrAdmin(actor, aff); err != nil {
		return DeletePromoCodeResult{}, err
	}
	now := s.nowFn()
	if row.DeleteAction() == domain.PromoDeleteActionDeleted {
		deleted, err := s.promoCodes.DeleteUnredeemed(ctx, row.PromoCodeID)
		if err != nil {
			return DeletePromoCodeResult{}, err
		}
		if deleted {
			_ = s.enqueuePromoCodeChanged(ctx, row, string(domain.PromoDeleteActionDeleted), actor.RequestID, now)
			return DeletePromoCodeResult{PromoCodeID: row.PromoCodeID, Action: domain.PromoDeleteActionDeleted}, nil
		}
		// redeemed between read and delete
	}
	disabled, err := s.promoCodes.Disable(ctx, row.PromoCodeID, now)
	if err != nil {
		return DeletePromoCodeResult{}, err
	}
	_ = s.enqueuePromoCodeChanged(ctx, disabled, string(domain.PromoDeleteActionDisabled), actor.RequestID, now)
	return DeletePromoCodeResult{PromoCodeID: row.PromoCodeID, Action: domain.PromoDeleteActionDisabled}, nil
}

func (s *Service) ListPromoCodes(ctx context.Context, actor Actor, affiliateID string) ([]domain.PromoCode, error) {
	aff, err := s.affiliates.GetByID(ctx, strings.TrimSpace(affiliateID))
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrAdmin(actor, aff); err != nil {
		return nil, err
	}
	return s.promoCodes.ListByAffiliateID(ctx, aff.AffiliateID)
}

// ApplyPromoCode is the read-only checkout check.
func (s *Service) ApplyPromoCode(ctx context.Context, code string) (domain.PromoCode, error) {
	code = domain.NormalizePromoCode(code)
	if code == "" {
		return domain.PromoCode{}, domain.ErrInvalidInput
	}
	row, err := s.promoCodes.GetByCode(ctx, code)
	if err != nil {
		return domain.PromoCode{}, err
	}
	if err := row.Redeemable(s.nowFn()); err != nil {
		return domain.PromoCode{}, err
	}
	aff, err := s.affiliates.GetByID(ctx, row.AffiliateID)
	if err != nil {
		return domain.PromoCode{}, err
	}
	if !aff.IsActive() {
		return domain.PromoCode{}, fmt.Errorf("%w: promo code owner is not active", domain.ErrInvalidInput)
	}
	return row, nil
}

// RecordRedemption counts a checkout that used code. redemptionID identifies
// the checkout event; replaying it does not count twice.
func (s *Service) RecordRedemption(ctx context.Context, code, redemptionID string) (domain.PromoCode, error) {
	code = domain.NormalizePromoCode(code)
	redemptionID = strings.TrimSpace(redemptionID)
	if code == "" || redemptionID == "" {
		return domain.PromoCode{}, domain.ErrInvalidInput
	}
	row, counted, err := s.promoCodes.IncrementRedemptions(ctx, code, redemptionID, s.nowFn())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "redemption for unknown promo code",
				"module", "application.promo",
				"layer", "application",
				"operation", "record_redemption",
				"outcome", "not_found",
				"code", code,
			)
		}
		return domain.PromoCode{}, err
	}
	if !counted {
		s.logger.InfoContext(ctx, "redemption already counted",
			"module", "application.promo",
			"layer", "application",
			"operation", "record_redemption",
			"outcome", "duplicate",
			"code", code,
			"redemption_id", redemptionID,
		)
	}
	return row, nil
}

func (s *Service) enqueuePromoCodeChanged(ctx context.Context, row domain.PromoCode, action, traceID string, now time.Time) error {
	return s.enqueueEvent(ctx, domain.EventAffiliatePromoCodeChanged, traceID, contracts.PromoCodeChangedPayload{
		PromoCodeID:      row.PromoCodeID,
		AffiliateID:      row.AffiliateID,
		Code:             row.Code,
		Action:           action,
		DiscountSharePct: row.DiscountSharePct,
		Status:           string(row.Status),
	}, row.AffiliateID, now)
}
