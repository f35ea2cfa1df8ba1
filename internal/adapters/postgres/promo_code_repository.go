package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type promoCodeRepository struct {
	db *gorm.DB
}

func (r *promoCodeRepository) Create(ctx context.Context, row domain.PromoCode) error {
	rec := promoCodeModel{
		PromoCodeID:      row.PromoCodeID,
		AffiliateID:      row.AffiliateID,
		Code:             row.Code,
		DiscountSharePct: row.DiscountSharePct,
		StartsAt:         row.StartsAt,
		EndsAt:           row.EndsAt,
		MaxRedemptions:   row.MaxRedemptions,
		RedemptionCount:  row.RedemptionCount,
		Status:           string(row.Status),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *promoCodeRepository) GetByID(ctx context.Context, promoCodeID string) (domain.PromoCode, error) {
	return r.take(ctx, "promo_code_id = ?", promoCodeID)
}

func (r *promoCodeRepository) GetByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	return r.take(ctx, "code = ?", code)
}

func (r *promoCodeRepository) take(ctx context.Context, query string, arg any) (domain.PromoCode, error) {
	var rec promoCodeModel
	if err := r.db.WithContext(ctx).Where(query, arg).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PromoCode{}, domain.ErrNotFound
		}
		return domain.PromoCode{}, err
	}
	return toDomainPromoCode(rec), nil
}

func (r *promoCodeRepository) ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.PromoCode, error) {
	var rows []promoCodeModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PromoCode, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainPromoCode(row))
	}
	return out, nil
}

// Update never touches redemption_count; that column belongs to IncrementRedemptions.
func (r *promoCodeRepository) Update(ctx context.Context, row domain.PromoCode) error {
	res := r.db.WithContext(ctx).Model(&promoCodeModel{}).Where("promo_code_id = ?", row.PromoCodeID).Updates(map[string]any{
		"discount_share_pct": row.DiscountSharePct,
		"ends_at":            row.EndsAt,
		"max_redemptions":    row.MaxRedemptions,
		"status":             string(row.Status),
		"updated_at":         row.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *promoCodeRepository) DeleteUnredeemed(ctx context.Context, promoCodeID string) (bool, error) {
	res := r.db.WithContext(ctx).Where("promo_code_id = ? AND redemption_count = 0", promoCodeID).Delete(&promoCodeModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *promoCodeRepository) Disable(ctx context.Context, promoCodeID string, at time.Time) (domain.PromoCode, error) {
	var rows []promoCodeModel
	res := r.db.WithContext(ctx).Model(&rows).Clauses(clause.Returning{}).
		Where("promo_code_id = ?", promoCodeID).
		Updates(map[string]any{"status": string(domain.PromoCodeStatusDisabled), "updated_at": at})
	if res.Error != nil {
		return domain.PromoCode{}, res.Error
	}
	if len(rows) == 0 {
		return domain.PromoCode{}, domain.ErrNotFound
	}
	return toDomainPromoCode(rows[0]), nil
}

// IncrementRedemptions records eventID and bumps the counter in one
// transaction, so a redelivered event is counted once.
func (r *promoCodeRepository) IncrementRedemptions(ctx context.Context, code, eventID string, at time.Time) (domain.PromoCode, bool, error) {
	var out domain.PromoCode
	counted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current promoCodeModel
		if err := tx.Where("code = ?", code).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&promoRedemptionModel{EventID: eventID, Code: code, RedeemedAt: at})
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			out = toDomainPromoCode(current)
			return nil
		}
		var rows []promoCodeModel
		res := tx.Model(&rows).Clauses(clause.Returning{}).
			Where("promo_code_id = ?", current.PromoCodeID).
			Updates(map[string]any{"redemption_count": gorm.Expr("redemption_count + 1"), "updated_at": at})
		if res.Error != nil {
			return res.Error
		}
		if len(rows) == 0 {
			return domain.ErrNotFound
		}
		out, counted = toDomainPromoCode(rows[0]), true
		return nil
	})
	if err != nil {
		return domain.PromoCode{}, false, err
	}
	return out, counted, nil
}
