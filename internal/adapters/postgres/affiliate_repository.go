package postgres

import (
	"context"
	"errors"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type affiliateRepository struct {
	db *gorm.DB
}

func (r *affiliateRepository) GetByID(ctx context.Context, affiliateID string) (domain.Affiliate, error) {
	return r.take(ctx, "affiliate_id = ?", affiliateID)
}

func (r *affiliateRepository) GetByReferralCode(ctx context.Context, code string) (domain.Affiliate, error) {
	return r.take(ctx, "referral_code = ?", code)
}

func (r *affiliateRepository) GetByUserID(ctx context.Context, userID string) (domain.Affiliate, error) {
	return r.take(ctx, "user_id = ?", userID)
}

func (r *affiliateRepository) take(ctx context.Context, query string, arg any) (domain.Affiliate, error) {
	var rec affiliateModel
	if err := r.db.WithContext(ctx).Where(query, arg).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Affiliate{}, domain.ErrNotFound
		}
		return domain.Affiliate{}, err
	}
	return toDomainAffiliate(rec), nil
}

func (r *affiliateRepository) ListByIDs(ctx context.Context, affiliateIDs []string) (map[string]domain.Affiliate, error) {
	out := make(map[string]domain.Affiliate, len(affiliateIDs))
	if len(affiliateIDs) == 0 {
		return out, nil
	}
	var rows []affiliateModel
	if err := r.db.WithContext(ctx).Where("affiliate_id IN ?", affiliateIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.AffiliateID] = toDomainAffiliate(row)
	}
	return out, nil
}

func (r *affiliateRepository) HasChildren(ctx context.Context, affiliateID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&affiliateModel{}).Where("parent_affiliate_id = ?", affiliateID).Count(&count).Error
	return count > 0, err
}

func (r *affiliateRepository) Upsert(ctx context.Context, row domain.Affiliate) error {
	rec := fromDomainAffiliate(row)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "affiliate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "status", "parent_affiliate_id", "referral_code",
			"payout_account_ref", "payout_account_ready", "updated_at",
		}),
	}).Create(&rec).Error
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}
