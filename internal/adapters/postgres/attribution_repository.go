package postgres

import (
	"context"
	"errors"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type attributionRepository struct {
	db *gorm.DB
}

// CreateExclusive serializes writers of one (user, affiliate, type) triple with
// a transaction-scoped advisory lock, so two concurrent signups cannot both
// observe "no active attribution".
func (r *attributionRepository) CreateExclusive(ctx context.Context, row domain.Attribution, guard func(domain.Affiliate) error) (domain.Attribution, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var aff affiliateModel
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Where("affiliate_id = ?", row.AffiliateID).Take(&aff).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if guard != nil {
			if err := guard(toDomainAffiliate(aff)); err != nil {
				return err
			}
		}
		lockKey := row.UserID + "|" + row.AffiliateID + "|" + string(row.Type)
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockKey).Error; err != nil {
			return err
		}
		var existing attributionModel
		err := tx.Where("user_id = ? AND affiliate_id = ? AND type = ? AND ends_at > ?", row.UserID, row.AffiliateID, string(row.Type), row.CreatedAt).
			Order("ends_at DESC").
			Take(&existing).Error
		switch {
		case err == nil:
			return &domain.AttributionConflict{Existing: toDomainAttribution(existing)}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		rec := attributionModel{
			AttributionID: row.AttributionID,
			UserID:        row.UserID,
			AffiliateID:   row.AffiliateID,
			Type:          string(row.Type),
			Source:        string(row.Source),
			CreatedAt:     row.CreatedAt,
			EndsAt:        row.EndsAt,
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return domain.Attribution{}, err
	}
	return row, nil
}

func (r *attributionRepository) List(ctx context.Context, q ports.AttributionQuery) ([]domain.Attribution, error) {
	query := r.db.WithContext(ctx).Model(&attributionModel{})
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if q.AffiliateID != "" {
		query = query.Where("affiliate_id = ?", q.AffiliateID)
	}
	var rows []attributionModel
	if err := query.Order("created_at DESC").Limit(q.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Attribution, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainAttribution(row))
	}
	return out, nil
}
