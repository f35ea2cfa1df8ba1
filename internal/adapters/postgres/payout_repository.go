package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type payoutRepository struct {
	db *gorm.DB
}

func (r *payoutRepository) LastSent(ctx context.Context, affiliateID string) (*domain.AffiliatePayout, error) {
	var rec payoutModel
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status = ?", affiliateID, string(domain.PayoutStatusSent)).
		Order("period_end DESC").
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := toDomainPayout(rec)
	return &out, nil
}

// ReservePending locks the snapshotted rows so a concurrent void or commit
// cannot slip between the sum check and the insert.
func (r *payoutRepository) ReservePending(ctx context.Context, payout domain.AffiliatePayout) error {
	if len(payout.EntryIDs) == 0 {
		return fmt.Errorf("%w: payout without entries", domain.ErrInvalidInput)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open []ledgerEntryModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("entry_id", "amount_cents").
			Where("entry_id IN ? AND affiliate_id = ? AND status IN ?", payout.EntryIDs, payout.AffiliateID, openLedgerStatuses).
			Find(&open).Error
		if err != nil {
			return err
		}
		var sum int64
		for _, row := range open {
			sum += row.AmountCents
		}
		if len(open) != len(payout.EntryIDs) || sum != payout.AmountCents {
			return fmt.Errorf("%w: %d of %d entries open for %d cents, reserving %d", domain.ErrSettlementMismatch, len(open), len(payout.EntryIDs), sum, payout.AmountCents)
		}
		payout.Status = domain.PayoutStatusPending
		payout.EntryCount = len(payout.EntryIDs)
		rec := fromDomainPayout(payout)
		if err := tx.Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: affiliate %s already has a pending or recorded payout for %s", domain.ErrConflict, payout.AffiliateID, payout.IdempotencyKey)
			}
			return err
		}
		return nil
	})
}

func (r *payoutRepository) ListPending(ctx context.Context) ([]domain.AffiliatePayout, error) {
	var rows []payoutModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.PayoutStatusPending)).
		Order("affiliate_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.AffiliatePayout, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainPayout(row))
	}
	return out, nil
}

func (r *payoutRepository) FailPending(ctx context.Context, payoutID string, _ time.Time) (domain.AffiliatePayout, error) {
	var rows []payoutModel
	res := r.db.WithContext(ctx).Model(&rows).Clauses(clause.Returning{}).
		Where("payout_id = ? AND status = ?", payoutID, string(domain.PayoutStatusPending)).
		Update("status", string(domain.PayoutStatusFailed))
	if res.Error != nil {
		return domain.AffiliatePayout{}, res.Error
	}
	if len(rows) == 0 {
		return domain.AffiliatePayout{}, domain.ErrNotFound
	}
	return toDomainPayout(rows[0]), nil
}

// CommitSettlement flips only the snapshotted ids that are still open. Entries
// voided or paid since the snapshot make the sums diverge and abort the commit.
func (r *payoutRepository) CommitSettlement(ctx context.Context, payout domain.AffiliatePayout, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return fmt.Errorf("%w: settlement without entries", domain.ErrInvalidInput)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payout.Status = domain.PayoutStatusSent
		payout.EntryIDs = entryIDs
		rec := fromDomainPayout(payout)
		promoted := tx.Model(&payoutModel{}).
			Where("payout_id = ? AND status = ?", payout.PayoutID, string(domain.PayoutStatusPending)).
			Updates(map[string]any{"status": rec.Status, "transfer_ref": rec.TransferRef})
		if promoted.Error != nil {
			return promoted.Error
		}
		if promoted.RowsAffected == 0 {
			if err := tx.Create(&rec).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: payout %s already recorded", domain.ErrConflict, payout.IdempotencyKey)
				}
				return err
			}
		}
		var flipped []ledgerEntryModel
		err := tx.Model(&flipped).Clauses(clause.Returning{Columns: []clause.Column{{Name: "entry_id"}, {Name: "amount_cents"}}}).
			Where("entry_id IN ? AND affiliate_id = ? AND status IN ?", entryIDs, payout.AffiliateID, openLedgerStatuses).
			Updates(map[string]any{
				"status":    string(domain.LedgerStatusPaid),
				"payout_id": payout.PayoutID,
				"paid_at":   payout.CreatedAt,
			}).Error
		if err != nil {
			return err
		}
		var sum int64
		for _, row := range flipped {
			sum += row.AmountCents
		}
		if sum != payout.AmountCents {
			return fmt.Errorf("%w: flipped %d cents across %d entries, transferred %d", domain.ErrSettlementMismatch, sum, len(flipped), payout.AmountCents)
		}
		if len(flipped) != rec.EntryCount {
			return tx.Model(&payoutModel{}).Where("payout_id = ?", payout.PayoutID).Update("entry_count", len(flipped)).Error
		}
		return nil
	})
}

func (r *payoutRepository) List(ctx context.Context, q ports.PayoutQuery) ([]domain.AffiliatePayout, error) {
	query := r.db.WithContext(ctx).Model(&payoutModel{})
	if q.AffiliateID != "" {
		query = query.Where("affiliate_id = ?", q.AffiliateID)
	}
	var rows []payoutModel
	if err := query.Order("created_at DESC").Limit(q.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AffiliatePayout, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainPayout(row))
	}
	return out, nil
}
