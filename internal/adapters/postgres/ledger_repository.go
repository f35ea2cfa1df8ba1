package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var openLedgerStatuses = []string{string(domain.LedgerStatusPending), string(domain.LedgerStatusAvailable)}

type ledgerRepository struct {
	db *gorm.DB
}

func (r *ledgerRepository) Accrue(ctx context.Context, row domain.LedgerEntry) (domain.LedgerEntry, bool, error) {
	rec := ledgerEntryModel{
		EntryID:     row.EntryID,
		AffiliateID: row.AffiliateID,
		AmountCents: row.AmountCents,
		Status:      string(row.Status),
		AvailableAt: row.AvailableAt,
		SourceRef:   row.SourceRef,
		CreatedAt:   row.CreatedAt,
	}
	if row.AttributionID != "" {
		attributionID := row.AttributionID
		rec.AttributionID = &attributionID
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "affiliate_id"}, {Name: "source_ref"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error != nil {
		return domain.LedgerEntry{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return row, true, nil
	}
	var existing ledgerEntryModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ? AND source_ref = ?", row.AffiliateID, row.SourceRef).Take(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LedgerEntry{}, false, domain.ErrNotFound
		}
		return domain.LedgerEntry{}, false, err
	}
	return toDomainLedgerEntry(existing), false, nil
}

// ListAvailable treats PENDING rows past their holdback as AVAILABLE.
func (r *ledgerRepository) ListAvailable(ctx context.Context, now time.Time) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntryModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND available_at <= ? AND amount_cents > 0", openLedgerStatuses, now).
		Order("affiliate_id ASC, created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainLedgerEntries(rows), nil
}

func (r *ledgerRepository) ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntryModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainLedgerEntries(rows), nil
}

func (r *ledgerRepository) VoidBySource(ctx context.Context, sourceRef string, at time.Time) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntryModel
	err := r.db.WithContext(ctx).Model(&rows).Clauses(clause.Returning{}).
		Where("source_ref = ? AND status IN ?", sourceRef, openLedgerStatuses).
		Updates(map[string]any{"status": string(domain.LedgerStatusVoid), "voided_at": at}).Error
	if err != nil {
		return nil, err
	}
	return toDomainLedgerEntries(rows), nil
}

func toDomainLedgerEntries(rows []ledgerEntryModel) []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainLedgerEntry(row))
	}
	return out
}
