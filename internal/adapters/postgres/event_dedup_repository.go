package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// eventDedupRepository remembers consumed order and checkout event ids until
// their window lapses. An expired row counts as unseen and is overwritten on
// the next mark.
type eventDedupRepository struct {
	db *gorm.DB
}

func (r *eventDedupRepository) IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error) {
	var rec eventDedupModel
	err := r.db.WithContext(ctx).Select("event_id", "expires_at").
		Where("event_id = ?", eventID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.ExpiresAt.After(now), nil
}

func (r *eventDedupRepository) MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error {
	rec := eventDedupModel{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"event_type", "processed_at", "expires_at"}),
	}).Create(&rec).Error
}

var _ ports.EventDedupRepository = (*eventDedupRepository)(nil)
