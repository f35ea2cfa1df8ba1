package postgres

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
	"gorm.io/gorm"
)

type outboxRepository struct {
	db *gorm.DB
}

func (r *outboxRepository) Enqueue(ctx context.Context, record ports.OutboxRecord) error {
	rec := outboxModel{
		OutboxID:     record.RecordID,
		EventType:    record.EventType,
		EventClass:   record.EventClass,
		PartitionKey: record.PartitionKey,
		Payload:      string(record.Payload),
		CreatedAt:    record.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *outboxRepository) ListPending(ctx context.Context, limit int) ([]ports.OutboxRecord, error) {
	var rows []outboxModel
	if err := r.db.WithContext(ctx).Where("published_at IS NULL").Order("created_at asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ports.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		rec := ports.OutboxRecord{
			RecordID: row.OutboxID, EventType: row.EventType, EventClass: row.EventClass,
			PartitionKey: row.PartitionKey, Payload: []byte(row.Payload), RetryCount: row.RetryCount,
			CreatedAt: row.CreatedAt, SentAt: row.PublishedAt,
		}
		if row.LastError != nil {
			rec.LastError = *row.LastError
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, recordID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&outboxModel{}).Where("outbox_id = ?", recordID).Update("published_at", at).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, recordID, errMsg string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&outboxModel{}).Where("outbox_id = ?", recordID).Updates(map[string]any{
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_error":    errMsg,
		"last_error_at": at,
	}).Error
}
