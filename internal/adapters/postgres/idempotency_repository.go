package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type idempotencyRepository struct {
	db *gorm.DB
}

func (r *idempotencyRepository) Get(ctx context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	var rec idempotencyModel
	if err := r.db.WithContext(ctx).Where("idempotency_key = ? AND expires_at > ?", key, now).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := &ports.IdempotencyRecord{
		Key: rec.IdempotencyKey, RequestHash: rec.RequestHash,
		ResponseCode: rec.ResponseCode, ExpiresAt: rec.ExpiresAt,
	}
	if rec.ResponseBody != nil {
		out.ResponseBody = []byte(*rec.ResponseBody)
	}
	return out, nil
}

// Reserve claims key for requestHash. An unexpired reservation for a different
// request is a conflict; an expired one is taken over.
func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing idempotencyModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("idempotency_key = ?", key).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec := idempotencyModel{
				IdempotencyKey: key,
				RequestHash:    requestHash,
				Status:         "reserved",
				ExpiresAt:      expiresAt,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(&rec).Error; err != nil {
				if isUniqueViolation(err) {
					return domain.ErrIdempotencyConflict
				}
				return err
			}
			return nil
		case err != nil:
			return err
		}
		if existing.RequestHash != requestHash && existing.ExpiresAt.After(now) {
			return domain.ErrIdempotencyConflict
		}
		return tx.Model(&idempotencyModel{}).Where("idempotency_key = ?", key).Updates(map[string]any{
			"request_hash":  requestHash,
			"status":        "reserved",
			"response_code": 0,
			"response_body": nil,
			"expires_at":    expiresAt,
			"updated_at":    now,
		}).Error
	})
}

func (r *idempotencyRepository) Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	payload := string(responseBody)
	return r.db.WithContext(ctx).Model(&idempotencyModel{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]any{
			"status":        "completed",
			"response_code": responseCode,
			"response_body": payload,
			"updated_at":    at,
		}).Error
}
