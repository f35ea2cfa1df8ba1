package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
	"gorm.io/gorm"
)

// AdvisoryRunLock holds a session-level pg_try_advisory_lock on a dedicated
// pooled connection. The lock dies with the session, so the ttl is unused.
type AdvisoryRunLock struct {
	db *gorm.DB
}

func NewAdvisoryRunLock(db *gorm.DB) *AdvisoryRunLock {
	return &AdvisoryRunLock{db: db}
}

func (l *AdvisoryRunLock) Acquire(ctx context.Context, name string, _ time.Duration) (func(context.Context) error, error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, domain.ErrRunInProgress
	}
	return func(ctx context.Context) error {
		defer conn.Close()
		_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", name)
		return err
	}, nil
}

var _ ports.RunLock = (*AdvisoryRunLock)(nil)
