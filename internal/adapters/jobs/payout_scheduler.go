package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

// PayoutRunner is satisfied by *application.Service.
type PayoutRunner interface {
	RunPayoutBatch(ctx context.Context) (application.PayoutRunResult, error)
}

type PayoutScheduler struct {
	logger   *slog.Logger
	runner   PayoutRunner
	interval time.Duration
}

func NewPayoutScheduler(logger *slog.Logger, runner PayoutRunner, interval time.Duration) *PayoutScheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &PayoutScheduler{logger: logger, runner: runner, interval: interval}
}

// Run fires one batch per interval. The first batch waits a full interval so
// that restarts do not trigger extra runs.
func (s *PayoutScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *PayoutScheduler) runOnce(ctx context.Context) {
	result, err := s.runner.RunPayoutBatch(ctx)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		s.logger.InfoContext(ctx, "payout run already in progress",
			"module", "jobs.payout_scheduler",
			"layer", "worker",
			"operation", "run_payout_batch",
			"outcome", "skipped",
		)
	case err != nil:
		s.logger.ErrorContext(ctx, "scheduled payout run failed",
			"module", "jobs.payout_scheduler",
			"layer", "worker",
			"operation", "run_payout_batch",
			"outcome", "failure",
			"error", err,
		)
	default:
		s.logger.InfoContext(ctx, "scheduled payout run finished",
			"module", "jobs.payout_scheduler",
			"layer", "worker",
			"operation", "run_payout_batch",
			"outcome", "success",
			"run_id", result.RunID,
			"processed", result.Processed,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
}
