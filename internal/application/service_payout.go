package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

const payoutRunLockName = "affiliate-settlement:payout-run"

// TriggerPayoutRun is the HTTP entry point shared by admins and the scheduler.
func (s *Service) TriggerPayoutRun(ctx context.Context, actor Actor) (PayoutRunResult, error) {
	if !s.canTriggerPayouts(actor) {
		if strings.TrimSpace(actor.SubjectID) == "" && strings.TrimSpace(actor.SchedulerSecret) == "" {
			return PayoutRunResult{}, domain.ErrUnauthorized
		}
		return PayoutRunResult{}, domain.ErrForbidden
	}
	return s.RunPayoutBatch(ctx)
}

// RunPayoutBatch settles every eligible affiliate's payable entries. Runs are
// single-flight; a second concurrent call returns domain.ErrRunInProgress.
func (s *Service) RunPayoutBatch(ctx context.Context) (PayoutRunResult, error) {
	if s.transfers == nil {
		s.logger.ErrorContext(ctx, "payout run aborted",
			"module", "application.payout",
			"layer", "application",
			"operation", "run_payout_batch",
			"outcome", "failure",
			"error", domain.ErrTransferUnavailable,
		)
		return PayoutRunResult{}, domain.ErrTransferUnavailable
	}
	release, err := s.runLock.Acquire(ctx, payoutRunLockName, s.cfg.RunLockTTL)
	if err != nil {
		return PayoutRunResult{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "payout run lock release failed", "error", err)
		}
	}()

	started := s.nowFn()
	result := PayoutRunResult{RunID: "run_" + uuid.NewString(), StartedAt: started}

	unresolved, err := s.retryPendingPayouts(ctx, &result)
	if err != nil {
		return result, err
	}
	if !result.Cancelled {
		if err := s.settleSnapshot(ctx, &result, unresolved, started); err != nil {
			return result, err
		}
	}

	outcome := "success"
	switch {
	case result.Cancelled:
		outcome = "cancelled"
	case result.Failed > 0:
		outcome = "partial"
	}
	s.metrics.ObserveRun(ports.PayoutRunStats{
		Processed: result.Processed,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
		PaidCents: result.PaidCents,
		Duration:  s.nowFn().Sub(started),
		Outcome:   outcome,
	})
	s.logger.InfoContext(ctx, "payout run completed",
		"module", "application.payout",
		"layer", "application",
		"operation", "run_payout_batch",
		"outcome", outcome,
		"run_id", result.RunID,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"paid_cents", result.PaidCents,
	)
	_ = s.enqueueEvent(context.WithoutCancel(ctx), domain.EventAffiliatePayoutRunCompleted, "", contracts.PayoutRunCompletedPayload{
		RunID:     result.RunID,
		Processed: result.Processed,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
		PaidCents: result.PaidCents,
		StartedAt: started.Format(time.RFC3339),
	}, result.RunID, s.nowFn())
	return result, nil
}

// retryPendingPayouts finishes snapshots reserved by earlier runs under their
// original idempotency key. It returns the affiliates still blocked by one.
func (s *Service) retryPendingPayouts(ctx context.Context, result *PayoutRunResult) (map[string]bool, error) {
	pending, err := s.payouts.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	unresolved := make(map[string]bool, len(pending))
	if len(pending) == 0 {
		return unresolved, nil
	}
	affs, err := s.affiliates.ListByIDs(ctx, lo.Map(pending, func(p domain.AffiliatePayout, _ int) string { return p.AffiliateID }))
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		aff, ok := affs[p.AffiliateID]
		if !ok || aff.PayoutAccountRef == "" || !aff.PayoutAccountReady {
			unresolved[p.AffiliateID] = true
			s.recordFailure(result, p.AffiliateID, fmt.Errorf("pending payout %s: payout account unavailable", p.PayoutID))
			continue
		}
		payout, err := s.completePayout(ctx, p, aff)
		if err != nil {
			unresolved[p.AffiliateID] = true
			s.recordFailure(result, p.AffiliateID, err)
			continue
		}
		s.recordPaid(result, payout)
	}
	return unresolved, nil
}

// settleSnapshot pays every eligible affiliate from one snapshot of payable
// entries. Entries accrued after the snapshot wait for a later run.
func (s *Service) settleSnapshot(ctx context.Context, result *PayoutRunResult, unresolved map[string]bool, now time.Time) error {
	entries, err := s.ListAvailable(ctx, now)
	if err != nil {
		return err
	}
	groups := groupPayable(entries)
	affs, err := s.affiliates.ListByIDs(ctx, lo.Map(groups, func(g domain.PayoutGroup, _ int) string { return g.AffiliateID }))
	if err != nil {
		return err
	}
	for _, group := range groups {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		if unresolved[group.AffiliateID] {
			s.recordSkip(ctx, result, group, domain.SkipPayoutPending)
			continue
		}
		var aff *domain.Affiliate
		if row, ok := affs[group.AffiliateID]; ok {
			aff = &row
		}
		if reason := domain.Eligibility(group, aff, s.cfg.MinimumPayoutCents); reason != "" {
			s.recordSkip(ctx, result, group, reason)
			continue
		}
		payout, err := s.settleGroup(ctx, group, *aff, now)
		if err != nil {
			var skip skipError
			if errors.As(err, &skip) {
				s.recordSkip(ctx, result, group, skip.reason)
				continue
			}
			s.recordFailure(result, group.AffiliateID, err)
			continue
		}
		s.recordPaid(result, payout)
	}
	return nil
}

type skipError struct{ reason domain.SkipReason }

func (e skipError) Error() string { return string(e.reason) }

// settleGroup reserves the group as a pending payout, then pays it. The
// reservation pins the idempotency key, so a run that dies after the transfer
// is finished by the next run with the same key.
func (s *Service) settleGroup(ctx context.Context, group domain.PayoutGroup, aff domain.Affiliate, now time.Time) (domain.AffiliatePayout, error) {
	last, err := s.payouts.LastSent(ctx, group.AffiliateID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.AffiliatePayout{}, fmt.Errorf("load last payout: %w", err)
	}
	periodStart, periodEnd := domain.SettlementPeriod(last, now, s.cfg.PayoutLookback)
	if periodStart.After(periodEnd) {
		return domain.AffiliatePayout{}, skipError{reason: domain.SkipPeriodNotElapsed}
	}
	payout := domain.AffiliatePayout{
		PayoutID:       "pay_" + uuid.NewString(),
		AffiliateID:    group.AffiliateID,
		AmountCents:    group.TotalCents,
		Currency:       s.cfg.PayoutCurrency,
		Status:         domain.PayoutStatusPending,
		IdempotencyKey: domain.TransferIdempotencyKey(group.AffiliateID, periodStart, periodEnd),
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		EntryCount:     len(group.EntryIDs),
		EntryIDs:       group.EntryIDs,
		CreatedAt:      s.nowFn(),
	}
	if err := s.payouts.ReservePending(context.WithoutCancel(ctx), payout); err != nil {
		s.logPayoutDecision(ctx, group, "reserve_failed", err)
		return domain.AffiliatePayout{}, fmt.Errorf("reserve payout: %w", err)
	}
	return s.completePayout(ctx, payout, aff)
}

// completePayout transfers a reserved payout and commits it. Once the transfer
// starts it runs to completion even if ctx is cancelled; the commit gets its
// own deadline so a slow transfer cannot starve it.
func (s *Service) completePayout(ctx context.Context, payout domain.AffiliatePayout, aff domain.Affiliate) (domain.AffiliatePayout, error) {
	group := domain.PayoutGroup{AffiliateID: payout.AffiliateID, EntryIDs: payout.EntryIDs, TotalCents: payout.AmountCents}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TransferTimeout)
	transfer, err := s.transfers.CreateTransfer(tctx, ports.TransferRequest{
		AffiliateID:        payout.AffiliateID,
		DestinationAccount: aff.PayoutAccountRef,
		AmountCents:        payout.AmountCents,
		Currency:           payout.Currency,
		IdempotencyKey:     payout.IdempotencyKey,
		Metadata: map[string]string{
			"affiliate_id": payout.AffiliateID,
			"payout_id":    payout.PayoutID,
			"period_start": payout.PeriodStart.Format(time.RFC3339),
			"period_end":   payout.PeriodEnd.Format(time.RFC3339),
			"entry_count":  fmt.Sprintf("%d", len(payout.EntryIDs)),
		},
	})
	cancel()
	if err != nil {
		s.metrics.ObserveTransfer("failure", payout.AmountCents)
		s.logPayoutDecision(ctx, group, "transfer_failed", err, "payout_id", payout.PayoutID)
		s.enqueuePayoutFailed(ctx, group, payout.IdempotencyKey, "", err)
		return domain.AffiliatePayout{}, fmt.Errorf("transfer for payout %s failed: %w", payout.PayoutID, err)
	}
	s.metrics.ObserveTransfer("success", payout.AmountCents)

	payout.Status = domain.PayoutStatusSent
	payout.TransferRef = transfer.TransferID
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommitTimeout)
	defer cancel()
	if err := s.payouts.CommitSettlement(cctx, payout, payout.EntryIDs); err != nil {
		// The payout stays pending, so the next run retries it under the same key.
		s.logPayoutDecision(ctx, group, "commit_failed", err, "payout_id", payout.PayoutID, "transfer_ref", transfer.TransferID)
		s.enqueuePayoutFailed(ctx, group, payout.IdempotencyKey, transfer.TransferID, err)
		return domain.AffiliatePayout{}, fmt.Errorf("transfer %s sent but settlement commit failed: %w", transfer.TransferID, err)
	}
	s.logPayoutDecision(ctx, group, "paid", nil, "payout_id", payout.PayoutID, "transfer_ref", payout.TransferRef)
	_ = s.enqueueEvent(context.WithoutCancel(ctx), domain.EventAffiliatePayoutSent, "", contracts.PayoutSentPayload{
		PayoutID:    payout.PayoutID,
		AffiliateID: payout.AffiliateID,
		AmountCents: payout.AmountCents,
		Currency:    payout.Currency,
		TransferRef: payout.TransferRef,
		PeriodStart: payout.PeriodStart.Format(time.RFC3339),
		PeriodEnd:   payout.PeriodEnd.Format(time.RFC3339),
		EntryCount:  payout.EntryCount,
	}, payout.AffiliateID, s.nowFn())
	return payout, nil
}

// ReleasePendingPayout closes a pending payout that an operator confirmed never
// reached the transfer service. Its entries become payable again.
func (s *Service) ReleasePendingPayout(ctx context.Context, actor Actor, payoutID string) (domain.AffiliatePayout, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.AffiliatePayout{}, domain.ErrUnauthorized
	}
	if !isAdmin(actor) {
		return domain.AffiliatePayout{}, domain.ErrForbidden
	}
	payoutID = strings.TrimSpace(payoutID)
	if payoutID == "" {
		return domain.AffiliatePayout{}, fmt.Errorf("%w: payout_id is required", domain.ErrInvalidInput)
	}
	row, err := s.payouts.FailPending(ctx, payoutID, s.nowFn())
	if err != nil {
		return domain.AffiliatePayout{}, err
	}
	s.logger.WarnContext(ctx, "pending payout released",
		"module", "application.payout",
		"layer", "application",
		"operation", "release_pending_payout",
		"outcome", "released",
		"payout_id", row.PayoutID,
		"affiliate_id", row.AffiliateID,
		"actor", actor.SubjectID,
	)
	return row, nil
}

func (s *Service) ListPayouts(ctx context.Context, actor Actor, affiliateID string, limit int) ([]domain.AffiliatePayout, error) {
	affiliateID = strings.TrimSpace(affiliateID)
	if strings.TrimSpace(actor.SubjectID) == "" {
		return nil, domain.ErrUnauthorized
	}
	if !isAdmin(actor) {
		if affiliateID == "" {
			return nil, domain.ErrForbidden
		}
		aff, err := s.affiliates.GetByID(ctx, affiliateID)
		if err != nil {
			return nil, err
		}
		if err := s.requireOwnerOrAdmin(actor, aff); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	return s.payouts.List(ctx, ports.PayoutQuery{AffiliateID: affiliateID, Limit: limit})
}

// groupPayable buckets a snapshot per affiliate in a stable order.
func groupPayable(entries []domain.LedgerEntry) []domain.PayoutGroup {
	byAffiliate := lo.GroupBy(entries, func(e domain.LedgerEntry) string { return e.AffiliateID })
	ids := lo.Keys(byAffiliate)
	sort.Strings(ids)
	return lo.Map(ids, func(id string, _ int) domain.PayoutGroup {
		rows := byAffiliate[id]
		return domain.PayoutGroup{
			AffiliateID: id,
			EntryIDs:    lo.Map(rows, func(e domain.LedgerEntry, _ int) string { return e.EntryID }),
			TotalCents:  lo.SumBy(rows, func(e domain.LedgerEntry) int64 { return e.AmountCents }),
		}
	})
}

func (s *Service) recordPaid(result *PayoutRunResult, payout domain.AffiliatePayout) {
	result.Processed++
	result.PaidCents += payout.AmountCents
	result.Payouts = append(result.Payouts, payout)
}

func (s *Service) recordFailure(result *PayoutRunResult, affiliateID string, err error) {
	result.Failed++
	result.Errors = append(result.Errors, PayoutFailure{AffiliateID: affiliateID, Error: err.Error()})
}

func (s *Service) recordSkip(ctx context.Context, result *PayoutRunResult, group domain.PayoutGroup, reason domain.SkipReason) {
	result.Skipped++
	result.Skips = append(result.Skips, PayoutSkip{AffiliateID: group.AffiliateID, Reason: reason, TotalCents: group.TotalCents})
	s.metrics.ObserveSkip(string(reason))
	s.logPayoutDecision(ctx, group, "skipped", nil, "reason", string(reason))
}

func (s *Service) logPayoutDecision(ctx context.Context, group domain.PayoutGroup, outcome string, err error, extra ...any) {
	attrs := []any{
		"module", "application.payout",
		"layer", "application",
		"operation", "settle_affiliate",
		"outcome", outcome,
		"affiliate_id", group.AffiliateID,
		"total_cents", group.TotalCents,
		"entry_count", len(group.EntryIDs),
	}
	attrs = append(attrs, extra...)
	if err != nil {
		attrs = append(attrs, "error", err)
		s.logger.ErrorContext(ctx, "payout settlement decision", attrs...)
		return
	}
	s.logger.InfoContext(ctx, "payout settlement decision", attrs...)
}

func (s *Service) enqueuePayoutFailed(ctx context.Context, group domain.PayoutGroup, key, transferRef string, cause error) {
	_ = s.enqueueEvent(context.WithoutCancel(ctx), domain.EventAffiliatePayoutFailed, "", contracts.PayoutFailedPayload{
		AffiliateID:    group.AffiliateID,
		AmountCents:    group.TotalCents,
		IdempotencyKey: key,
		TransferRef:    transferRef,
		Error:          cause.Error(),
	}, group.AffiliateID, s.nowFn())
}
