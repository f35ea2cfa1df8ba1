package application

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

// Accrue records a commission entry that becomes payable once its holdback
// elapses. Repeating an accrual for the same source returns the stored entry.
func (s *Service) Accrue(ctx context.Context, in AccrueInput) (domain.LedgerEntry, bool, error) {
	holdback := s.cfg.DefaultHoldbackDays
	if in.HoldbackDays != nil {
		holdback = *in.HoldbackDays
	}
	req := domain.AccrualInput{
		AffiliateID:   strings.TrimSpace(in.AffiliateID),
		AmountCents:   in.AmountCents,
		SourceRef:     strings.TrimSpace(in.SourceRef),
		AttributionID: strings.TrimSpace(in.AttributionID),
		HoldbackDays:  holdback,
	}
	if err := domain.ValidateAccrual(req); err != nil {
		return domain.LedgerEntry{}, false, err
	}
	if _, err := s.affiliates.GetByID(ctx, req.AffiliateID); err != nil {
		return domain.LedgerEntry{}, false, err
	}
	now := s.nowFn()
	row := domain.LedgerEntry{
		EntryID:       "led_" + uuid.NewString(),
		AffiliateID:   req.AffiliateID,
		AmountCents:   req.AmountCents,
		Status:        domain.LedgerStatusPending,
		AvailableAt:   now.Add(time.Duration(req.HoldbackDays) * 24 * time.Hour),
		SourceRef:     req.SourceRef,
		AttributionID: req.AttributionID,
		CreatedAt:     now,
	}
	stored, created, err := s.ledger.Accrue(ctx, row)
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	if created {
		_ = s.enqueueEvent(ctx, domain.EventAffiliateCommissionAccrued, "", contracts.CommissionAccruedPayload{
			EntryID:     stored.EntryID,
			AffiliateID: stored.AffiliateID,
			AmountCents: stored.AmountCents,
			SourceRef:   stored.SourceRef,
			AvailableAt: stored.AvailableAt.UTC().Format(time.RFC3339),
		}, stored.AffiliateID, now)
	}
	return stored, created, nil
}

// AccrueAsOperator is the admin entry point for manual adjustments.
func (s *Service) AccrueAsOperator(ctx context.Context, actor Actor, in AccrueInput) (domain.LedgerEntry, bool, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.LedgerEntry{}, false, domain.ErrUnauthorized
	}
	if !isAdmin(actor) {
		return domain.LedgerEntry{}, false, domain.ErrForbidden
	}
	return s.Accrue(ctx, in)
}

func (s *Service) ListAvailable(ctx context.Context, now time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.ledger.ListAvailable(ctx, now)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if row.Payable(now) {
			out = append(out, row)
		}
	}
	return out, nil
}

// VoidBySource cancels every open entry for a refunded source. Paid entries
// are left for a negative adjustment.
func (s *Service) VoidBySource(ctx context.Context, sourceRef string) ([]domain.LedgerEntry, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return nil, domain.ErrInvalidInput
	}
	now := s.nowFn()
	voided, err := s.ledger.VoidBySource(ctx, sourceRef, now)
	if err != nil {
		return nil, err
	}
	for _, row := range voided {
		_ = s.enqueueEvent(ctx, domain.EventAffiliateCommissionVoided, "", contracts.CommissionVoidedPayload{
			EntryID:     row.EntryID,
			AffiliateID: row.AffiliateID,
			AmountCents: row.AmountCents,
			SourceRef:   row.SourceRef,
			VoidedAt:    now.Format(time.RFC3339),
		}, row.AffiliateID, now)
	}
	return voided, nil
}

func (s *Service) Balance(ctx context.Context, actor Actor, affiliateID string) (domain.LedgerBalance, error) {
	aff, err := s.affiliates.GetByID(ctx, strings.TrimSpace(affiliateID))
	if err != nil {
		return domain.LedgerBalance{}, err
	}
	if err := s.requireOwnerOrAdmin(actor, aff); err != nil {
		return domain.LedgerBalance{}, err
	}
	rows, err := s.ledger.ListByAffiliateID(ctx, aff.AffiliateID)
	if err != nil {
		return domain.LedgerBalance{}, err
	}
	return domain.SummarizeBalance(aff.AffiliateID, rows, s.nowFn()), nil
}
