package domain

import (
	"fmt"
	"strings"
	"time"
)

type LedgerStatus string

const (
	LedgerStatusPending   LedgerStatus = "PENDING"
	LedgerStatusAvailable LedgerStatus = "AVAILABLE"
	LedgerStatusPaid      LedgerStatus = "PAID"
	LedgerStatusVoid      LedgerStatus = "VOID"
)

// Open reports whether an entry in this stored status can still be paid or voided.
func (s LedgerStatus) Open() bool {
	return s == LedgerStatusPending || s == LedgerStatusAvailable
}

type LedgerEntry struct {
	EntryID       string       `json:"entry_id"`
	AffiliateID   string       `json:"affiliate_id"`
	AmountCents   int64        `json:"amount_cents"`
	Status        LedgerStatus `json:"status"`
	AvailableAt   time.Time    `json:"available_at"`
	SourceRef     string       `json:"source_ref"`
	AttributionID string       `json:"attribution_id,omitempty"`
	PayoutID      string       `json:"payout_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	PaidAt        *time.Time   `json:"paid_at,omitempty"`
	VoidedAt      *time.Time   `json:"voided_at,omitempty"`
}

// EffectiveStatus resolves the holdback at read time. PENDING is never
// rewritten to AVAILABLE in storage.
func (e LedgerEntry) EffectiveStatus(now time.Time) LedgerStatus {
	if e.Status == LedgerStatusPending && !e.AvailableAt.After(now) {
		return LedgerStatusAvailable
	}
	return e.Status
}

func (e LedgerEntry) Payable(now time.Time) bool {
	return e.EffectiveStatus(now) == LedgerStatusAvailable && !e.AvailableAt.After(now) && e.AmountCents > 0
}

const MaxHoldbackDays = 365

type AccrualInput struct {
	AffiliateID   string
	AmountCents   int64
	SourceRef     string
	AttributionID string
	HoldbackDays  int
}

func ValidateAccrual(in AccrualInput) error {
	if strings.TrimSpace(in.AffiliateID) == "" || strings.TrimSpace(in.SourceRef) == "" {
		return fmt.Errorf("%w: affiliate_id and source_ref are required", ErrInvalidInput)
	}
	if in.AmountCents == 0 {
		return fmt.Errorf("%w: amount_cents must be non-zero", ErrInvalidInput)
	}
	if in.HoldbackDays < 0 || in.HoldbackDays > MaxHoldbackDays {
		return fmt.Errorf("%w: holdback_days must be between 0 and %d", ErrInvalidInput, MaxHoldbackDays)
	}
	return nil
}

type LedgerBalance struct {
	AffiliateID    string `json:"affiliate_id"`
	PendingCents   int64  `json:"pending_cents"`
	AvailableCents int64  `json:"available_cents"`
	PaidCents      int64  `json:"paid_cents"`
	VoidCents      int64  `json:"void_cents"`
}

// SummarizeBalance folds entries into per-status sums using effective status.
func SummarizeBalance(affiliateID string, entries []LedgerEntry, now time.Time) LedgerBalance {
	out := LedgerBalance{AffiliateID: affiliateID}
	for _, e := range entries {
		switch e.EffectiveStatus(now) {
		case LedgerStatusPending:
			out.PendingCents += e.AmountCents
		case LedgerStatusAvailable:
			out.AvailableCents += e.AmountCents
		case LedgerStatusPaid:
			out.PaidCents += e.AmountCents
		case LedgerStatusVoid:
			out.VoidCents += e.AmountCents
		}
	}
	return out
}
