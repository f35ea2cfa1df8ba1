package domain

import (
	"errors"
	"testing"
	"time"
)

func TestEffectiveStatusAndPayable(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		entry   LedgerEntry
		status  LedgerStatus
		payable bool
	}{
		{name: "pending in holdback", entry: LedgerEntry{Status: LedgerStatusPending, AvailableAt: now.Add(time.Hour), AmountCents: 100}, status: LedgerStatusPending},
		{name: "pending past holdback", entry: LedgerEntry{Status: LedgerStatusPending, AvailableAt: now.Add(-time.Hour), AmountCents: 100}, status: LedgerStatusAvailable, payable: true},
		{name: "available exactly now", entry: LedgerEntry{Status: LedgerStatusPending, AvailableAt: now, AmountCents: 100}, status: LedgerStatusAvailable, payable: true},
		{name: "negative adjustment", entry: LedgerEntry{Status: LedgerStatusPending, AvailableAt: now.Add(-time.Hour), AmountCents: -50}, status: LedgerStatusAvailable},
		{name: "paid", entry: LedgerEntry{Status: LedgerStatusPaid, AvailableAt: now.Add(-time.Hour), AmountCents: 100}, status: LedgerStatusPaid},
		{name: "void", entry: LedgerEntry{Status: LedgerStatusVoid, AvailableAt: now.Add(-time.Hour), AmountCents: 100}, status: LedgerStatusVoid},
	}
	for _, tc := range cases {
		if got := tc.entry.EffectiveStatus(now); got != tc.status {
			t.Fatalf("%s: expected status %s, got %s", tc.name, tc.status, got)
		}
		if got := tc.entry.Payable(now); got != tc.payable {
			t.Fatalf("%s: expected payable=%t", tc.name, tc.payable)
		}
	}
}

func TestValidateAccrual(t *testing.T) {
	t.Parallel()
	ok := AccrualInput{AffiliateID: "aff-1", SourceRef: "order:1", AmountCents: 1200, HoldbackDays: 14}
	if err := ValidateAccrual(ok); err != nil {
		t.Fatalf("expected valid accrual, got %v", err)
	}
	for name, in := range map[string]AccrualInput{
		"zero amount":       {AffiliateID: "aff-1", SourceRef: "order:1"},
		"missing source":    {AffiliateID: "aff-1", AmountCents: 10},
		"negative holdback": {AffiliateID: "aff-1", SourceRef: "order:1", AmountCents: 10, HoldbackDays: -1},
		"holdback too long": {AffiliateID: "aff-1", SourceRef: "order:1", AmountCents: 10, HoldbackDays: MaxHoldbackDays + 1},
	} {
		if err := ValidateAccrual(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestSummarizeBalance(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	entries := []LedgerEntry{
		{Status: LedgerStatusPending, AvailableAt: now.Add(24 * time.Hour), AmountCents: 300},
		{Status: LedgerStatusPending, AvailableAt: now.Add(-24 * time.Hour), AmountCents: 1200},
		{Status: LedgerStatusPaid, AvailableAt: now.Add(-48 * time.Hour), AmountCents: 900},
		{Status: LedgerStatusVoid, AvailableAt: now.Add(-48 * time.Hour), AmountCents: 50},
	}
	got := SummarizeBalance("aff-1", entries, now)
	if got.PendingCents != 300 || got.AvailableCents != 1200 || got.PaidCents != 900 || got.VoidCents != 50 {
		t.Fatalf("unexpected balance %+v", got)
	}
}
