package domain

import (
	"strings"
	"testing"
	"time"
)

func TestSettlementPeriod(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 31, 12, 0, 0, 750_000_000, time.UTC)
	lookback := 30 * 24 * time.Hour

	start, end := SettlementPeriod(nil, now, lookback)
	if !end.Equal(time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("period end should be truncated to the second, got %s", end)
	}
	if !start.Equal(end.Add(-lookback)) {
		t.Fatalf("first period should start one lookback before end, got %s", start)
	}

	last := &AffiliatePayout{PeriodEnd: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	start, _ = SettlementPeriod(last, now, lookback)
	if !start.Equal(time.Date(2026, 3, 1, 0, 0, 1, 0, time.UTC)) {
		t.Fatalf("period should start one second after the last sent payout, got %s", start)
	}
}

func TestTransferIdempotencyKeyDeterministic(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 0, 0, 1, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	a := TransferIdempotencyKey("aff-1", start, end)
	b := TransferIdempotencyKey("aff-1", start.In(time.FixedZone("x", 3600)), end)
	if a != b {
		t.Fatalf("key must not depend on time zone: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "affpayout_") || len(a) != len("affpayout_")+32 {
		t.Fatalf("unexpected key shape %q", a)
	}
	if a == TransferIdempotencyKey("aff-2", start, end) {
		t.Fatalf("different affiliates must get different keys")
	}
	if a == TransferIdempotencyKey("aff-1", start, end.Add(time.Second)) {
		t.Fatalf("different periods must get different keys")
	}
}

func TestEligibility(t *testing.T) {
	t.Parallel()
	ready := &Affiliate{AffiliateID: "aff-1", PayoutAccountRef: "acct_1", PayoutAccountReady: true}
	noAccount := &Affiliate{AffiliateID: "aff-1"}
	notReady := &Affiliate{AffiliateID: "aff-1", PayoutAccountRef: "acct_1"}

	cases := []struct {
		name  string
		total int64
		aff   *Affiliate
		want  SkipReason
	}{
		{name: "eligible", total: 2100, aff: ready, want: ""},
		{name: "exactly at threshold", total: 2000, aff: ready, want: ""},
		{name: "below threshold", total: 500, aff: ready, want: SkipBelowThreshold},
		{name: "threshold checked first", total: 500, aff: noAccount, want: SkipBelowThreshold},
		{name: "missing account", total: 2100, aff: noAccount, want: SkipNoPayoutAccount},
		{name: "account not ready", total: 2100, aff: notReady, want: SkipPayoutAccountNotReady},
		{name: "unknown affiliate", total: 2100, aff: nil, want: SkipAffiliateUnknown},
	}
	for _, tc := range cases {
		got := Eligibility(PayoutGroup{AffiliateID: "aff-1", TotalCents: tc.total}, tc.aff, 2000)
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
