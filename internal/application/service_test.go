package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTransfers struct {
	mu      sync.Mutex
	calls   []ports.TransferRequest
	failFor map[string]error
}

func (f *fakeTransfers) CreateTransfer(_ context.Context, req ports.TransferRequest) (ports.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[req.AffiliateID]; err != nil {
		return ports.TransferResult{}, err
	}
	f.calls = append(f.calls, req)
	return ports.TransferResult{TransferID: "tr_" + req.IdempotencyKey}, nil
}

func (f *fakeTransfers) Calls() []ports.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.TransferRequest(nil), f.calls...)
}

type fixedSecret string

func (s fixedSecret) VerifySecret(secret string) bool { return secret == string(s) }

var admin = Actor{SubjectID: "ops-1", Role: "admin"}

func newTestService(t *testing.T, transfers ports.TransferClient) (*Service, memory.Repositories, *testClock) {
	t.Helper()
	repos := memory.NewRepositories(memory.NewStore())
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc := NewService(Dependencies{
		Affiliates:   repos.Affiliates,
		Attributions: repos.Attributions,
		PromoCodes:   repos.PromoCodes,
		Ledger:       repos.Ledger,
		Payouts:      repos.Payouts,
		Idempotency:  repos.Idempotency,
		EventDedup:   repos.EventDedup,
		Outbox:       repos.Outbox,
		Transfers:    transfers,
		Secrets:      fixedSecret("s3cret"),
		Clock:        clock.Now,
	})
	return svc, repos, clock
}

func seedAffiliate(t *testing.T, repos memory.Repositories, row domain.Affiliate) {
	t.Helper()
	if row.Status == "" {
		row.Status = domain.AffiliateStatusActive
	}
	if err := repos.Affiliates.Upsert(context.Background(), row); err != nil {
		t.Fatalf("seed affiliate %s: %v", row.AffiliateID, err)
	}
}

func accrue(t *testing.T, svc *Service, affiliateID, source string, cents int64) domain.LedgerEntry {
	t.Helper()
	zero := 0
	row, _, err := svc.Accrue(context.Background(), AccrueInput{AffiliateID: affiliateID, SourceRef: source, AmountCents: cents, HoldbackDays: &zero})
	if err != nil {
		t.Fatalf("accrue %s: %v", source, err)
	}
	return row
}

func countEvents(types []string, eventType string) int {
	n := 0
	for _, et := range types {
		if et == eventType {
			n++
		}
	}
	return n
}

func TestRunPayoutBatchPaysAggregatedBalance(t *testing.T) {
	t.Parallel()
	transfers := &fakeTransfers{}
	svc, repos, _ := newTestService(t, transfers)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA", PayoutAccountRef: "acct_a", PayoutAccountReady: true})
	accrue(t, svc, "aff-a", "order:1", 1200)
	accrue(t, svc, "aff-a", "order:2", 900)

	result, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.Processed != 1 || result.PaidCents != 2100 || result.Failed != 0 {
		t.Fatalf("unexpected run result %+v", result)
	}
	calls := transfers.Calls()
	if len(calls) != 1 || calls[0].AmountCents != 2100 || calls[0].DestinationAccount != "acct_a" || calls[0].Currency != "usd" {
		t.Fatalf("expected a single 2100 usd transfer to acct_a, got %+v", calls)
	}
	payout := result.Payouts[0]
	if payout.IdempotencyKey != calls[0].IdempotencyKey || payout.EntryCount != 2 || payout.Status != domain.PayoutStatusSent {
		t.Fatalf("unexpected payout %+v", payout)
	}
	for _, entry := range repos.Ledger.Entries() {
		if entry.Status != domain.LedgerStatusPaid || entry.PayoutID != payout.PayoutID {
			t.Fatalf("entry %s should be paid by %s, got %+v", entry.EntryID, payout.PayoutID, entry)
		}
	}
	types := repos.Outbox.EventTypes()
	if countEvents(types, domain.EventAffiliatePayoutSent) != 1 || countEvents(types, domain.EventAffiliatePayoutRunCompleted) != 1 {
		t.Fatalf("expected payout sent and run completed events, got %v", types)
	}
}

func TestRunPayoutBatchNeverPaysTwice(t *testing.T) {
	t.Parallel()
	transfers := &fakeTransfers{}
	svc, repos, clock := newTestService(t, transfers)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA", PayoutAccountRef: "acct_a", PayoutAccountReady: true})
	accrue(t, svc, "aff-a", "order:1", 2500)

	if _, err := svc.RunPayoutBatch(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	clock.Advance(24 * time.Hour)
	second, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Processed != 0 || len(transfers.Calls()) != 1 {
		t.Fatalf("second run must not transfer again: %+v calls=%d", second, len(transfers.Calls()))
	}
}

func TestRunPayoutBatchSkipsBelowThresholdUntilEligible(t *testing.T) {
	t.Parallel()
	transfers := &fakeTransfers{}
	svc, repos, clock := newTestService(t, transfers)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-b", UserID: "user-b", ReferralCode: "BRAVO", PayoutAccountRef: "acct_b", PayoutAccountReady: true})
	accrue(t, svc, "aff-b", "order:1", 500)

	result, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.Skipped != 1 || result.Skips[0].Reason != domain.SkipBelowThreshold || len(transfers.Calls()) != 0 {
		t.Fatalf("expected below_minimum_payout skip, got %+v", result)
	}
	if got := repos.Ledger.Entries()[0].Status; got != domain.LedgerStatusPending {
		t.Fatalf("skipped entry must stay open, got %s", got)
	}

	clock.Advance(time.Hour)
	accrue(t, svc, "aff-b", "order:2", 1600)
	result, err = svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.Processed != 1 || result.PaidCents != 2100 {
		t.Fatalf("expected rolled-up 2100 payout, got %+v", result)
	}
}

func TestRunPayoutBatchSkipsAffiliateWithoutPayoutAccount(t *testing.T) {
	t.Parallel()
	transfers := &fakeTransfers{}
	svc, repos, _ := newTestService(t, transfers)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-c", UserID: "user-c", ReferralCode: "CHARLIE"})
	accrue(t, svc, "aff-c", "order:1", 5000)

	result, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.Skipped != 1 || result.Skips[0].Reason != domain.SkipNoPayoutAccount {
		t.Fatalf("expected payout_account_missing skip, got %+v", result)
	}
}

func TestRunPayoutBatchIgnoresEntriesInHoldback(t *testing.T) {
	t.Parallel()
	transfers := &fakeTransfers{}
	svc, repos, clock := newTestService(t, transfers)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA", PayoutAccountRef: "acct_a", PayoutAccountReady: true})
	if _, _, err := svc.Accrue(context.Background(), AccrueInput{AffiliateID: "aff-a", SourceRef: "order:1", AmountCents: 5000}); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	result, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.Processed != 0 || result.Skipped != 0 {
		t.Fatalf("entry in holdback must not be considered, got %+v", result)
	}

	clock.Advance(15 * 24 * time.Hour)
	result, err = svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.Processed != 1 || result.PaidCents != 5000 {
		t.Fatalf("expected payout after holdback, got %+v", result)
	}
}

func TestRunPayoutBatchIsolatesTransferFailures(t *testing.T) {
	t.Parallel()
	transfers := &fakeTransfers{failFor: map[string]error{"aff-b": errors.New("account restricted")}}
	svc, repos, _ := newTestService(t, transfers)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA", PayoutAccountRef: "acct_a", PayoutAccountReady: true})
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-b", UserID: "user-b", ReferralCode: "BRAVO", PayoutAccountRef: "acct_b", PayoutAccountReady: true})
	accrue(t, svc, "aff-a", "order:1", 3000)
	accrue(t, svc, "aff-b", "order:2", 4000)

	result, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 || result.PaidCents != 3000 {
		t.Fatalf("expected one paid and one failed affiliate, got %+v", result)
	}
	if result.Errors[0].AffiliateID != "aff-b" {
		t.Fatalf("unexpected failure %+v", result.Errors)
	}
	for _, entry := range repos.Ledger.Entries() {
		if entry.AffiliateID == "aff-b" && entry.Status != domain.LedgerStatusPending {
			t.Fatalf("failed affiliate entries must stay open, got %s", entry.Status)
		}
	}
	if countEvents(repos.Outbox.EventTypes(), domain.EventAffiliatePayoutFailed) != 1 {
		t.Fatalf("expected payout failed event, got %v", repos.Outbox.EventTypes())
	}
}

func TestRunPayoutBatchWithoutTransferClient(t *testing.T) {
	t.Parallel()
	svc, repos, _ := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA", PayoutAccountRef: "acct_a", PayoutAccountReady: true})
	accrue(t, svc, "aff-a", "order:1", 3000)

	if _, err := svc.RunPayoutBatch(context.Background()); !errors.Is(err, domain.ErrTransferUnavailable) {
		t.Fatalf("expected ErrTransferUnavailable, got %v", err)
	}
	if got := repos.Ledger.Entries()[0].Status; got != domain.LedgerStatusPending {
		t.Fatalf("ledger must be untouched, got %s", got)
	}
}

func TestRunPayoutBatchHonoursCancellation(t *testing.T) {
	t.Parallel()
	transfers := &fakeTransfers{}
	svc, repos, _ := newTestService(t, transfers)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA", PayoutAccountRef: "acct_a", PayoutAccountReady: true})
	accrue(t, svc, "aff-a", "order:1", 3000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := svc.RunPayoutBatch(ctx)
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if !result.Cancelled || result.Processed != 0 || len(transfers.Calls()) != 0 {
		t.Fatalf("expected cancelled run without transfers, got %+v", result)
	}
}

func TestRunPayoutBatchSingleFlight(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, &fakeTransfers{})
	release, err := svc.runLock.Acquire(context.Background(), payoutRunLockName, time.Minute)
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	if _, err := svc.RunPayoutBatch(context.Background()); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if err := release(context.Background()); err != nil {
		t.Fatalf("release lock: %v", err)
	}
	if _, err := svc.RunPayoutBatch(context.Background()); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestTriggerPayoutRunAuthorization(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, &fakeTransfers{})
	cases := []struct {
		name  string
		actor Actor
		want  error
	}{
		{name: "admin", actor: admin},
		{name: "scheduler secret", actor: Actor{SchedulerSecret: "s3cret"}},
		{name: "wrong secret", actor: Actor{SchedulerSecret: "nope"}, want: domain.ErrForbidden},
		{name: "affiliate", actor: Actor{SubjectID: "user-a", Role: "affiliate"}, want: domain.ErrForbidden},
		{name: "admin without subject", actor: Actor{Role: "admin"}, want: domain.ErrUnauthorized},
		{name: "anonymous", actor: Actor{}, want: domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		_, err := svc.TriggerPayoutRun(context.Background(), tc.actor)
		if tc.want == nil && err != nil {
			t.Fatalf("%s: expected success, got %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCreatePromoCodeEnforcesTierCap(t *testing.T) {
	t.Parallel()
	svc, repos, _ := newTestService(t, nil)
	parent := "aff-top"
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-top", UserID: "user-top", ReferralCode: "TOPLVL"})
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-sub", UserID: "user-sub", ReferralCode: "SUBLVL", ParentAffiliateID: &parent})

	_, err := svc.CreatePromoCode(context.Background(), admin, CreatePromoCodeInput{AffiliateID: "aff-sub", Code: "sub80", DiscountSharePct: decimal.NewFromInt(80)})
	var rejection *domain.DiscountRejection
	if !errors.As(err, &rejection) || rejection.MaxPct != 75 {
		t.Fatalf("expected sub-affiliate rejection at 75%%, got %v", err)
	}

	row, err := svc.CreatePromoCode(context.Background(), admin, CreatePromoCodeInput{AffiliateID: "aff-top", Code: "top80", DiscountSharePct: decimal.NewFromInt(80)})
	if err != nil {
		t.Fatalf("top-level 80%% should be accepted: %v", err)
	}
	if row.Code != "TOP80" || row.DiscountSharePct != 80 {
		t.Fatalf("unexpected promo code %+v", row)
	}

	_, err = svc.CreatePromoCode(context.Background(), Actor{SubjectID: "user-sub", Role: "affiliate"}, CreatePromoCodeInput{AffiliateID: "aff-top", Code: "steal", DiscountSharePct: decimal.NewFromInt(10)})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("non-owner should be forbidden, got %v", err)
	}
}

func TestDeletePromoCodeDisablesRedeemedCodes(t *testing.T) {
	t.Parallel()
	svc, repos, _ := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})
	owner := Actor{SubjectID: "user-a", Role: "affiliate"}
	ctx := context.Background()

	fresh, err := svc.CreatePromoCode(ctx, owner, CreatePromoCodeInput{AffiliateID: "aff-a", Code: "FRESH", DiscountSharePct: decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	res, err := svc.DeletePromoCode(ctx, owner, fresh.PromoCodeID)
	if err != nil || res.Action != domain.PromoDeleteActionDeleted {
		t.Fatalf("unredeemed code should be deleted, got %+v err=%v", res, err)
	}
	if _, err := repos.PromoCodes.GetByID(ctx, fresh.PromoCodeID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted code should be gone, got %v", err)
	}

	used, err := svc.CreatePromoCode(ctx, owner, CreatePromoCodeInput{AffiliateID: "aff-a", Code: "USED", DiscountSharePct: decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("create used: %v", err)
	}
	if _, err := svc.RecordRedemption(ctx, "used", "checkout-1"); err != nil {
		t.Fatalf("record redemption: %v", err)
	}
	res, err = svc.DeletePromoCode(ctx, owner, used.PromoCodeID)
	if err != nil || res.Action != domain.PromoDeleteActionDisabled {
		t.Fatalf("redeemed code should be disabled, got %+v err=%v", res, err)
	}
	stored, err := repos.PromoCodes.GetByID(ctx, used.PromoCodeID)
	if err != nil || stored.Status != domain.PromoCodeStatusDisabled || stored.RedemptionCount != 1 {
		t.Fatalf("unexpected stored code %+v err=%v", stored, err)
	}
	if _, err := svc.ApplyPromoCode(ctx, "USED"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("disabled code must not apply, got %v", err)
	}
}

func TestSignupAttributionWindowExclusivity(t *testing.T) {
	t.Parallel()
	svc, repos, clock := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})
	ctx := context.Background()
	visitor := Actor{SubjectID: "user-z"}

	first, err := svc.SignupAttribution(ctx, visitor, SignupAttributionInput{ReferralCode: "alpha"})
	if err != nil {
		t.Fatalf("first attribution: %v", err)
	}
	if first.Source != domain.AttributionSourceOrganic || !first.EndsAt.Equal(first.CreatedAt.Add(30*24*time.Hour)) {
		t.Fatalf("unexpected attribution %+v", first)
	}

	clock.Advance(10 * 24 * time.Hour)
	_, err = svc.SignupAttribution(ctx, visitor, SignupAttributionInput{ReferralCode: "ALPHA"})
	var conflict *domain.AttributionConflict
	if !errors.As(err, &conflict) || conflict.Existing.AttributionID != first.AttributionID {
		t.Fatalf("expected conflict on %s, got %v", first.AttributionID, err)
	}

	clock.Advance(21 * 24 * time.Hour)
	if _, err := svc.SignupAttribution(ctx, visitor, SignupAttributionInput{ReferralCode: "ALPHA"}); err != nil {
		t.Fatalf("attribution after window expiry: %v", err)
	}
}

func TestSignupAttributionRejectsSelfReferral(t *testing.T) {
	t.Parallel()
	svc, repos, _ := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})

	_, err := svc.SignupAttribution(context.Background(), Actor{SubjectID: "user-a"}, SignupAttributionInput{ReferralCode: "ALPHA"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestResolveAffiliateHidesInactive(t *testing.T) {
	t.Parallel()
	svc, repos, _ := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-s", UserID: "user-s", ReferralCode: "SLEEPY", Status: domain.AffiliateStatusSuspended})

	id, err := svc.ResolveAffiliate(context.Background(), " alpha ")
	if err != nil || id != "aff-a" {
		t.Fatalf("expected aff-a, got %q err=%v", id, err)
	}
	if _, err := svc.ResolveAffiliate(context.Background(), "SLEEPY"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("suspended affiliate should not resolve, got %v", err)
	}
	if len(repos.Ledger.Entries()) != 0 {
		t.Fatalf("resolution must not write to the ledger")
	}
}

func TestUpsertAffiliateEnforcesDepthOne(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	if _, err := svc.UpsertAffiliate(ctx, admin, UpsertAffiliateInput{AffiliateID: "aff-top", UserID: "user-top", Status: "active", ReferralCode: "TOPLVL"}); err != nil {
		t.Fatalf("create top: %v", err)
	}
	parent := "aff-top"
	if _, err := svc.UpsertAffiliate(ctx, admin, UpsertAffiliateInput{AffiliateID: "aff-sub", UserID: "user-sub", Status: "ACTIVE", ReferralCode: "SUBLVL", ParentAffiliateID: &parent}); err != nil {
		t.Fatalf("create sub: %v", err)
	}
	sub := "aff-sub"
	_, err := svc.UpsertAffiliate(ctx, admin, UpsertAffiliateInput{AffiliateID: "aff-grand", UserID: "user-grand", Status: "ACTIVE", ReferralCode: "GRAND", ParentAffiliateID: &sub})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("grandchild should be rejected, got %v", err)
	}
	if _, err := svc.UpsertAffiliate(ctx, Actor{SubjectID: "user-top"}, UpsertAffiliateInput{UserID: "x", Status: "ACTIVE", ReferralCode: "XXX"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("non-admin upsert should be forbidden, got %v", err)
	}
}

func TestAccrueIsIdempotentPerSource(t *testing.T) {
	t.Parallel()
	svc, repos, _ := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})
	ctx := context.Background()

	first, created, err := svc.Accrue(ctx, AccrueInput{AffiliateID: "aff-a", SourceRef: "order:9", AmountCents: 700})
	if err != nil || !created {
		t.Fatalf("first accrual: created=%t err=%v", created, err)
	}
	again, created, err := svc.Accrue(ctx, AccrueInput{AffiliateID: "aff-a", SourceRef: "order:9", AmountCents: 700})
	if err != nil || created || again.EntryID != first.EntryID {
		t.Fatalf("repeat accrual should return the stored entry, got %+v created=%t err=%v", again, created, err)
	}
	if got := countEvents(repos.Outbox.EventTypes(), domain.EventAffiliateCommissionAccrued); got != 1 {
		t.Fatalf("expected one accrued event, got %d", got)
	}
	if _, _, err := svc.Accrue(ctx, AccrueInput{AffiliateID: "aff-missing", SourceRef: "order:1", AmountCents: 10}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown affiliate should be not found, got %v", err)
	}
}

func TestBalanceReflectsHoldback(t *testing.T) {
	t.Parallel()
	svc, repos, clock := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})
	ctx := context.Background()
	if _, _, err := svc.Accrue(ctx, AccrueInput{AffiliateID: "aff-a", SourceRef: "order:1", AmountCents: 1200}); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	owner := Actor{SubjectID: "user-a"}

	bal, err := svc.Balance(ctx, owner, "aff-a")
	if err != nil || bal.PendingCents != 1200 || bal.AvailableCents != 0 {
		t.Fatalf("expected pending balance, got %+v err=%v", bal, err)
	}
	clock.Advance(14 * 24 * time.Hour)
	bal, err = svc.Balance(ctx, owner, "aff-a")
	if err != nil || bal.AvailableCents != 1200 || bal.PendingCents != 0 {
		t.Fatalf("expected available balance, got %+v err=%v", bal, err)
	}
	if _, err := svc.Balance(ctx, Actor{SubjectID: "user-b"}, "aff-a"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("other users should be forbidden, got %v", err)
	}
}

func envelope(t *testing.T, id, eventType string, data any) contracts.EventEnvelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return contracts.EventEnvelope{
		EventID:       id,
		EventType:     eventType,
		OccurredAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		SourceService: "order-service",
		SchemaVersion: "v1",
		Data:          raw,
	}
}

func TestHandleCanonicalEventAccruesAndVoids(t *testing.T) {
	t.Parallel()
	svc, repos, _ := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})
	ctx := context.Background()

	earned := envelope(t, "evt-1", domain.EventOrderCommissionEarned, contracts.OrderCommissionEarnedPayload{OrderID: "o-1", AffiliateID: "aff-a", AmountCents: 1500})
	if err := svc.HandleCanonicalEvent(ctx, earned); err != nil {
		t.Fatalf("handle earned: %v", err)
	}
	if err := svc.HandleCanonicalEvent(ctx, earned); err != nil {
		t.Fatalf("duplicate delivery should be a no-op, got %v", err)
	}
	entries := repos.Ledger.Entries()
	if len(entries) != 1 || entries[0].SourceRef != "order:o-1" {
		t.Fatalf("expected one accrued entry, got %+v", entries)
	}

	refunded := envelope(t, "evt-2", domain.EventOrderRefunded, contracts.OrderRefundedPayload{OrderID: "o-1"})
	if err := svc.HandleCanonicalEvent(ctx, refunded); err != nil {
		t.Fatalf("handle refund: %v", err)
	}
	if got := repos.Ledger.Entries()[0].Status; got != domain.LedgerStatusVoid {
		t.Fatalf("refunded entry should be void, got %s", got)
	}

	unknown := envelope(t, "evt-3", "order.shipped", map[string]string{"order_id": "o-1"})
	if err := svc.HandleCanonicalEvent(ctx, unknown); !errors.Is(err, domain.ErrUnsupportedEventType) {
		t.Fatalf("expected ErrUnsupportedEventType, got %v", err)
	}
	if err := svc.HandleCanonicalEvent(ctx, contracts.EventEnvelope{EventType: domain.EventOrderRefunded}); !errors.Is(err, domain.ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestCreateAttributionRequiresIdempotencyKey(t *testing.T) {
	t.Parallel()
	svc, repos, _ := newTestService(t, nil)
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})
	ctx := context.Background()
	in := CreateAttributionInput{UserID: "user-z", AffiliateID: "aff-a", Type: "USER_SIGNUP"}

	if _, err := svc.CreateAttribution(ctx, admin, in); !errors.Is(err, domain.ErrIdempotencyRequired) {
		t.Fatalf("expected ErrIdempotencyRequired, got %v", err)
	}
	keyed := admin
	keyed.IdempotencyKey = "idem-1"
	first, err := svc.CreateAttribution(ctx, keyed, in)
	if err != nil {
		t.Fatalf("create attribution: %v", err)
	}
	replay, err := svc.CreateAttribution(ctx, keyed, in)
	if err != nil || replay.AttributionID != first.AttributionID {
		t.Fatalf("replay should return the stored attribution, got %+v err=%v", replay, err)
	}
	in.UserID = "user-y"
	if _, err := svc.CreateAttribution(ctx, keyed, in); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func TestResolveAffiliateDropsCachedCodeAfterChange(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories(memory.NewStore())
	cache := &mapCache{data: map[string]string{}}
	svc := NewService(Dependencies{Affiliates: repos.Affiliates, Outbox: repos.Outbox, ReferralCache: cache})
	ctx := context.Background()
	upsert := func(code, status string) {
		t.Helper()
		if _, err := svc.UpsertAffiliate(ctx, admin, UpsertAffiliateInput{AffiliateID: "aff-a", UserID: "user-a", Status: status, ReferralCode: code}); err != nil {
			t.Fatalf("upsert %s/%s: %v", code, status, err)
		}
	}

	upsert("ALPHA", "ACTIVE")
	if id, err := svc.ResolveAffiliate(ctx, "ALPHA"); err != nil || id != "aff-a" {
		t.Fatalf("resolve ALPHA: %q err=%v", id, err)
	}
	upsert("OMEGA", "ACTIVE")
	if _, err := svc.ResolveAffiliate(ctx, "ALPHA"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("retired code must stop resolving, got %v", err)
	}
	if id, err := svc.ResolveAffiliate(ctx, "OMEGA"); err != nil || id != "aff-a" {
		t.Fatalf("resolve OMEGA: %q err=%v", id, err)
	}
	upsert("OMEGA", "SUSPENDED")
	if _, err := svc.ResolveAffiliate(ctx, "OMEGA"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("suspended affiliate must stop resolving, got %v", err)
	}
}

// lossyDedup never remembers an event and fails its first mark.
type lossyDedup struct {
	mu    sync.Mutex
	marks int
}

func (d *lossyDedup) IsDuplicate(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (d *lossyDedup) MarkProcessed(context.Context, string, string, time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marks++
	if d.marks == 1 {
		return errors.New("dedup store unavailable")
	}
	return nil
}

func TestRedemptionReplayAfterLostDedupMarkCountsOnce(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories(memory.NewStore())
	svc := NewService(Dependencies{Affiliates: repos.Affiliates, PromoCodes: repos.PromoCodes, EventDedup: &lossyDedup{}, Outbox: repos.Outbox})
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA"})
	ctx := context.Background()
	if _, err := svc.CreatePromoCode(ctx, admin, CreatePromoCodeInput{AffiliateID: "aff-a", Code: "SPRING", DiscountSharePct: decimal.NewFromInt(20)}); err != nil {
		t.Fatalf("create promo code: %v", err)
	}

	redeemed := envelope(t, "evt-redeem-1", domain.EventPromoCodeRedeemed, contracts.PromoCodeRedeemedPayload{Code: "SPRING"})
	if err := svc.HandleCanonicalEvent(ctx, redeemed); err == nil {
		t.Fatalf("first delivery should surface the failed dedup mark")
	}
	if err := svc.HandleCanonicalEvent(ctx, redeemed); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	other := envelope(t, "evt-redeem-2", domain.EventPromoCodeRedeemed, contracts.PromoCodeRedeemedPayload{Code: "SPRING"})
	if err := svc.HandleCanonicalEvent(ctx, other); err != nil {
		t.Fatalf("second redemption: %v", err)
	}
	row, err := repos.PromoCodes.GetByCode(ctx, "SPRING")
	if err != nil || row.RedemptionCount != 2 {
		t.Fatalf("expected two counted redemptions, got %+v err=%v", row, err)
	}
}
