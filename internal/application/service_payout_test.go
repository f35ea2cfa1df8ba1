package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

// slowPayouts delays commits and honours the commit context the way a
// database driver does.
type slowPayouts struct {
	ports.PayoutRepository
	mu          sync.Mutex
	commitDelay time.Duration
	failCommits int
}

func (p *slowPayouts) CommitSettlement(ctx context.Context, payout domain.AffiliatePayout, entryIDs []string) error {
	p.mu.Lock()
	if p.failCommits > 0 {
		p.failCommits--
		p.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	p.mu.Unlock()
	if p.commitDelay > 0 {
		timer := time.NewTimer(p.commitDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return p.PayoutRepository.CommitSettlement(ctx, payout, entryIDs)
}

// gatedTransfers records every call. Calls wait out delay, and the first call
// also waits on gate when one is set.
type gatedTransfers struct {
	fakeTransfers
	delay   time.Duration
	gate    chan struct{}
	entered chan struct{}
	onFirst func()
	once    sync.Once
}

func (g *gatedTransfers) CreateTransfer(ctx context.Context, req ports.TransferRequest) (ports.TransferResult, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		if g.onFirst != nil {
			g.onFirst()
		}
		if g.entered != nil {
			close(g.entered)
		}
		if g.gate != nil {
			<-g.gate
		}
	}
	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ports.TransferResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return g.fakeTransfers.CreateTransfer(ctx, req)
}

func newSettlementService(repos memory.Repositories, clock *testClock, payouts ports.PayoutRepository, transfers ports.TransferClient, cfg Config) *Service {
	return NewService(Dependencies{
		Config:       cfg,
		Affiliates:   repos.Affiliates,
		Attributions: repos.Attributions,
		PromoCodes:   repos.PromoCodes,
		Ledger:       repos.Ledger,
		Payouts:      payouts,
		Idempotency:  repos.Idempotency,
		EventDedup:   repos.EventDedup,
		Outbox:       repos.Outbox,
		Transfers:    transfers,
		Secrets:      fixedSecret("s3cret"),
		Clock:        clock.Now,
	})
}

func seedPayable(t *testing.T, repos memory.Repositories, svc *Service) {
	t.Helper()
	seedAffiliate(t, repos, domain.Affiliate{AffiliateID: "aff-a", UserID: "user-a", ReferralCode: "ALPHA", PayoutAccountRef: "acct_a", PayoutAccountReady: true})
	accrue(t, svc, "aff-a", "order:1", 2500)
}

func TestRunPayoutBatchCommitsAfterTransferUsesMostOfItsTimeout(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories(memory.NewStore())
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	transfers := &gatedTransfers{delay: 90 * time.Millisecond}
	payouts := &slowPayouts{PayoutRepository: repos.Payouts, commitDelay: 20 * time.Millisecond}
	svc := newSettlementService(repos, clock, payouts, transfers, Config{TransferTimeout: 100 * time.Millisecond, CommitTimeout: time.Second})
	seedPayable(t, repos, svc)

	result, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("commit must not inherit the transfer deadline, got %+v", result)
	}
	for _, entry := range repos.Ledger.Entries() {
		if entry.Status != domain.LedgerStatusPaid {
			t.Fatalf("entry %s should be paid, got %s", entry.EntryID, entry.Status)
		}
	}
}

func TestRunPayoutBatchRetriesUnconfirmedPayoutUnderSameKey(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories(memory.NewStore())
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	transfers := &fakeTransfers{}
	payouts := &slowPayouts{PayoutRepository: repos.Payouts, failCommits: 1}
	svc := newSettlementService(repos, clock, payouts, transfers, Config{})
	seedPayable(t, repos, svc)

	first, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Failed != 1 || first.Processed != 0 {
		t.Fatalf("lost commit should fail the affiliate, got %+v", first)
	}
	pending, err := repos.Payouts.ListPending(context.Background())
	if err != nil || len(pending) != 1 {
		t.Fatalf("payout should stay pending, got %+v err=%v", pending, err)
	}

	clock.Advance(24 * time.Hour)
	second, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Processed != 1 || second.PaidCents != 2500 {
		t.Fatalf("pending payout should be completed, got %+v", second)
	}
	calls := transfers.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected the original transfer and one retry, got %d", len(calls))
	}
	if calls[1].IdempotencyKey != calls[0].IdempotencyKey || calls[1].AmountCents != calls[0].AmountCents {
		t.Fatalf("retry must reuse key and amount: %+v vs %+v", calls[0], calls[1])
	}
	for k, v := range calls[0].Metadata {
		if calls[1].Metadata[k] != v {
			t.Fatalf("retry metadata %s changed from %q to %q", k, v, calls[1].Metadata[k])
		}
	}
	rows := repos.Payouts.Snapshot()
	if len(rows) != 1 || rows[0].Status != domain.PayoutStatusSent || rows[0].PayoutID != pending[0].PayoutID {
		t.Fatalf("expected the reservation promoted to sent, got %+v", rows)
	}
	for _, entry := range repos.Ledger.Entries() {
		if entry.Status != domain.LedgerStatusPaid || entry.PayoutID != pending[0].PayoutID {
			t.Fatalf("entry should be paid by %s, got %+v", pending[0].PayoutID, entry)
		}
	}

	clock.Advance(24 * time.Hour)
	if third, err := svc.RunPayoutBatch(context.Background()); err != nil || third.Processed != 0 || len(transfers.Calls()) != 2 {
		t.Fatalf("settled payout must not transfer again: %+v err=%v", third, err)
	}
}

func TestRunPayoutBatchExcludesEntriesAccruedMidRun(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories(memory.NewStore())
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	transfers := &gatedTransfers{}
	svc := newSettlementService(repos, clock, repos.Payouts, transfers, Config{})
	seedPayable(t, repos, svc)
	transfers.onFirst = func() { accrue(t, svc, "aff-a", "order:late", 900) }

	result, err := svc.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if result.PaidCents != 2500 || result.Payouts[0].EntryCount != 1 {
		t.Fatalf("payout should cover the snapshot only, got %+v", result)
	}
	for _, entry := range repos.Ledger.Entries() {
		switch entry.SourceRef {
		case "order:1":
			if entry.Status != domain.LedgerStatusPaid {
				t.Fatalf("snapshotted entry should be paid, got %s", entry.Status)
			}
		case "order:late":
			if entry.Status != domain.LedgerStatusPending || entry.PayoutID != "" {
				t.Fatalf("late entry must stay open, got %+v", entry)
			}
		}
	}
}

func TestConcurrentRunsWithoutSharedLockPayOnce(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories(memory.NewStore())
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	transfers := &gatedTransfers{gate: make(chan struct{}), entered: make(chan struct{})}
	first := newSettlementService(repos, clock, repos.Payouts, transfers, Config{})
	second := newSettlementService(repos, clock, repos.Payouts, transfers, Config{})
	seedPayable(t, repos, first)

	done := make(chan PayoutRunResult, 1)
	go func() {
		res, err := first.RunPayoutBatch(context.Background())
		if err != nil {
			t.Errorf("first run: %v", err)
		}
		done <- res
	}()
	<-transfers.entered

	secondResult, err := second.RunPayoutBatch(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	close(transfers.gate)
	firstResult := <-done

	if processed := firstResult.Processed + secondResult.Processed; processed != 1 {
		t.Fatalf("exactly one run should settle, got %d (%+v / %+v)", processed, firstResult, secondResult)
	}
	failures := append(firstResult.Errors, secondResult.Errors...)
	if len(failures) != 1 {
		t.Fatalf("the losing run should report one failure, got %+v", failures)
	}
	if msg := failures[0].Error; !strings.Contains(msg, domain.ErrConflict.Error()) && !strings.Contains(msg, domain.ErrSettlementMismatch.Error()) {
		t.Fatalf("loser should surface a conflict or mismatch, got %q", msg)
	}
	keys := map[string]bool{}
	for _, call := range transfers.Calls() {
		keys[call.IdempotencyKey] = true
	}
	if len(keys) != 1 {
		t.Fatalf("every transfer attempt must share one key, got %v", keys)
	}
	rows := repos.Payouts.Snapshot()
	if len(rows) != 1 || rows[0].Status != domain.PayoutStatusSent {
		t.Fatalf("expected one sent payout, got %+v", rows)
	}
	for _, entry := range repos.Ledger.Entries() {
		if entry.Status != domain.LedgerStatusPaid || entry.PayoutID != rows[0].PayoutID {
			t.Fatalf("entry should be paid once by %s, got %+v", rows[0].PayoutID, entry)
		}
	}
}

func TestPendingPayoutBlocksAffiliateUntilReleased(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories(memory.NewStore())
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	transfers := &fakeTransfers{failFor: map[string]error{"aff-a": errors.New("account restricted")}}
	svc := newSettlementService(repos, clock, repos.Payouts, transfers, Config{})
	seedPayable(t, repos, svc)
	ctx := context.Background()

	if res, err := svc.RunPayoutBatch(ctx); err != nil || res.Failed != 1 {
		t.Fatalf("first run should fail the transfer: %+v err=%v", res, err)
	}
	clock.Advance(time.Hour)
	accrue(t, svc, "aff-a", "order:2", 3000)
	res, err := svc.RunPayoutBatch(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Failed != 1 || res.Skipped != 1 || res.Skips[0].Reason != domain.SkipPayoutPending {
		t.Fatalf("new entries must wait behind the pending payout, got %+v", res)
	}

	pending, err := repos.Payouts.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending payout, got %+v err=%v", pending, err)
	}
	if _, err := svc.ReleasePendingPayout(ctx, Actor{SubjectID: "user-a", Role: "affiliate"}, pending[0].PayoutID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("affiliates must not release payouts, got %v", err)
	}
	released, err := svc.ReleasePendingPayout(ctx, admin, pending[0].PayoutID)
	if err != nil || released.Status != domain.PayoutStatusFailed {
		t.Fatalf("release: %+v err=%v", released, err)
	}
	if _, err := svc.ReleasePendingPayout(ctx, admin, pending[0].PayoutID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second release should be not found, got %v", err)
	}

	transfers.mu.Lock()
	transfers.failFor = nil
	transfers.mu.Unlock()
	clock.Advance(time.Hour)
	res, err = svc.RunPayoutBatch(ctx)
	if err != nil || res.Processed != 1 || res.PaidCents != 5500 {
		t.Fatalf("released entries should be paid with the new ones, got %+v err=%v", res, err)
	}
}
