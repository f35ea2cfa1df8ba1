// Package memory keeps every repository in process memory behind one mutex.
// It backs tests and local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

type Store struct {
	mu sync.Mutex

	affiliates   map[string]domain.Affiliate
	attributions []domain.Attribution
	promoCodes   map[string]domain.PromoCode
	redemptions  map[string]string
	ledger       []domain.LedgerEntry
	payouts      []domain.AffiliatePayout
	idempotency  map[string]ports.IdempotencyRecord
	dedup        map[string]time.Time
	outbox       []ports.OutboxRecord
}

func NewStore() *Store {
	return &Store{
		affiliates:  map[string]domain.Affiliate{},
		promoCodes:  map[string]domain.PromoCode{},
		redemptions: map[string]string{},
		idempotency: map[string]ports.IdempotencyRecord{},
		dedup:       map[string]time.Time{},
	}
}

type Repositories struct {
	Affiliates   *AffiliateRepository
	Attributions *AttributionRepository
	PromoCodes   *PromoCodeRepository
	Ledger       *LedgerRepository
	Payouts      *PayoutRepository
	Idempotency  *IdempotencyRepository
	EventDedup   *EventDedupRepository
	Outbox       *OutboxRepository
}

func NewRepositories(store *Store) Repositories {
	return Repositories{
		Affiliates:   &AffiliateRepository{store: store},
		Attributions: &AttributionRepository{store: store},
		PromoCodes:   &PromoCodeRepository{store: store},
		Ledger:       &LedgerRepository{store: store},
		Payouts:      &PayoutRepository{store: store},
		Idempotency:  &IdempotencyRepository{store: store},
		EventDedup:   &EventDedupRepository{store: store},
		Outbox:       &OutboxRepository{store: store},
	}
}

type AffiliateRepository struct{ store *Store }

func (r *AffiliateRepository) GetByID(_ context.Context, affiliateID string) (domain.Affiliate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	row, ok := r.store.affiliates[affiliateID]
	if !ok {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *AffiliateRepository) GetByReferralCode(_ context.Context, code string) (domain.Affiliate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, row := range r.store.affiliates {
		if row.ReferralCode == code {
			return row, nil
		}
	}
	return domain.Affiliate{}, domain.ErrNotFound
}

func (r *AffiliateRepository) GetByUserID(_ context.Context, userID string) (domain.Affiliate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, row := range r.store.affiliates {
		if row.UserID == userID {
			return row, nil
		}
	}
	return domain.Affiliate{}, domain.ErrNotFound
}

func (r *AffiliateRepository) ListByIDs(_ context.Context, affiliateIDs []string) (map[string]domain.Affiliate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make(map[string]domain.Affiliate, len(affiliateIDs))
	for _, id := range affiliateIDs {
		if row, ok := r.store.affiliates[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func (r *AffiliateRepository) HasChildren(_ context.Context, affiliateID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, row := range r.store.affiliates {
		if row.ParentAffiliateID != nil && *row.ParentAffiliateID == affiliateID {
			return true, nil
		}
	}
	return false, nil
}

func (r *AffiliateRepository) Upsert(_ context.Context, row domain.Affiliate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, existing := range r.store.affiliates {
		if id == row.AffiliateID {
			continue
		}
		if existing.ReferralCode == row.ReferralCode || existing.UserID == row.UserID {
			return domain.ErrConflict
		}
	}
	r.store.affiliates[row.AffiliateID] = row
	return nil
}

type AttributionRepository struct{ store *Store }

func (r *AttributionRepository) CreateExclusive(_ context.Context, row domain.Attribution, guard func(domain.Affiliate) error) (domain.Attribution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	aff, ok := r.store.affiliates[row.AffiliateID]
	if !ok {
		return domain.Attribution{}, domain.ErrNotFound
	}
	if guard != nil {
		if err := guard(aff); err != nil {
			return domain.Attribution{}, err
		}
	}
	for _, existing := range r.store.attributions {
		if existing.UserID == row.UserID && existing.AffiliateID == row.AffiliateID && existing.Type == row.Type && existing.IsActive(row.CreatedAt) {
			return domain.Attribution{}, &domain.AttributionConflict{Existing: existing}
		}
	}
	r.store.attributions = append(r.store.attributions, row)
	return row, nil
}

func (r *AttributionRepository) List(_ context.Context, q ports.AttributionQuery) ([]domain.Attribution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.Attribution, 0)
	for _, row := range r.store.attributions {
		if q.UserID != "" && row.UserID != q.UserID {
			continue
		}
		if q.AffiliateID != "" && row.AffiliateID != q.AffiliateID {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type PromoCodeRepository struct{ store *Store }

func (r *PromoCodeRepository) Create(_ context.Context, row domain.PromoCode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.promoCodes {
		if existing.Code == row.Code {
			return fmt.Errorf("%w: promo code %s already exists", domain.ErrConflict, row.Code)
		}
	}
	r.store.promoCodes[row.PromoCodeID] = row
	return nil
}

func (r *PromoCodeRepository) GetByID(_ context.Context, promoCodeID string) (domain.PromoCode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	row, ok := r.store.promoCodes[promoCodeID]
	if !ok {
		return domain.PromoCode{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *PromoCodeRepository) GetByCode(_ context.Context, code string) (domain.PromoCode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, row := range r.store.promoCodes {
		if row.Code == code {
			return row, nil
		}
	}
	return domain.PromoCode{}, domain.ErrNotFound
}

func (r *PromoCodeRepository) ListByAffiliateID(_ context.Context, affiliateID string) ([]domain.PromoCode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.PromoCode, 0)
	for _, row := range r.store.promoCodes {
		if row.AffiliateID == affiliateID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *PromoCodeRepository) Update(_ context.Context, row domain.PromoCode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	existing, ok := r.store.promoCodes[row.PromoCodeID]
	if !ok {
		return domain.ErrNotFound
	}
	row.RedemptionCount = existing.RedemptionCount
	r.store.promoCodes[row.PromoCodeID] = row
	return nil
}

func (r *PromoCodeRepository) DeleteUnredeemed(_ context.Context, promoCodeID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	row, ok := r.store.promoCodes[promoCodeID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if row.RedemptionCount > 0 {
		return false, nil
	}
	delete(r.store.promoCodes, promoCodeID)
	return true, nil
}

func (r *PromoCodeRepository) Disable(_ context.Context, promoCodeID string, at time.Time) (domain.PromoCode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	row, ok := r.store.promoCodes[promoCodeID]
	if !ok {
		return domain.PromoCode{}, domain.ErrNotFound
	}
	row.Status = domain.PromoCodeStatusDisabled
	row.UpdatedAt = at
	r.store.promoCodes[promoCodeID] = row
	return row, nil
}

func (r *PromoCodeRepository) IncrementRedemptions(_ context.Context, code, eventID string, at time.Time) (domain.PromoCode, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, row := range r.store.promoCodes {
		if row.Code != code {
			continue
		}
		if _, seen := r.store.redemptions[eventID]; seen {
			return row, false, nil
		}
		r.store.redemptions[eventID] = code
		row.RedemptionCount++
		row.UpdatedAt = at
		r.store.promoCodes[id] = row
		return row, true, nil
	}
	return domain.PromoCode{}, false, domain.ErrNotFound
}

type LedgerRepository struct{ store *Store }

func (r *LedgerRepository) Accrue(_ context.Context, row domain.LedgerEntry) (domain.LedgerEntry, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.ledger {
		if existing.AffiliateID == row.AffiliateID && existing.SourceRef == row.SourceRef {
			return existing, false, nil
		}
	}
	r.store.ledger = append(r.store.ledger, row)
	return row, true, nil
}

func (r *LedgerRepository) ListAvailable(_ context.Context, now time.Time) ([]domain.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.LedgerEntry, 0)
	for _, row := range r.store.ledger {
		if row.Payable(now) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *LedgerRepository) ListByAffiliateID(_ context.Context, affiliateID string) ([]domain.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.LedgerEntry, 0)
	for _, row := range r.store.ledger {
		if row.AffiliateID == affiliateID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *LedgerRepository) VoidBySource(_ context.Context, sourceRef string, at time.Time) ([]domain.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.LedgerEntry, 0)
	for i, row := range r.store.ledger {
		if row.SourceRef != sourceRef || !row.Status.Open() {
			continue
		}
		voidedAt := at
		row.Status = domain.LedgerStatusVoid
		row.VoidedAt = &voidedAt
		r.store.ledger[i] = row
		out = append(out, row)
	}
	return out, nil
}

// Entries returns a copy of every ledger row.
func (r *LedgerRepository) Entries() []domain.LedgerEntry {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return append([]domain.LedgerEntry(nil), r.store.ledger...)
}

type PayoutRepository struct{ store *Store }

func (r *PayoutRepository) LastSent(_ context.Context, affiliateID string) (*domain.AffiliatePayout, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var last *domain.AffiliatePayout
	for i := range r.store.payouts {
		p := r.store.payouts[i]
		if p.AffiliateID != affiliateID || p.Status != domain.PayoutStatusSent {
			continue
		}
		if last == nil || p.PeriodEnd.After(last.PeriodEnd) {
			last = &p
		}
	}
	return last, nil
}

func (r *PayoutRepository) ReservePending(_ context.Context, payout domain.AffiliatePayout) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if len(payout.EntryIDs) == 0 {
		return fmt.Errorf("%w: payout without entries", domain.ErrInvalidInput)
	}
	for _, existing := range r.store.payouts {
		if existing.IdempotencyKey == payout.IdempotencyKey {
			return fmt.Errorf("%w: payout %s already recorded", domain.ErrConflict, payout.IdempotencyKey)
		}
		if existing.AffiliateID == payout.AffiliateID && existing.Status == domain.PayoutStatusPending {
			return fmt.Errorf("%w: affiliate %s already has pending payout %s", domain.ErrConflict, payout.AffiliateID, existing.PayoutID)
		}
	}
	open := r.store.openEntries(payout.AffiliateID, payout.EntryIDs)
	var sum int64
	for _, i := range open {
		sum += r.store.ledger[i].AmountCents
	}
	if len(open) != len(payout.EntryIDs) || sum != payout.AmountCents {
		return fmt.Errorf("%w: %d of %d entries open for %d cents, reserving %d", domain.ErrSettlementMismatch, len(open), len(payout.EntryIDs), sum, payout.AmountCents)
	}
	payout.Status = domain.PayoutStatusPending
	payout.EntryIDs = append([]string(nil), payout.EntryIDs...)
	payout.EntryCount = len(payout.EntryIDs)
	r.store.payouts = append(r.store.payouts, payout)
	return nil
}

func (r *PayoutRepository) ListPending(_ context.Context) ([]domain.AffiliatePayout, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.AffiliatePayout, 0)
	for _, row := range r.store.payouts {
		if row.Status != domain.PayoutStatusPending {
			continue
		}
		row.EntryIDs = append([]string(nil), row.EntryIDs...)
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AffiliateID < out[j].AffiliateID })
	return out, nil
}

func (r *PayoutRepository) FailPending(_ context.Context, payoutID string, _ time.Time) (domain.AffiliatePayout, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i, row := range r.store.payouts {
		if row.PayoutID == payoutID && row.Status == domain.PayoutStatusPending {
			row.Status = domain.PayoutStatusFailed
			r.store.payouts[i] = row
			return row, nil
		}
	}
	return domain.AffiliatePayout{}, domain.ErrNotFound
}

func (r *PayoutRepository) CommitSettlement(_ context.Context, payout domain.AffiliatePayout, entryIDs []string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	pending := -1
	for i, existing := range r.store.payouts {
		if existing.PayoutID == payout.PayoutID && existing.Status == domain.PayoutStatusPending {
			pending = i
			continue
		}
		if existing.IdempotencyKey == payout.IdempotencyKey {
			return fmt.Errorf("%w: payout %s already recorded", domain.ErrConflict, payout.IdempotencyKey)
		}
	}
	open := r.store.openEntries(payout.AffiliateID, entryIDs)
	var flipped int64
	for _, i := range open {
		flipped += r.store.ledger[i].AmountCents
	}
	if flipped != payout.AmountCents {
		return fmt.Errorf("%w: flipped %d cents, transferred %d", domain.ErrSettlementMismatch, flipped, payout.AmountCents)
	}
	paidAt := payout.CreatedAt
	for _, i := range open {
		row := r.store.ledger[i]
		row.Status = domain.LedgerStatusPaid
		row.PayoutID = payout.PayoutID
		row.PaidAt = &paidAt
		r.store.ledger[i] = row
	}
	payout.Status = domain.PayoutStatusSent
	payout.EntryCount = len(open)
	payout.EntryIDs = append([]string(nil), entryIDs...)
	if pending >= 0 {
		r.store.payouts[pending] = payout
		return nil
	}
	r.store.payouts = append(r.store.payouts, payout)
	return nil
}

// openEntries returns ledger indexes of ids that belong to affiliateID and are
// still open. Callers hold the store lock.
func (s *Store) openEntries(affiliateID string, ids []string) []int {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]int, 0, len(ids))
	for i, row := range s.ledger {
		if _, ok := wanted[row.EntryID]; ok && row.AffiliateID == affiliateID && row.Status.Open() {
			out = append(out, i)
		}
	}
	return out
}

func (r *PayoutRepository) List(_ context.Context, q ports.PayoutQuery) ([]domain.AffiliatePayout, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.AffiliatePayout, 0)
	for _, row := range r.store.payouts {
		if q.AffiliateID != "" && row.AffiliateID != q.AffiliateID {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type IdempotencyRepository struct{ store *Store }

func (r *IdempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.idempotency[key]
	if !ok || now.After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if rec, ok := r.store.idempotency[key]; ok && rec.RequestHash != requestHash && time.Now().Before(rec.ExpiresAt) {
		return domain.ErrIdempotencyConflict
	}
	r.store.idempotency[key] = ports.IdempotencyRecord{Key: key, RequestHash: requestHash, ExpiresAt: expiresAt}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, _ time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.idempotency[key]
	if !ok {
		return domain.ErrNotFound
	}
	rec.ResponseCode = responseCode
	rec.ResponseBody = append([]byte(nil), responseBody...)
	r.store.idempotency[key] = rec
	return nil
}

type EventDedupRepository struct{ store *Store }

func (r *EventDedupRepository) IsDuplicate(_ context.Context, eventID string, now time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	expiresAt, ok := r.store.dedup[eventID]
	return ok && now.Before(expiresAt), nil
}

func (r *EventDedupRepository) MarkProcessed(_ context.Context, eventID, _ string, expiresAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.dedup[eventID] = expiresAt
	return nil
}

type OutboxRepository struct{ store *Store }

func (r *OutboxRepository) Enqueue(_ context.Context, record ports.OutboxRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.outbox = append(r.store.outbox, record)
	return nil
}

func (r *OutboxRepository) ListPending(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]ports.OutboxRecord, 0)
	for _, rec := range r.store.outbox {
		if rec.SentAt != nil {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, recordID string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := range r.store.outbox {
		if r.store.outbox[i].RecordID == recordID {
			sentAt := at
			r.store.outbox[i].SentAt = &sentAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *OutboxRepository) MarkFailed(_ context.Context, recordID, errMsg string, _ time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := range r.store.outbox {
		if r.store.outbox[i].RecordID == recordID {
			r.store.outbox[i].RetryCount++
			r.store.outbox[i].LastError = errMsg
			return nil
		}
	}
	return domain.ErrNotFound
}

// Snapshot returns a copy of every payout row, pending ones included.
func (r *PayoutRepository) Snapshot() []domain.AffiliatePayout {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return append([]domain.AffiliatePayout(nil), r.store.payouts...)
}

// EventTypes lists enqueued event types in order.
func (r *OutboxRepository) EventTypes() []string {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]string, 0, len(r.store.outbox))
	for _, rec := range r.store.outbox {
		out = append(out, rec.EventType)
	}
	return out
}
