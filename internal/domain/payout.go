package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type PayoutStatus string

const (
	// PayoutStatusPending marks a reserved snapshot whose transfer has not
	// been confirmed yet. Retries reuse its idempotency key and entry ids.
	PayoutStatusPending PayoutStatus = "PENDING"
	PayoutStatusSent    PayoutStatus = "SENT"
	PayoutStatusFailed  PayoutStatus = "FAILED"
)

type AffiliatePayout struct {
	PayoutID       string       `json:"payout_id"`
	AffiliateID    string       `json:"affiliate_id"`
	AmountCents    int64        `json:"amount_cents"`
	Currency       string       `json:"currency"`
	Status         PayoutStatus `json:"status"`
	TransferRef    string       `json:"transfer_ref"`
	IdempotencyKey string       `json:"idempotency_key"`
	PeriodStart    time.Time    `json:"period_start"`
	PeriodEnd      time.Time    `json:"period_end"`
	EntryCount     int          `json:"entry_count"`
	EntryIDs       []string     `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
}

// PeriodGranularity separates consecutive settlement periods.
const PeriodGranularity = time.Second

// SettlementPeriod returns the window covered by a payout made at now.
// Periods are contiguous: a new period starts one unit after the last sent one.
func SettlementPeriod(lastSent *AffiliatePayout, now time.Time, lookback time.Duration) (time.Time, time.Time) {
	end := now.UTC().Truncate(PeriodGranularity)
	if lastSent != nil && !lastSent.PeriodEnd.IsZero() {
		return lastSent.PeriodEnd.UTC().Add(PeriodGranularity), end
	}
	return end.Add(-lookback), end
}

// TransferIdempotencyKey is stable for an affiliate and period so a retried
// run cannot create a second transfer.
func TransferIdempotencyKey(affiliateID string, start, end time.Time) string {
	raw := fmt.Sprintf("%s|%d|%d", affiliateID, start.UTC().Unix(), end.UTC().Unix())
	h := sha256.Sum256([]byte(raw))
	return "affpayout_" + hex.EncodeToString(h[:16])
}

type SkipReason string

const (
	SkipBelowThreshold        SkipReason = "below_minimum_payout"
	SkipNoPayoutAccount       SkipReason = "payout_account_missing"
	SkipPayoutAccountNotReady SkipReason = "payout_account_not_ready"
	SkipAffiliateUnknown      SkipReason = "affiliate_not_found"
	SkipPeriodNotElapsed      SkipReason = "period_not_elapsed"
	SkipPayoutPending         SkipReason = "payout_pending"
)

// PayoutGroup is one affiliate's slice of a run snapshot.
type PayoutGroup struct {
	AffiliateID string
	EntryIDs    []string
	TotalCents  int64
}

// Eligibility decides whether a group may be settled. A zero reason means eligible.
func Eligibility(group PayoutGroup, aff *Affiliate, minimumCents int64) SkipReason {
	if group.TotalCents < minimumCents {
		return SkipBelowThreshold
	}
	if aff == nil {
		return SkipAffiliateUnknown
	}
	if aff.PayoutAccountRef == "" {
		return SkipNoPayoutAccount
	}
	if !aff.PayoutAccountReady {
		return SkipPayoutAccountNotReady
	}
	return ""
}
