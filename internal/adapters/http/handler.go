package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

type Handler struct{ service *application.Service }

func NewHandler(service *application.Service) *Handler { return &Handler{service: service} }

func (h *Handler) resolveReferral(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	affiliateID, err := h.service.ResolveAffiliate(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.ResolveReferralResponse{
		Code:        domain.NormalizeReferralCode(code),
		AffiliateID: affiliateID,
	})
}

func (h *Handler) createAttribution(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateAttributionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	row, err := h.service.CreateAttribution(r.Context(), actorFromContext(r.Context()), application.CreateAttributionInput{
		UserID:      req.UserID,
		AffiliateID: req.AffiliateID,
		Type:        req.Type,
		Source:      req.Source,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toAttributionResponse(row, time.Now().UTC()))
}

func (h *Handler) signupAttribution(w http.ResponseWriter, r *http.Request) {
	var req contracts.SignupAttributionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	row, err := h.service.SignupAttribution(r.Context(), actorFromContext(r.Context()), application.SignupAttributionInput{
		ReferralCode: req.ReferralCode,
		PromoCode:    req.PromoCode,
		Type:         req.Type,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toAttributionResponse(row, time.Now().UTC()))
}

func (h *Handler) listAttributions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListAttributions(r.Context(), actorFromContext(r.Context()), application.AttributionFilter{
		UserID:      r.URL.Query().Get("user_id"),
		AffiliateID: r.URL.Query().Get("affiliate_id"),
		Limit:       limit,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	now := time.Now().UTC()
	items := make([]contracts.AttributionResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, toAttributionResponse(row, now))
	}
	writeSuccess(w, http.StatusOK, contracts.AttributionListResponse{Items: items})
}

func (h *Handler) upsertAffiliate(w http.ResponseWriter, r *http.Request) {
	var req contracts.UpsertAffiliateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	row, err := h.service.UpsertAffiliate(r.Context(), actorFromContext(r.Context()), application.UpsertAffiliateInput{
		AffiliateID:        chi.URLParam(r, "affiliate_id"),
		UserID:             req.UserID,
		Status:             req.Status,
		ParentAffiliateID:  req.ParentAffiliateID,
		ReferralCode:       req.ReferralCode,
		PayoutAccountRef:   req.PayoutAccountRef,
		PayoutAccountReady: req.PayoutAccountReady,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.AffiliateResponse{
		AffiliateID:        row.AffiliateID,
		UserID:             row.UserID,
		Status:             string(row.Status),
		ParentAffiliateID:  row.ParentAffiliateID,
		ReferralCode:       row.ReferralCode,
		PayoutAccountRef:   row.PayoutAccountRef,
		PayoutAccountReady: row.PayoutAccountReady,
		Tier:               string(domain.TierOf(row)),
		UpdatedAt:          row.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) createPromoCode(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreatePromoCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	startsAt, err := parseOptionalTime("starts_at", req.StartsAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	endsAt, err := parseOptionalTime("ends_at", req.EndsAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	row, err := h.service.CreatePromoCode(r.Context(), actorFromContext(r.Context()), application.CreatePromoCodeInput{
		AffiliateID:      chi.URLParam(r, "affiliate_id"),
		Code:             req.Code,
		DiscountSharePct: req.DiscountSharePct,
		StartsAt:         startsAt,
		EndsAt:           endsAt,
		MaxRedemptions:   req.MaxRedemptions,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toPromoCodeResponse(row))
}

func (h *Handler) updatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req contracts.UpdatePromoCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	endsAt, err := parseOptionalTime("ends_at", req.EndsAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	row, err := h.service.UpdatePromoCode(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "promo_code_id"), application.UpdatePromoCodeInput{
		DiscountSharePct: req.DiscountSharePct,
		EndsAt:           endsAt,
		MaxRedemptions:   req.MaxRedemptions,
		Status:           req.Status,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toPromoCodeResponse(row))
}

func (h *Handler) deletePromoCode(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.DeletePromoCode(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "promo_code_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.DeletePromoCodeResponse{
		PromoCodeID: out.PromoCodeID,
		Action:      string(out.Action),
	})
}

func (h *Handler) listPromoCodes(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListPromoCodes(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "affiliate_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]contracts.PromoCodeResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, toPromoCodeResponse(row))
	}
	writeSuccess(w, http.StatusOK, contracts.PromoCodeListResponse{Items: items})
}

// validatePromoCode answers the checkout question "can this code be applied
// now". A code that exists but is not redeemable is reported as invalid
// rather than as an error.
func (h *Handler) validatePromoCode(w http.ResponseWriter, r *http.Request) {
	code := domain.NormalizePromoCode(chi.URLParam(r, "code"))
	row, err := h.service.ApplyPromoCode(r.Context(), code)
	switch {
	case err == nil:
		writeSuccess(w, http.StatusOK, contracts.ValidatePromoCodeResponse{
			Code:             row.Code,
			AffiliateID:      row.AffiliateID,
			DiscountSharePct: row.DiscountSharePct,
			Valid:            true,
		})
	case errors.Is(err, domain.ErrInvalidInput) && code != "":
		writeJSON(w, http.StatusOK, contracts.SuccessResponse{Status: "success", Data: map[string]any{
			"code":   code,
			"valid":  false,
			"reason": err.Error(),
		}})
	default:
		writeDomainError(w, err)
	}
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.service.Balance(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "affiliate_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.BalanceResponse{
		AffiliateID:    bal.AffiliateID,
		Currency:       h.service.Config().PayoutCurrency,
		PendingCents:   bal.PendingCents,
		AvailableCents: bal.AvailableCents,
		PaidCents:      bal.PaidCents,
		Available:      decimal.New(bal.AvailableCents, -2).StringFixed(2),
	})
}

func (h *Handler) createAccrual(w http.ResponseWriter, r *http.Request) {
	var req contracts.AccrualRequest
	if !decodeBody(w, r, &req) {
		return
	}
	row, created, err := h.service.AccrueAsOperator(r.Context(), actorFromContext(r.Context()), application.AccrueInput{
		AffiliateID:   req.AffiliateID,
		AmountCents:   req.AmountCents,
		SourceRef:     req.SourceRef,
		AttributionID: req.AttributionID,
		HoldbackDays:  req.HoldbackDays,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeSuccess(w, status, contracts.LedgerEntryResponse{
		EntryID:     row.EntryID,
		AffiliateID: row.AffiliateID,
		AmountCents: row.AmountCents,
		Status:      string(row.EffectiveStatus(time.Now().UTC())),
		AvailableAt: row.AvailableAt.UTC().Format(time.RFC3339),
		SourceRef:   row.SourceRef,
		Created:     created,
	})
}

func (h *Handler) runPayouts(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.TriggerPayoutRun(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := contracts.PayoutRunResponse{
		RunID:     out.RunID,
		Processed: out.Processed,
		Skipped:   out.Skipped,
		Failed:    out.Failed,
		PaidCents: out.PaidCents,
	}
	for _, skip := range out.Skips {
		resp.Skips = append(resp.Skips, contracts.PayoutSkipResponse{
			AffiliateID: skip.AffiliateID,
			Reason:      string(skip.Reason),
			TotalCents:  skip.TotalCents,
		})
	}
	for _, failure := range out.Errors {
		resp.Errors = append(resp.Errors, contracts.PayoutErrorResponse{AffiliateID: failure.AffiliateID, Error: failure.Error})
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (h *Handler) listPayouts(w http.ResponseWriter, r *http.Request) {
	h.writePayouts(w, r, r.URL.Query().Get("affiliate_id"))
}

func (h *Handler) listAffiliatePayouts(w http.ResponseWriter, r *http.Request) {
	h.writePayouts(w, r, chi.URLParam(r, "affiliate_id"))
}

func (h *Handler) writePayouts(w http.ResponseWriter, r *http.Request, affiliateID string) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListPayouts(r.Context(), actorFromContext(r.Context()), affiliateID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]contracts.PayoutResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, contracts.PayoutResponse{
			PayoutID:    row.PayoutID,
			AffiliateID: row.AffiliateID,
			AmountCents: row.AmountCents,
			Currency:    row.Currency,
			Status:      string(row.Status),
			TransferRef: row.TransferRef,
			PeriodStart: row.PeriodStart.UTC().Format(time.RFC3339),
			PeriodEnd:   row.PeriodEnd.UTC().Format(time.RFC3339),
			EntryCount:  row.EntryCount,
			CreatedAt:   row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeSuccess(w, http.StatusOK, contracts.PayoutListResponse{Items: items})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json body")
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func parseOptionalTime(field string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrInvalidInput, field)
	}
	t = t.UTC()
	return &t, nil
}

func toAttributionResponse(row domain.Attribution, now time.Time) contracts.AttributionResponse {
	return contracts.AttributionResponse{
		AttributionID: row.AttributionID,
		UserID:        row.UserID,
		AffiliateID:   row.AffiliateID,
		Type:          string(row.Type),
		Source:        string(row.Source),
		CreatedAt:     row.CreatedAt.UTC().Format(time.RFC3339),
		EndsAt:        row.EndsAt.UTC().Format(time.RFC3339),
		Active:        row.IsActive(now),
	}
}

func toPromoCodeResponse(row domain.PromoCode) contracts.PromoCodeResponse {
	out := contracts.PromoCodeResponse{
		PromoCodeID:      row.PromoCodeID,
		AffiliateID:      row.AffiliateID,
		Code:             row.Code,
		DiscountSharePct: row.DiscountSharePct,
		StartsAt:         row.StartsAt.UTC().Format(time.RFC3339),
		MaxRedemptions:   row.MaxRedemptions,
		RedemptionCount:  row.RedemptionCount,
		Status:           string(row.Status),
	}
	if row.EndsAt != nil {
		ends := row.EndsAt.UTC().Format(time.RFC3339)
		out.EndsAt = &ends
	}
	return out
}
