package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

const referralCachePrefix = "affiliate:referral:"

// ResolveAffiliate maps a referral code to an active affiliate id. It never writes
// to the ledger.
func (s *Service) ResolveAffiliate(ctx context.Context, code string) (string, error) {
	code = domain.NormalizeReferralCode(code)
	if err := domain.ValidateReferralCode(code); err != nil {
		return "", err
	}
	if s.referralCache != nil {
		if id, ok, err := s.referralCache.Get(ctx, referralCachePrefix+code); err == nil && ok && id != "" {
			return id, nil
		}
	}
	aff, err := s.affiliates.GetByReferralCode(ctx, code)
	if err != nil {
		return "", err
	}
	if !aff.IsActive() {
		return "", domain.ErrNotFound
	}
	if s.referralCache != nil {
		_ = s.referralCache.Set(ctx, referralCachePrefix+code, aff.AffiliateID, s.cfg.ReferralCacheTTL)
	}
	return aff.AffiliateID, nil
}

// CreateAttribution is the operator path for manual attributions.
func (s *Service) CreateAttribution(ctx context.Context, actor Actor, in CreateAttributionInput) (domain.Attribution, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.Attribution{}, domain.ErrUnauthorized
	}
	if !isAdmin(actor) {
		return domain.Attribution{}, domain.ErrForbidden
	}
	if strings.TrimSpace(actor.IdempotencyKey) == "" {
		return domain.Attribution{}, domain.ErrIdempotencyRequired
	}
	in.UserID = strings.TrimSpace(in.UserID)
	in.AffiliateID = strings.TrimSpace(in.AffiliateID)
	if in.Source == "" {
		in.Source = string(domain.AttributionSourceManual)
	}
	attrType, err := domain.ParseAttributionType(in.Type)
	if err != nil {
		return domain.Attribution{}, err
	}
	source, err := domain.ParseAttributionSource(in.Source)
	if err != nil {
		return domain.Attribution{}, err
	}
	requestHash := hashJSON(map[string]any{"op": "create_attribution", "actor": actor.SubjectID, "user_id": in.UserID, "affiliate_id": in.AffiliateID, "type": attrType, "source": source})
	if raw, ok, err := s.getIdempotent(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return domain.Attribution{}, err
	} else if ok {
		var out domain.Attribution
		if json.Unmarshal(raw, &out) == nil {
			return out, nil
		}
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return domain.Attribution{}, err
	}
	row, err := s.createAttribution(ctx, in.UserID, in.AffiliateID, attrType, source, actor.RequestID)
	if err != nil {
		return domain.Attribution{}, err
	}
	_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 201, row)
	return row, nil
}

// SignupAttribution links the calling user to the affiliate behind a referral
// or promo code.
func (s *Service) SignupAttribution(ctx context.Context, actor Actor, in SignupAttributionInput) (domain.Attribution, error) {
	userID := strings.TrimSpace(actor.SubjectID)
	if userID == "" {
		return domain.Attribution{}, domain.ErrUnauthorized
	}
	if in.Type == "" {
		in.Type = string(domain.AttributionTypeUserSignup)
	}
	attrType, err := domain.ParseAttributionType(in.Type)
	if err != nil {
		return domain.Attribution{}, err
	}
	var (
		affiliateID string
		source      domain.AttributionSource
	)
	switch {
	case strings.TrimSpace(in.ReferralCode) != "":
		affiliateID, err = s.ResolveAffiliate(ctx, in.ReferralCode)
		source = domain.AttributionSourceOrganic
	case strings.TrimSpace(in.PromoCode) != "":
		var promo domain.PromoCode
		promo, err = s.ApplyPromoCode(ctx, in.PromoCode)
		affiliateID = promo.AffiliateID
		source = domain.AttributionSourcePromoCode
	default:
		return domain.Attribution{}, fmt.Errorf("%w: referral_code or promo_code is required", domain.ErrInvalidInput)
	}
	if err != nil {
		return domain.Attribution{}, err
	}
	return s.createAttribution(ctx, userID, affiliateID, attrType, source, actor.RequestID)
}

func (s *Service) createAttribution(ctx context.Context, userID, affiliateID string, attrType domain.AttributionType, source domain.AttributionSource, traceID string) (domain.Attribution, error) {
	if userID == "" || affiliateID == "" {
		return domain.Attribution{}, fmt.Errorf("%w: user_id and affiliate_id are required", domain.ErrInvalidInput)
	}
	now := s.nowFn()
	row := domain.Attribution{
		AttributionID: "attr_" + uuid.NewString(),
		UserID:        userID,
		AffiliateID:   affiliateID,
		Type:          attrType,
		Source:        source,
		CreatedAt:     now,
		EndsAt:        now.Add(s.cfg.AttributionWindow),
	}
	created, err := s.attributions.CreateExclusive(ctx, row, func(aff domain.Affiliate) error {
		return domain.CheckAttributable(aff, userID)
	})
	if err != nil {
		var conflict *domain.AttributionConflict
		if errors.As(err, &conflict) {
			s.logger.InfoContext(ctx, "attribution already active",
				"module", "application.attribution",
				"layer", "application",
				"operation", "create_attribution",
				"outcome", "conflict",
				"affiliate_id", affiliateID,
				"existing_attribution_id", conflict.Existing.AttributionID,
			)
		}
		return domain.Attribution{}, err
	}
	_ = s.enqueueEvent(ctx, domain.EventAffiliateAttributionCreated, traceID, contracts.AttributionCreatedPayload{
		AttributionID: created.AttributionID,
		AffiliateID:   created.AffiliateID,
		UserID:        created.UserID,
		Type:          string(created.Type),
		Source:        string(created.Source),
		EndsAt:        created.EndsAt.UTC().Format(time.RFC3339),
	}, created.AffiliateID, now)
	return created, nil
}

func (s *Service) ListAttributions(ctx context.Context, actor Actor, filter AttributionFilter) ([]domain.Attribution, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return nil, domain.ErrUnauthorized
	}
	if !isAdmin(actor) {
		return nil, domain.ErrForbidden
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	return s.attributions.List(ctx, ports.AttributionQuery{
		UserID:      strings.TrimSpace(filter.UserID),
		AffiliateID: strings.TrimSpace(filter.AffiliateID),
		Limit:       limit,
	})
}

// UpsertAffiliate is the operator seeding path; it enforces the depth-1 hierarchy.
func (s *Service) UpsertAffiliate(ctx context.Context, actor Actor, in UpsertAffiliateInput) (domain.Affiliate, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.Affiliate{}, domain.ErrUnauthorized
	}
	if !isAdmin(actor) {
		return domain.Affiliate{}, domain.ErrForbidden
	}
	status, err := domain.ParseAffiliateStatus(in.Status)
	if err != nil {
		return domain.Affiliate{}, err
	}
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return domain.Affiliate{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	code := domain.NormalizeReferralCode(in.ReferralCode)
	if err := domain.ValidateReferralCode(code); err != nil {
		return domain.Affiliate{}, err
	}
	now := s.nowFn()
	row := domain.Affiliate{
		AffiliateID:        strings.TrimSpace(in.AffiliateID),
		UserID:             in.UserID,
		Status:             status,
		ReferralCode:       code,
		PayoutAccountRef:   strings.TrimSpace(in.PayoutAccountRef),
		PayoutAccountReady: in.PayoutAccountReady,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	var previousCode string
	if row.AffiliateID == "" {
		row.AffiliateID = "aff_" + uuid.NewString()
	} else if existing, err := s.affiliates.GetByID(ctx, row.AffiliateID); err == nil {
		row.CreatedAt = existing.CreatedAt
		previousCode = existing.ReferralCode
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Affiliate{}, err
	}
	if in.ParentAffiliateID != nil && strings.TrimSpace(*in.ParentAffiliateID) != "" {
		parentID := strings.TrimSpace(*in.ParentAffiliateID)
		row.ParentAffiliateID = &parentID
		var parent *domain.Affiliate
		if p, err := s.affiliates.GetByID(ctx, parentID); err == nil {
			parent = &p
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.Affiliate{}, err
		}
		hasChildren, err := s.affiliates.HasChildren(ctx, row.AffiliateID)
		if err != nil {
			return domain.Affiliate{}, err
		}
		if err := domain.ValidateHierarchy(row, parent, hasChildren); err != nil {
			return domain.Affiliate{}, err
		}
	}
	if err := s.affiliates.Upsert(ctx, row); err != nil {
		return domain.Affiliate{}, err
	}
	if s.referralCache != nil {
		keys := []string{referralCachePrefix + row.ReferralCode}
		if previousCode != "" && previousCode != row.ReferralCode {
			keys = append(keys, referralCachePrefix+previousCode)
		}
		if err := s.referralCache.Delete(ctx, keys...); err != nil {
			s.logger.WarnContext(ctx, "referral cache eviction failed",
				"module", "application.attribution",
				"layer", "application",
				"operation", "upsert_affiliate",
				"outcome", "degraded",
				"affiliate_id", row.AffiliateID,
				"error", err,
			)
		}
	}
	return row, nil
}
