package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "affiliate-settlement-service"
	}
	if cfg.AttributionWindow <= 0 {
		cfg.AttributionWindow = 30 * 24 * time.Hour
	}
	if cfg.DefaultHoldbackDays <= 0 {
		cfg.DefaultHoldbackDays = 14
	}
	if cfg.MinimumPayoutCents <= 0 {
		cfg.MinimumPayoutCents = 2000
	}
	if cfg.PayoutCurrency == "" {
		cfg.PayoutCurrency = "usd"
	}
	cfg.PayoutCurrency = strings.ToLower(cfg.PayoutCurrency)
	if cfg.PayoutLookback <= 0 {
		cfg.PayoutLookback = 30 * 24 * time.Hour
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Second
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 15 * time.Second
	}
	if cfg.RunLockTTL <= 0 {
		cfg.RunLockTTL = 15 * time.Minute
	}
	if cfg.ReferralCacheTTL <= 0 {
		cfg.ReferralCacheTTL = 5 * time.Minute
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runLock := deps.RunLock
	if runLock == nil {
		runLock = newProcessRunLock()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:           cfg,
		logger:        logger,
		affiliates:    deps.Affiliates,
		attributions:  deps.Attributions,
		promoCodes:    deps.PromoCodes,
		ledger:        deps.Ledger,
		payouts:       deps.Payouts,
		idempotency:   deps.Idempotency,
		eventDedup:    deps.EventDedup,
		outbox:        deps.Outbox,
		referralCache: deps.ReferralCache,
		runLock:       runLock,
		transfers:     deps.Transfers,
		secrets:       deps.Secrets,
		metrics:       metrics,
		nowFn:         nowFn,
	}
}

func (s *Service) Config() Config { return s.cfg }

func isAdmin(actor Actor) bool { return strings.ToLower(strings.TrimSpace(actor.Role)) == "admin" }

// canTriggerPayouts is the single authorization decision for payout runs.
func (s *Service) canTriggerPayouts(actor Actor) bool {
	if isAdmin(actor) && strings.TrimSpace(actor.SubjectID) != "" {
		return true
	}
	secret := strings.TrimSpace(actor.SchedulerSecret)
	return secret != "" && s.secrets != nil && s.secrets.VerifySecret(secret)
}

func (s *Service) requireOwnerOrAdmin(actor Actor, aff domain.Affiliate) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	if isAdmin(actor) || aff.UserID == actor.SubjectID {
		return nil
	}
	return domain.ErrForbidden
}

func hashJSON(v any) string {
	raw, _ := json.Marshal(v)
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

func (s *Service) getIdempotent(ctx context.Context, key, expectedHash string) ([]byte, bool, error) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil, false, nil
	}
	rec, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil || rec == nil {
		return nil, false, err
	}
	if rec.RequestHash != expectedHash {
		return nil, false, domain.ErrIdempotencyConflict
	}
	if len(rec.ResponseBody) == 0 {
		return nil, false, nil
	}
	return rec.ResponseBody, true, nil
}

func (s *Service) reserveIdempotency(ctx context.Context, key, requestHash string) error {
	if s.idempotency == nil {
		return nil
	}
	return s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL))
}

func (s *Service) completeIdempotencyJSON(ctx context.Context, key string, code int, v any) error {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	raw, _ := json.Marshal(v)
	return s.idempotency.Complete(ctx, key, code, raw, s.nowFn())
}

// processRunLock serves single-instance deployments without Redis or Postgres.
type processRunLock struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func newProcessRunLock() *processRunLock {
	return &processRunLock{held: map[string]time.Time{}}
}

func (l *processRunLock) Acquire(_ context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return nil, domain.ErrRunInProgress
	}
	until := now.Add(ttl)
	l.held[name] = until
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[name].Equal(until) {
			delete(l.held, name)
		}
		return nil
	}, nil
}

type noopMetrics struct{}

func (noopMetrics) ObserveRun(ports.PayoutRunStats) {}
func (noopMetrics) ObserveSkip(string)              {}
func (noopMetrics) ObserveTransfer(string, int64)   {}
