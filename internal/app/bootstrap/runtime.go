package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/jobs"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/metrics"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/adapters/transfer"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg     Config
	logger  *slog.Logger
	service *application.Service
	metrics *metrics.Collector

	verifier  ports.TokenVerifier
	readiness func(ctx context.Context) error

	outbox    *eventadapter.OutboxWorker
	consumer  *eventadapter.ConsumerWorker
	scheduler *jobs.PayoutScheduler

	closers []func() error
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return NewRuntimeFromConfig(ctx, cfg)
}

// NewRuntimeFromConfig wires every adapter. Postgres, Redis, Kafka and Stripe
// are each optional: without them the runtime falls back to in-memory
// storage, logging publishers and no transfer client. The payout run lock is
// Redis when configured, else a Postgres advisory lock, else process-local.
func NewRuntimeFromConfig(ctx context.Context, cfg Config) (*Runtime, error) {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	rt := &Runtime{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}
	var checks []func(context.Context) error

	deps := application.Dependencies{
		Config: application.Config{
			ServiceName:         cfg.ServiceID,
			AttributionWindow:   cfg.AttributionWindow,
			DefaultHoldbackDays: cfg.DefaultHoldbackDays,
			MinimumPayoutCents:  cfg.MinimumPayoutCents,
			PayoutCurrency:      cfg.PayoutCurrency,
			PayoutLookback:      cfg.PayoutLookback,
			TransferTimeout:     cfg.TransferTimeout,
			CommitTimeout:       cfg.CommitTimeout,
			RunLockTTL:          cfg.RunLockTTL,
			ReferralCacheTTL:    cfg.ReferralCacheTTL,
			IdempotencyTTL:      cfg.IdempotencyTTL,
			EventDedupTTL:       cfg.EventDedupTTL,
		},
		Logger:  logger,
		Metrics: rt.metrics,
	}

	var outboxRepo ports.OutboxRepository
	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := postgres.MigrateUp(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, sqlDB.Close)
		checks = append(checks, sqlDB.PingContext)

		repos := postgres.NewRepositories(db)
		deps.Affiliates, deps.Attributions, deps.PromoCodes = repos.Affiliates, repos.Attributions, repos.PromoCodes
		deps.Ledger, deps.Payouts = repos.Ledger, repos.Payouts
		deps.Idempotency, deps.EventDedup, deps.Outbox = repos.Idempotency, repos.EventDedup, repos.Outbox
		deps.RunLock = postgres.NewAdvisoryRunLock(db)
		outboxRepo = repos.Outbox
	} else {
		logger.WarnContext(ctx, "DATABASE_URL not set, using in-memory storage",
			"module", "bootstrap", "layer", "runtime", "operation", "storage", "outcome", "fallback")
		repos := memory.NewRepositories(memory.NewStore())
		deps.Affiliates, deps.Attributions, deps.PromoCodes = repos.Affiliates, repos.Attributions, repos.PromoCodes
		deps.Ledger, deps.Payouts = repos.Ledger, repos.Payouts
		deps.Idempotency, deps.EventDedup, deps.Outbox = repos.Idempotency, repos.EventDedup, repos.Outbox
		outboxRepo = repos.Outbox
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		checks = append(checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		deps.ReferralCache = cache.NewRedisCache(client)
		deps.RunLock = cache.NewRedisRunLock(client)
	} else if deps.RunLock == nil {
		logger.WarnContext(ctx, "REDIS_URL and DATABASE_URL not set, payout run lock is process-local",
			"module", "bootstrap", "layer", "runtime", "operation", "cache", "outcome", "fallback")
	}

	if cfg.StripeSecretKey != "" {
		client, err := transfer.NewStripeTransferClient(cfg.StripeSecretKey)
		if err != nil {
			rt.Close()
			return nil, err
		}
		deps.Transfers = client
	} else {
		logger.WarnContext(ctx, "STRIPE_SECRET_KEY not set, payout runs will be rejected",
			"module", "bootstrap", "layer", "runtime", "operation", "transfer", "outcome", "fallback")
	}

	if cfg.SchedulerSecretHash != "" {
		deps.Secrets = security.NewBcryptSecretVerifier(cfg.SchedulerSecretHash)
	}
	if cfg.JWTSecret != "" {
		verifier, err := security.NewHMACTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.verifier = verifier
	}

	rt.service = application.NewService(deps)
	rt.readiness = func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
			}
		}
		return nil
	}

	if err := rt.wireEvents(ctx, outboxRepo); err != nil {
		rt.Close()
		return nil, err
	}
	rt.scheduler = jobs.NewPayoutScheduler(logger, rt.service, cfg.PayoutInterval)
	return rt, nil
}

func (r *Runtime) wireEvents(ctx context.Context, outboxRepo ports.OutboxRepository) error {
	publisher := ports.EventPublisher(eventadapter.NewLoggingPublisher(r.logger))
	consumer := eventadapter.Consumer(eventadapter.NewNoopConsumer())
	if len(r.cfg.KafkaBrokers) > 0 {
		topics := map[string]string{}
		if r.cfg.KafkaTopicSettlementEvents != "" {
			for _, eventType := range []string{
				domain.EventAffiliateAttributionCreated,
				domain.EventAffiliateCommissionAccrued,
				domain.EventAffiliateCommissionVoided,
				domain.EventAffiliatePromoCodeChanged,
				domain.EventAffiliatePayoutSent,
				domain.EventAffiliatePayoutFailed,
				domain.EventAffiliatePayoutRunCompleted,
			} {
				topics[eventType] = r.cfg.KafkaTopicSettlementEvents
			}
		}
		kafkaPublisher, err := eventadapter.NewKafkaPublisher(r.cfg.KafkaBrokers, topics)
		if err != nil {
			r.logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "error", err)
		} else {
			publisher = kafkaPublisher
			r.closers = append(r.closers, kafkaPublisher.Close)
		}
		kafkaConsumer, err := eventadapter.NewKafkaConsumer(r.cfg.KafkaBrokers, r.cfg.KafkaConsumerGroup, []string{
			r.cfg.KafkaTopicCommissionEarned,
			r.cfg.KafkaTopicOrderRefunded,
			r.cfg.KafkaTopicPromoCodeRedeemed,
		})
		if err != nil {
			r.logger.WarnContext(ctx, "kafka consumer disabled, using noop consumer", "error", err)
		} else {
			consumer = kafkaConsumer
			r.closers = append(r.closers, kafkaConsumer.Close)
		}
	}
	r.outbox = eventadapter.NewOutboxWorker(r.logger, outboxRepo, publisher, r.cfg.OutboxPollInterval, r.cfg.OutboxBatchSize)
	r.consumer = eventadapter.NewConsumerWorker(r.logger, consumer, r.service, r.cfg.ConsumerPollInterval)
	return nil
}

func (r *Runtime) Service() *application.Service { return r.service }

func (r *Runtime) Config() Config { return r.cfg }

func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Router builds the public HTTP handler.
func (r *Runtime) Router() http.Handler {
	return httpadapter.NewRouter(httpadapter.NewHandler(r.service), httpadapter.RouterConfig{
		Logger:    r.logger,
		Verifier:  r.verifier,
		Metrics:   r.metrics,
		Readiness: r.readiness,
	})
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.HTTPPort),
		Handler:           r.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer, health := grpcadapter.NewServer(r.logger, r.readiness)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return grpcServer.Serve(lis) })
	g.Go(func() error {
		health.Watch(gctx, r.cfg.ReadinessProbeInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})
	r.logger.InfoContext(ctx, "api started",
		"module", "bootstrap", "layer", "runtime", "operation", "run_api", "outcome", "started",
		"http_port", r.cfg.HTTPPort, "grpc_port", r.cfg.GRPCPort)
	if err := g.Wait(); err != nil {
		r.logger.ErrorContext(ctx, "runtime failure", "error", err)
		return err
	}
	return nil
}

// RunWorker drives the outbox relay, the order event consumer and, when
// enabled, the payout scheduler until ctx ends or one of them fails.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(r.outbox.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(r.consumer.Run(gctx)) })
	if r.cfg.PayoutSchedulerEnabled {
		g.Go(func() error { return ignoreCanceled(r.scheduler.Run(gctx)) })
	}
	return g.Wait()
}

// FlushOutbox publishes pending events once. Used by settlementctl after
// one-shot commands so their events are not stranded.
func (r *Runtime) FlushOutbox(ctx context.Context) (int, error) {
	return r.outbox.Flush(ctx)
}

func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
	r.closers = nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("service", cfg.ServiceID)
}
