package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceID string
	LogLevel  string

	HTTPPort int
	GRPCPort int

	DatabaseURL  string
	MaxDBConns   int32
	AutoMigrate  bool
	RedisURL     string
	KafkaBrokers []string

	KafkaConsumerGroup          string
	KafkaTopicCommissionEarned  string
	KafkaTopicOrderRefunded     string
	KafkaTopicPromoCodeRedeemed string
	KafkaTopicSettlementEvents  string
	OutboxPollInterval          time.Duration
	OutboxBatchSize             int
	ConsumerPollInterval        time.Duration
	PayoutSchedulerEnabled      bool
	PayoutInterval              time.Duration
	ReadinessProbeInterval      time.Duration

	JWTSecret           string
	JWTIssuer           string
	SchedulerSecretHash string
	StripeSecretKey     string

	AttributionWindow   time.Duration
	DefaultHoldbackDays int
	MinimumPayoutCents  int64
	PayoutCurrency      string
	PayoutLookback      time.Duration
	TransferTimeout     time.Duration
	CommitTimeout       time.Duration
	RunLockTTL          time.Duration
	ReferralCacheTTL    time.Duration
	IdempotencyTTL      time.Duration
	EventDedupTTL       time.Duration
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Storage struct {
		DatabaseURL string `yaml:"database_url"`
		MaxDBConns  int    `yaml:"max_db_conns"`
		AutoMigrate *bool  `yaml:"auto_migrate"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"storage"`
	Kafka struct {
		Brokers       []string `yaml:"brokers"`
		ConsumerGroup string   `yaml:"consumer_group"`
		Topics        struct {
			CommissionEarned  string `yaml:"commission_earned"`
			OrderRefunded     string `yaml:"order_refunded"`
			PromoCodeRedeemed string `yaml:"promo_code_redeemed"`
			SettlementEvents  string `yaml:"settlement_events"`
		} `yaml:"topics"`
	} `yaml:"kafka"`
	Settlement struct {
		AttributionWindowDays int    `yaml:"attribution_window_days"`
		HoldbackDays          int    `yaml:"holdback_days"`
		MinimumPayoutCents    int64  `yaml:"minimum_payout_cents"`
		Currency              string `yaml:"currency"`
		LookbackDays          int    `yaml:"lookback_days"`
		TransferTimeoutSecs   int    `yaml:"transfer_timeout_seconds"`
		CommitTimeoutSecs     int    `yaml:"commit_timeout_seconds"`
		RunLockTTLMinutes     int    `yaml:"run_lock_ttl_minutes"`
		SchedulerEnabled      *bool  `yaml:"scheduler_enabled"`
		IntervalMinutes       int    `yaml:"interval_minutes"`
	} `yaml:"settlement"`
	Runtime struct {
		ReferralCacheTTLSeconds int `yaml:"referral_cache_ttl_seconds"`
		IdempotencyTTLHours     int `yaml:"idempotency_ttl_hours"`
		EventDedupTTLHours      int `yaml:"event_dedup_ttl_hours"`
		OutboxPollSeconds       int `yaml:"outbox_poll_seconds"`
		OutboxBatchSize         int `yaml:"outbox_batch_size"`
		ConsumerPollSeconds     int `yaml:"consumer_poll_seconds"`
		ReadinessProbeSeconds   int `yaml:"readiness_probe_seconds"`
	} `yaml:"runtime"`
	Auth struct {
		JWTIssuer string `yaml:"jwt_issuer"`
	} `yaml:"auth"`
}

// LoadConfig layers defaults, the YAML file at path (optional) and the
// environment, in that order. A .env file in the working directory is loaded
// first when present.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServiceID:                   "affiliate-settlement-service",
		LogLevel:                    "info",
		HTTPPort:                    8080,
		GRPCPort:                    9090,
		MaxDBConns:                  20,
		AutoMigrate:                 true,
		KafkaConsumerGroup:          "affiliate-settlement-service",
		KafkaTopicCommissionEarned:  "order.commission_earned",
		KafkaTopicOrderRefunded:     "order.refunded",
		KafkaTopicPromoCodeRedeemed: "promo_code.redeemed",
		OutboxPollInterval:          2 * time.Second,
		OutboxBatchSize:             100,
		ConsumerPollInterval:        2 * time.Second,
		PayoutSchedulerEnabled:      true,
		PayoutInterval:              24 * time.Hour,
		ReadinessProbeInterval:      10 * time.Second,
		AttributionWindow:           30 * 24 * time.Hour,
		DefaultHoldbackDays:         14,
		MinimumPayoutCents:          2000,
		PayoutCurrency:              "usd",
		PayoutLookback:              30 * 24 * time.Hour,
		TransferTimeout:             30 * time.Second,
		CommitTimeout:               15 * time.Second,
		RunLockTTL:                  15 * time.Minute,
		ReferralCacheTTL:            5 * time.Minute,
		IdempotencyTTL:              7 * 24 * time.Hour,
		EventDedupTTL:               7 * 24 * time.Hour,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.LogLevel != "" {
		cfg.LogLevel = f.Service.LogLevel
	}
	if f.Storage.DatabaseURL != "" {
		cfg.DatabaseURL = f.Storage.DatabaseURL
	}
	if f.Storage.MaxDBConns > 0 {
		cfg.MaxDBConns = int32(f.Storage.MaxDBConns)
	}
	if f.Storage.AutoMigrate != nil {
		cfg.AutoMigrate = *f.Storage.AutoMigrate
	}
	if f.Storage.RedisURL != "" {
		cfg.RedisURL = f.Storage.RedisURL
	}
	if len(f.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Kafka.Brokers)
	}
	if f.Kafka.ConsumerGroup != "" {
		cfg.KafkaConsumerGroup = f.Kafka.ConsumerGroup
	}
	if f.Kafka.Topics.CommissionEarned != "" {
		cfg.KafkaTopicCommissionEarned = f.Kafka.Topics.CommissionEarned
	}
	if f.Kafka.Topics.OrderRefunded != "" {
		cfg.KafkaTopicOrderRefunded = f.Kafka.Topics.OrderRefunded
	}
	if f.Kafka.Topics.PromoCodeRedeemed != "" {
		cfg.KafkaTopicPromoCodeRedeemed = f.Kafka.Topics.PromoCodeRedeemed
	}
	if f.Kafka.Topics.SettlementEvents != "" {
		cfg.KafkaTopicSettlementEvents = f.Kafka.Topics.SettlementEvents
	}
	if f.Settlement.AttributionWindowDays > 0 {
		cfg.AttributionWindow = days(f.Settlement.AttributionWindowDays)
	}
	if f.Settlement.HoldbackDays > 0 {
		cfg.DefaultHoldbackDays = f.Settlement.HoldbackDays
	}
	if f.Settlement.MinimumPayoutCents > 0 {
		cfg.MinimumPayoutCents = f.Settlement.MinimumPayoutCents
	}
	if f.Settlement.Currency != "" {
		cfg.PayoutCurrency = f.Settlement.Currency
	}
	if f.Settlement.LookbackDays > 0 {
		cfg.PayoutLookback = days(f.Settlement.LookbackDays)
	}
	if f.Settlement.TransferTimeoutSecs > 0 {
		cfg.TransferTimeout = time.Duration(f.Settlement.TransferTimeoutSecs) * time.Second
	}
	if f.Settlement.CommitTimeoutSecs > 0 {
		cfg.CommitTimeout = time.Duration(f.Settlement.CommitTimeoutSecs) * time.Second
	}
	if f.Settlement.RunLockTTLMinutes > 0 {
		cfg.RunLockTTL = time.Duration(f.Settlement.RunLockTTLMinutes) * time.Minute
	}
	if f.Settlement.SchedulerEnabled != nil {
		cfg.PayoutSchedulerEnabled = *f.Settlement.SchedulerEnabled
	}
	if f.Settlement.IntervalMinutes > 0 {
		cfg.PayoutInterval = time.Duration(f.Settlement.IntervalMinutes) * time.Minute
	}
	if f.Runtime.ReferralCacheTTLSeconds > 0 {
		cfg.ReferralCacheTTL = time.Duration(f.Runtime.ReferralCacheTTLSeconds) * time.Second
	}
	if f.Runtime.IdempotencyTTLHours > 0 {
		cfg.IdempotencyTTL = time.Duration(f.Runtime.IdempotencyTTLHours) * time.Hour
	}
	if f.Runtime.EventDedupTTLHours > 0 {
		cfg.EventDedupTTL = time.Duration(f.Runtime.EventDedupTTLHours) * time.Hour
	}
	if f.Runtime.OutboxPollSeconds > 0 {
		cfg.OutboxPollInterval = time.Duration(f.Runtime.OutboxPollSeconds) * time.Second
	}
	if f.Runtime.OutboxBatchSize > 0 {
		cfg.OutboxBatchSize = f.Runtime.OutboxBatchSize
	}
	if f.Runtime.ConsumerPollSeconds > 0 {
		cfg.ConsumerPollInterval = time.Duration(f.Runtime.ConsumerPollSeconds) * time.Second
	}
	if f.Runtime.ReadinessProbeSeconds > 0 {
		cfg.ReadinessProbeInterval = time.Duration(f.Runtime.ReadinessProbeSeconds) * time.Second
	}
	if f.Auth.JWTIssuer != "" {
		cfg.JWTIssuer = f.Auth.JWTIssuer
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.MaxDBConns = int32(envInt("MAX_DB_CONNS", int(cfg.MaxDBConns)))
	cfg.AutoMigrate = envBool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaTopicSettlementEvents = envOrDefault("KAFKA_TOPIC_SETTLEMENT_EVENTS", cfg.KafkaTopicSettlementEvents)
	cfg.PayoutSchedulerEnabled = envBool("PAYOUT_SCHEDULER_ENABLED", cfg.PayoutSchedulerEnabled)
	cfg.PayoutInterval = time.Duration(envInt("PAYOUT_INTERVAL_MINUTES", int(cfg.PayoutInterval.Minutes()))) * time.Minute

	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.SchedulerSecretHash = envOrDefault("SCHEDULER_SECRET_HASH", cfg.SchedulerSecretHash)
	cfg.StripeSecretKey = envOrDefault("STRIPE_SECRET_KEY", cfg.StripeSecretKey)

	cfg.AttributionWindow = days(envInt("ATTRIBUTION_WINDOW_DAYS", int(cfg.AttributionWindow/(24*time.Hour))))
	cfg.DefaultHoldbackDays = envInt("HOLDBACK_DAYS", cfg.DefaultHoldbackDays)
	cfg.MinimumPayoutCents = int64(envInt("MINIMUM_PAYOUT_CENTS", int(cfg.MinimumPayoutCents)))
	cfg.PayoutCurrency = strings.ToLower(envOrDefault("PAYOUT_CURRENCY", cfg.PayoutCurrency))
	cfg.PayoutLookback = days(envInt("PAYOUT_LOOKBACK_DAYS", int(cfg.PayoutLookback/(24*time.Hour))))
	cfg.TransferTimeout = time.Duration(envInt("TRANSFER_TIMEOUT_SECONDS", int(cfg.TransferTimeout.Seconds()))) * time.Second
	cfg.CommitTimeout = time.Duration(envInt("COMMIT_TIMEOUT_SECONDS", int(cfg.CommitTimeout.Seconds()))) * time.Second
}

func (c Config) Validate() error {
	var problems []string
	if c.HTTPPort <= 0 || c.GRPCPort <= 0 {
		problems = append(problems, "http and grpc ports must be positive")
	}
	if c.MinimumPayoutCents <= 0 {
		problems = append(problems, "minimum payout must be positive")
	}
	if c.DefaultHoldbackDays < 0 || c.DefaultHoldbackDays > 365 {
		problems = append(problems, "holdback days must be within 0..365")
	}
	if len(c.PayoutCurrency) != 3 {
		problems = append(problems, "payout currency must be an ISO 4217 code")
	}
	if c.AttributionWindow <= 0 || c.PayoutLookback <= 0 {
		problems = append(problems, "attribution window and payout lookback must be positive")
	}
	if c.TransferTimeout <= 0 || c.CommitTimeout <= 0 || c.RunLockTTL <= c.TransferTimeout+c.CommitTimeout {
		problems = append(problems, "run lock ttl must exceed the transfer and commit timeouts")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
