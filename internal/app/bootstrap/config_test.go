package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearSettlementEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"SERVICE_ID", "HTTP_PORT", "GRPC_PORT", "KAFKA_BROKERS", "PAYOUT_SCHEDULER_ENABLED",
		"PAYOUT_INTERVAL_MINUTES", "ATTRIBUTION_WINDOW_DAYS", "HOLDBACK_DAYS", "MINIMUM_PAYOUT_CENTS",
		"PAYOUT_CURRENCY", "PAYOUT_LOOKBACK_DAYS", "TRANSFER_TIMEOUT_SECONDS", "COMMIT_TIMEOUT_SECONDS",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearSettlementEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MinimumPayoutCents != 2000 || cfg.PayoutCurrency != "usd" || cfg.DefaultHoldbackDays != 14 {
		t.Fatalf("unexpected settlement defaults %+v", cfg)
	}
	if cfg.AttributionWindow != 30*24*time.Hour || cfg.PayoutLookback != 30*24*time.Hour {
		t.Fatalf("unexpected window defaults %s %s", cfg.AttributionWindow, cfg.PayoutLookback)
	}
	if cfg.PayoutInterval != 24*time.Hour || !cfg.PayoutSchedulerEnabled {
		t.Fatalf("unexpected scheduler defaults %s %t", cfg.PayoutInterval, cfg.PayoutSchedulerEnabled)
	}
	if cfg.TransferTimeout != 30*time.Second || cfg.CommitTimeout != 15*time.Second {
		t.Fatalf("unexpected payout timeouts %s %s", cfg.TransferTimeout, cfg.CommitTimeout)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	clearSettlementEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
service:
  http_port: 8181
settlement:
  minimum_payout_cents: 5000
  currency: EUR
  holdback_days: 7
  scheduler_enabled: false
kafka:
  brokers: [" kafka-1:9092 ", ""]
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PAYOUT_CURRENCY", "GBP")
	t.Setenv("HOLDBACK_DAYS", "0")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 8181 || cfg.MinimumPayoutCents != 5000 || cfg.PayoutSchedulerEnabled {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.PayoutCurrency != "gbp" {
		t.Fatalf("env should override file currency, got %q", cfg.PayoutCurrency)
	}
	if cfg.DefaultHoldbackDays != 0 {
		t.Fatalf("env should allow a zero holdback, got %d", cfg.DefaultHoldbackDays)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka-1:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadConfigRejectsInvalidSettlement(t *testing.T) {
	clearSettlementEnv(t)
	t.Setenv("MINIMUM_PAYOUT_CENTS", "-1")
	t.Setenv("PAYOUT_CURRENCY", "dollars")

	_, err := LoadConfig("")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"minimum payout", "currency"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	clearSettlementEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
