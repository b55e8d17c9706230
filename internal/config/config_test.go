package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "MAX_TRANSFER_AMOUNT_CENTS")
	unsetEnvWithCleanup(t, "MAX_TRANSFER_AMOUNT")
	unsetEnvWithCleanup(t, "REDIS_RATE_LIMIT_PREFIX")
	unsetEnvWithCleanup(t, "TRANSFER_RATE_LIMIT")
	unsetEnvWithCleanup(t, "TRANSFER_RATE_WINDOW_SECONDS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.MaxTransferAmountCents != 100_000_000 {
		t.Fatalf("expected default transfer cap of 100000000 cents, got %d", cfg.MaxTransferAmountCents)
	}
	if cfg.RedisRateLimitPrefix != "paygrid:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
	if cfg.LedgerEventTopic != "ledger-events" {
		t.Fatalf("expected default ledger topic, got %q", cfg.LedgerEventTopic)
	}
	if cfg.LockTimeoutMillis != 3000 {
		t.Fatalf("expected default lock timeout of 3000ms, got %d", cfg.LockTimeoutMillis)
	}
	if cfg.TransferRateLimit != 30 {
		t.Fatalf("expected default rate limit of 30, got %d", cfg.TransferRateLimit)
	}
	if cfg.TransferRateWindowSecs != 900 {
		t.Fatalf("expected default 900s rate window, got %d", cfg.TransferRateWindowSecs)
	}
}

func TestLoadConfig_MaxTransferAmountWholeUnitsAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MAX_TRANSFER_AMOUNT_CENTS")
	setEnvWithCleanup(t, "MAX_TRANSFER_AMOUNT", "250000.50")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxTransferAmountCents != 25_000_050 {
		t.Fatalf("expected cap converted to cents, got %d", cfg.MaxTransferAmountCents)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to take precedence, got %q", cfg.ServerPort)
	}
}

func TestKafkaBrokerList(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		want    int
	}{
		{name: "empty", brokers: "", want: 0},
		{name: "single", brokers: "localhost:9092", want: 1},
		{name: "multiple with spaces", brokers: "broker-1:9092, broker-2:9092 ,broker-3:9092", want: 3},
		{name: "trailing comma", brokers: "broker-1:9092,", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{KafkaBrokers: tt.brokers}
			if got := cfg.KafkaBrokerList(); len(got) != tt.want {
				t.Fatalf("expected %d brokers, got %v", tt.want, got)
			}
		})
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
