/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	StatusEventExchange      string `mapstructure:"STATUS_EVENT_EXCHANGE"`
	KafkaBrokers             string `mapstructure:"KAFKA_BROKERS"`
	LedgerEventTopic         string `mapstructure:"LEDGER_EVENT_TOPIC"`
	AuthJWKSURL              string `mapstructure:"AUTH_JWKS_URL"`
	OTPServiceURL            string `mapstructure:"OTP_SERVICE_URL"`
	FraudServiceURL          string `mapstructure:"FRAUD_SERVICE_URL"`
	PaymentGatewayURL        string `mapstructure:"PAYMENT_GATEWAY_URL"`
	PaymentCurrency          string `mapstructure:"PAYMENT_CURRENCY"`
	MaxTransferAmountCents   int64  `mapstructure:"MAX_TRANSFER_AMOUNT_CENTS"`
	TransferRateLimit        int    `mapstructure:"TRANSFER_RATE_LIMIT"`
	TransferRateWindowSecs   int    `mapstructure:"TRANSFER_RATE_WINDOW_SECONDS"`
	LockTimeoutMillis        int    `mapstructure:"LOCK_TIMEOUT_MS"`
	OTPTimeoutSecs           int    `mapstructure:"OTP_TIMEOUT_SECONDS"`
	FraudTimeoutSecs         int    `mapstructure:"FRAUD_TIMEOUT_SECONDS"`
	PaymentTimeoutSecs       int    `mapstructure:"PAYMENT_TIMEOUT_SECONDS"`
	PendingTransferTTLSecs   int    `mapstructure:"PENDING_TRANSFER_TTL_SECONDS"`
	ReconcileIntervalSecs    int    `mapstructure:"RECONCILE_INTERVAL_SECONDS"`
	IdempotencyWaitMillis    int    `mapstructure:"IDEMPOTENCY_WAIT_MS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "paygrid:rate_limit")
	viper.SetDefault("STATUS_EVENT_EXCHANGE", "paygrid.events")
	viper.SetDefault("LEDGER_EVENT_TOPIC", "ledger-events")
	viper.SetDefault("PAYMENT_CURRENCY", "USD")
	viper.SetDefault("MAX_TRANSFER_AMOUNT_CENTS", 100_000_000)
	viper.SetDefault("TRANSFER_RATE_LIMIT", 30)
	viper.SetDefault("TRANSFER_RATE_WINDOW_SECONDS", 900)
	viper.SetDefault("LOCK_TIMEOUT_MS", 3000)
	viper.SetDefault("OTP_TIMEOUT_SECONDS", 5)
	viper.SetDefault("FRAUD_TIMEOUT_SECONDS", 5)
	viper.SetDefault("PAYMENT_TIMEOUT_SECONDS", 10)
	viper.SetDefault("PENDING_TRANSFER_TTL_SECONDS", 300)
	viper.SetDefault("RECONCILE_INTERVAL_SECONDS", 60)
	viper.SetDefault("IDEMPOTENCY_WAIT_MS", 2000)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRANSFER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("STATUS_EVENT_EXCHANGE")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("LEDGER_EVENT_TOPIC")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("OTP_SERVICE_URL")
	_ = viper.BindEnv("FRAUD_SERVICE_URL")
	_ = viper.BindEnv("PAYMENT_GATEWAY_URL")
	_ = viper.BindEnv("PAYMENT_CURRENCY")
	_ = viper.BindEnv("MAX_TRANSFER_AMOUNT_CENTS")
	_ = viper.BindEnv("MAX_TRANSFER_AMOUNT")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT")
	_ = viper.BindEnv("TRANSFER_RATE_WINDOW_SECONDS")
	_ = viper.BindEnv("LOCK_TIMEOUT_MS")
	_ = viper.BindEnv("OTP_TIMEOUT_SECONDS")
	_ = viper.BindEnv("FRAUD_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PAYMENT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PENDING_TRANSFER_TTL_SECONDS")
	_ = viper.BindEnv("RECONCILE_INTERVAL_SECONDS")
	_ = viper.BindEnv("IDEMPOTENCY_WAIT_MS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "paygrid:rate_limit"
	}

	// Allow specifying the cap in whole currency units via MAX_TRANSFER_AMOUNT.
	if viper.IsSet("MAX_TRANSFER_AMOUNT") {
		capStr := strings.TrimSpace(viper.GetString("MAX_TRANSFER_AMOUNT"))
		if capStr != "" {
			capValue, parseErr := strconv.ParseFloat(capStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MAX_TRANSFER_AMOUNT\" value=%q err=%v", capStr, parseErr)
			} else {
				config.MaxTransferAmountCents = int64(math.Round(capValue * 100))
			}
		}
	}

	if config.MaxTransferAmountCents <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive transfer cap configured; restoring default\" cap_cents=%d", config.MaxTransferAmountCents)
		config.MaxTransferAmountCents = 100_000_000
	}
	if config.TransferRateWindowSecs <= 0 {
		config.TransferRateWindowSecs = 900
	}
	if config.LockTimeoutMillis <= 0 {
		config.LockTimeoutMillis = 3000
	}

	return
}

// KafkaBrokerList splits the comma-separated broker string into addresses.
func (c Config) KafkaBrokerList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}
