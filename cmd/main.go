/**
 * @description
 * This is the main entry point for the transfer-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/events, internal/store: Internal packages.
 * - pkg/paymentclient, pkg/riskclient, pkg/rabbitmq: Outbound collaborator clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paygrid/transfer-service/internal/api"
	"github.com/paygrid/transfer-service/internal/app"
	"github.com/paygrid/transfer-service/internal/config"
	"github.com/paygrid/transfer-service/internal/domain"
	"github.com/paygrid/transfer-service/internal/events"
	"github.com/paygrid/transfer-service/internal/store"
	"github.com/paygrid/transfer-service/pkg/paymentclient"
	pgrabbit "github.com/paygrid/transfer-service/pkg/rabbitmq"
	"github.com/paygrid/transfer-service/pkg/riskclient"
)

// localPaymentExecutor approves every payment without an external gateway.
// Used when PAYMENT_GATEWAY_URL is not configured, e.g. in local development.
type localPaymentExecutor struct{}

func (localPaymentExecutor) Execute(context.Context, domain.TransferIntent) (*domain.PaymentResult, error) {
	return &domain.PaymentResult{
		Success:               true,
		ExternalTransactionID: uuid.New().String(),
	}, nil
}

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting transfer-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Keep enough headroom for row locks held across collaborator calls.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	repo := store.NewPostgresRepository(dbpool, time.Duration(cfg.LockTimeoutMillis)*time.Millisecond)

	// Ensure required tables exist (idempotent)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"schema bootstrap failed; tables may already exist\" err=%v", err)
	}

	// Redis backs the per-sender rate limiter. Missing or unreachable Redis
	// degrades to no rate limiting rather than blocking startup.
	var rateLimiter *app.RedisRateLimiter
	if cfg.TransferRateLimit > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; transfer rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; transfer rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; transfer rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the RabbitMQ producer to publish transfer status events.
	var statusProducer pgrabbit.Publisher
	rabbitProducer, err := pgrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		statusProducer = &pgrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		statusProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}
	statusPublisher := events.NewRabbitStatusPublisher(statusProducer, cfg.StatusEventExchange)

	// Kafka carries the ledger event stream. Missing broker config means no
	// ledger events are published; the database remains the source of truth.
	var ledgerPublisher app.LedgerEventPublisher
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kafkaPublisher := events.NewKafkaLedgerPublisher(brokers, cfg.LedgerEventTopic)
		defer kafkaPublisher.Close()
		ledgerPublisher = kafkaPublisher
		log.Printf("level=info component=bootstrap msg=\"kafka publisher configured\" topic=%s brokers=%d", cfg.LedgerEventTopic, len(brokers))
	} else {
		log.Println("level=warn component=bootstrap msg=\"kafka brokers missing; ledger events disabled\" env=KAFKA_BROKERS")
	}

	// Risk collaborators. Unconfigured URLs fall back to local evaluation so
	// the service still fails closed on genuine collaborator outages but does
	// not require the full fleet for local development.
	var otpVerifier app.OTPVerifier
	if strings.TrimSpace(cfg.OTPServiceURL) != "" {
		otpVerifier = riskclient.NewOTPClient(cfg.OTPServiceURL)
	} else {
		log.Println("level=warn component=bootstrap msg=\"otp service url missing; otp verification auto-approves\" env=OTP_SERVICE_URL")
		otpVerifier = &app.StaticOTPVerifier{Verified: true}
	}

	var fraudScorer app.FraudScorer
	if strings.TrimSpace(cfg.FraudServiceURL) != "" {
		fraudScorer = riskclient.NewFraudClient(cfg.FraudServiceURL)
	} else {
		log.Println("level=warn component=bootstrap msg=\"fraud service url missing; using local heuristics\" env=FRAUD_SERVICE_URL")
		fraudScorer = app.NewLocalFraudScorer()
	}

	riskEvaluator := app.NewRiskEvaluator(
		otpVerifier,
		fraudScorer,
		time.Duration(cfg.OTPTimeoutSecs)*time.Second,
		time.Duration(cfg.FraudTimeoutSecs)*time.Second,
	)

	var paymentExecutor app.PaymentExecutor
	if strings.TrimSpace(cfg.PaymentGatewayURL) != "" {
		paymentExecutor = paymentclient.NewClient(cfg.PaymentGatewayURL, cfg.PaymentCurrency)
	} else {
		log.Println("level=warn component=bootstrap msg=\"payment gateway url missing; payments auto-approve\" env=PAYMENT_GATEWAY_URL")
		paymentExecutor = localPaymentExecutor{}
	}

	// Initialize the core application service.
	transferService := app.NewService(
		repo,
		riskEvaluator,
		paymentExecutor,
		ledgerPublisher,
		statusPublisher,
		time.Duration(cfg.PaymentTimeoutSecs)*time.Second,
		cfg.MaxTransferAmountCents,
		time.Duration(cfg.IdempotencyWaitMillis)*time.Millisecond,
	)

	// Background sweep for transfers stranded in pending by a crash.
	reconciler := app.NewReconciler(
		repo,
		time.Duration(cfg.ReconcileIntervalSecs)*time.Second,
		time.Duration(cfg.PendingTransferTTLSecs)*time.Second,
	)
	reconcileCtx, stopReconciler := context.WithCancel(context.Background())
	defer stopReconciler()
	go reconciler.Run(reconcileCtx)

	// Initialize the API handlers.
	if cfg.AuthJWKSURL == "" {
		log.Println("level=warn component=bootstrap msg=\"jwks url missing; authentication disabled\" env=AUTH_JWKS_URL")
	}
	transferHandlers := api.NewTransferHandlers(
		transferService,
		rateLimiter,
		cfg.TransferRateLimit,
		time.Duration(cfg.TransferRateWindowSecs)*time.Second,
	)

	// Set up the HTTP router and define the API routes.
	router := api.TransferRoutes(transferHandlers, cfg.AuthJWKSURL)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	stopReconciler()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
