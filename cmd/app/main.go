package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketon/ticketon/api"
	"github.com/ticketon/ticketon/config"
	"github.com/ticketon/ticketon/internal/bootstrap"
	"github.com/ticketon/ticketon/internal/cache"
	"github.com/ticketon/ticketon/internal/gateway"
	"github.com/ticketon/ticketon/internal/kafka"
	"github.com/ticketon/ticketon/internal/repository"
	"github.com/ticketon/ticketon/internal/service/catalog"
	"github.com/ticketon/ticketon/internal/service/purchase"
	"github.com/ticketon/ticketon/internal/service/settlement"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	availabilityTTL := time.Duration(cfg.Purchase.AvailabilityCacheTTLSeconds) * time.Second
	redisCache := cache.NewRedisCache(cfg.Redis, availabilityTTL)

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	provider, err := newProvider(cfg)
	if err != nil {
		log.Fatalf("init payment provider: %v", err)
	}

	instanceRepo := repository.NewTicketInstanceRepository(pool)
	typeRepo := repository.NewTicketTypeRepository(pool)
	transactionRepo := repository.NewTransactionRepository(pool)

	catalogService := catalog.NewCatalogService(typeRepo, instanceRepo, redisCache)
	purchaseService := purchase.NewPurchaseService(
		instanceRepo,
		typeRepo,
		transactionRepo,
		provider,
		redisCache,
		producer,
		cfg.Kafka.PurchaseTopic,
		cfg.Gateway.CheckoutBaseURL,
		purchase.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
	)
	settlementService := settlement.NewSettlementService(
		transactionRepo,
		redisCache,
		producer,
		cfg.Kafka.PurchaseTopic,
		settlement.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
	)

	dedupTTL := time.Duration(cfg.Purchase.NotificationDedupTTLMinutes) * time.Minute
	purchaseHandler := api.NewPurchaseHandler(purchaseService)
	ticketHandler := api.NewTicketHandler(catalogService)
	webhookHandler := api.NewWebhookHandler(settlementService, []gateway.CheckoutProvider{provider}, redisCache, dedupTTL)

	if err := bootstrap.Run(ctx, cfg, purchaseHandler, ticketHandler, webhookHandler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func newProvider(cfg *config.Config) (gateway.CheckoutProvider, error) {
	switch cfg.Gateway.Provider {
	case "stripe":
		return gateway.NewStripeProvider(
			os.Getenv(cfg.Gateway.StripeSecretKeyEnv),
			os.Getenv(cfg.Gateway.StripeWebhookSecret),
		)
	default:
		return gateway.NewMockProvider(cfg.Gateway.CheckoutBaseURL), nil
	}
}
