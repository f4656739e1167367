package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jackc/pgx/v5/pgxpool"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/ticketon/ticketon/config"
	"github.com/ticketon/ticketon/internal/cache"
	"github.com/ticketon/ticketon/internal/email"
	"github.com/ticketon/ticketon/internal/kafka"
	"github.com/ticketon/ticketon/internal/repository"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	availabilityTTL := time.Duration(cfg.Purchase.AvailabilityCacheTTLSeconds) * time.Second
	redisCache := cache.NewRedisCache(cfg.Redis, availabilityTTL)

	transactionRepo := repository.NewTransactionRepository(pool)
	settlementService := settlement.NewSettlementService(
		transactionRepo,
		redisCache,
		producer,
		cfg.Kafka.PurchaseTopic,
		settlement.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
	)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
	defer consumer.Close()

	emailSender := email.NewSender()

	go func() {
		if err := consumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
			var event kafka.PurchaseEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Printf("decode event error: %v", err)
				return nil
			}
			return emailSender.Send(ctx, event)
		}); err != nil {
			log.Printf("consumer stopped: %v", err)
		}
	}()

	pendingTTL := time.Duration(cfg.Worker.PendingTTLMinutes) * time.Minute
	sweepTicker := time.NewTicker(time.Duration(cfg.Worker.ReconcileSweepMinutes) * time.Minute)
	defer sweepTicker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			expired, err := settlementService.ExpireStalePending(ctx, pendingTTL)
			if err != nil {
				log.Printf("expire pending transactions error: %v", err)
				continue
			}
			if len(expired) > 0 {
				log.Printf("expired %d stale pending transactions", len(expired))
			}
		case s := <-sig:
			log.Printf("received signal %v, shutting down", s)
			return
		}
	}
}
