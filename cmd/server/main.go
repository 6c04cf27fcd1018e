package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/birdworks/escrow-service/internal/config"
	"github.com/birdworks/escrow-service/internal/logger"
	"github.com/birdworks/escrow-service/internal/model"
	"github.com/birdworks/escrow-service/internal/repo"
	"github.com/birdworks/escrow-service/internal/service"
	httptransport "github.com/birdworks/escrow-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Client{}, &model.Freelancer{}, &model.Job{},
		&model.WalletTransaction{}, &model.WithdrawalRequest{},
		&model.ChatThread{}, &model.Message{}, &model.PaymentHandshake{},
		&model.Service{}, &model.Notification{}, &model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	notifier := service.NewOutboxNotifier(repository, log)
	walletSvc := service.NewWalletService(repository, log)
	jobSvc := service.NewJobService(repository, walletSvc, notifier, log)
	chatSvc := service.NewChatService(repository, jobSvc, walletSvc, notifier, log)
	withdrawalSvc := service.NewWithdrawalService(repository, notifier, log)

	// 7. gin router
	router := httptransport.NewRouter(httptransport.Services{
		Wallet:      walletSvc,
		Jobs:        jobSvc,
		Chats:       chatSvc,
		Withdrawals: withdrawalSvc,
	}, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("escrow-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
