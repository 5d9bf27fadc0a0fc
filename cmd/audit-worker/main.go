package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jirayu-w/eventseat/internal/worker"
	"github.com/jirayu-w/eventseat/pkg/config"
	"github.com/jirayu-w/eventseat/pkg/database"
	"github.com/jirayu-w/eventseat/pkg/kafka"
	"github.com/jirayu-w/eventseat/pkg/logger"
	"github.com/jirayu-w/eventseat/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       "info",
		ServiceName: "audit-worker",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Reservation Audit Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := &database.PostgresConfig{
		Host:          cfg.Database.Host,
		Port:          cfg.Database.Port,
		User:          cfg.Database.User,
		Password:      cfg.Database.Password,
		Database:      cfg.Database.DBName,
		SSLMode:       cfg.Database.SSLMode,
		MaxConns:      int32(cfg.Database.MaxOpenConns),
		MinConns:      int32(cfg.Database.MaxIdleConns),
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	consumerGroup := cfg.Kafka.ConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "reservation-audit-worker"
	}
	consumerCfg := &kafka.ConsumerConfig{
		Brokers:          cfg.Kafka.Brokers,
		ConsumerGroup:    consumerGroup,
		Topics:           []string{cfg.Kafka.Topic},
		ClientID:         "audit-worker",
		SessionTimeout:   30 * time.Second,
		RebalanceTimeout: 60 * time.Second,
	}
	consumer, err := kafka.NewConsumer(ctx, consumerCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create Kafka consumer: %v", err))
	}
	defer consumer.Close()
	appLog.Info("Kafka consumer connected")

	// Unprocessable records go to a dead letter topic instead of
	// blocking the partition
	var dlq retry.DLQPublisher = retry.NewNoOpDLQPublisher()
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      "audit-worker-dlq",
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		BatchSize:     16384,
		LingerMs:      5,
	})
	if err != nil {
		appLog.Warn(fmt.Sprintf("DLQ producer unavailable, dropping bad records: %v", err))
	} else {
		defer producer.Close()
		dlqCfg := retry.DefaultDLQConfig()
		dlqCfg.Source = "audit-worker"
		dlq = retry.NewKafkaDLQPublisher(producer, dlqCfg)
	}

	auditWorker := worker.NewAuditWorker(&worker.AuditWorkerConfig{
		FlushInterval: cfg.Worker.FlushInterval,
		MaxBatchSize:  cfg.Worker.BatchSize,
	}, consumer, db, dlq, appLog)

	go auditWorker.Start(ctx)
	appLog.Info("Audit worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down audit worker...")
	cancel()

	// Give the final flush a moment to complete
	time.Sleep(2 * time.Second)
	appLog.Info("Audit worker exited")
}
