package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	domainProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer domainProducer.Close()
	redeliveryProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRedelivery)
	defer redeliveryProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(domainProducer, redeliveryProducer)

	ledger := service.NewStockLedger(db)
	orderService := service.NewOrderService(db, redisClient, ledger, eventPublisher)

	credentials := map[models.Region]service.GatewayCredentials{
		models.RegionUS: {WebhookSecret: cfg.Gateway.WebhookSecretUS},
		models.RegionEU: {WebhookSecret: cfg.Gateway.WebhookSecretEU},
	}
	webhookProcessor := service.NewWebhookProcessor(
		db, orderService, redisClient, eventPublisher,
		credentials, cfg.Gateway.SignatureTolerance,
	)

	pairingService := service.NewPairingService(db, redisClient)
	diagnostics := service.NewStockDiagnostics(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	redeliveryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRedelivery, cfg.Kafka.ConsumerGroup)
	redeliveryWorker := worker.NewRedeliveryWorker(
		redeliveryConsumer, eventPublisher, webhookProcessor,
		cfg.Gateway.RedeliveryDelay, cfg.Gateway.RedeliveryMaxAttempts,
	)
	go func() {
		if err := redeliveryWorker.Start(workerCtx); err != nil {
			log.Printf("Redelivery worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, webhookProcessor, pairingService, ledger, diagnostics)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	redeliveryWorker.Stop()

	log.Println("Server exited")
}
