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

	"github.com/yadokani389/taiyaq/config"
	"github.com/yadokani389/taiyaq/internal/api"
	"github.com/yadokani389/taiyaq/internal/broker"
	"github.com/yadokani389/taiyaq/internal/models"
	"github.com/yadokani389/taiyaq/internal/notify"
	"github.com/yadokani389/taiyaq/internal/redisclient"
	"github.com/yadokani389/taiyaq/internal/service"
	"github.com/yadokani389/taiyaq/internal/store"
	"github.com/yadokani389/taiyaq/internal/util"
	"github.com/yadokani389/taiyaq/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting taiyaq")

	tp, err := util.InitTracer("taiyaq", cfg.Observ.JaegerEndpoint)
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

	// Snapshots are best-effort durability: the in-memory aggregate stays
	// authoritative, so a missing database degrades rather than aborts.
	var snapshots *store.Store
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Printf("Database unavailable, running without snapshots: %v", err)
	} else {
		defer db.Close()
		if err := db.EnsureSchema(context.Background()); err != nil {
			log.Printf("Failed to ensure schema, running without snapshots: %v", err)
		} else {
			snapshots = db
			log.Println("Database connected")
		}
	}

	var redisClient *redisclient.Client
	redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable, idempotent order creation disabled: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	registry := service.NewRegistry(eventPublisher, snapshotStore(snapshots))

	if snapshots != nil {
		snap, err := snapshots.LoadLatestSnapshot(context.Background())
		if err != nil {
			log.Printf("Failed to load snapshot: %v", err)
		} else if snap != nil {
			registry.Restore(snap)
			log.Printf("Restored snapshot with %d orders", len(snap.Orders))
		}
	}

	dispatcher := notify.NewRouter(map[models.NotifyChannel]notify.Dispatcher{
		models.NotifyChannelDiscord: notify.NewDiscordNotifier(cfg.Notify.DiscordWebhookURL),
		models.NotifyChannelLine:    notify.NewLineNotifier(cfg.Notify.LineChannelToken),
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notifyConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	notifyWorker := worker.NewNotifyWorker(notifyConsumer, dispatcher)
	go func() {
		if err := notifyWorker.Start(workerCtx); err != nil {
			log.Printf("Notify worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(registry, redisClient, cfg.Auth.StaffToken)
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
	notifyWorker.Stop()

	log.Println("Server exited")
}

// snapshotStore avoids handing the registry a non-nil interface wrapping a
// nil *store.Store.
func snapshotStore(s *store.Store) service.SnapshotStore {
	if s == nil {
		return nil
	}
	return s
}
