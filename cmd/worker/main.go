package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vmfleet/engine/pkg/config"
	"github.com/vmfleet/engine/pkg/database"
	"github.com/vmfleet/engine/pkg/logger"

	"github.com/vmfleet/engine/internal/events"
	"github.com/vmfleet/engine/internal/provisioner"
	"github.com/vmfleet/engine/internal/provisioner/simulated"
	"github.com/vmfleet/engine/internal/queue"
	"github.com/vmfleet/engine/internal/queue/tasks"
	"github.com/vmfleet/engine/internal/reconciler"
	"github.com/vmfleet/engine/internal/repository"
	"github.com/vmfleet/engine/internal/services"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	vmRepo := repository.NewVMRepository(db)
	diskRepo := repository.NewDiskRepository(db)
	transRepo := repository.NewTransitionRepository(db)

	// The worker also produces tasks: resolving a deferred delete or
	// redriving a stuck row enqueues follow-up work.
	queueClient := queue.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	defer queueClient.Close()

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		publisher = np
	}
	defer publisher.Close()

	var adapter provisioner.Adapter
	switch cfg.Provisioner {
	case "simulated":
		adapter = simulated.New(simulated.Options{})
	default:
		log.Fatal("unknown provisioner", zap.String("provisioner", cfg.Provisioner))
	}

	vmService := services.NewVMService(vmRepo, diskRepo, transRepo, queueClient, publisher)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	mux := asynq.NewServeMux()
	handler := tasks.NewLifecycleTaskHandler(vmService, adapter, cfg.ProvisionerTimeout)
	mux.HandleFunc(queue.TypeProvision, handler.HandleProvision)
	mux.HandleFunc(queue.TypeStop, handler.HandleStop)
	mux.HandleFunc(queue.TypeTerminate, handler.HandleTerminate)

	// Background convergence loop. Shares the store and the queue with the
	// task handlers, never their call paths.
	rec := reconciler.New(vmRepo, adapter, queueClient, publisher, reconciler.Options{
		Interval:    cfg.ReconcileInterval,
		StaleAfter:  cfg.ReconcileStaleAfter,
		MaxRetries:  cfg.ReconcileMaxRetries,
		CallTimeout: cfg.ProvisionerTimeout,
	})
	recCtx, recCancel := context.WithCancel(context.Background())
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		rec.Run(recCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("worker stopped with error", zap.Error(err))
	}

	recCancel()
	<-recDone

	// Allow in-flight tasks to finish gracefully
	srv.Shutdown()
}
