package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vmfleet/engine/internal/api"
	"github.com/vmfleet/engine/internal/api/handlers"
	"github.com/vmfleet/engine/internal/events"
	"github.com/vmfleet/engine/internal/queue"
	"github.com/vmfleet/engine/internal/repository"
	"github.com/vmfleet/engine/internal/services"
	"github.com/vmfleet/engine/pkg/config"
	"github.com/vmfleet/engine/pkg/database"
	"github.com/vmfleet/engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting vmfleet API",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	vmRepo := repository.NewVMRepository(db)
	diskRepo := repository.NewDiskRepository(db)
	transRepo := repository.NewTransitionRepository(db)

	// Task producer. Intents enqueue work here after their durable write.
	queueClient := queue.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	defer queueClient.Close()

	// Event publisher, optional
	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		publisher = np
	}
	defer publisher.Close()

	// JWT Secret from environment
	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		log.Warn("JWT_SECRET not set, using default (INSECURE for production)")
		jwtSecret = []byte("change-me-in-production-please")
	}

	// Initialize services
	authService := services.NewAuthService(userRepo, jwtSecret)
	vmService := services.NewVMService(vmRepo, diskRepo, transRepo, queueClient, publisher)

	// Create router with dependencies
	router := api.NewRouter(api.Dependencies{
		HMACSecret:    jwtSecret,
		AuthHandler:   handlers.NewAuthHandler(authService),
		VMsHandler:    handlers.NewVMsHandler(vmService),
		HealthHandler: handlers.NewHealthHandler(db),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
