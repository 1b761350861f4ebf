package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"veilchat/internal/config"
	"veilchat/internal/database"
	"veilchat/internal/presence"
	"veilchat/internal/repositories"
	"veilchat/internal/server"
	"veilchat/internal/services"
	"veilchat/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog := logger.New(cfg.LogLevel)

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	// Repositories
	users := repositories.NewPostgresUserRepository(postgresPool)
	tokens := repositories.NewPostgresTokenRepository(postgresPool)
	devices := repositories.NewPostgresDeviceRepository(postgresPool)
	conversations := repositories.NewPostgresConversationRepository(postgresPool)
	messages := repositories.NewPostgresMessageRepository(postgresPool)
	keyPairs := repositories.NewRedisKeyPairRepository(redisClient)

	// Services and presence
	directory := presence.NewDirectory()
	sessions := services.NewSessionService(tokens, appLog, cfg.TokenTTL, cfg.TokenRefreshWindow)
	accounts := services.NewAccountService(users, devices, sessions, appLog)
	keyExchange := services.NewKeyExchangeService(keyPairs, appLog, cfg.KeyPairTTL)
	messaging := services.NewMessageService(users, devices, conversations, messages, directory, appLog)

	srv := server.New(appLog, accounts, sessions, keyExchange, messaging, directory)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: srv.Routes(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		appLog.Info("Starting server", "port", cfg.ServerPort)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		appLog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	appLog.Info("Server stopped gracefully")
}
