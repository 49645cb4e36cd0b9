package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/localchat/internal/api"
	"gwi.com/localchat/internal/auth"
	"gwi.com/localchat/internal/config"
	"gwi.com/localchat/internal/core"
	"gwi.com/localchat/internal/logger"
	"gwi.com/localchat/internal/store"
)

var version = "dev"

func main() {
	mintToken := flag.Bool("mint-token", false, "Print a signed token for -user and exit")
	userID := flag.String("user", "", "User id for -mint-token")
	userName := flag.String("name", "", "Display name for -mint-token")
	role := flag.String("role", string(store.RoleUser), "Role for -mint-token (admin or user)")
	flag.Parse()

	if err := config.LoadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.AppConfig

	logger.Init(logger.Config{
		Version: version,
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
		Backend: logger.Backend(cfg.LogBackend),
	})

	if *mintToken {
		if *userID == "" {
			slog.Error("-mint-token needs -user")
			os.Exit(2)
		}
		name := *userName
		if name == "" {
			name = *userID
		}
		token, err := auth.GenerateJWT(core.Identity{ID: *userID, Name: name, Role: store.Role(*role)})
		if err != nil {
			slog.Error("Failed to sign token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg config.Config) (store.KV, error) {
	switch cfg.StorageType {
	case config.StorageRedis:
		return store.NewRedisStore(cfg.RedisAddr, cfg.RedisPrefix)
	case config.StorageMemory:
		return store.NewMemoryStore(), nil
	default:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	}
}

func run(cfg config.Config) error {
	kv, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.StorageType, err)
	}
	defer kv.Close()
	slog.Info("Storage ready", "driver", cfg.StorageType)

	hub := api.NewHub()
	chatService, err := core.NewChatService(kv,
		core.WithNotifier(hub),
		core.WithPageSize(cfg.MessagePageSize),
		core.WithTypingTimings(cfg.TypingExpiry, cfg.TypingSweepInterval, cfg.TypingStaleAfter),
	)
	if err != nil {
		return err
	}

	hub.Attach(chatService)
	defer func() {
		chatService.Close()
		hub.Detach()
	}()

	router := api.NewRouter(api.NewAPIHandler(chatService, hub))

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", serverAddr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	case <-quit:
	}
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server exiting gracefully")
	return nil
}
