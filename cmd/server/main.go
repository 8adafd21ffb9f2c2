package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"onesmart/inventory/internal/config"
	"onesmart/inventory/internal/logger"
	"onesmart/inventory/internal/server"
	"onesmart/inventory/internal/store"
	"onesmart/inventory/internal/store/memory"
	"onesmart/inventory/internal/store/mongodb"
	pgstore "onesmart/inventory/internal/store/postgres"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file")
	issueFor := flag.String("issue-token", "", "print a bearer token for this terminal id and exit")
	tokenTTL := flag.Duration("token-ttl", 0, "lifetime of an issued token, 0 for no expiry")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(logger.New(cfg.Log.Level, cfg.Log.Format))
	defer func() { _ = log.Sync() }()

	if *issueFor != "" {
		token, err := issueToken(cfg, *issueFor, *tokenTTL)
		if err != nil {
			log.Fatal("issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, cfg.Server)
	if err != nil {
		log.Fatal("repository unavailable", zap.String("repository", cfg.Server.Repository), zap.Error(err))
	}
	log.Info("repository ready", zap.String("repository", cfg.Server.Repository))

	auth := server.NewAuthenticator(cfg.Server.AuthSecret)
	if auth == nil {
		log.Warn("AUTH_SECRET is empty, API accepts unauthenticated requests")
	}
	api := server.New(server.Options{
		Repository:    repo,
		Auth:          auth,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		ExpiryWindow:  cfg.Server.ExpiryWindow(),
		Logger:        logger.Named(log, "http"),
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("inventory server listening", zap.String("addr", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if err := repo.Close(); err != nil {
		log.Error("close error", zap.Error(err))
	}

	log.Info("server stopped")
}

// openRepository connects the configured backend. A configured database that
// cannot be reached is fatal; there is no silent in-memory fallback.
func openRepository(ctx context.Context, cfg config.ServerConfig) (store.Repository, error) {
	switch cfg.Repository {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case "mongo":
		return mongodb.New(ctx, cfg.MongoURI, cfg.MongoDB)
	case "memory":
		return memory.NewSeeded(), nil
	default:
		return nil, fmt.Errorf("unknown repository %q", cfg.Repository)
	}
}

func issueToken(cfg *config.Config, subject string, ttl time.Duration) (string, error) {
	auth := server.NewAuthenticator(cfg.Server.AuthSecret)
	if auth == nil {
		return "", errors.New("AUTH_SECRET must be set to issue tokens")
	}
	return auth.Sign(subject, ttl)
}
