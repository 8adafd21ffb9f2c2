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
	"onesmart/inventory/internal/connectivity"
	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/gateway"
	"onesmart/inventory/internal/httpapi"
	"onesmart/inventory/internal/localstore"
	localmemory "onesmart/inventory/internal/localstore/memory"
	localredis "onesmart/inventory/internal/localstore/redis"
	"onesmart/inventory/internal/localstore/sqlite"
	"onesmart/inventory/internal/logger"
	"onesmart/inventory/internal/metrics"
	"onesmart/inventory/internal/service"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(logger.New(cfg.Log.Level, cfg.Log.Format))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	local, err := openLocalStore(ctx, cfg.LocalStore)
	if err != nil {
		log.Fatal("local store unavailable", zap.String("driver", cfg.LocalStore.Driver), zap.Error(err))
	}
	log.Info("local store ready", zap.String("driver", cfg.LocalStore.Driver))

	gw := gateway.New(gateway.Config{
		BaseURL: cfg.Client.RemoteBaseURL,
		Token:   cfg.Client.APIToken,
		Timeout: cfg.Client.RemoteTimeout,
	}, logger.Named(log, "gateway"))
	monitor := connectivity.New(gw, cfg.Client.ProbeSchedule, cfg.Client.RemoteTimeout, logger.Named(log, "connectivity"))
	syncMetrics := metrics.New()

	svc := service.New(service.Deps{
		Store:        local,
		Remote:       gw,
		Connectivity: monitor,
		Metrics:      syncMetrics,
		Logger:       log,
	})
	svc.OnSyncReport(func(report domain.SyncReport) {
		log.Info("sync finished", zap.String("summary", report.Summary()), zap.Int("failed", report.Results.Failed))
	})
	monitor.OnOnline(func() {
		go func() {
			syncCtx, cancel := context.WithTimeout(ctx, cfg.Client.SyncTimeout)
			defer cancel()
			svc.TriggerSync(syncCtx)
		}()
	})
	if err := monitor.Start(ctx); err != nil {
		log.Fatal("connectivity monitor", zap.Error(err))
	}

	api := httpapi.New(svc, syncMetrics.Handler(), cfg.Client.UIOrigin, logger.Named(log, "http"))
	httpServer := &http.Server{
		Addr:              cfg.Client.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Client.SyncTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("offline client listening", zap.String("addr", cfg.Client.Address()), zap.String("remote", cfg.Client.RemoteBaseURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	monitor.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if err := local.Close(); err != nil {
		log.Error("close error", zap.Error(err))
	}

	log.Info("client stopped")
}

func openLocalStore(ctx context.Context, cfg config.LocalStoreConfig) (localstore.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "redis":
		s := localredis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "memory":
		return localmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown local store driver %q", cfg.Driver)
	}
}
