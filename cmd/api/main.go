package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnstile-service/internal/adapters/authority/qrmanager"
	pg "turnstile-service/internal/adapters/storage/postgres"
	"turnstile-service/internal/platform/config"
	"turnstile-service/internal/platform/logger"
	"turnstile-service/internal/ports/authority"
	"turnstile-service/internal/router"
	"turnstile-service/internal/scheduler"
)

func main() {
	cfg := config.FromEnv()
	lg := logger.NewFromEnv()

	var db *sql.DB
	if cfg.DatabaseDSN != "" {
		opened, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			lg.Error("database open failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		if err := pg.Migrate(context.Background(), opened); err != nil {
			lg.Error("migrations failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		db = opened
		defer db.Close()
	} else {
		lg.Warn("DB_DSN not set, using in-memory storage", nil)
	}

	var remote authority.Consumer
	if cfg.QRManagerURL != "" {
		client, err := qrmanager.NewClient(qrmanager.Config{
			BaseURL: cfg.QRManagerURL,
			Timeout: cfg.ScanTimeout,
		})
		if err != nil {
			lg.Error("qr manager client failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		remote = client
	} else {
		lg.Warn("QR_MANAGER_URL not set, scans will validate offline only", nil)
	}

	handler, syncSvc := router.NewRouter(router.Options{
		Authority:   remote,
		DB:          db,
		Logger:      lg,
		ScanTimeout: cfg.ScanTimeout,
		SyncTimeout: cfg.SyncTimeout,
		BatchLimit:  cfg.SyncBatchLimit,
		MaxRetries:  cfg.MaxRetryAttempts,
		StaleAfter:  cfg.CacheStaleAfter,
	})

	sched := scheduler.New(scheduler.Options{
		Sync:            syncSvc,
		Logger:          lg,
		SyncInterval:    cfg.SyncInterval,
		RefreshInterval: cfg.CacheRefreshInterval,
		CleanupInterval: cfg.CleanupInterval,
		StartupDelay:    cfg.StartupSyncDelay,
		RetentionDays:   cfg.DataRetentionDays,
	})
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("starting server", map[string]any{"addr": cfg.Addr})
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("server error", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	case <-stop:
		lg.Info("shutting down", nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			lg.Error("shutdown error", map[string]any{"error": err.Error()})
		}
	}
}
