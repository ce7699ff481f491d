package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/CaioWing/Ledger/internal/api"
	"github.com/CaioWing/Ledger/internal/api/middleware"
	"github.com/CaioWing/Ledger/internal/auth"
	"github.com/CaioWing/Ledger/internal/config"
	"github.com/CaioWing/Ledger/internal/ledger"
	"github.com/CaioWing/Ledger/internal/repository"
	"github.com/CaioWing/Ledger/internal/service"
	"github.com/CaioWing/Ledger/internal/storage/local"
	"github.com/CaioWing/Ledger/internal/telemetry"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info("starting Ledger",
		"listen", cfg.ListenAddr(),
		"store", cfg.Ledger.Store,
		"reports", cfg.Storage.ReportsPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("flush traces", "err", err)
		}
	}()

	keys, err := cfg.Ledger.Keyring()
	if err != nil {
		return err
	}
	log.Info("signing keys loaded", "active_key", keys.ActiveKeyID(), "keys", len(keys.KeyIDs()))

	repo, closeStore, err := repository.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	reports, err := local.New(cfg.Storage.ReportsPath)
	if err != nil {
		return fmt.Errorf("init report storage: %w", err)
	}
	log.Info("report storage initialized", "path", cfg.Storage.ReportsPath)

	metrics := middleware.NewMetrics()
	activitySvc := service.NewActivityService(
		ledger.New(repo, keys, log, ledger.Options{
			MaxAttempts: cfg.Ledger.MaxAttempts,
			BaseBackoff: cfg.Ledger.Backoff,
		}),
		ledger.NewVerifier(repo, keys, log),
		repo, reports, metrics, log,
	)

	if cfg.Ledger.VerifyInterval > 0 {
		go service.NewVerificationScheduler(activitySvc, log).Start(ctx, cfg.Ledger.VerifyInterval)
	}

	adminHash := cfg.Auth.AdminPasswordHash
	if adminHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Auth.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		adminHash = string(hash)
	}

	router := api.NewRouter(api.RouterDeps{
		ActivitySvc:   activitySvc,
		JWTManager:    auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry),
		AdminEmail:    cfg.Auth.AdminEmail,
		AdminPassHash: adminHash,
		CORSOrigins:   cfg.CORS.AllowedOrigins,
		Logger:        log,
		Metrics:       metrics,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.ListenAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
