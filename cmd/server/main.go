package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"regisync/backend/internal/cloud"
	"regisync/backend/internal/config"
	"regisync/backend/internal/httpapi"
	"regisync/backend/internal/logging"
	"regisync/backend/internal/reconcile"
	"regisync/backend/internal/service"
	"regisync/backend/internal/shadow"
	"regisync/backend/internal/store"
	"regisync/backend/internal/store/memory"
	pgstore "regisync/backend/internal/store/postgres"
	"regisync/backend/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	closers := make([]func() error, 0, 3)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", "error", err)
			}
		}
	}()

	startCtx, cancel := context.WithTimeout(appCtx, 15*time.Second)
	defer cancel()

	repo, closeRepo, err := openRepository(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	journal, err := shadow.New(cfg.ShadowDir, shadow.Options{
		RetentionMonths: cfg.ShadowRetentionMonths,
		Location:        loc,
		Logger:          logger,
		Registerer:      registry,
	})
	if err != nil {
		return fmt.Errorf("open shadow journal: %w", err)
	}

	printer, closePrinter, err := openPrinter(cfg.ReceiptSpool, loc)
	if err != nil {
		return err
	}
	if closePrinter != nil {
		closers = append(closers, closePrinter)
	}

	opts := service.Options{
		ShopCode: cfg.ShopCode,
		Location: loc,
		Logger:   logger,
		Journal:  journal,
		Printer:  printer,
	}

	var engine *reconcile.Engine
	if cfg.CloudRedisAddr != "" {
		cloudStore := cloud.NewRedisStore(cfg.CloudRedisAddr, cfg.CloudRedisPassword, cfg.CloudRedisDB)
		closers = append(closers, cloudStore.Close)
		if err := cloudStore.Ping(startCtx); err != nil {
			logger.Warn("cloud redis unreachable at startup, reconciliation will retry", "error", err)
		}
		engine = reconcile.New(repo, cloudStore, reconcile.Config{
			ShopCode:   cfg.ShopCode,
			Interval:   cfg.SyncInterval,
			Logger:     logger,
			Registerer: registry,
		})
		opts.Reconciler = engine
		opts.Inventory = cloudStore
		logger.Info("cloud mirror: redis", "addr", cfg.CloudRedisAddr)
	} else {
		logger.Info("cloud mirror: disabled")
	}

	if cfg.SettingsPassphrase != "" {
		v, err := vault.New(cfg.SettingsPassphrase)
		if err != nil {
			return err
		}
		opts.Vault = v
	}

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	if cfg.BootstrapAdminPassword != "" {
		created, err := auth.BootstrapAdmin(startCtx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info("created bootstrap admin", "username", cfg.BootstrapAdminUsername)
		}
	}

	if res, err := svc.ReplayShadow(startCtx); err != nil {
		logger.Warn("startup shadow replay failed", "error", err)
	} else if res.Restored > 0 {
		logger.Info("restored sales from shadow journal", "restored", res.Restored, "failed", res.Failed)
	}
	journal.Start(appCtx, cfg.ShadowReplayInterval, repo)
	if engine != nil {
		engine.Start(appCtx)
		defer engine.Stop()
	}

	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger,
		Registerer:    registry,
		Gatherer:      registry,
	})
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("register backend listening", "addr", cfg.Address(), "shop_code", cfg.ShopCode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-appCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// openRepository connects to Postgres when DATABASE_URL is set and falls back
// to the seeded in-memory store otherwise.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	logger.Info("repository: postgres")
	return pg, pg.Close, nil
}

func openPrinter(spool string, loc *time.Location) (service.ReceiptPrinter, func() error, error) {
	var w io.Writer = os.Stdout
	var closeFn func() error
	if spool != "" {
		f, err := os.OpenFile(spool, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open receipt spool: %w", err)
		}
		w = f
		closeFn = f.Close
	}
	return service.NewTextPrinter(w, loc), closeFn, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	if cfg.SettingsPassphrase != "" && len(cfg.SettingsPassphrase) < 12 {
		return fmt.Errorf("SETTINGS_PASSPHRASE must be at least 12 characters")
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
