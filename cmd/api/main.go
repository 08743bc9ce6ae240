package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/earth-harvest/checkout-api/internal/di"
	"github.com/earth-harvest/checkout-api/internal/platform/config"
	"github.com/earth-harvest/checkout-api/internal/platform/observability"
	"github.com/earth-harvest/checkout-api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("checkout-api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to assemble application", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	jobCtx, jobCancel := context.WithCancel(ctx)
	var jobWG sync.WaitGroup
	startBackgroundJobs(jobCtx, &jobWG, logger, cfg, container)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	jobCancel()
	jobWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// startBackgroundJobs launches the expired-session purge and the pending
// order reconciliation sweep on their configured intervals.
func startBackgroundJobs(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, cfg config.Config, container *di.Container) {
	purgeInterval := cfg.Checkout.SessionTTL / 3
	if purgeInterval < time.Minute {
		purgeInterval = time.Minute
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		jobLogger := logger.Named("session-purge")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := container.Services.Sessions.PurgeExpired(ctx)
				if err != nil {
					jobLogger.Warn("purge failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					jobLogger.Info("purged expired sessions", zap.Int("count", removed))
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Checkout.ReconcileInterval)
		defer ticker.Stop()
		jobLogger := logger.Named("reconcile")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := container.Services.Reconciliation.Sweep(ctx)
				if err != nil {
					jobLogger.Warn("sweep failed", zap.Error(err))
					continue
				}
				if stats.Scanned > 0 {
					jobLogger.Info("sweep complete",
						zap.Int("scanned", stats.Scanned),
						zap.Int("canceled", stats.Canceled),
						zap.Int("skipped", stats.Skipped),
						zap.Int("failed", stats.Failed),
					)
				}
			}
		}
	}()
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("CHECKOUT_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("CHECKOUT_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("CHECKOUT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	return secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(defaultProject),
		secrets.WithFallbackFile(fallbackPath),
	)
}

// requiredSecretNames lists the config fields that must resolve before the
// service starts. Stripe's key is only required when the stripe mode is on.
func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Security.JWTSecret",
		"Orders.AuthToken",
	}

	mode := "stripe"
	if env != nil {
		if v := strings.ToLower(strings.TrimSpace(env["CHECKOUT_PAYMENTS_MODE"])); v != "" {
			mode = v
		}
	}
	if mode == "stripe" {
		required = append(required, "PSP.StripeAPIKey")
	}
	return required
}
