package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/records-erp/records-erp/internal/app"
	"github.com/records-erp/records-erp/internal/billing/generator"
	"github.com/records-erp/records-erp/internal/billing/periods"
	"github.com/records-erp/records-erp/internal/billing/profiles"
	"github.com/records-erp/records-erp/internal/billing/rates"
	"github.com/records-erp/records-erp/internal/containers"
	"github.com/records-erp/records-erp/internal/invoicing"
	"github.com/records-erp/records-erp/internal/observability"
	"github.com/records-erp/records-erp/internal/platform/cache"
	"github.com/records-erp/records-erp/internal/platform/db"
	"github.com/records-erp/records-erp/internal/shared"
	"github.com/records-erp/records-erp/internal/workorders"
	"github.com/records-erp/records-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Redis only backs the advisory run lock; the unique index still
		// protects period creation without it.
		logger.Warn("redis unavailable, billing locks disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	validate := validator.New()

	profileSvc := profiles.NewService(profiles.NewRepository(pool))
	resolver := rates.NewResolver(rates.NewRepository(pool))
	periodSvc := periods.NewService(
		periods.NewRepository(pool),
		resolver,
		workorders.NewRepository(pool),
		containers.NewRepository(pool),
		invoicing.NewRepository(pool),
		logger,
		cfg.InvoiceCurrency,
		cfg.InvoiceDueDays,
	)
	genSvc := generator.NewService(
		profileSvc,
		periodSvc,
		shared.NewRunLock(redisClient, cfg.BillingLockTTL),
		metrics,
		logger,
	)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Pool:            pool,
		BillingHandler:  generator.NewHandler(genSvc, periodSvc, validate, queueClient, cfg.CompanyID),
		ProfilesHandler: profiles.NewHandler(profileSvc, validate, cfg.CompanyID),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
