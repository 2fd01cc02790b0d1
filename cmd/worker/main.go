package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/records-erp/records-erp/internal/app"
	"github.com/records-erp/records-erp/internal/billing/generator"
	"github.com/records-erp/records-erp/internal/billing/periods"
	"github.com/records-erp/records-erp/internal/billing/profiles"
	"github.com/records-erp/records-erp/internal/billing/rates"
	"github.com/records-erp/records-erp/internal/containers"
	"github.com/records-erp/records-erp/internal/invoicing"
	"github.com/records-erp/records-erp/internal/platform/cache"
	"github.com/records-erp/records-erp/internal/platform/db"
	"github.com/records-erp/records-erp/internal/shared"
	"github.com/records-erp/records-erp/internal/workorders"
	"github.com/records-erp/records-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Warn("redis unavailable, billing locks disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

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
		nil,
		logger,
	)

	billingJob := jobs.NewBillingRunJob(genSvc, logger)
	cronTask, err := jobs.NewBillingRunTask(jobs.BillingRunPayload{CompanyID: cfg.CompanyID})
	if err != nil {
		logger.Error("build billing run task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBillingMonthlyRun, Handler: billingJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BillingCron, Task: cronTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("billing_cron", cfg.BillingCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
