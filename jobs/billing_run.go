package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/records-erp/records-erp/internal/billing/generator"
	"github.com/records-erp/records-erp/internal/shared"
)

// BillingRunJob executes the recurring batch billing run.
type BillingRunJob struct {
	Generator *generator.Service
	Logger    *slog.Logger
	clock     func() time.Time
}

// NewBillingRunJob initialises the billing run handler.
func NewBillingRunJob(gen *generator.Service, logger *slog.Logger) *BillingRunJob {
	return &BillingRunJob{
		Generator: gen,
		Logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one billing run. Per-profile failures are reported in the
// summary, not as task errors, so asynq only retries infrastructure faults.
func (j *BillingRunJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Generator == nil {
		return errors.New("billing run: handler not configured")
	}
	var payload BillingRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.CompanyID <= 0 {
		return asynq.SkipRetry
	}
	trigger := payload.Trigger
	if trigger == "" {
		trigger = "cron"
	}

	ref := j.clock()
	if payload.ReferenceDate != "" {
		parsed, err := time.Parse("2006-01-02", payload.ReferenceDate)
		if err != nil {
			j.Logger.Error("billing run: bad reference date",
				slog.String("reference_date", payload.ReferenceDate))
			return asynq.SkipRetry
		}
		ref = parsed
	}

	bctx := shared.BillingContext{CompanyID: payload.CompanyID, Clock: j.clock}
	summary, err := j.Generator.GenerateMonthlyBilling(ctx, bctx, ref, trigger)
	if err != nil {
		j.Logger.Error("billing run failed", slog.Any("error", err))
		return err
	}

	j.Logger.Info("billing run completed",
		slog.String("run_id", summary.RunID),
		slog.Int("profiles", summary.ProfilesSeen),
		slog.Int("created", summary.PeriodsCreated),
		slog.Int("invoices", summary.InvoicesEmitted),
		slog.Int("failures", len(summary.Failures)))
	return nil
}
