// Package generator drives recurring billing: the monthly batch run over
// every active billing profile, and on-demand combined billing for a single
// customer. Storage is billed forward for the window ahead; services are
// billed in arrears for completed work orders of the prior calendar month.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/records-erp/records-erp/internal/billing/periods"
	"github.com/records-erp/records-erp/internal/billing/profiles"
	billing "github.com/records-erp/records-erp/internal/billing/shared"
	"github.com/records-erp/records-erp/internal/invoicing"
	"github.com/records-erp/records-erp/internal/observability"
	"github.com/records-erp/records-erp/internal/shared"
)

// ProfileFailure records one profile that could not be billed during a run.
type ProfileFailure struct {
	ProfileID  int64  `json:"profile_id"`
	CustomerID int64  `json:"customer_id"`
	Error      string `json:"error"`
}

// RunSummary is the outcome of one batch run. Failures are isolated per
// profile; a run that billed anyone at all reports success with failures
// listed rather than erroring out.
type RunSummary struct {
	RunID           string           `json:"run_id"`
	ReferenceDate   time.Time        `json:"reference_date"`
	ProfilesSeen    int              `json:"profiles_seen"`
	PeriodsCreated  int              `json:"periods_created"`
	PeriodsExisting int              `json:"periods_existing"`
	PeriodsPruned   int              `json:"periods_pruned"`
	InvoicesEmitted int              `json:"invoices_emitted"`
	Failures        []ProfileFailure `json:"failures,omitempty"`
}

// Service orchestrates billing runs.
type Service struct {
	profiles *profiles.Service
	periods  *periods.Service
	lock     *shared.RunLock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService wires the generator.
func NewService(profileSvc *profiles.Service, periodSvc *periods.Service,
	lock *shared.RunLock, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		profiles: profileSvc,
		periods:  periodSvc,
		lock:     lock,
		metrics:  metrics,
		logger:   logger,
	}
}

// GenerateMonthlyBilling runs batch billing for every active profile at the
// reference date. Each profile is processed independently: one customer's
// bad data never blocks the rest of the run.
func (s *Service) GenerateMonthlyBilling(ctx context.Context, bctx shared.BillingContext, ref time.Time, trigger string) (*RunSummary, error) {
	active, err := s.profiles.ListActive(ctx, bctx.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("list active billing profiles: %w", err)
	}

	summary := &RunSummary{
		RunID:         uuid.NewString(),
		ReferenceDate: ref,
		ProfilesSeen:  len(active),
	}
	s.logger.InfoContext(ctx, "billing run started",
		slog.String("run_id", summary.RunID),
		slog.String("trigger", trigger),
		slog.Time("reference_date", ref),
		slog.Int("profiles", len(active)))

	for _, prof := range active {
		if err := s.billProfile(ctx, bctx, prof, ref, summary); err != nil {
			summary.Failures = append(summary.Failures, ProfileFailure{
				ProfileID:  prof.ID,
				CustomerID: prof.CustomerID,
				Error:      err.Error(),
			})
			if s.metrics != nil {
				s.metrics.ProfileFailures.Inc()
			}
			s.logger.ErrorContext(ctx, "billing profile failed",
				slog.String("run_id", summary.RunID),
				slog.Int64("profile_id", prof.ID),
				slog.Int64("customer_id", prof.CustomerID),
				slog.String("error", err.Error()))
		}
	}

	if s.metrics != nil {
		s.metrics.BillingRuns.WithLabelValues(trigger).Inc()
	}
	s.logger.InfoContext(ctx, "billing run finished",
		slog.String("run_id", summary.RunID),
		slog.Int("created", summary.PeriodsCreated),
		slog.Int("existing", summary.PeriodsExisting),
		slog.Int("pruned", summary.PeriodsPruned),
		slog.Int("invoices", summary.InvoicesEmitted),
		slog.Int("failures", len(summary.Failures)))
	return summary, nil
}

func (s *Service) billProfile(ctx context.Context, bctx shared.BillingContext, prof profiles.BillingProfile, ref time.Time, summary *RunSummary) error {
	if prof.StorageDue(ref) {
		if err := s.storageBilling(ctx, bctx, prof, ref, summary); err != nil {
			return fmt.Errorf("storage billing: %w", err)
		}
	}
	if prof.AutoServiceInvoices {
		if err := s.serviceBilling(ctx, bctx, prof, ref, summary); err != nil {
			return fmt.Errorf("service billing: %w", err)
		}
	}
	return nil
}

func (s *Service) storageBilling(ctx context.Context, bctx shared.BillingContext, prof profiles.BillingProfile, ref time.Time, summary *RunSummary) error {
	win, err := billing.StorageWindow(prof.StorageBillingCycle, prof.BillingDay, ref)
	if err != nil {
		return err
	}

	lockKey := shared.BillingLockKey(bctx.CompanyID, prof.CustomerID, string(periods.BillingTypeStorage))
	if err := s.lock.Acquire(ctx, lockKey); err != nil {
		if errors.Is(err, shared.ErrRunLocked) {
			s.logger.WarnContext(ctx, "storage billing skipped, customer locked",
				slog.Int64("customer_id", prof.CustomerID))
			return nil
		}
		return err
	}
	defer func() {
		if err := s.lock.Release(ctx, lockKey); err != nil {
			s.logger.WarnContext(ctx, "release billing lock", slog.String("error", err.Error()))
		}
	}()

	var (
		p       *periods.BillingPeriod
		created bool
	)
	err = s.periods.WithTx(ctx, func(txSvc *periods.Service) error {
		p, created, err = txSvc.FindOrCreate(ctx, bctx, periods.PeriodKey{
			CompanyID:   bctx.CompanyID,
			CustomerID:  prof.CustomerID,
			BillingType: periods.BillingTypeStorage,
			PeriodStart: win.Start,
			PeriodEnd:   win.End,
		}, nil, nil)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		return txSvc.RegenerateStorageLines(ctx, bctx, p)
	})
	if err != nil {
		return err
	}

	// The next due date advances even when the period already existed, so a
	// run interrupted between period creation and the date update heals on
	// the following pass.
	next := win.End.AddDate(0, 0, 1)
	if err := s.profiles.AdvanceNextBillingDate(ctx, prof.ID, next); err != nil {
		return err
	}

	if !created {
		summary.PeriodsExisting++
		return nil
	}
	summary.PeriodsCreated++
	if s.metrics != nil {
		s.metrics.PeriodsCreated.WithLabelValues(string(periods.BillingTypeStorage)).Inc()
	}

	return s.settle(ctx, bctx, p, prof.AutoSendInvoices, summary)
}

func (s *Service) serviceBilling(ctx context.Context, bctx shared.BillingContext, prof profiles.BillingProfile, ref time.Time, summary *RunSummary) error {
	win := billing.PriorMonthWindow(ref)

	lockKey := shared.BillingLockKey(bctx.CompanyID, prof.CustomerID, string(periods.BillingTypeService))
	if err := s.lock.Acquire(ctx, lockKey); err != nil {
		if errors.Is(err, shared.ErrRunLocked) {
			s.logger.WarnContext(ctx, "service billing skipped, customer locked",
				slog.Int64("customer_id", prof.CustomerID))
			return nil
		}
		return err
	}
	defer func() {
		if err := s.lock.Release(ctx, lockKey); err != nil {
			s.logger.WarnContext(ctx, "release billing lock", slog.String("error", err.Error()))
		}
	}()

	var (
		p       *periods.BillingPeriod
		created bool
		pruned  bool
	)
	err := s.periods.WithTx(ctx, func(txSvc *periods.Service) error {
		var err error
		p, created, err = txSvc.FindOrCreate(ctx, bctx, periods.PeriodKey{
			CompanyID:   bctx.CompanyID,
			CustomerID:  prof.CustomerID,
			BillingType: periods.BillingTypeService,
			PeriodStart: win.Start,
			PeriodEnd:   win.End,
		}, nil, nil)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		if err := txSvc.RegenerateServiceLines(ctx, bctx, p); err != nil {
			return err
		}
		// Nothing billable in the window: the period never surfaces.
		if p.ServiceAmount == 0 {
			pruned = true
			return txSvc.DeleteDraft(ctx, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case pruned:
		summary.PeriodsPruned++
		return nil
	case !created:
		summary.PeriodsExisting++
		return nil
	}
	summary.PeriodsCreated++
	if s.metrics != nil {
		s.metrics.PeriodsCreated.WithLabelValues(string(periods.BillingTypeService)).Inc()
	}

	return s.settle(ctx, bctx, p, prof.AutoSendInvoices, summary)
}

// settle confirms a freshly created period and, when the profile sends
// invoices automatically, emits the invoice. Zero-total periods stay draft
// for manual review.
func (s *Service) settle(ctx context.Context, bctx shared.BillingContext, p *periods.BillingPeriod, autoSend bool, summary *RunSummary) error {
	if p.TotalAmount == 0 {
		return nil
	}
	if err := s.periods.Confirm(ctx, bctx, p); err != nil {
		return err
	}
	if !autoSend {
		return nil
	}
	if _, err := s.periods.EmitInvoice(ctx, bctx, p); err != nil {
		return err
	}
	summary.InvoicesEmitted++
	if s.metrics != nil {
		s.metrics.InvoicesEmitted.Inc()
	}
	return nil
}

// GenerateCombinedBilling bills one customer on demand: a single period
// carrying the forward storage window plus the prior month's service work,
// invoiced immediately. The profile's auto_send_invoices flag is not
// consulted here; combined billing always produces the invoice.
func (s *Service) GenerateCombinedBilling(ctx context.Context, bctx shared.BillingContext, customerID int64, ref time.Time) (*periods.BillingPeriod, *invoicing.Invoice, error) {
	prof, err := s.profiles.ActiveForCustomer(ctx, bctx.CompanyID, customerID)
	if err != nil {
		return nil, nil, err
	}

	storageWin, err := billing.StorageWindow(prof.StorageBillingCycle, prof.BillingDay, ref)
	if err != nil {
		return nil, nil, err
	}
	serviceWin := billing.PriorMonthWindow(ref)

	lockKey := shared.BillingLockKey(bctx.CompanyID, customerID, string(periods.BillingTypeCombined))
	if err := s.lock.Acquire(ctx, lockKey); err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := s.lock.Release(ctx, lockKey); err != nil {
			s.logger.WarnContext(ctx, "release billing lock", slog.String("error", err.Error()))
		}
	}()

	var (
		p       *periods.BillingPeriod
		created bool
	)
	err = s.periods.WithTx(ctx, func(txSvc *periods.Service) error {
		var err error
		p, created, err = txSvc.FindOrCreate(ctx, bctx, periods.PeriodKey{
			CompanyID:   bctx.CompanyID,
			CustomerID:  customerID,
			BillingType: periods.BillingTypeCombined,
			PeriodStart: storageWin.Start,
			PeriodEnd:   storageWin.End,
		}, &serviceWin.Start, &serviceWin.End)
		if err != nil {
			return err
		}
		// Re-running on a draft refreshes its lines; invoiced periods pass
		// through untouched.
		if !p.Mutable() {
			return nil
		}
		if err := txSvc.RegenerateStorageLines(ctx, bctx, p); err != nil {
			return err
		}
		return txSvc.RegenerateServiceLines(ctx, bctx, p)
	})
	if err != nil {
		return nil, nil, err
	}

	if created {
		if s.metrics != nil {
			s.metrics.PeriodsCreated.WithLabelValues(string(periods.BillingTypeCombined)).Inc()
		}
		if err := s.profiles.AdvanceNextBillingDate(ctx, prof.ID, storageWin.End.AddDate(0, 0, 1)); err != nil {
			return nil, nil, err
		}
	}

	if p.State == periods.StateInvoiced || p.State == periods.StateDone {
		return p, nil, nil
	}
	if p.TotalAmount == 0 {
		// Nothing to charge; the empty draft is left for review rather than
		// silently discarded, since the customer asked to be billed.
		return p, nil, nil
	}

	if p.State == periods.StateDraft {
		if err := s.periods.Confirm(ctx, bctx, p); err != nil {
			return nil, nil, err
		}
	}
	inv, err := s.periods.EmitInvoice(ctx, bctx, p)
	if err != nil {
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.InvoicesEmitted.Inc()
	}
	return p, inv, nil
}
