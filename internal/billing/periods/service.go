package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/records-erp/records-erp/internal/billing/rates"
	billing "github.com/records-erp/records-erp/internal/billing/shared"
	"github.com/records-erp/records-erp/internal/containers"
	"github.com/records-erp/records-erp/internal/invoicing"
	"github.com/records-erp/records-erp/internal/platform/httpx"
	"github.com/records-erp/records-erp/internal/shared"
	"github.com/records-erp/records-erp/internal/workorders"
)

// Service owns the billing period lifecycle: find-or-create on the period
// key, line materialization while draft, and the state machine through to
// invoicing.
type Service struct {
	repo     Repository
	rates    *rates.Resolver
	orders   workorders.Repository
	holdings containers.Repository
	emitter  invoicing.Emitter
	logger   *slog.Logger
	currency string
	dueDays  int
}

// NewService wires the period service.
func NewService(repo Repository, resolver *rates.Resolver, orders workorders.Repository,
	holdings containers.Repository, emitter invoicing.Emitter, logger *slog.Logger,
	currency string, dueDays int) *Service {
	if currency == "" {
		currency = "USD"
	}
	if dueDays <= 0 {
		dueDays = 30
	}
	return &Service{
		repo:     repo,
		rates:    resolver,
		orders:   orders,
		holdings: holdings,
		emitter:  emitter,
		logger:   logger,
		currency: currency,
		dueDays:  dueDays,
	}
}

// WithTx runs fn against a transaction-scoped copy of the service so a
// multi-step materialization commits or rolls back as one unit.
func (s *Service) WithTx(ctx context.Context, fn func(txSvc *Service) error) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		txSvc := *s
		txSvc.repo = repo
		return fn(&txSvc)
	})
}

// FindOrCreate returns the period for the key, creating a draft if none
// exists. A concurrent create racing on the unique index degrades to a
// re-fetch, so both callers end up holding the same period.
func (s *Service) FindOrCreate(ctx context.Context, bctx shared.BillingContext, key PeriodKey, serviceStart, serviceEnd *time.Time) (*BillingPeriod, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, httpx.ErrNotFound) {
		return nil, false, fmt.Errorf("find billing period: %w", err)
	}

	p := &BillingPeriod{
		CompanyID:    key.CompanyID,
		CustomerID:   key.CustomerID,
		BillingType:  key.BillingType,
		PeriodStart:  key.PeriodStart,
		PeriodEnd:    key.PeriodEnd,
		ServiceStart: serviceStart,
		ServiceEnd:   serviceEnd,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, httpx.ErrDuplicate) {
			won, ferr := s.repo.FindByKey(ctx, key)
			if ferr != nil {
				return nil, false, fmt.Errorf("refetch billing period after duplicate: %w", ferr)
			}
			return won, false, nil
		}
		return nil, false, err
	}

	s.logger.InfoContext(ctx, "billing period created",
		slog.Int64("period_id", p.ID),
		slog.Int64("customer_id", p.CustomerID),
		slog.String("billing_type", string(p.BillingType)))
	return p, true, nil
}

// RegenerateStorageLines replaces the period's storage lines with one line
// per container type currently stored, priced on the period start date.
// Only draft periods may be regenerated.
func (s *Service) RegenerateStorageLines(ctx context.Context, bctx shared.BillingContext, p *BillingPeriod) error {
	if !p.Mutable() {
		return fmt.Errorf("%w: lines are frozen once the period leaves DRAFT", httpx.ErrInvalidState)
	}

	held, err := s.holdings.HoldingsByCustomer(ctx, p.CompanyID, p.CustomerID)
	if err != nil {
		return fmt.Errorf("load container holdings: %w", err)
	}

	lines := make([]BillingLine, 0, len(held))
	for _, h := range held {
		if h.Count <= 0 {
			continue
		}
		rate, err := s.rates.Resolve(ctx, p.CompanyID, p.CustomerID, rates.RateTypeStorage, h.ContainerType, p.PeriodStart)
		if err != nil {
			return fmt.Errorf("resolve storage rate for %s: %w", h.ContainerType, err)
		}
		if err := billing.ValidateLineValues(h.Count, rate.UnitPrice, rate.DiscountPercent); err != nil {
			return err
		}
		subtotal, discount, amount := billing.CalculateLineAmounts(h.Count, rate.UnitPrice, rate.DiscountPercent)
		lines = append(lines, BillingLine{
			PeriodID:        p.ID,
			Kind:            LineKindStorage,
			ServiceType:     h.ContainerType,
			Description:     fmt.Sprintf("%s storage %s to %s", h.ContainerType, fmtDate(p.PeriodStart), fmtDate(p.PeriodEnd)),
			Quantity:        h.Count,
			UnitPrice:       rate.UnitPrice,
			DiscountPercent: rate.DiscountPercent,
			Subtotal:        subtotal,
			DiscountAmount:  discount,
			Amount:          amount,
			Billable:        true,
		})
	}

	return s.storeLines(ctx, p, LineKindStorage, lines)
}

// RegenerateServiceLines replaces the period's service lines with one line
// per completed, not-yet-billed retrieval or shredding order inside the
// service window.
func (s *Service) RegenerateServiceLines(ctx context.Context, bctx shared.BillingContext, p *BillingPeriod) error {
	if !p.Mutable() {
		return fmt.Errorf("%w: lines are frozen once the period leaves DRAFT", httpx.ErrInvalidState)
	}

	from, to := p.ServiceWindow()
	var lines []BillingLine
	for _, kind := range []workorders.Kind{workorders.KindRetrieval, workorders.KindShredding} {
		completed, err := s.orders.ListUnbilled(ctx, p.CompanyID, p.CustomerID, kind, from, to)
		if err != nil {
			return fmt.Errorf("list unbilled %s orders: %w", kind, err)
		}
		for _, wo := range completed {
			line, err := s.serviceLine(ctx, p, wo)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
	}

	return s.storeLines(ctx, p, LineKindService, lines)
}

func (s *Service) serviceLine(ctx context.Context, p *BillingPeriod, wo workorders.WorkOrder) (BillingLine, error) {
	on := p.PeriodStart
	if wo.CompletedAt != nil {
		on = *wo.CompletedAt
	}
	rate, err := s.rates.Resolve(ctx, p.CompanyID, p.CustomerID, rates.RateTypeService, string(wo.Kind), on)
	if err != nil {
		return BillingLine{}, fmt.Errorf("resolve service rate for order %d: %w", wo.ID, err)
	}

	qty := wo.ItemCount
	if qty <= 0 {
		qty = 1
	}
	if err := billing.ValidateLineValues(qty, rate.UnitPrice, rate.DiscountPercent); err != nil {
		return BillingLine{}, err
	}
	subtotal, discount, amount := billing.CalculateLineAmounts(qty, rate.UnitPrice, rate.DiscountPercent)

	desc := wo.Description
	if desc == "" {
		desc = fmt.Sprintf("%s order %d", string(wo.Kind), wo.ID)
	}
	woID := wo.ID
	return BillingLine{
		PeriodID:        p.ID,
		Kind:            LineKindService,
		ServiceType:     string(wo.Kind),
		Description:     desc,
		Quantity:        qty,
		UnitPrice:       rate.UnitPrice,
		DiscountPercent: rate.DiscountPercent,
		Subtotal:        subtotal,
		DiscountAmount:  discount,
		Amount:          amount,
		Billable:        true,
		WorkOrderID:     &woID,
	}, nil
}

func (s *Service) storeLines(ctx context.Context, p *BillingPeriod, kind LineKind, lines []BillingLine) error {
	if err := s.repo.ReplaceLines(ctx, p.ID, kind, lines); err != nil {
		return err
	}

	kept := p.Lines[:0]
	for _, line := range p.Lines {
		if line.Kind != kind {
			kept = append(kept, line)
		}
	}
	p.Lines = append(kept, lines...)
	p.RecomputeAmounts()

	return s.repo.UpdateAmounts(ctx, p)
}

// DeleteDraft removes an empty draft period. Used to prune service periods
// whose window turned out to hold no billable work.
func (s *Service) DeleteDraft(ctx context.Context, p *BillingPeriod) error {
	if p.State != StateDraft {
		return fmt.Errorf("%w: only DRAFT periods can be deleted", httpx.ErrInvalidState)
	}
	return s.repo.Delete(ctx, p.ID)
}

// Confirm moves a draft period with at least one nonzero line to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, bctx shared.BillingContext, p *BillingPeriod) error {
	if err := p.CanConfirm(); err != nil {
		return err
	}
	if err := s.repo.UpdateState(ctx, p.ID, StateConfirmed); err != nil {
		return err
	}
	p.State = StateConfirmed
	return nil
}

// EmitInvoice converts a confirmed period into an invoice, one invoice line
// per billable billing line, and records the document reference on the
// period. The period moves to INVOICED; its lines are frozen from here on.
func (s *Service) EmitInvoice(ctx context.Context, bctx shared.BillingContext, p *BillingPeriod) (*invoicing.Invoice, error) {
	if err := p.CanInvoice(); err != nil {
		return nil, err
	}

	var lineInputs []invoicing.LineInput
	for _, line := range p.Lines {
		if !line.Billable {
			continue
		}
		prefix := "Storage: "
		if line.Kind == LineKindService {
			prefix = "Service: "
		}
		lineInputs = append(lineInputs, invoicing.LineInput{
			Description: prefix + line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Amount:      line.Amount,
		})
	}

	invoiceDate := bctx.Now()
	inv, err := s.emitter.Emit(ctx, invoicing.EmitInput{
		CompanyID:   p.CompanyID,
		CustomerID:  p.CustomerID,
		Currency:    s.currency,
		InvoiceDate: invoiceDate,
		DueDate:     invoiceDate.AddDate(0, 0, s.dueDays),
		Lines:       lineInputs,
		CreatedBy:   bctx.ActorID,
	})
	if err != nil {
		return nil, fmt.Errorf("emit invoice for period %d: %w", p.ID, err)
	}

	if err := s.repo.SetInvoice(ctx, p.ID, inv.ID, invoiceDate); err != nil {
		return nil, err
	}
	p.InvoiceID = &inv.ID
	p.InvoiceDate = &invoiceDate
	p.State = StateInvoiced

	s.logger.InfoContext(ctx, "billing period invoiced",
		slog.Int64("period_id", p.ID),
		slog.Int64("invoice_id", inv.ID),
		slog.String("number", inv.Number),
		slog.Float64("total", inv.Total))
	return inv, nil
}

// Cancel moves a draft or confirmed period to CANCELLED, releasing its work
// orders back into the unbilled pool.
func (s *Service) Cancel(ctx context.Context, bctx shared.BillingContext, p *BillingPeriod) error {
	if err := p.CanCancel(); err != nil {
		return err
	}
	if err := s.repo.UpdateState(ctx, p.ID, StateCancelled); err != nil {
		return err
	}
	p.State = StateCancelled
	return nil
}

// MarkDone closes an invoiced period.
func (s *Service) MarkDone(ctx context.Context, bctx shared.BillingContext, p *BillingPeriod) error {
	if err := p.CanComplete(); err != nil {
		return err
	}
	if err := s.repo.UpdateState(ctx, p.ID, StateDone); err != nil {
		return err
	}
	p.State = StateDone
	return nil
}

// Get loads one period with its lines.
func (s *Service) Get(ctx context.Context, companyID, id int64) (*BillingPeriod, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns periods matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]BillingPeriod, error) {
	return s.repo.List(ctx, filter)
}

func fmtDate(t time.Time) string {
	return t.Format("2006-01-02")
}
