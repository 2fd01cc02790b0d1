package periods

import (
	"fmt"
	"time"

	"github.com/records-erp/records-erp/internal/platform/httpx"
)

// BillingType classifies what a period charges for.
type BillingType string

const (
	BillingTypeStorage  BillingType = "STORAGE"
	BillingTypeService  BillingType = "SERVICE"
	BillingTypeCombined BillingType = "COMBINED"
)

// PeriodState is the billing period lifecycle state.
type PeriodState string

const (
	StateDraft     PeriodState = "DRAFT"
	StateConfirmed PeriodState = "CONFIRMED"
	StateInvoiced  PeriodState = "INVOICED"
	StateDone      PeriodState = "DONE"
	StateCancelled PeriodState = "CANCELLED"
)

// LineKind tags a billing line as a storage or service charge.
type LineKind string

const (
	LineKindStorage LineKind = "STORAGE"
	LineKindService LineKind = "SERVICE"
)

// PeriodKey is the uniqueness key for billing periods: at most one period
// exists per key. Enforced by lookup-before-create plus a composite unique
// index on billing_periods.
type PeriodKey struct {
	CompanyID   int64
	CustomerID  int64
	BillingType BillingType
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Validate rejects illogical date ranges.
func (k PeriodKey) Validate() error {
	if k.CustomerID == 0 {
		return fmt.Errorf("%w: customer required", httpx.ErrValidation)
	}
	if k.PeriodEnd.Before(k.PeriodStart) {
		return fmt.Errorf("%w: period end before start", httpx.ErrValidation)
	}
	return nil
}

// BillingPeriod is the aggregate for one invoicing cycle of one customer.
// Combined periods additionally carry the service (arrears) window in
// ServiceStart/ServiceEnd; the primary range always reflects the
// forward-looking storage cycle.
type BillingPeriod struct {
	ID           int64       `json:"id"`
	CompanyID    int64       `json:"company_id"`
	CustomerID   int64       `json:"customer_id"`
	BillingType  BillingType `json:"billing_type"`
	PeriodStart  time.Time   `json:"period_start_date"`
	PeriodEnd    time.Time   `json:"period_end_date"`
	ServiceStart *time.Time  `json:"service_start_date,omitempty"`
	ServiceEnd   *time.Time  `json:"service_end_date,omitempty"`
	InvoiceDate  *time.Time  `json:"invoice_date,omitempty"`
	State        PeriodState `json:"state"`

	StorageAmount float64 `json:"storage_amount"`
	ServiceAmount float64 `json:"service_amount"`
	TotalAmount   float64 `json:"total_amount"`

	InvoiceID *int64 `json:"invoice_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lines []BillingLine `json:"lines,omitempty"`
}

// Key returns the period's uniqueness key.
func (p *BillingPeriod) Key() PeriodKey {
	return PeriodKey{
		CompanyID:   p.CompanyID,
		CustomerID:  p.CustomerID,
		BillingType: p.BillingType,
		PeriodStart: p.PeriodStart,
		PeriodEnd:   p.PeriodEnd,
	}
}

// ServiceWindow returns the window service lines are selected from: the
// explicit arrears range on combined periods, otherwise the primary range.
func (p *BillingPeriod) ServiceWindow() (time.Time, time.Time) {
	if p.ServiceStart != nil && p.ServiceEnd != nil {
		return *p.ServiceStart, *p.ServiceEnd
	}
	return p.PeriodStart, p.PeriodEnd
}

// Mutable reports whether the line set may still change.
func (p *BillingPeriod) Mutable() bool {
	return p.State == StateDraft
}

// CanConfirm guards the draft → confirmed transition: at least one billable
// line with a nonzero amount is required.
func (p *BillingPeriod) CanConfirm() error {
	if p.State != StateDraft {
		return fmt.Errorf("%w: confirm requires DRAFT, period is %s", httpx.ErrInvalidState, p.State)
	}
	for _, line := range p.Lines {
		if line.Billable && line.Amount != 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: confirm requires at least one nonzero billing line", httpx.ErrInvalidState)
}

// CanInvoice guards the confirmed → invoiced transition.
func (p *BillingPeriod) CanInvoice() error {
	if p.State != StateConfirmed {
		return fmt.Errorf("%w: invoice requires CONFIRMED, period is %s", httpx.ErrInvalidState, p.State)
	}
	return nil
}

// CanCancel permits cancellation from draft or confirmed only; an invoiced
// period can never be cancelled.
func (p *BillingPeriod) CanCancel() error {
	if p.State == StateDraft || p.State == StateConfirmed {
		return nil
	}
	return fmt.Errorf("%w: cannot cancel a %s period", httpx.ErrInvalidState, p.State)
}

// CanComplete guards the invoiced → done transition.
func (p *BillingPeriod) CanComplete() error {
	if p.State != StateInvoiced {
		return fmt.Errorf("%w: done requires INVOICED, period is %s", httpx.ErrInvalidState, p.State)
	}
	return nil
}

// RecomputeAmounts derives the period totals from its line set. Amounts are
// never settable independently of the lines.
func (p *BillingPeriod) RecomputeAmounts() {
	var storage, service float64
	for _, line := range p.Lines {
		if !line.Billable {
			continue
		}
		switch line.Kind {
		case LineKindStorage:
			storage += line.Amount
		case LineKindService:
			service += line.Amount
		}
	}
	p.StorageAmount = storage
	p.ServiceAmount = service
	p.TotalAmount = storage + service
}

// BillingLine is one charge inside a period. Lines are regenerated as a
// set while the period is draft and frozen once it is invoiced.
type BillingLine struct {
	ID              int64    `json:"id"`
	PeriodID        int64    `json:"period_id"`
	Kind            LineKind `json:"kind"`
	ServiceType     string   `json:"service_type"`
	Description     string   `json:"description"`
	Quantity        float64  `json:"quantity"`
	UnitPrice       float64  `json:"unit_price"`
	DiscountPercent float64  `json:"discount_percent"`
	Subtotal        float64  `json:"subtotal"`
	DiscountAmount  float64  `json:"discount_amount"`
	Amount          float64  `json:"amount"`
	Billable        bool     `json:"billable"`
	WorkOrderID     *int64   `json:"work_order_id,omitempty"`
}
