package profiles

import (
	"time"

	billing "github.com/records-erp/records-erp/internal/billing/shared"
)

// BillingProfile is the per-customer billing configuration. Exactly one
// active profile exists per customer; retired profiles are archived, never
// deleted, so historical periods keep their configuration reference.
type BillingProfile struct {
	ID                  int64                `json:"id"`
	CompanyID           int64                `json:"company_id"`
	CustomerID          int64                `json:"customer_id"`
	StorageBillingCycle billing.BillingCycle `json:"storage_billing_cycle"`
	BillingDay          int                  `json:"billing_day"`
	AutoStorageInvoices bool                 `json:"auto_generate_storage_invoices"`
	AutoServiceInvoices bool                 `json:"auto_generate_service_invoices"`
	AutoSendInvoices    bool                 `json:"auto_send_invoices"`
	NextBillingDate     *time.Time           `json:"next_billing_date,omitempty"`
	Active              bool                 `json:"active"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// StorageDue reports whether forward-looking storage billing is due at ref.
// Pure predicate: due when auto-generation is on and the next billing date
// is unset (never billed) or has been reached.
func (p BillingProfile) StorageDue(ref time.Time) bool {
	if !p.AutoStorageInvoices {
		return false
	}
	if p.NextBillingDate == nil {
		return true
	}
	return !p.NextBillingDate.After(ref)
}

// CreateProfileInput collects the fields for onboarding a profile.
type CreateProfileInput struct {
	CompanyID           int64
	CustomerID          int64
	StorageBillingCycle billing.BillingCycle
	BillingDay          int
	AutoStorageInvoices bool
	AutoServiceInvoices bool
	AutoSendInvoices    bool
}

// UpdateProfileInput carries optional mutations by billing admins.
type UpdateProfileInput struct {
	StorageBillingCycle *billing.BillingCycle
	BillingDay          *int
	AutoStorageInvoices *bool
	AutoServiceInvoices *bool
	AutoSendInvoices    *bool
}
