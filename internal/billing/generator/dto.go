package generator

import (
	"github.com/records-erp/records-erp/internal/billing/periods"
	"github.com/records-erp/records-erp/internal/invoicing"
)

// runRequest triggers a batch billing run. The reference date defaults to
// today and exists so finance can re-run a past cycle. Async hands the run
// to the worker queue instead of executing in the request.
type runRequest struct {
	ReferenceDate string `json:"reference_date" validate:"omitempty,datetime=2006-01-02"`
	Async         bool   `json:"async"`
}

// queuedRunResponse acknowledges an async run with the queued task id.
type queuedRunResponse struct {
	TaskID string `json:"task_id"`
}

// combinedRequest triggers on-demand combined billing for one customer.
type combinedRequest struct {
	CustomerID    int64  `json:"customer_id" validate:"required,gt=0"`
	ReferenceDate string `json:"reference_date" validate:"omitempty,datetime=2006-01-02"`
}

// combinedResponse returns the period together with the invoice reference,
// when one was produced.
type combinedResponse struct {
	Period  *periods.BillingPeriod `json:"period"`
	Invoice *invoicing.Invoice     `json:"invoice,omitempty"`
}
