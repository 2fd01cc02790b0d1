// Package invoicing converts confirmed billing periods into invoice
// documents. The billing engine treats invoicing as fire-and-forget
// creation: it hands over line tuples and stores the returned reference.
package invoicing

import (
	"context"
	"time"
)

// InvoiceStatus enumerates invoice statuses.
type InvoiceStatus string

const (
	StatusDraft  InvoiceStatus = "DRAFT"
	StatusPosted InvoiceStatus = "POSTED"
	StatusPaid   InvoiceStatus = "PAID"
	StatusVoid   InvoiceStatus = "VOID"
)

// LineInput is one invoice line as handed over by billing.
type LineInput struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	Amount      float64
}

// EmitInput is the full invoice handover.
type EmitInput struct {
	CompanyID   int64
	CustomerID  int64
	Currency    string
	InvoiceDate time.Time
	DueDate     time.Time
	Lines       []LineInput
	CreatedBy   int64
}

// Invoice is the emitted document reference billing stores.
type Invoice struct {
	ID          int64         `json:"id"`
	Number      string        `json:"number"`
	CompanyID   int64         `json:"company_id"`
	CustomerID  int64         `json:"customer_id"`
	Currency    string        `json:"currency"`
	Total       float64       `json:"total"`
	Status      InvoiceStatus `json:"status"`
	InvoiceDate time.Time     `json:"invoice_date"`
	DueAt       time.Time     `json:"due_at"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Emitter is the collaborator interface the billing engine depends on.
type Emitter interface {
	Emit(ctx context.Context, input EmitInput) (*Invoice, error)
}
