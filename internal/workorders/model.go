package workorders

import "time"

// Kind distinguishes billable work order sources.
type Kind string

const (
	KindRetrieval Kind = "RETRIEVAL"
	KindShredding Kind = "SHREDDING"
)

// State of a work order. Only completed orders are billable.
type State string

const (
	StateScheduled State = "SCHEDULED"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
)

// WorkOrder is the read-only view of a completed retrieval or shredding
// job. Billing never writes work orders; prior billing is detected by the
// billing lines that reference them.
type WorkOrder struct {
	ID          int64      `json:"id"`
	CompanyID   int64      `json:"company_id"`
	CustomerID  int64      `json:"customer_id"`
	Kind        Kind       `json:"kind"`
	State       State      `json:"state"`
	Description string     `json:"description"`
	ItemCount   float64    `json:"item_count"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
