package rates

import "time"

// RateType distinguishes what a rate prices.
type RateType string

const (
	RateTypeStorage RateType = "STORAGE"
	RateTypeService RateType = "SERVICE"
)

// ApprovalState for negotiated rates. Only approved rates are priced.
type ApprovalState string

const (
	ApprovalDraft    ApprovalState = "DRAFT"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalRejected ApprovalState = "REJECTED"
)

// BaseRate is a catalog entry: the list price per container type (storage)
// or service type (retrieval, shredding).
type BaseRate struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"company_id"`
	RateType   RateType  `json:"rate_type"`
	ObjectType string    `json:"object_type"`
	UnitPrice  float64   `json:"unit_price"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NegotiatedRate is a customer-specific override with its own validity
// window. At most one current approved rate per (customer, rate type,
// object type) at any instant; that invariant is derived at query time, not
// stored.
type NegotiatedRate struct {
	ID              int64         `json:"id"`
	CompanyID       int64         `json:"company_id"`
	CustomerID      int64         `json:"customer_id"`
	RateType        RateType      `json:"rate_type"`
	ObjectType      string        `json:"object_type"`
	UnitPrice       float64       `json:"unit_price"`
	DiscountPercent float64       `json:"discount_percent"`
	EffectiveDate   time.Time     `json:"effective_date"`
	ExpirationDate  time.Time     `json:"expiration_date"`
	State           ApprovalState `json:"state"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// CurrentAt reports whether the rate applies on the given date.
func (n NegotiatedRate) CurrentAt(on time.Time) bool {
	if n.State != ApprovalApproved {
		return false
	}
	return !on.Before(n.EffectiveDate) && !on.After(n.ExpirationDate)
}

// PricedRate is the resolved price a billing line uses.
type PricedRate struct {
	UnitPrice       float64
	DiscountPercent float64
	Negotiated      bool
}
