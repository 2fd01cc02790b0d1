package shared

import "time"

// Clock supplies the current time. Billing never reads time.Now directly so
// tests can pin the reference date.
type Clock func() time.Time

// BillingContext carries the execution context for billing operations:
// which company, which actor triggered the run, and the clock in effect.
type BillingContext struct {
	CompanyID int64
	ActorID   int64
	Clock     Clock
}

// NewBillingContext builds a context with a real-time clock.
func NewBillingContext(companyID, actorID int64) BillingContext {
	return BillingContext{CompanyID: companyID, ActorID: actorID, Clock: time.Now}
}

// Now returns the context's current time, falling back to time.Now.
func (c BillingContext) Now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}
