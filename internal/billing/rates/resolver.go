package rates

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMinimumRate is the hard-coded floor applied when neither a
// negotiated nor a base rate exists. Carried over from the legacy catalog.
const DefaultMinimumRate = 0.50

// Resolver resolves the unit price for a billing line. Resolution order:
// customer-specific negotiated rate valid on the date, else the base
// catalog entry, else DefaultMinimumRate. The first match short-circuits;
// a negotiated rate always wins.
type Resolver struct {
	repo Repository
}

// NewResolver builds a Resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve prices one (rate type, object type) for a customer on a date.
func (r *Resolver) Resolve(ctx context.Context, companyID, customerID int64, rateType RateType, objectType string, on time.Time) (PricedRate, error) {
	negotiated, err := r.repo.GetNegotiatedRate(ctx, companyID, customerID, rateType, objectType, on)
	if err == nil {
		return PricedRate{
			UnitPrice:       negotiated.UnitPrice,
			DiscountPercent: negotiated.DiscountPercent,
			Negotiated:      true,
		}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return PricedRate{}, fmt.Errorf("lookup negotiated rate: %w", err)
	}

	base, err := r.repo.GetBaseRate(ctx, companyID, rateType, objectType)
	if err == nil {
		return PricedRate{UnitPrice: base.UnitPrice}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return PricedRate{}, fmt.Errorf("lookup base rate: %w", err)
	}

	return PricedRate{UnitPrice: DefaultMinimumRate}, nil
}
