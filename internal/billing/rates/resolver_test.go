package rates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRateRepo struct {
	base       []BaseRate
	negotiated []NegotiatedRate
}

func (r *memoryRateRepo) GetBaseRate(ctx context.Context, companyID int64, rateType RateType, objectType string) (*BaseRate, error) {
	for _, b := range r.base {
		if b.CompanyID == companyID && b.RateType == rateType && b.ObjectType == objectType {
			cp := b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRateRepo) GetNegotiatedRate(ctx context.Context, companyID, customerID int64, rateType RateType, objectType string, on time.Time) (*NegotiatedRate, error) {
	var best *NegotiatedRate
	for i, n := range r.negotiated {
		if n.CompanyID != companyID || n.CustomerID != customerID || n.RateType != rateType || n.ObjectType != objectType {
			continue
		}
		if !n.CurrentAt(on) {
			continue
		}
		if best == nil || n.EffectiveDate.After(best.EffectiveDate) {
			best = &r.negotiated[i]
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func window(from, to string) (time.Time, time.Time) {
	start, _ := time.Parse("2006-01-02", from)
	end, _ := time.Parse("2006-01-02", to)
	return start, end
}

func TestResolveNegotiatedWins(t *testing.T) {
	eff, exp := window("2024-01-01", "2024-12-31")
	repo := &memoryRateRepo{
		base: []BaseRate{{CompanyID: 1, RateType: RateTypeStorage, ObjectType: "TYPE-01", UnitPrice: 3.00}},
		negotiated: []NegotiatedRate{{
			CompanyID: 1, CustomerID: 100, RateType: RateTypeStorage, ObjectType: "TYPE-01",
			UnitPrice: 2.25, DiscountPercent: 5, EffectiveDate: eff, ExpirationDate: exp,
			State: ApprovalApproved,
		}},
	}
	resolver := NewResolver(repo)

	on, _ := time.Parse("2006-01-02", "2024-04-01")
	priced, err := resolver.Resolve(context.Background(), 1, 100, RateTypeStorage, "TYPE-01", on)
	require.NoError(t, err)
	require.True(t, priced.Negotiated)
	require.Equal(t, 2.25, priced.UnitPrice)
	require.Equal(t, 5.0, priced.DiscountPercent)
}

func TestResolveFallsBackToBase(t *testing.T) {
	repo := &memoryRateRepo{
		base: []BaseRate{{CompanyID: 1, RateType: RateTypeService, ObjectType: "RETRIEVAL", UnitPrice: 7.50}},
	}
	resolver := NewResolver(repo)

	priced, err := resolver.Resolve(context.Background(), 1, 100, RateTypeService, "RETRIEVAL", time.Now())
	require.NoError(t, err)
	require.False(t, priced.Negotiated)
	require.Equal(t, 7.50, priced.UnitPrice)
	require.Equal(t, 0.0, priced.DiscountPercent)
}

func TestResolveDefaultMinimum(t *testing.T) {
	resolver := NewResolver(&memoryRateRepo{})

	priced, err := resolver.Resolve(context.Background(), 1, 100, RateTypeStorage, "TYPE-99", time.Now())
	require.NoError(t, err)
	require.Equal(t, DefaultMinimumRate, priced.UnitPrice)
}

func TestResolveIgnoresExpiredAndUnapproved(t *testing.T) {
	effOld, expOld := window("2023-01-01", "2023-12-31")
	effDraft, expDraft := window("2024-01-01", "2024-12-31")
	repo := &memoryRateRepo{
		base: []BaseRate{{CompanyID: 1, RateType: RateTypeStorage, ObjectType: "TYPE-01", UnitPrice: 3.00}},
		negotiated: []NegotiatedRate{
			{CompanyID: 1, CustomerID: 100, RateType: RateTypeStorage, ObjectType: "TYPE-01",
				UnitPrice: 1.00, EffectiveDate: effOld, ExpirationDate: expOld, State: ApprovalApproved},
			{CompanyID: 1, CustomerID: 100, RateType: RateTypeStorage, ObjectType: "TYPE-01",
				UnitPrice: 1.50, EffectiveDate: effDraft, ExpirationDate: expDraft, State: ApprovalDraft},
		},
	}
	resolver := NewResolver(repo)

	on, _ := time.Parse("2006-01-02", "2024-04-01")
	priced, err := resolver.Resolve(context.Background(), 1, 100, RateTypeStorage, "TYPE-01", on)
	require.NoError(t, err)
	require.False(t, priced.Negotiated)
	require.Equal(t, 3.00, priced.UnitPrice)
}

func TestNegotiatedRateCurrentAt(t *testing.T) {
	eff, exp := window("2024-01-01", "2024-06-30")
	n := NegotiatedRate{EffectiveDate: eff, ExpirationDate: exp, State: ApprovalApproved}

	on, _ := time.Parse("2006-01-02", "2024-01-01")
	require.True(t, n.CurrentAt(on))
	on, _ = time.Parse("2006-01-02", "2024-06-30")
	require.True(t, n.CurrentAt(on))
	on, _ = time.Parse("2006-01-02", "2024-07-01")
	require.False(t, n.CurrentAt(on))
}
