package profiles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	billing "github.com/records-erp/records-erp/internal/billing/shared"
	"github.com/records-erp/records-erp/internal/platform/httpx"
	"github.com/records-erp/records-erp/internal/shared"
)

type memoryProfileRepo struct {
	profiles map[int64]*BillingProfile
	nextID   int64
}

func newMemoryProfileRepo() *memoryProfileRepo {
	return &memoryProfileRepo{profiles: make(map[int64]*BillingProfile)}
}

func (r *memoryProfileRepo) Get(ctx context.Context, id int64) (*BillingProfile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryProfileRepo) GetActiveByCustomer(ctx context.Context, companyID, customerID int64) (*BillingProfile, error) {
	for _, p := range r.profiles {
		if p.CompanyID == companyID && p.CustomerID == customerID && p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryProfileRepo) ListActive(ctx context.Context, companyID int64) ([]BillingProfile, error) {
	var out []BillingProfile
	for _, p := range r.profiles {
		if p.CompanyID == companyID && p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryProfileRepo) Create(ctx context.Context, p BillingProfile) (int64, error) {
	for _, existing := range r.profiles {
		if existing.CompanyID == p.CompanyID && existing.CustomerID == p.CustomerID && existing.Active {
			return 0, httpx.ErrDuplicate
		}
	}
	r.nextID++
	p.ID = r.nextID
	r.profiles[p.ID] = &p
	return p.ID, nil
}

func (r *memoryProfileRepo) Update(ctx context.Context, p BillingProfile) error {
	existing, ok := r.profiles[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.NextBillingDate = existing.NextBillingDate
	p.Active = existing.Active
	r.profiles[p.ID] = &p
	return nil
}

func (r *memoryProfileRepo) Archive(ctx context.Context, id int64) error {
	p, ok := r.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = false
	return nil
}

func (r *memoryProfileRepo) SetNextBillingDate(ctx context.Context, id int64, next time.Time) error {
	p, ok := r.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.NextBillingDate = &next
	return nil
}

func testContext() shared.BillingContext {
	return shared.BillingContext{
		CompanyID: 1,
		ActorID:   1,
		Clock:     func() time.Time { return time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC) },
	}
}

func TestCreateProfile(t *testing.T) {
	svc := NewService(newMemoryProfileRepo())

	p, err := svc.Create(context.Background(), testContext(), CreateProfileInput{
		CustomerID:          100,
		StorageBillingCycle: billing.CycleMonthly,
		BillingDay:          1,
		AutoStorageInvoices: true,
	})
	require.NoError(t, err)
	require.True(t, p.Active)
	require.Equal(t, int64(1), p.CompanyID)
	require.Nil(t, p.NextBillingDate)
}

func TestCreateProfileRejectsSecondActive(t *testing.T) {
	svc := NewService(newMemoryProfileRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, testContext(), CreateProfileInput{
		CustomerID:          100,
		StorageBillingCycle: billing.CycleMonthly,
		BillingDay:          1,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, testContext(), CreateProfileInput{
		CustomerID:          100,
		StorageBillingCycle: billing.CycleQuarterly,
		BillingDay:          5,
	})
	require.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestCreateProfileValidation(t *testing.T) {
	svc := NewService(newMemoryProfileRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, testContext(), CreateProfileInput{StorageBillingCycle: billing.CycleMonthly, BillingDay: 1})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, testContext(), CreateProfileInput{CustomerID: 1, StorageBillingCycle: "WEEKLY", BillingDay: 1})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, testContext(), CreateProfileInput{CustomerID: 1, StorageBillingCycle: billing.CycleMonthly, BillingDay: 31})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestArchiveAllowsNewProfile(t *testing.T) {
	svc := NewService(newMemoryProfileRepo())
	ctx := context.Background()

	p, err := svc.Create(ctx, testContext(), CreateProfileInput{
		CustomerID:          100,
		StorageBillingCycle: billing.CycleMonthly,
		BillingDay:          1,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Archive(ctx, p.ID))

	_, err = svc.Create(ctx, testContext(), CreateProfileInput{
		CustomerID:          100,
		StorageBillingCycle: billing.CycleQuarterly,
		BillingDay:          1,
	})
	require.NoError(t, err)
}

func TestActiveForCustomerMissing(t *testing.T) {
	svc := NewService(newMemoryProfileRepo())
	_, err := svc.ActiveForCustomer(context.Background(), 1, 999)
	require.ErrorIs(t, err, shared.ErrNoBillingProfile)
}

func TestStorageDuePredicate(t *testing.T) {
	ref := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	later := ref.AddDate(0, 1, 0)
	earlier := ref.AddDate(0, -1, 0)

	p := BillingProfile{AutoStorageInvoices: true}
	require.True(t, p.StorageDue(ref), "never-billed profile is due")

	p.NextBillingDate = &earlier
	require.True(t, p.StorageDue(ref))

	p.NextBillingDate = &ref
	require.True(t, p.StorageDue(ref))

	p.NextBillingDate = &later
	require.False(t, p.StorageDue(ref))

	p = BillingProfile{AutoStorageInvoices: false, NextBillingDate: &earlier}
	require.False(t, p.StorageDue(ref), "flag off suppresses storage billing")
}
