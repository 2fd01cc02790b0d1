package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/records-erp/records-erp/internal/platform/httpx"
	"github.com/records-erp/records-erp/internal/shared"
)

// Service handles billing profile business logic.
type Service struct {
	repo Repository
}

// NewService builds a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create onboards a billing profile for a customer. The repository enforces
// the one-active-profile-per-customer invariant.
func (s *Service) Create(ctx context.Context, bctx shared.BillingContext, input CreateProfileInput) (*BillingProfile, error) {
	if input.CustomerID == 0 {
		return nil, fmt.Errorf("%w: customer required", httpx.ErrValidation)
	}
	if !input.StorageBillingCycle.Valid() {
		return nil, fmt.Errorf("%w: unknown storage billing cycle %q", httpx.ErrValidation, input.StorageBillingCycle)
	}
	if input.BillingDay < 1 || input.BillingDay > 28 {
		return nil, fmt.Errorf("%w: billing day must be within [1,28]", httpx.ErrValidation)
	}

	now := bctx.Now()
	p := BillingProfile{
		CompanyID:           bctx.CompanyID,
		CustomerID:          input.CustomerID,
		StorageBillingCycle: input.StorageBillingCycle,
		BillingDay:          input.BillingDay,
		AutoStorageInvoices: input.AutoStorageInvoices,
		AutoServiceInvoices: input.AutoServiceInvoices,
		AutoSendInvoices:    input.AutoSendInvoices,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	id, err := s.repo.Create(ctx, p)
	if err != nil {
		if errors.Is(err, httpx.ErrDuplicate) {
			return nil, fmt.Errorf("%w: customer %d already has an active billing profile", httpx.ErrDuplicate, input.CustomerID)
		}
		return nil, fmt.Errorf("create billing profile: %w", err)
	}
	p.ID = id
	return &p, nil
}

// Update applies admin mutations to an existing profile.
func (s *Service) Update(ctx context.Context, id int64, input UpdateProfileInput) (*BillingProfile, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get billing profile: %w", err)
	}
	if input.StorageBillingCycle != nil {
		if !input.StorageBillingCycle.Valid() {
			return nil, fmt.Errorf("%w: unknown storage billing cycle %q", httpx.ErrValidation, *input.StorageBillingCycle)
		}
		p.StorageBillingCycle = *input.StorageBillingCycle
	}
	if input.BillingDay != nil {
		if *input.BillingDay < 1 || *input.BillingDay > 28 {
			return nil, fmt.Errorf("%w: billing day must be within [1,28]", httpx.ErrValidation)
		}
		p.BillingDay = *input.BillingDay
	}
	if input.AutoStorageInvoices != nil {
		p.AutoStorageInvoices = *input.AutoStorageInvoices
	}
	if input.AutoServiceInvoices != nil {
		p.AutoServiceInvoices = *input.AutoServiceInvoices
	}
	if input.AutoSendInvoices != nil {
		p.AutoSendInvoices = *input.AutoSendInvoices
	}
	if err := s.repo.Update(ctx, *p); err != nil {
		return nil, fmt.Errorf("update billing profile: %w", err)
	}
	return p, nil
}

// Archive retires a profile. Profiles are never hard-deleted.
func (s *Service) Archive(ctx context.Context, id int64) error {
	if err := s.repo.Archive(ctx, id); err != nil {
		return fmt.Errorf("archive billing profile: %w", err)
	}
	return nil
}

// AdvanceNextBillingDate records when storage billing next comes due for the
// profile. Called by the generator after each storage window is materialized.
func (s *Service) AdvanceNextBillingDate(ctx context.Context, id int64, next time.Time) error {
	if err := s.repo.SetNextBillingDate(ctx, id, next); err != nil {
		return fmt.Errorf("advance next billing date: %w", err)
	}
	return nil
}

// Get returns one profile.
func (s *Service) Get(ctx context.Context, id int64) (*BillingProfile, error) {
	return s.repo.Get(ctx, id)
}

// ListActive returns every active profile for the company.
func (s *Service) ListActive(ctx context.Context, companyID int64) ([]BillingProfile, error) {
	return s.repo.ListActive(ctx, companyID)
}

// ActiveForCustomer returns the customer's active profile or
// shared.ErrNoBillingProfile.
func (s *Service) ActiveForCustomer(ctx context.Context, companyID, customerID int64) (*BillingProfile, error) {
	p, err := s.repo.GetActiveByCustomer(ctx, companyID, customerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: customer %d", shared.ErrNoBillingProfile, customerID)
		}
		return nil, err
	}
	return p, nil
}
