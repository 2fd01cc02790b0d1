package periods

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/records-erp/records-erp/internal/billing/rates"
	"github.com/records-erp/records-erp/internal/containers"
	"github.com/records-erp/records-erp/internal/invoicing"
	"github.com/records-erp/records-erp/internal/platform/httpx"
	"github.com/records-erp/records-erp/internal/shared"
	"github.com/records-erp/records-erp/internal/workorders"
)

type memoryPeriodRepo struct {
	periods map[int64]*BillingPeriod
	nextID  int64
	lineID  int64

	failCreateWith error
}

func newMemoryPeriodRepo() *memoryPeriodRepo {
	return &memoryPeriodRepo{periods: make(map[int64]*BillingPeriod)}
}

func (r *memoryPeriodRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryPeriodRepo) Get(ctx context.Context, companyID, id int64) (*BillingPeriod, error) {
	p, ok := r.periods[id]
	if !ok || p.CompanyID != companyID {
		return nil, httpx.ErrNotFound
	}
	cp := *p
	cp.Lines = append([]BillingLine(nil), p.Lines...)
	return &cp, nil
}

func (r *memoryPeriodRepo) FindByKey(ctx context.Context, key PeriodKey) (*BillingPeriod, error) {
	for _, p := range r.periods {
		if p.Key() == key {
			cp := *p
			cp.Lines = append([]BillingLine(nil), p.Lines...)
			return &cp, nil
		}
	}
	return nil, httpx.ErrNotFound
}

func (r *memoryPeriodRepo) Create(ctx context.Context, p *BillingPeriod) error {
	if r.failCreateWith != nil {
		err := r.failCreateWith
		r.failCreateWith = nil
		return err
	}
	if _, err := r.FindByKey(ctx, p.Key()); err == nil {
		return httpx.ErrDuplicate
	}
	r.nextID++
	p.ID = r.nextID
	p.State = StateDraft
	cp := *p
	r.periods[p.ID] = &cp
	return nil
}

func (r *memoryPeriodRepo) ReplaceLines(ctx context.Context, periodID int64, kind LineKind, lines []BillingLine) error {
	p, ok := r.periods[periodID]
	if !ok {
		return httpx.ErrNotFound
	}
	var kept []BillingLine
	for _, line := range p.Lines {
		if line.Kind != kind {
			kept = append(kept, line)
		}
	}
	for _, line := range lines {
		r.lineID++
		line.ID = r.lineID
		line.PeriodID = periodID
		kept = append(kept, line)
	}
	p.Lines = kept
	return nil
}

func (r *memoryPeriodRepo) UpdateAmounts(ctx context.Context, p *BillingPeriod) error {
	stored, ok := r.periods[p.ID]
	if !ok {
		return httpx.ErrNotFound
	}
	stored.StorageAmount = p.StorageAmount
	stored.ServiceAmount = p.ServiceAmount
	stored.TotalAmount = p.TotalAmount
	return nil
}

func (r *memoryPeriodRepo) UpdateState(ctx context.Context, id int64, state PeriodState) error {
	p, ok := r.periods[id]
	if !ok {
		return httpx.ErrNotFound
	}
	p.State = state
	return nil
}

func (r *memoryPeriodRepo) SetInvoice(ctx context.Context, id, invoiceID int64, invoiceDate time.Time) error {
	p, ok := r.periods[id]
	if !ok {
		return httpx.ErrNotFound
	}
	p.InvoiceID = &invoiceID
	p.InvoiceDate = &invoiceDate
	p.State = StateInvoiced
	return nil
}

func (r *memoryPeriodRepo) Delete(ctx context.Context, id int64) error {
	p, ok := r.periods[id]
	if !ok || p.State != StateDraft {
		return httpx.ErrNotFound
	}
	delete(r.periods, id)
	return nil
}

func (r *memoryPeriodRepo) List(ctx context.Context, filter ListFilter) ([]BillingPeriod, error) {
	var out []BillingPeriod
	for _, p := range r.periods {
		if p.CompanyID == filter.CompanyID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// billedOrderIDs emulates the exclusion-by-reference query: a work order is
// billed while any non-cancelled period holds a line referencing it.
func (r *memoryPeriodRepo) billedOrderIDs() map[int64]bool {
	billed := make(map[int64]bool)
	for _, p := range r.periods {
		if p.State == StateCancelled {
			continue
		}
		for _, line := range p.Lines {
			if line.WorkOrderID != nil {
				billed[*line.WorkOrderID] = true
			}
		}
	}
	return billed
}

type fakeRateRepo struct {
	base       map[string]float64
	negotiated []rates.NegotiatedRate
}

func (r *fakeRateRepo) GetBaseRate(ctx context.Context, companyID int64, rateType rates.RateType, objectType string) (*rates.BaseRate, error) {
	price, ok := r.base[string(rateType)+"/"+objectType]
	if !ok {
		return nil, rates.ErrNotFound
	}
	return &rates.BaseRate{RateType: rateType, ObjectType: objectType, UnitPrice: price}, nil
}

func (r *fakeRateRepo) GetNegotiatedRate(ctx context.Context, companyID, customerID int64, rateType rates.RateType, objectType string, on time.Time) (*rates.NegotiatedRate, error) {
	for _, n := range r.negotiated {
		if n.CustomerID == customerID && n.RateType == rateType && n.ObjectType == objectType && n.CurrentAt(on) {
			cp := n
			return &cp, nil
		}
	}
	return nil, rates.ErrNotFound
}

type fakeOrderRepo struct {
	orders  []workorders.WorkOrder
	periods *memoryPeriodRepo
}

func (r *fakeOrderRepo) ListUnbilled(ctx context.Context, companyID, customerID int64, kind workorders.Kind, from, to time.Time) ([]workorders.WorkOrder, error) {
	billed := r.periods.billedOrderIDs()
	var out []workorders.WorkOrder
	for _, wo := range r.orders {
		if wo.CustomerID != customerID || wo.Kind != kind || wo.State != workorders.StateCompleted {
			continue
		}
		if wo.CompletedAt == nil || wo.CompletedAt.Before(from) || wo.CompletedAt.After(to.AddDate(0, 0, 1)) {
			continue
		}
		if billed[wo.ID] {
			continue
		}
		out = append(out, wo)
	}
	return out, nil
}

type fakeHoldings struct {
	held map[int64][]containers.Holding
}

func (r *fakeHoldings) HoldingsByCustomer(ctx context.Context, companyID, customerID int64) ([]containers.Holding, error) {
	return r.held[customerID], nil
}

type fakeEmitter struct {
	emitted []invoicing.EmitInput
	nextID  int64
}

func (e *fakeEmitter) Emit(ctx context.Context, input invoicing.EmitInput) (*invoicing.Invoice, error) {
	e.emitted = append(e.emitted, input)
	e.nextID++
	var total float64
	for _, line := range input.Lines {
		total += line.Amount
	}
	return &invoicing.Invoice{
		ID:          e.nextID,
		Number:      "INV-TEST",
		CompanyID:   input.CompanyID,
		CustomerID:  input.CustomerID,
		Currency:    input.Currency,
		Total:       total,
		Status:      invoicing.StatusDraft,
		InvoiceDate: input.InvoiceDate,
		DueAt:       input.DueDate,
	}, nil
}

type fixture struct {
	repo    *memoryPeriodRepo
	rates   *fakeRateRepo
	orders  *fakeOrderRepo
	held    *fakeHoldings
	emitter *fakeEmitter
	svc     *Service
}

func newFixture() *fixture {
	repo := newMemoryPeriodRepo()
	rateRepo := &fakeRateRepo{base: map[string]float64{}}
	orderRepo := &fakeOrderRepo{periods: repo}
	held := &fakeHoldings{held: map[int64][]containers.Holding{}}
	emitter := &fakeEmitter{}
	svc := NewService(repo, rates.NewResolver(rateRepo), orderRepo, held, emitter,
		slog.New(slog.DiscardHandler), "USD", 30)
	return &fixture{repo: repo, rates: rateRepo, orders: orderRepo, held: held, emitter: emitter, svc: svc}
}

func testContext() shared.BillingContext {
	return shared.BillingContext{
		CompanyID: 1,
		ActorID:   7,
		Clock:     func() time.Time { return time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC) },
	}
}

func aprilKey(customerID int64, bt BillingType) PeriodKey {
	return PeriodKey{
		CompanyID:   1,
		CustomerID:  customerID,
		BillingType: bt,
		PeriodStart: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, created, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeStorage), nil, nil)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, StateDraft, first.State)

	second, created, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeStorage), nil, nil)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestFindOrCreateRefetchesOnDuplicate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Simulate losing the insert race: a competing writer committed the
	// period between our lookup and our insert.
	winner := &BillingPeriod{
		CompanyID: 1, CustomerID: 100, BillingType: BillingTypeStorage,
		PeriodStart: aprilKey(100, BillingTypeStorage).PeriodStart,
		PeriodEnd:   aprilKey(100, BillingTypeStorage).PeriodEnd,
	}
	require.NoError(t, f.repo.Create(ctx, winner))
	f.repo.failCreateWith = httpx.ErrDuplicate

	got, created, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeStorage), nil, nil)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, winner.ID, got.ID)
}

func TestFindOrCreateRejectsBadRange(t *testing.T) {
	f := newFixture()
	key := aprilKey(100, BillingTypeStorage)
	key.PeriodEnd = key.PeriodStart.AddDate(0, 0, -1)

	_, _, err := f.svc.FindOrCreate(context.Background(), testContext(), key, nil, nil)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRegenerateStorageLines(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.held.held[100] = []containers.Holding{{ContainerType: "BOX", Count: 3}}
	f.rates.base["STORAGE/BOX"] = 10.00
	f.rates.negotiated = []rates.NegotiatedRate{{
		CustomerID: 100, RateType: rates.RateTypeStorage, ObjectType: "BOX",
		UnitPrice: 10.00, DiscountPercent: 10,
		EffectiveDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		State:          rates.ApprovalApproved,
	}}

	p, _, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeStorage), nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.RegenerateStorageLines(ctx, testContext(), p))

	require.Len(t, p.Lines, 1)
	line := p.Lines[0]
	require.Equal(t, LineKindStorage, line.Kind)
	require.Equal(t, 30.00, line.Subtotal)
	require.Equal(t, 3.00, line.DiscountAmount)
	require.Equal(t, 27.00, line.Amount)
	require.Equal(t, 27.00, p.StorageAmount)
	require.Equal(t, 27.00, p.TotalAmount)
	require.Equal(t, 0.00, p.ServiceAmount)
}

func TestStorageLinesFallBackToMinimumRate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.held.held[100] = []containers.Holding{{ContainerType: "MAP_TUBE", Count: 4}}

	p, _, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeStorage), nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.RegenerateStorageLines(ctx, testContext(), p))

	require.Len(t, p.Lines, 1)
	require.Equal(t, rates.DefaultMinimumRate, p.Lines[0].UnitPrice)
	require.Equal(t, 2.00, p.TotalAmount)
}

func TestRegenerateServiceLinesSkipsBilledOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	completed := time.Date(2024, 4, 10, 15, 0, 0, 0, time.UTC)
	f.orders.orders = []workorders.WorkOrder{
		{ID: 1, CompanyID: 1, CustomerID: 100, Kind: workorders.KindRetrieval,
			State: workorders.StateCompleted, ItemCount: 2, CompletedAt: &completed},
		{ID: 2, CompanyID: 1, CustomerID: 100, Kind: workorders.KindShredding,
			State: workorders.StateCompleted, ItemCount: 5, CompletedAt: &completed},
	}
	f.rates.base["SERVICE/RETRIEVAL"] = 4.00
	f.rates.base["SERVICE/SHREDDING"] = 1.00

	p, _, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeService), nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.RegenerateServiceLines(ctx, testContext(), p))

	require.Len(t, p.Lines, 2)
	require.Equal(t, 13.00, p.ServiceAmount)

	// A second period over the same window sees no unbilled work.
	key2 := aprilKey(100, BillingTypeService)
	key2.PeriodStart = key2.PeriodStart.Add(time.Hour)
	p2, _, err := f.svc.FindOrCreate(ctx, testContext(), key2, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.RegenerateServiceLines(ctx, testContext(), p2))
	require.Empty(t, p2.Lines)

	// Cancelling the first period releases its orders.
	require.NoError(t, f.svc.Cancel(ctx, testContext(), p))
	require.NoError(t, f.svc.RegenerateServiceLines(ctx, testContext(), p2))
	require.Len(t, p2.Lines, 2)
}

func TestConfirmRequiresNonzeroLine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p, _, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeStorage), nil, nil)
	require.NoError(t, err)

	err = f.svc.Confirm(ctx, testContext(), p)
	require.ErrorIs(t, err, httpx.ErrInvalidState)
	require.Equal(t, StateDraft, p.State)

	f.held.held[100] = []containers.Holding{{ContainerType: "BOX", Count: 1}}
	f.rates.base["STORAGE/BOX"] = 5.00
	require.NoError(t, f.svc.RegenerateStorageLines(ctx, testContext(), p))
	require.NoError(t, f.svc.Confirm(ctx, testContext(), p))
	require.Equal(t, StateConfirmed, p.State)
}

func TestEmitInvoice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bctx := testContext()

	completed := time.Date(2024, 4, 5, 9, 0, 0, 0, time.UTC)
	f.held.held[100] = []containers.Holding{{ContainerType: "BOX", Count: 3}}
	f.rates.base["STORAGE/BOX"] = 10.00
	f.rates.base["SERVICE/RETRIEVAL"] = 4.00
	f.orders.orders = []workorders.WorkOrder{
		{ID: 1, CompanyID: 1, CustomerID: 100, Kind: workorders.KindRetrieval,
			State: workorders.StateCompleted, Description: "File pull", ItemCount: 2, CompletedAt: &completed},
	}

	p, _, err := f.svc.FindOrCreate(ctx, bctx, aprilKey(100, BillingTypeCombined), nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.RegenerateStorageLines(ctx, bctx, p))
	require.NoError(t, f.svc.RegenerateServiceLines(ctx, bctx, p))
	require.NoError(t, f.svc.Confirm(ctx, bctx, p))

	inv, err := f.svc.EmitInvoice(ctx, bctx, p)
	require.NoError(t, err)
	require.Equal(t, StateInvoiced, p.State)
	require.NotNil(t, p.InvoiceID)
	require.Equal(t, inv.ID, *p.InvoiceID)
	require.Equal(t, 38.00, inv.Total)

	require.Len(t, f.emitter.emitted, 1)
	handed := f.emitter.emitted[0]
	require.Equal(t, "USD", handed.Currency)
	require.Equal(t, bctx.Now(), handed.InvoiceDate)
	require.Equal(t, bctx.Now().AddDate(0, 0, 30), handed.DueDate)
	require.Len(t, handed.Lines, 2)
	require.Equal(t, "Storage: BOX storage 2024-04-01 to 2024-04-30", handed.Lines[0].Description)
	require.Equal(t, "Service: File pull", handed.Lines[1].Description)

	// Lines are frozen and the period can no longer be cancelled.
	require.ErrorIs(t, f.svc.RegenerateStorageLines(ctx, bctx, p), httpx.ErrInvalidState)
	require.ErrorIs(t, f.svc.Cancel(ctx, bctx, p), httpx.ErrInvalidState)

	require.NoError(t, f.svc.MarkDone(ctx, bctx, p))
	require.Equal(t, StateDone, p.State)
}

func TestEmitInvoiceRequiresConfirmed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p, _, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeStorage), nil, nil)
	require.NoError(t, err)

	_, err = f.svc.EmitInvoice(ctx, testContext(), p)
	require.ErrorIs(t, err, httpx.ErrInvalidState)
	require.Empty(t, f.emitter.emitted)
}

func TestDeleteDraftPrunesEmptyPeriod(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p, _, err := f.svc.FindOrCreate(ctx, testContext(), aprilKey(100, BillingTypeService), nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteDraft(ctx, p))

	_, err = f.svc.Get(ctx, 1, p.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}
