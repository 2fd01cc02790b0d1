package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/records-erp/records-erp/internal/platform/httpx"
)

// ErrNotFound indicates profile not found. It wraps the HTTP sentinel so
// handlers map it to 404 without a special case.
var ErrNotFound = fmt.Errorf("%w: billing profile", httpx.ErrNotFound)

// Repository defines data access for billing profiles.
type Repository interface {
	Get(ctx context.Context, id int64) (*BillingProfile, error)
	GetActiveByCustomer(ctx context.Context, companyID, customerID int64) (*BillingProfile, error)
	ListActive(ctx context.Context, companyID int64) ([]BillingProfile, error)
	Create(ctx context.Context, p BillingProfile) (int64, error)
	Update(ctx context.Context, p BillingProfile) error
	Archive(ctx context.Context, id int64) error
	SetNextBillingDate(ctx context.Context, id int64, next time.Time) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const profileColumns = `id, company_id, customer_id, storage_billing_cycle, billing_day,
	auto_storage_invoices, auto_service_invoices, auto_send_invoices,
	next_billing_date, active, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*BillingProfile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM billing_profiles WHERE id = $1`, id)
	return scanProfile(row)
}

func (r *repository) GetActiveByCustomer(ctx context.Context, companyID, customerID int64) (*BillingProfile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+`
		FROM billing_profiles WHERE company_id = $1 AND customer_id = $2 AND active`, companyID, customerID)
	return scanProfile(row)
}

func (r *repository) ListActive(ctx context.Context, companyID int64) ([]BillingProfile, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+`
		FROM billing_profiles WHERE company_id = $1 AND active ORDER BY customer_id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BillingProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, p BillingProfile) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO billing_profiles
		(company_id, customer_id, storage_billing_cycle, billing_day,
		 auto_storage_invoices, auto_service_invoices, auto_send_invoices,
		 active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $8) RETURNING id`,
		p.CompanyID, p.CustomerID, p.StorageBillingCycle, p.BillingDay,
		p.AutoStorageInvoices, p.AutoServiceInvoices, p.AutoSendInvoices,
		p.CreatedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		// billing_profiles has a partial unique index on (company_id,
		// customer_id) WHERE active.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, httpx.ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, p BillingProfile) error {
	_, err := r.pool.Exec(ctx, `UPDATE billing_profiles SET
		storage_billing_cycle = $2, billing_day = $3,
		auto_storage_invoices = $4, auto_service_invoices = $5,
		auto_send_invoices = $6, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.StorageBillingCycle, p.BillingDay,
		p.AutoStorageInvoices, p.AutoServiceInvoices, p.AutoSendInvoices)
	return err
}

func (r *repository) Archive(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE billing_profiles SET active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SetNextBillingDate(ctx context.Context, id int64, next time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE billing_profiles SET next_billing_date = $2, updated_at = NOW() WHERE id = $1`, id, next)
	return err
}

func scanProfile(row pgx.Row) (*BillingProfile, error) {
	var p BillingProfile
	err := row.Scan(&p.ID, &p.CompanyID, &p.CustomerID, &p.StorageBillingCycle, &p.BillingDay,
		&p.AutoStorageInvoices, &p.AutoServiceInvoices, &p.AutoSendInvoices,
		&p.NextBillingDate, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
