package periods

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

// ListFilter narrows List results.
type ListFilter struct {
	CompanyID   int64
	CustomerID  *int64
	BillingType *BillingType
	State       *PeriodState
	Limit       int
	Offset      int
}

// Repository persists billing periods and their lines.
type Repository interface {
	// WithTx runs fn against a transaction-scoped repository. All writes
	// inside fn commit or roll back together.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	Get(ctx context.Context, companyID, id int64) (*BillingPeriod, error)
	FindByKey(ctx context.Context, key PeriodKey) (*BillingPeriod, error)
	// Create inserts the period and fills its ID. A composite unique index
	// on the period key maps concurrent inserts to httpx.ErrDuplicate.
	Create(ctx context.Context, p *BillingPeriod) error
	// ReplaceLines swaps out all lines of one kind on a period.
	ReplaceLines(ctx context.Context, periodID int64, kind LineKind, lines []BillingLine) error
	UpdateAmounts(ctx context.Context, p *BillingPeriod) error
	UpdateState(ctx context.Context, id int64, state PeriodState) error
	SetInvoice(ctx context.Context, id, invoiceID int64, invoiceDate time.Time) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter ListFilter) ([]BillingPeriod, error)
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type repository struct {
	pool *pgxpool.Pool
	q    pgQuerier
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, q: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("billing periods: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &repository{pool: r.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing periods: commit: %w", err)
	}
	return nil
}

const periodColumns = `id, company_id, customer_id, billing_type, period_start_date, period_end_date,
	service_start_date, service_end_date, invoice_date, state,
	storage_amount, service_amount, total_amount, invoice_id, created_at, updated_at`

func scanPeriod(row pgx.Row) (*BillingPeriod, error) {
	var p BillingPeriod
	err := row.Scan(&p.ID, &p.CompanyID, &p.CustomerID, &p.BillingType, &p.PeriodStart, &p.PeriodEnd,
		&p.ServiceStart, &p.ServiceEnd, &p.InvoiceDate, &p.State,
		&p.StorageAmount, &p.ServiceAmount, &p.TotalAmount, &p.InvoiceID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (*BillingPeriod, error) {
	p, err := scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+`
		FROM billing_periods WHERE company_id = $1 AND id = $2`, companyID, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repository) FindByKey(ctx context.Context, key PeriodKey) (*BillingPeriod, error) {
	p, err := scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+`
		FROM billing_periods
		WHERE company_id = $1 AND customer_id = $2 AND billing_type = $3
		  AND period_start_date = $4 AND period_end_date = $5`,
		key.CompanyID, key.CustomerID, key.BillingType, key.PeriodStart, key.PeriodEnd))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repository) loadLines(ctx context.Context, p *BillingPeriod) error {
	rows, err := r.q.Query(ctx, `SELECT id, period_id, kind, service_type, description,
		quantity, unit_price, discount_percent, subtotal, discount_amount, amount, billable, work_order_id
		FROM billing_lines WHERE period_id = $1 ORDER BY kind, id`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	p.Lines = nil
	for rows.Next() {
		var line BillingLine
		if err := rows.Scan(&line.ID, &line.PeriodID, &line.Kind, &line.ServiceType, &line.Description,
			&line.Quantity, &line.UnitPrice, &line.DiscountPercent, &line.Subtotal,
			&line.DiscountAmount, &line.Amount, &line.Billable, &line.WorkOrderID); err != nil {
			return err
		}
		p.Lines = append(p.Lines, line)
	}
	return rows.Err()
}

func (r *repository) Create(ctx context.Context, p *BillingPeriod) error {
	now := time.Now()
	err := r.q.QueryRow(ctx, `INSERT INTO billing_periods
		(company_id, customer_id, billing_type, period_start_date, period_end_date,
		 service_start_date, service_end_date, state,
		 storage_amount, service_amount, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, 0, $9, $9)
		RETURNING id`,
		p.CompanyID, p.CustomerID, p.BillingType, p.PeriodStart, p.PeriodEnd,
		p.ServiceStart, p.ServiceEnd, StateDraft, now).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return httpx.ErrDuplicate
		}
		return fmt.Errorf("billing periods: create: %w", err)
	}
	p.State = StateDraft
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (r *repository) ReplaceLines(ctx context.Context, periodID int64, kind LineKind, lines []BillingLine) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM billing_lines WHERE period_id = $1 AND kind = $2`,
		periodID, kind); err != nil {
		return fmt.Errorf("billing periods: clear lines: %w", err)
	}
	for _, line := range lines {
		_, err := r.q.Exec(ctx, `INSERT INTO billing_lines
			(period_id, kind, service_type, description, quantity, unit_price,
			 discount_percent, subtotal, discount_amount, amount, billable, work_order_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			periodID, kind, line.ServiceType, line.Description, line.Quantity, line.UnitPrice,
			line.DiscountPercent, line.Subtotal, line.DiscountAmount, line.Amount,
			line.Billable, line.WorkOrderID)
		if err != nil {
			return fmt.Errorf("billing periods: insert line: %w", err)
		}
	}
	return nil
}

func (r *repository) UpdateAmounts(ctx context.Context, p *BillingPeriod) error {
	tag, err := r.q.Exec(ctx, `UPDATE billing_periods
		SET storage_amount = $1, service_amount = $2, total_amount = $3, updated_at = now()
		WHERE id = $4`,
		p.StorageAmount, p.ServiceAmount, p.TotalAmount, p.ID)
	if err != nil {
		return fmt.Errorf("billing periods: update amounts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateState(ctx context.Context, id int64, state PeriodState) error {
	tag, err := r.q.Exec(ctx, `UPDATE billing_periods SET state = $1, updated_at = now() WHERE id = $2`,
		state, id)
	if err != nil {
		return fmt.Errorf("billing periods: update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) SetInvoice(ctx context.Context, id, invoiceID int64, invoiceDate time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE billing_periods
		SET invoice_id = $1, invoice_date = $2, state = $3, updated_at = now()
		WHERE id = $4`,
		invoiceID, invoiceDate, StateInvoiced, id)
	if err != nil {
		return fmt.Errorf("billing periods: set invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM billing_lines WHERE period_id = $1`, id); err != nil {
		return fmt.Errorf("billing periods: delete lines: %w", err)
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM billing_periods WHERE id = $1 AND state = $2`, id, StateDraft)
	if err != nil {
		return fmt.Errorf("billing periods: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]BillingPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM billing_periods WHERE company_id = $1`
	args := []any{filter.CompanyID}

	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	if filter.BillingType != nil {
		args = append(args, *filter.BillingType)
		query += fmt.Sprintf(" AND billing_type = $%d", len(args))
	}
	if filter.State != nil {
		args = append(args, *filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY period_start_date DESC, id DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BillingPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
