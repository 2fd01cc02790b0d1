package workorders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads completed work orders for billing.
type Repository interface {
	// ListUnbilled returns completed orders of the given kind whose
	// completion time falls inside [from, to] and which no billing line
	// references yet. The exclusion-by-reference is what prevents
	// double-billing service charges across generator runs.
	ListUnbilled(ctx context.Context, companyID, customerID int64, kind Kind, from, to time.Time) ([]WorkOrder, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) ListUnbilled(ctx context.Context, companyID, customerID int64, kind Kind, from, to time.Time) ([]WorkOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT wo.id, wo.company_id, wo.customer_id, wo.kind, wo.state,
		wo.description, wo.item_count, wo.completed_at
		FROM work_orders wo
		WHERE wo.company_id = $1 AND wo.customer_id = $2 AND wo.kind = $3
		  AND wo.state = 'COMPLETED'
		  AND wo.completed_at >= $4 AND wo.completed_at < $5
		  AND NOT EXISTS (
			SELECT 1 FROM billing_lines bl
			JOIN billing_periods bp ON bl.period_id = bp.id
			WHERE bl.work_order_id = wo.id AND bp.state <> 'CANCELLED'
		  )
		ORDER BY wo.completed_at, wo.id`,
		companyID, customerID, kind, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkOrder
	for rows.Next() {
		var wo WorkOrder
		if err := rows.Scan(&wo.ID, &wo.CompanyID, &wo.CustomerID, &wo.Kind, &wo.State,
			&wo.Description, &wo.ItemCount, &wo.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}
