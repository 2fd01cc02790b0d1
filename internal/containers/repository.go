// Package containers exposes the read-only container inventory that storage
// billing charges against.
package containers

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Holding is the count of stored containers of one type for a customer.
type Holding struct {
	ContainerType string  `json:"container_type"`
	Count         float64 `json:"count"`
}

// Repository reads container holdings.
type Repository interface {
	HoldingsByCustomer(ctx context.Context, companyID, customerID int64) ([]Holding, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) HoldingsByCustomer(ctx context.Context, companyID, customerID int64) ([]Holding, error) {
	rows, err := r.pool.Query(ctx, `SELECT container_type, COUNT(*)::float8
		FROM containers
		WHERE company_id = $1 AND customer_id = $2 AND state = 'STORED'
		GROUP BY container_type
		ORDER BY container_type`, companyID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.ContainerType, &h.Count); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
