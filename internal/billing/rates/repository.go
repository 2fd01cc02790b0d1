package rates

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no rate matched the lookup.
var ErrNotFound = errors.New("rate not found")

// Repository defines read access to the rate catalog. The generator never
// writes rates; negotiation and approval happen elsewhere.
type Repository interface {
	GetBaseRate(ctx context.Context, companyID int64, rateType RateType, objectType string) (*BaseRate, error)
	GetNegotiatedRate(ctx context.Context, companyID, customerID int64, rateType RateType, objectType string, on time.Time) (*NegotiatedRate, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetBaseRate(ctx context.Context, companyID int64, rateType RateType, objectType string) (*BaseRate, error) {
	var b BaseRate
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, rate_type, object_type, unit_price, created_at, updated_at
		FROM base_rates WHERE company_id = $1 AND rate_type = $2 AND object_type = $3`,
		companyID, rateType, objectType).
		Scan(&b.ID, &b.CompanyID, &b.RateType, &b.ObjectType, &b.UnitPrice, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) GetNegotiatedRate(ctx context.Context, companyID, customerID int64, rateType RateType, objectType string, on time.Time) (*NegotiatedRate, error) {
	var n NegotiatedRate
	// Latest effective date wins when windows overlap.
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, customer_id, rate_type, object_type,
		unit_price, discount_percent, effective_date, expiration_date, state, created_at, updated_at
		FROM negotiated_rates
		WHERE company_id = $1 AND customer_id = $2 AND rate_type = $3 AND object_type = $4
		  AND state = 'APPROVED' AND effective_date <= $5 AND expiration_date >= $5
		ORDER BY effective_date DESC LIMIT 1`,
		companyID, customerID, rateType, objectType, on).
		Scan(&n.ID, &n.CompanyID, &n.CustomerID, &n.RateType, &n.ObjectType,
			&n.UnitPrice, &n.DiscountPercent, &n.EffectiveDate, &n.ExpirationDate, &n.State, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}
