package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/records-erp/records-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed invoice persistence and implements
// Emitter.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var errNoLines = errors.New("invoice requires at least one line")

// Emit creates a draft invoice with its lines in one transaction and
// returns the document reference.
func (r *Repository) Emit(ctx context.Context, input EmitInput) (*Invoice, error) {
	if len(input.Lines) == 0 {
		return nil, errNoLines
	}

	var total float64
	for _, line := range input.Lines {
		total += line.Amount
	}

	number := generateNumber(input.InvoiceDate)
	now := time.Now()

	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO invoices
			(number, company_id, customer_id, currency, total, status, invoice_date, due_at, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`,
			number, input.CompanyID, input.CustomerID, input.Currency, total, StatusDraft,
			input.InvoiceDate, input.DueDate, input.CreatedBy, now).Scan(&id)
		if err != nil {
			return fmt.Errorf("invoicing: create invoice: %w", err)
		}

		for i, line := range input.Lines {
			_, err := tx.Exec(ctx, `INSERT INTO invoice_lines
				(invoice_id, description, quantity, unit_price, amount, line_order)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				id, line.Description, line.Quantity, line.UnitPrice, line.Amount, i+1)
			if err != nil {
				return fmt.Errorf("invoicing: insert line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Invoice{
		ID:          id,
		Number:      number,
		CompanyID:   input.CompanyID,
		CustomerID:  input.CustomerID,
		Currency:    input.Currency,
		Total:       total,
		Status:      StatusDraft,
		InvoiceDate: input.InvoiceDate,
		DueAt:       input.DueDate,
		CreatedAt:   now,
	}, nil
}

// INV-{YYMM}-{8 hex chars}; the uuid suffix avoids a sequence round-trip.
func generateNumber(date time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("INV-%s-%s", date.Format("0601"), suffix)
}
