package shared

import (
	"errors"
	"fmt"

	"github.com/records-erp/records-erp/internal/platform/httpx"
)

// ErrInvalidLineValues wraps httpx.ErrValidation for line arithmetic inputs.
var ErrInvalidLineValues = fmt.Errorf("%w: invalid billing line values", httpx.ErrValidation)

// CalculateLineAmounts computes the derived money fields of a billing line.
// subtotal = quantity * unitPrice, discountAmount = subtotal * pct / 100,
// amount = subtotal - discountAmount.
func CalculateLineAmounts(quantity, unitPrice, discountPercent float64) (subtotal, discountAmount, amount float64) {
	subtotal = quantity * unitPrice
	discountAmount = subtotal * (discountPercent / 100)
	amount = subtotal - discountAmount
	return
}

// ValidateLineValues rejects values that would corrupt period totals.
// Nothing is clamped; the caller gets the error at the point of mutation.
func ValidateLineValues(quantity, unitPrice, discountPercent float64) error {
	switch {
	case quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidLineValues)
	case unitPrice < 0:
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidLineValues)
	case discountPercent < 0 || discountPercent > 100:
		return fmt.Errorf("%w: discount percent must be within [0,100]", ErrInvalidLineValues)
	}
	return nil
}

// ErrInvalidDateRange indicates an end date before its start date.
var ErrInvalidDateRange = errors.New("end date before start date")
