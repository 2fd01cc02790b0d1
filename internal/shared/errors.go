package shared

import (
	"errors"
	"fmt"

	"github.com/records-erp/records-erp/internal/platform/httpx"
)

var (
	// ErrNoBillingProfile indicates a customer has no active billing profile.
	ErrNoBillingProfile = fmt.Errorf("%w: no active billing profile", httpx.ErrConfig)
	// ErrRunLocked indicates a concurrent billing run holds the lock.
	ErrRunLocked = errors.New("billing run already in progress")
)
