package shared

import (
	"fmt"
	"time"
)

// BillingCycle enumerates supported storage billing cadences.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "MONTHLY"
	CycleQuarterly BillingCycle = "QUARTERLY"
)

// Valid reports whether the cycle is a known cadence.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleQuarterly
}

// Window is an inclusive date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// StorageWindow computes the forward-looking storage window containing ref
// for the given cycle and billing day-of-month. Monthly windows start on the
// cycle's billing day and cover one month; quarterly windows start on the
// billing day of the calendar quarter's first month and cover three.
func StorageWindow(cycle BillingCycle, billingDay int, ref time.Time) (Window, error) {
	if !cycle.Valid() {
		return Window{}, fmt.Errorf("unknown billing cycle %q", cycle)
	}
	if billingDay < 1 {
		billingDay = 1
	}
	if billingDay > 28 {
		billingDay = 28
	}

	ref = truncateDay(ref)
	var start time.Time
	switch cycle {
	case CycleMonthly:
		start = time.Date(ref.Year(), ref.Month(), billingDay, 0, 0, 0, 0, ref.Location())
		if ref.Before(start) {
			start = start.AddDate(0, -1, 0)
		}
		return Window{Start: start, End: start.AddDate(0, 1, 0).AddDate(0, 0, -1)}, nil
	default: // CycleQuarterly
		quarterMonth := time.Month((int(ref.Month())-1)/3*3 + 1)
		start = time.Date(ref.Year(), quarterMonth, billingDay, 0, 0, 0, 0, ref.Location())
		if ref.Before(start) {
			start = start.AddDate(0, -3, 0)
		}
		return Window{Start: start, End: start.AddDate(0, 3, 0).AddDate(0, 0, -1)}, nil
	}
}

// PriorMonthWindow computes the arrears window for service billing: the full
// calendar month before the one containing ref, never the current month.
func PriorMonthWindow(ref time.Time) Window {
	firstOfMonth := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	start := firstOfMonth.AddDate(0, -1, 0)
	return Window{Start: start, End: firstOfMonth.AddDate(0, 0, -1)}
}

// Contains reports whether t falls inside the inclusive window.
func (w Window) Contains(t time.Time) bool {
	t = truncateDay(t)
	return !t.Before(w.Start) && !t.After(w.End)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
