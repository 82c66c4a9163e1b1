// internal/circulation/fine.go
package circulation

import "time"

// FineCalculator maps an overdue return to an owed amount. Pure and
// deterministic: identical inputs always produce identical output.
type FineCalculator struct {
	DailyRateCents int64
}

// Compute returns the fine in cents for a loan due on dueDate and returned on
// returnDate. Early and on-time returns owe nothing. Dates are compared at
// day granularity.
func (c FineCalculator) Compute(dueDate, returnDate time.Time) int64 {
	overdueDays := daysBetween(dueDate, returnDate)
	if overdueDays <= 0 {
		return 0
	}
	return int64(overdueDays) * c.DailyRateCents
}
