package eligibility

import (
	"time"

	"github.com/holiman/uint256"
)

// Rules is the per-event eligibility configuration.
type Rules struct {
	// Contract is the qualifying contract or address. Compared case-insensitively.
	Contract string

	// WindowStart and WindowEnd bound ObservedAt inclusively.
	WindowStart time.Time
	WindowEnd   time.Time

	// MinConfirmations is the confirmation depth a transaction must reach.
	// Zero accepts unconfirmed observations.
	MinConfirmations uint64

	// MinValue is the minimum transferred value in wei. Nil or zero disables
	// the check.
	MinValue *uint256.Int

	// MinTransactions is only read by AggregatePolicy.
	MinTransactions int
}

func (r Rules) inWindow(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	if !r.WindowStart.IsZero() && t.Before(r.WindowStart) {
		return false
	}
	if !r.WindowEnd.IsZero() && t.After(r.WindowEnd) {
		return false
	}
	return true
}
