// Package eligibility turns ledger evidence into a verdict. Everything here
// is pure: no I/O, no clock, no randomness.
package eligibility

import (
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// Policy decides eligibility from evidence and rules. Implementations must
// be deterministic and must never return Eligible for evidence with Err set.
type Policy interface {
	Evaluate(ev types.Evidence, rules Rules) types.Verdict
}

// ByName returns the named built-in policy. An empty name selects
// TransactionPolicy.
func ByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "transaction":
		return TransactionPolicy{}, nil
	case "aggregate":
		return AggregatePolicy{}, nil
	}
	return nil, fmt.Errorf("unknown eligibility policy %q", name)
}

// TransactionPolicy is eligible when a single observed transaction targets
// the qualifying contract inside the window with enough confirmations and
// value.
type TransactionPolicy struct{}

func (TransactionPolicy) Evaluate(ev types.Evidence, rules Rules) types.Verdict {
	if v, done := failClosed(ev); done {
		return v
	}

	var outOfWindow *types.Transaction
	var shallow, small int
	for i := range ev.Transactions {
		tx := ev.Transactions[i]
		switch classify(tx, rules) {
		case matchOK:
			return types.Verdict{
				Eligible:   true,
				Reason:     types.ReasonQualifyingTxFound,
				TxHash:     tx.TxHash,
				ObservedAt: tx.ObservedAt,
				Detail:     fmt.Sprintf("tx %s to %s at %s", tx.TxHash, tx.Target, tx.ObservedAt.UTC().Format("2006-01-02T15:04:05Z")),
			}
		case matchOutOfWindow:
			if outOfWindow == nil {
				outOfWindow = &tx
			}
		case matchShallow:
			shallow++
		case matchSmall:
			small++
		}
	}

	if outOfWindow != nil && shallow == 0 && small == 0 {
		return types.Verdict{
			Reason:     types.ReasonOutOfWindow,
			TxHash:     outOfWindow.TxHash,
			ObservedAt: outOfWindow.ObservedAt,
			Detail: fmt.Sprintf("tx %s at %s outside window %s",
				outOfWindow.TxHash, outOfWindow.ObservedAt.UTC().Format("2006-01-02T15:04:05Z"), windowString(rules)),
		}
	}
	return types.Verdict{
		Reason: types.ReasonNoQualifyingTx,
		Detail: noMatchDetail(len(ev.Transactions), shallow, small, rules),
	}
}

// AggregatePolicy is eligible when at least Rules.MinTransactions (default 1)
// distinct transactions qualify under the single-transaction rule.
type AggregatePolicy struct{}

func (AggregatePolicy) Evaluate(ev types.Evidence, rules Rules) types.Verdict {
	if v, done := failClosed(ev); done {
		return v
	}

	need := rules.MinTransactions
	if need < 1 {
		need = 1
	}

	seen := make(map[string]struct{})
	var first types.Transaction
	outOfWindow := 0
	for _, tx := range ev.Transactions {
		switch classify(tx, rules) {
		case matchOK:
			key := strings.ToLower(tx.TxHash)
			if _, dup := seen[key]; dup {
				continue
			}
			if len(seen) == 0 {
				first = tx
			}
			seen[key] = struct{}{}
		case matchOutOfWindow:
			outOfWindow++
		}
	}

	if len(seen) >= need {
		return types.Verdict{
			Eligible:   true,
			Reason:     types.ReasonQualifyingTxFound,
			TxHash:     first.TxHash,
			ObservedAt: first.ObservedAt,
			Detail:     fmt.Sprintf("%d qualifying transactions (need %d)", len(seen), need),
		}
	}
	if len(seen) == 0 && outOfWindow > 0 {
		return types.Verdict{
			Reason: types.ReasonOutOfWindow,
			Detail: fmt.Sprintf("%d matching transactions all outside window %s", outOfWindow, windowString(rules)),
		}
	}
	return types.Verdict{
		Reason: types.ReasonNoQualifyingTx,
		Detail: fmt.Sprintf("%d qualifying transactions (need %d)", len(seen), need),
	}
}

func failClosed(ev types.Evidence) (types.Verdict, bool) {
	if ev.Err != nil {
		return types.Verdict{Reason: types.ReasonProbeError, Detail: ev.Err.Error()}, true
	}
	if !ev.Found || len(ev.Transactions) == 0 {
		return types.Verdict{Reason: types.ReasonNoQualifyingTx, Detail: "no transactions observed"}, true
	}
	return types.Verdict{}, false
}

type match int

const (
	matchNone match = iota
	matchOutOfWindow
	matchShallow
	matchSmall
	matchOK
)

func classify(tx types.Transaction, rules Rules) match {
	if !types.SameAddress(tx.Target, rules.Contract) {
		return matchNone
	}
	if !rules.inWindow(tx.ObservedAt) {
		return matchOutOfWindow
	}
	if tx.Confirmations < rules.MinConfirmations {
		return matchShallow
	}
	if rules.MinValue != nil && !rules.MinValue.IsZero() {
		if tx.Value == nil || tx.Value.Lt(rules.MinValue) {
			return matchSmall
		}
	}
	return matchOK
}

func windowString(r Rules) string {
	const layout = "2006-01-02T15:04:05Z"
	start, end := "-inf", "+inf"
	if !r.WindowStart.IsZero() {
		start = r.WindowStart.UTC().Format(layout)
	}
	if !r.WindowEnd.IsZero() {
		end = r.WindowEnd.UTC().Format(layout)
	}
	return "[" + start + ", " + end + "]"
}

func noMatchDetail(total, shallow, small int, r Rules) string {
	switch {
	case shallow > 0:
		return fmt.Sprintf("%d of %d candidate transactions below %d confirmations", shallow, total, r.MinConfirmations)
	case small > 0:
		return fmt.Sprintf("%d of %d candidate transactions below minimum value %s wei", small, total, r.MinValue.Dec())
	}
	return fmt.Sprintf("none of %d transactions target %s", total, r.Contract)
}
