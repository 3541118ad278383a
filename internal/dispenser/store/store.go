// Package store defines the persistence boundary of the dispenser. The
// issuance table is reachable only through IssuanceStore; backends live in
// the subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

var (
	// ErrConsistency means Finalize was called on a record that is not
	// PENDING, or with an attempt that no longer owns the record.
	ErrConsistency = errors.New("issuance record is not pending for this attempt")

	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = errors.New("issuance record not found")

	ErrInvalidFinalization = errors.New("finalization status must be ISSUED or FAILED")
)

// IssuanceStore holds one IssuanceRecord per (wallet, event).
//
// TryClaim is an atomic check-and-set: with no record, or a FAILED one, it
// writes a PENDING record with a fresh attempt id and reports Claimed. A
// PENDING record yields AlreadyPending and an ISSUED one AlreadyIssued with
// the stored credential reference. Two concurrent callers never both see
// Claimed.
type IssuanceStore interface {
	TryClaim(ctx context.Context, key types.Key, now time.Time) (types.ClaimResult, error)
	Finalize(ctx context.Context, key types.Key, attemptID string, fin types.Finalization, now time.Time) error
	Get(ctx context.Context, key types.Key) (types.IssuanceRecord, error)
	List(ctx context.Context, filter types.RecordFilter) ([]types.IssuanceRecord, error)

	// FailStale moves PENDING records last updated before cutoff to FAILED
	// and returns how many were moved.
	FailStale(ctx context.Context, cutoff time.Time, now time.Time) (int64, error)
}

// DecisionRecord captures one terminal verify-and-issue outcome for the
// audit log.
type DecisionRecord struct {
	WalletAddress string
	EventID       string
	State         types.State
	Reason        types.Reason
	TxHash        string
	CredentialRef string
	Detail        string
	DecidedAt     time.Time
}

// DecisionLog persists decisions as an append-only audit log.
type DecisionLog interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error
}

// ValidateFinalization rejects finalizations that are not terminal.
func ValidateFinalization(fin types.Finalization) error {
	if fin.Status != types.StatusIssued && fin.Status != types.StatusFailed {
		return ErrInvalidFinalization
	}
	return nil
}

// DefaultListLimit caps List when the filter leaves Limit unset.
const DefaultListLimit = 1000

// NormalizeFilter fills filter defaults.
func NormalizeFilter(f types.RecordFilter) types.RecordFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	return f
}

// NewAttemptID returns the token that identifies one claim of a key.
func NewAttemptID() string {
	return uuid.NewString()
}

// StaleDetail is written to LastError by FailStale.
const StaleDetail = "stale pending attempt reconciled as failed"
