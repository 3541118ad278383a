package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
	"github.com/BrandonDHaskell/poap-dispenser/internal/observability"
)

// Deduplicator guarantees at most one successful issuance per (wallet,
// event). The atomic check-and-set lives in the store; this type adds the
// logging and metrics around it.
type Deduplicator struct {
	store   store.IssuanceStore
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewDeduplicator(s store.IssuanceStore, logger *slog.Logger, metrics *observability.Metrics) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{store: s, logger: logger, metrics: metrics}
}

func (d *Deduplicator) TryClaim(ctx context.Context, key types.Key, now time.Time) (types.ClaimResult, error) {
	res, err := d.store.TryClaim(ctx, key, now)
	if err != nil {
		return types.ClaimResult{}, fmt.Errorf("claim %s: %w", key, err)
	}
	d.logger.Debug("claim attempted",
		"key", key.String(),
		"result", res.State.String(),
		"attempt_id", res.Record.AttemptID,
		"attempts", res.Record.Attempts,
	)
	return res, nil
}

// Finalize moves the claimed record to its terminal status. A record that
// is no longer pending for attemptID is a consistency violation; it is
// logged at error level and returned.
func (d *Deduplicator) Finalize(ctx context.Context, key types.Key, attemptID string, fin types.Finalization, now time.Time) error {
	err := d.store.Finalize(ctx, key, attemptID, fin, now)
	if errors.Is(err, store.ErrConsistency) {
		d.metrics.IncConsistencyError()
		d.logger.Error("issuance record not pending at finalize",
			"key", key.String(),
			"attempt_id", attemptID,
			"status", string(fin.Status),
			"credential_ref", fin.CredentialRef,
			"err", err,
		)
	}
	if err != nil {
		return fmt.Errorf("finalize %s: %w", key, err)
	}
	return nil
}

// Status reports the collector view of key. A missing record is NONE.
func (d *Deduplicator) Status(ctx context.Context, key types.Key) (types.CollectorStatus, types.IssuanceRecord, error) {
	rec, err := d.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return types.CollectorNone, types.IssuanceRecord{}, nil
	}
	if err != nil {
		return "", types.IssuanceRecord{}, err
	}
	switch rec.Status {
	case types.StatusIssued:
		return types.CollectorIssued, rec, nil
	case types.StatusPending:
		return types.CollectorPending, rec, nil
	default:
		return types.CollectorFailed, rec, nil
	}
}

func (d *Deduplicator) List(ctx context.Context, filter types.RecordFilter) ([]types.IssuanceRecord, error) {
	return d.store.List(ctx, store.NormalizeFilter(filter))
}

// FailStale gives up on PENDING records untouched since cutoff.
func (d *Deduplicator) FailStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	n, err := d.store.FailStale(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}
	d.metrics.AddReconciled(n)
	return n, nil
}
