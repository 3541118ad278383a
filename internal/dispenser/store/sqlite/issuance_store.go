package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/poap-dispenser/internal/db"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// IssuanceStore keeps issuance records in SQLite. Mutations run on the
// single-writer worker, so the read-then-write inside TryClaim cannot
// interleave with another claim.
type IssuanceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewIssuanceStore(db *sql.DB, writer *dbpkg.Worker) *IssuanceStore {
	return &IssuanceStore{db: db, writer: writer}
}

const selectRecord = `
SELECT wallet_address, event_id, status, credential_ref, attempt_id, attempts,
       last_error, created_at_ms, updated_at_ms
FROM issuance_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (types.IssuanceRecord, error) {
	var (
		rec                  types.IssuanceRecord
		status               string
		createdMs, updatedMs int64
	)
	if err := row.Scan(
		&rec.WalletAddress, &rec.EventID, &status, &rec.CredentialRef, &rec.AttemptID,
		&rec.Attempts, &rec.LastError, &createdMs, &updatedMs,
	); err != nil {
		return types.IssuanceRecord{}, err
	}
	rec.Status = types.Status(status)
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return rec, nil
}

func (s *IssuanceStore) TryClaim(ctx context.Context, key types.Key, now time.Time) (types.ClaimResult, error) {
	nowMs := now.UTC().UnixMilli()
	var res types.ClaimResult

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := scanRecord(tx.QueryRowContext(ctx,
			selectRecord+` WHERE wallet_address = ? AND event_id = ?;`,
			key.WalletAddress, key.EventID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			rec = types.IssuanceRecord{
				WalletAddress: key.WalletAddress,
				EventID:       key.EventID,
				Status:        types.StatusPending,
				AttemptID:     store.NewAttemptID(),
				Attempts:      1,
				CreatedAt:     time.UnixMilli(nowMs).UTC(),
				UpdatedAt:     time.UnixMilli(nowMs).UTC(),
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO issuance_records(
  wallet_address, event_id, status, credential_ref, attempt_id, attempts,
  last_error, created_at_ms, updated_at_ms
) VALUES (?, ?, 'PENDING', '', ?, 1, '', ?, ?);
`, key.WalletAddress, key.EventID, rec.AttemptID, nowMs, nowMs); err != nil {
				return fmt.Errorf("TryClaim insert: %w", err)
			}
			res = types.ClaimResult{State: types.Claimed, Record: rec}
			return nil

		case err != nil:
			return fmt.Errorf("TryClaim select: %w", err)
		}

		switch rec.Status {
		case types.StatusPending:
			res = types.ClaimResult{State: types.AlreadyPending, Record: rec}
			return nil
		case types.StatusIssued:
			res = types.ClaimResult{State: types.AlreadyIssued, Record: rec}
			return nil
		}

		rec.Status = types.StatusPending
		rec.CredentialRef = ""
		rec.AttemptID = store.NewAttemptID()
		rec.Attempts++
		rec.UpdatedAt = time.UnixMilli(nowMs).UTC()
		if _, err := tx.ExecContext(ctx, `
UPDATE issuance_records
SET status = 'PENDING', credential_ref = '', attempt_id = ?, attempts = ?, updated_at_ms = ?
WHERE wallet_address = ? AND event_id = ? AND status = 'FAILED';
`, rec.AttemptID, rec.Attempts, nowMs, key.WalletAddress, key.EventID); err != nil {
			return fmt.Errorf("TryClaim reclaim: %w", err)
		}
		res = types.ClaimResult{State: types.Claimed, Record: rec}
		return nil
	})
	if err != nil {
		return types.ClaimResult{}, err
	}
	return res, nil
}

func (s *IssuanceStore) Finalize(ctx context.Context, key types.Key, attemptID string, fin types.Finalization, now time.Time) error {
	if err := store.ValidateFinalization(fin); err != nil {
		return err
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE issuance_records
SET status = ?, credential_ref = ?, last_error = ?, updated_at_ms = ?
WHERE wallet_address = ? AND event_id = ? AND status = 'PENDING' AND attempt_id = ?;
`, string(fin.Status), fin.CredentialRef, fin.Detail, now.UTC().UnixMilli(),
			key.WalletAddress, key.EventID, attemptID)
		if err != nil {
			return fmt.Errorf("Finalize update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Finalize rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrConsistency
		}
		return nil
	})
}

func (s *IssuanceStore) Get(ctx context.Context, key types.Key) (types.IssuanceRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		selectRecord+` WHERE wallet_address = ? AND event_id = ?;`,
		key.WalletAddress, key.EventID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.IssuanceRecord{}, store.ErrNotFound
	}
	if err != nil {
		return types.IssuanceRecord{}, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

func (s *IssuanceStore) List(ctx context.Context, filter types.RecordFilter) ([]types.IssuanceRecord, error) {
	filter = store.NormalizeFilter(filter)

	var (
		where []string
		args  []any
	)
	if filter.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, filter.EventID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	q := selectRecord
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at_ms, event_id, wallet_address LIMIT ?;"
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var out []types.IssuanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *IssuanceStore) FailStale(ctx context.Context, cutoff time.Time, now time.Time) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE issuance_records
SET status = 'FAILED', last_error = ?, updated_at_ms = ?
WHERE status = 'PENDING' AND updated_at_ms < ?;
`, store.StaleDetail, now.UTC().UnixMilli(), cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("FailStale update: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
