// Package gormstore is the shared-database backend. It is meant for
// Postgres when several dispenser instances serve the same events; the
// claim relies only on the primary key and conditional updates, so no
// instance-local lock is involved.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// maxClaimRounds bounds how often TryClaim re-runs when the row changes
// between its statements.
const maxClaimRounds = 4

var errClaimContention = errors.New("claim did not settle under contention")

// Store implements store.IssuanceStore and store.DecisionLog on gorm.
type Store struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(r issuanceRow) types.IssuanceRecord {
	return types.IssuanceRecord{
		WalletAddress: r.WalletAddress,
		EventID:       r.EventID,
		Status:        types.Status(r.Status),
		CredentialRef: r.CredentialRef,
		AttemptID:     r.AttemptID,
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		CreatedAt:     time.UnixMilli(r.CreatedAtMs).UTC(),
		UpdatedAt:     time.UnixMilli(r.UpdatedAtMs).UTC(),
	}
}

func byKey(db *gorm.DB, key types.Key) *gorm.DB {
	return db.Where("wallet_address = ? AND event_id = ?", key.WalletAddress, key.EventID)
}

// TryClaim inserts a PENDING row with ON CONFLICT DO NOTHING. If the key
// exists it tries to flip a FAILED row back to PENDING, and otherwise reads
// the row to report its state. Each statement is atomic on its own; a row
// that turns FAILED between them sends the loop round again.
func (s *Store) TryClaim(ctx context.Context, key types.Key, now time.Time) (types.ClaimResult, error) {
	nowMs := now.UTC().UnixMilli()
	db := s.db.WithContext(ctx)

	for round := 0; round < maxClaimRounds; round++ {
		row := issuanceRow{
			WalletAddress: key.WalletAddress,
			EventID:       key.EventID,
			Status:        string(types.StatusPending),
			AttemptID:     store.NewAttemptID(),
			Attempts:      1,
			CreatedAtMs:   nowMs,
			UpdatedAtMs:   nowMs,
		}
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return types.ClaimResult{}, fmt.Errorf("TryClaim insert: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return types.ClaimResult{State: types.Claimed, Record: toRecord(row)}, nil
		}

		attemptID := store.NewAttemptID()
		res = byKey(db.Model(&issuanceRow{}), key).
			Where("status = ?", string(types.StatusFailed)).
			Updates(map[string]any{
				"status":         string(types.StatusPending),
				"credential_ref": "",
				"attempt_id":     attemptID,
				"attempts":       gorm.Expr("attempts + 1"),
				"updated_at_ms":  nowMs,
			})
		if res.Error != nil {
			return types.ClaimResult{}, fmt.Errorf("TryClaim reclaim: %w", res.Error)
		}

		var existing issuanceRow
		if err := byKey(db, key).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return types.ClaimResult{}, fmt.Errorf("TryClaim select: %w", err)
		}

		if res.RowsAffected == 1 && existing.AttemptID == attemptID {
			return types.ClaimResult{State: types.Claimed, Record: toRecord(existing)}, nil
		}
		switch types.Status(existing.Status) {
		case types.StatusPending:
			return types.ClaimResult{State: types.AlreadyPending, Record: toRecord(existing)}, nil
		case types.StatusIssued:
			return types.ClaimResult{State: types.AlreadyIssued, Record: toRecord(existing)}, nil
		}
	}
	return types.ClaimResult{}, errClaimContention
}

func (s *Store) Finalize(ctx context.Context, key types.Key, attemptID string, fin types.Finalization, now time.Time) error {
	if err := store.ValidateFinalization(fin); err != nil {
		return err
	}

	res := byKey(s.db.WithContext(ctx).Model(&issuanceRow{}), key).
		Where("status = ? AND attempt_id = ?", string(types.StatusPending), attemptID).
		Updates(map[string]any{
			"status":         string(fin.Status),
			"credential_ref": fin.CredentialRef,
			"last_error":     fin.Detail,
			"updated_at_ms":  now.UTC().UnixMilli(),
		})
	if res.Error != nil {
		return fmt.Errorf("Finalize update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrConsistency
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key types.Key) (types.IssuanceRecord, error) {
	var row issuanceRow
	err := byKey(s.db.WithContext(ctx), key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.IssuanceRecord{}, store.ErrNotFound
	}
	if err != nil {
		return types.IssuanceRecord{}, fmt.Errorf("Get: %w", err)
	}
	return toRecord(row), nil
}

func (s *Store) List(ctx context.Context, filter types.RecordFilter) ([]types.IssuanceRecord, error) {
	filter = store.NormalizeFilter(filter)

	q := s.db.WithContext(ctx).Model(&issuanceRow{})
	if filter.EventID != "" {
		q = q.Where("event_id = ?", filter.EventID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var rows []issuanceRow
	if err := q.Order("created_at_ms, event_id, wallet_address").Limit(filter.Limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	out := make([]types.IssuanceRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRecord(r))
	}
	return out, nil
}

func (s *Store) FailStale(ctx context.Context, cutoff time.Time, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&issuanceRow{}).
		Where("status = ? AND updated_at_ms < ?", string(types.StatusPending), cutoff.UTC().UnixMilli()).
		Updates(map[string]any{
			"status":        string(types.StatusFailed),
			"last_error":    store.StaleDetail,
			"updated_at_ms": now.UTC().UnixMilli(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("FailStale: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) RecordDecision(ctx context.Context, rec store.DecisionRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}
	row := decisionRow{
		WalletAddress: rec.WalletAddress,
		EventID:       rec.EventID,
		State:         string(rec.State),
		Reason:        string(rec.Reason),
		TxHash:        rec.TxHash,
		CredentialRef: rec.CredentialRef,
		Detail:        rec.Detail,
		DecidedAtMs:   rec.DecidedAt.UTC().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("RecordDecision: %w", err)
	}
	return nil
}
