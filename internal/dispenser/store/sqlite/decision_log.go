package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/poap-dispenser/internal/db"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
)

type DecisionLog struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDecisionLog(db *sql.DB, writer *dbpkg.Worker) *DecisionLog {
	return &DecisionLog{db: db, writer: writer}
}

func (l *DecisionLog) RecordDecision(ctx context.Context, rec store.DecisionRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}

	return l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO decision_log(
  wallet_address, event_id, state, reason, tx_hash, credential_ref, detail, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.WalletAddress, rec.EventID, string(rec.State), string(rec.Reason),
			nullable(rec.TxHash), nullable(rec.CredentialRef), nullable(rec.Detail),
			rec.DecidedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordDecision insert: %w", err)
		}
		return nil
	})
}

// nullable stores empty strings as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
