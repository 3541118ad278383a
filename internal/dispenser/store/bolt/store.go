// Package bolt is an embedded single-file backend on bbolt. bbolt allows one
// read-write transaction at a time, which is all TryClaim needs.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

var (
	bucketIssuance  = []byte("issuance")
	bucketDecisions = []byte("decisions")
)

// Store implements store.IssuanceStore and store.DecisionLog.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketIssuance, bucketDecisions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// record is the JSON value stored per key. Times are unix milliseconds so
// the encoding matches the SQLite backend.
type record struct {
	WalletAddress string `json:"wallet_address"`
	EventID       string `json:"event_id"`
	Status        string `json:"status"`
	CredentialRef string `json:"credential_ref,omitempty"`
	AttemptID     string `json:"attempt_id"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	UpdatedAtMs   int64  `json:"updated_at_ms"`
}

func fromRecord(r record) types.IssuanceRecord {
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

// boltKey orders records by event then wallet.
func boltKey(k types.Key) []byte {
	return []byte(k.EventID + "\x00" + k.WalletAddress)
}

func load(b *bbolt.Bucket, key []byte) (record, bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return record{}, false, nil
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return record{}, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return r, true, nil
}

func save(b *bbolt.Bucket, key []byte, r record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func (s *Store) TryClaim(_ context.Context, key types.Key, now time.Time) (types.ClaimResult, error) {
	nowMs := now.UTC().UnixMilli()
	var res types.ClaimResult

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIssuance)
		k := boltKey(key)
		r, ok, err := load(b, k)
		if err != nil {
			return err
		}
		if ok {
			switch types.Status(r.Status) {
			case types.StatusPending:
				res = types.ClaimResult{State: types.AlreadyPending, Record: fromRecord(r)}
				return nil
			case types.StatusIssued:
				res = types.ClaimResult{State: types.AlreadyIssued, Record: fromRecord(r)}
				return nil
			}
			r.Attempts++
		} else {
			r = record{
				WalletAddress: key.WalletAddress,
				EventID:       key.EventID,
				Attempts:      1,
				CreatedAtMs:   nowMs,
			}
		}
		r.Status = string(types.StatusPending)
		r.CredentialRef = ""
		r.AttemptID = store.NewAttemptID()
		r.UpdatedAtMs = nowMs
		if err := save(b, k, r); err != nil {
			return err
		}
		res = types.ClaimResult{State: types.Claimed, Record: fromRecord(r)}
		return nil
	})
	if err != nil {
		return types.ClaimResult{}, err
	}
	return res, nil
}

func (s *Store) Finalize(_ context.Context, key types.Key, attemptID string, fin types.Finalization, now time.Time) error {
	if err := store.ValidateFinalization(fin); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIssuance)
		k := boltKey(key)
		r, ok, err := load(b, k)
		if err != nil {
			return err
		}
		if !ok || types.Status(r.Status) != types.StatusPending || r.AttemptID != attemptID {
			return store.ErrConsistency
		}
		r.Status = string(fin.Status)
		r.CredentialRef = fin.CredentialRef
		r.LastError = fin.Detail
		r.UpdatedAtMs = now.UTC().UnixMilli()
		return save(b, k, r)
	})
}

func (s *Store) Get(_ context.Context, key types.Key) (types.IssuanceRecord, error) {
	var (
		r  record
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		r, ok, err = load(tx.Bucket(bucketIssuance), boltKey(key))
		return err
	})
	if err != nil {
		return types.IssuanceRecord{}, err
	}
	if !ok {
		return types.IssuanceRecord{}, store.ErrNotFound
	}
	return fromRecord(r), nil
}

func (s *Store) List(_ context.Context, filter types.RecordFilter) ([]types.IssuanceRecord, error) {
	filter = store.NormalizeFilter(filter)

	var out []types.IssuanceRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketIssuance).Cursor()
		var prefix []byte
		if filter.EventID != "" {
			prefix = []byte(filter.EventID + "\x00")
		}
		for k, v := c.Seek(prefix); k != nil; k, v = c.Next() {
			if prefix != nil && !bytes.HasPrefix(k, prefix) {
				break
			}
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			if filter.Status != "" && types.Status(r.Status) != filter.Status {
				continue
			}
			out = append(out, fromRecord(r))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) FailStale(_ context.Context, cutoff time.Time, now time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()
	nowMs := now.UTC().UnixMilli()

	var n int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIssuance)
		type update struct {
			key []byte
			rec record
		}
		var stale []update
		if err := b.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			if types.Status(r.Status) == types.StatusPending && r.UpdatedAtMs < cutoffMs {
				stale = append(stale, update{key: append([]byte(nil), k...), rec: r})
			}
			return nil
		}); err != nil {
			return err
		}
		// bbolt forbids mutating a bucket while iterating it.
		for _, u := range stale {
			u.rec.Status = string(types.StatusFailed)
			u.rec.LastError = store.StaleDetail
			u.rec.UpdatedAtMs = nowMs
			if err := save(b, u.key, u.rec); err != nil {
				return err
			}
		}
		n = int64(len(stale))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

type decision struct {
	WalletAddress string `json:"wallet_address"`
	EventID       string `json:"event_id"`
	State         string `json:"state"`
	Reason        string `json:"reason"`
	TxHash        string `json:"tx_hash,omitempty"`
	CredentialRef string `json:"credential_ref,omitempty"`
	Detail        string `json:"detail,omitempty"`
	DecidedAtMs   int64  `json:"decided_at_ms"`
}

func (s *Store) RecordDecision(_ context.Context, rec store.DecisionRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(decision{
		WalletAddress: rec.WalletAddress,
		EventID:       rec.EventID,
		State:         string(rec.State),
		Reason:        string(rec.Reason),
		TxHash:        rec.TxHash,
		CredentialRef: rec.CredentialRef,
		Detail:        rec.Detail,
		DecidedAtMs:   rec.DecidedAt.UTC().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDecisions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, raw)
	})
}

// Decisions returns every logged decision in insertion order.
func (s *Store) Decisions(_ context.Context) ([]store.DecisionRecord, error) {
	var out []store.DecisionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDecisions).ForEach(func(_, v []byte) error {
			var d decision
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, store.DecisionRecord{
				WalletAddress: d.WalletAddress,
				EventID:       d.EventID,
				State:         types.State(d.State),
				Reason:        types.Reason(d.Reason),
				TxHash:        d.TxHash,
				CredentialRef: d.CredentialRef,
				Detail:        d.Detail,
				DecidedAt:     time.UnixMilli(d.DecidedAtMs).UTC(),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	return out, nil
}
