package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// IssuanceStore keeps issuance records in a map guarded by one mutex, which
// makes TryClaim trivially atomic. It does not survive a restart and is
// intended for tests and dev environments.
type IssuanceStore struct {
	mu      sync.Mutex
	records map[types.Key]types.IssuanceRecord
}

func NewIssuanceStore() *IssuanceStore {
	return &IssuanceStore{records: make(map[types.Key]types.IssuanceRecord)}
}

func (s *IssuanceStore) TryClaim(_ context.Context, key types.Key, now time.Time) (types.ClaimResult, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if ok {
		switch rec.Status {
		case types.StatusPending:
			return types.ClaimResult{State: types.AlreadyPending, Record: rec}, nil
		case types.StatusIssued:
			return types.ClaimResult{State: types.AlreadyIssued, Record: rec}, nil
		}
		// FAILED: re-claim in place.
		rec.Status = types.StatusPending
		rec.CredentialRef = ""
		rec.AttemptID = store.NewAttemptID()
		rec.Attempts++
		rec.UpdatedAt = now
	} else {
		rec = types.IssuanceRecord{
			WalletAddress: key.WalletAddress,
			EventID:       key.EventID,
			Status:        types.StatusPending,
			AttemptID:     store.NewAttemptID(),
			Attempts:      1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	s.records[key] = rec
	return types.ClaimResult{State: types.Claimed, Record: rec}, nil
}

func (s *IssuanceStore) Finalize(_ context.Context, key types.Key, attemptID string, fin types.Finalization, now time.Time) error {
	if err := store.ValidateFinalization(fin); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Status != types.StatusPending || rec.AttemptID != attemptID {
		return store.ErrConsistency
	}
	rec.Status = fin.Status
	rec.CredentialRef = fin.CredentialRef
	rec.LastError = fin.Detail
	rec.UpdatedAt = now.UTC()
	s.records[key] = rec
	return nil
}

func (s *IssuanceStore) Get(_ context.Context, key types.Key) (types.IssuanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return types.IssuanceRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *IssuanceStore) List(_ context.Context, filter types.RecordFilter) ([]types.IssuanceRecord, error) {
	filter = store.NormalizeFilter(filter)

	s.mu.Lock()
	out := make([]types.IssuanceRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.EventID != "" && rec.EventID != filter.EventID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].WalletAddress < out[j].WalletAddress
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *IssuanceStore) FailStale(_ context.Context, cutoff time.Time, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.records {
		if rec.Status != types.StatusPending || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		rec.Status = types.StatusFailed
		rec.LastError = store.StaleDetail
		rec.UpdatedAt = now.UTC()
		s.records[key] = rec
		n++
	}
	return n, nil
}
