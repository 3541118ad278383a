// Package storetest is a conformance suite run against every IssuanceStore
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.IssuanceStore

var (
	walletA = "0x00000000000000000000000000000000000000AA"
	walletB = "0x00000000000000000000000000000000000000BB"
	base    = time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC)
)

func key(wallet, event string) types.Key {
	return types.Key{WalletAddress: wallet, EventID: event}
}

// Run executes the suite as subtests of t.
func Run(t *testing.T, newStore Factory) {
	t.Run("ClaimNewKey", func(t *testing.T) { testClaimNewKey(t, newStore(t)) })
	t.Run("ClaimPendingKey", func(t *testing.T) { testClaimPendingKey(t, newStore(t)) })
	t.Run("IssuedIsIdempotent", func(t *testing.T) { testIssuedIsIdempotent(t, newStore(t)) })
	t.Run("FinalizeTwice", func(t *testing.T) { testFinalizeTwice(t, newStore(t)) })
	t.Run("FinalizeWrongAttempt", func(t *testing.T) { testFinalizeWrongAttempt(t, newStore(t)) })
	t.Run("FinalizeUnknownKey", func(t *testing.T) { testFinalizeUnknownKey(t, newStore(t)) })
	t.Run("FinalizeInvalidStatus", func(t *testing.T) { testFinalizeInvalidStatus(t, newStore(t)) })
	t.Run("ReclaimAfterFailure", func(t *testing.T) { testReclaimAfterFailure(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("KeysAreIndependent", func(t *testing.T) { testKeysAreIndependent(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("FailStale", func(t *testing.T) { testFailStale(t, newStore(t)) })
}

func mustClaim(t *testing.T, s store.IssuanceStore, k types.Key, now time.Time) types.ClaimResult {
	t.Helper()
	res, err := s.TryClaim(context.Background(), k, now)
	if err != nil {
		t.Fatalf("TryClaim(%s): %v", k, err)
	}
	return res
}

func mustFinalize(t *testing.T, s store.IssuanceStore, k types.Key, attempt string, fin types.Finalization, now time.Time) {
	t.Helper()
	if err := s.Finalize(context.Background(), k, attempt, fin, now); err != nil {
		t.Fatalf("Finalize(%s): %v", k, err)
	}
}

func mustGet(t *testing.T, s store.IssuanceStore, k types.Key) types.IssuanceRecord {
	t.Helper()
	rec, err := s.Get(context.Background(), k)
	if err != nil {
		t.Fatalf("Get(%s): %v", k, err)
	}
	return rec
}

func testClaimNewKey(t *testing.T, s store.IssuanceStore) {
	k := key(walletA, "devcon-2023")
	res := mustClaim(t, s, k, base)

	if res.State != types.Claimed {
		t.Fatalf("expected Claimed, got %s", res.State)
	}
	if res.Record.AttemptID == "" {
		t.Error("expected attempt id on claim")
	}
	if res.Record.Attempts != 1 {
		t.Errorf("expected attempts=1, got %d", res.Record.Attempts)
	}

	rec := mustGet(t, s, k)
	if rec.Status != types.StatusPending {
		t.Errorf("expected PENDING, got %s", rec.Status)
	}
	if rec.AttemptID != res.Record.AttemptID {
		t.Errorf("expected stored attempt %q, got %q", res.Record.AttemptID, rec.AttemptID)
	}
	if !rec.CreatedAt.Equal(base) {
		t.Errorf("expected created_at %s, got %s", base, rec.CreatedAt)
	}
}

func testClaimPendingKey(t *testing.T, s store.IssuanceStore) {
	k := key(walletA, "devcon-2023")
	first := mustClaim(t, s, k, base)

	second := mustClaim(t, s, k, base.Add(time.Second))
	if second.State != types.AlreadyPending {
		t.Fatalf("expected AlreadyPending, got %s", second.State)
	}
	if second.Record.AttemptID != first.Record.AttemptID {
		t.Error("expected AlreadyPending to leave the attempt untouched")
	}
}

func testIssuedIsIdempotent(t *testing.T, s store.IssuanceStore) {
	k := key(walletA, "devcon-2023")
	res := mustClaim(t, s, k, base)
	mustFinalize(t, s, k, res.Record.AttemptID, types.Issued("poap-123"), base.Add(time.Second))

	rec := mustGet(t, s, k)
	if rec.Status != types.StatusIssued || rec.CredentialRef != "poap-123" {
		t.Fatalf("expected ISSUED poap-123, got %s %q", rec.Status, rec.CredentialRef)
	}

	for i := 0; i < 3; i++ {
		again := mustClaim(t, s, k, base.Add(time.Minute))
		if again.State != types.AlreadyIssued {
			t.Fatalf("expected AlreadyIssued, got %s", again.State)
		}
		if again.Record.CredentialRef != "poap-123" {
			t.Errorf("expected prior credential poap-123, got %q", again.Record.CredentialRef)
		}
	}
}

func testFinalizeTwice(t *testing.T, s store.IssuanceStore) {
	k := key(walletA, "devcon-2023")
	res := mustClaim(t, s, k, base)
	mustFinalize(t, s, k, res.Record.AttemptID, types.Issued("poap-123"), base)

	err := s.Finalize(context.Background(), k, res.Record.AttemptID, types.Issued("poap-456"), base)
	if !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency on second finalize, got %v", err)
	}
	err = s.Finalize(context.Background(), k, res.Record.AttemptID, types.Failed("late"), base)
	if !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency on late failure, got %v", err)
	}

	rec := mustGet(t, s, k)
	if rec.CredentialRef != "poap-123" {
		t.Errorf("expected first finalize to stick, got %q", rec.CredentialRef)
	}
}

func testFinalizeWrongAttempt(t *testing.T, s store.IssuanceStore) {
	k := key(walletA, "devcon-2023")
	mustClaim(t, s, k, base)

	err := s.Finalize(context.Background(), k, "not-the-attempt", types.Issued("poap-1"), base)
	if !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency, got %v", err)
	}
	if rec := mustGet(t, s, k); rec.Status != types.StatusPending {
		t.Errorf("expected record still PENDING, got %s", rec.Status)
	}
}

func testFinalizeUnknownKey(t *testing.T, s store.IssuanceStore) {
	err := s.Finalize(context.Background(), key(walletB, "nope"), "x", types.Failed("boom"), base)
	if !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency, got %v", err)
	}
}

func testFinalizeInvalidStatus(t *testing.T, s store.IssuanceStore) {
	k := key(walletA, "devcon-2023")
	res := mustClaim(t, s, k, base)

	err := s.Finalize(context.Background(), k, res.Record.AttemptID,
		types.Finalization{Status: types.StatusPending}, base)
	if !errors.Is(err, store.ErrInvalidFinalization) {
		t.Fatalf("expected ErrInvalidFinalization, got %v", err)
	}
}

func testReclaimAfterFailure(t *testing.T, s store.IssuanceStore) {
	k := key(walletA, "devcon-2023")
	first := mustClaim(t, s, k, base)
	mustFinalize(t, s, k, first.Record.AttemptID, types.Failed("issuer unavailable"), base.Add(time.Second))

	rec := mustGet(t, s, k)
	if rec.Status != types.StatusFailed || rec.LastError != "issuer unavailable" {
		t.Fatalf("expected FAILED with last error, got %s %q", rec.Status, rec.LastError)
	}

	second := mustClaim(t, s, k, base.Add(time.Minute))
	if second.State != types.Claimed {
		t.Fatalf("expected FAILED record to be re-claimable, got %s", second.State)
	}
	if second.Record.AttemptID == first.Record.AttemptID {
		t.Error("expected fresh attempt id on re-claim")
	}
	if second.Record.Attempts != 2 {
		t.Errorf("expected attempts=2, got %d", second.Record.Attempts)
	}

	// The superseded attempt must not be able to finalize the new one.
	err := s.Finalize(context.Background(), k, first.Record.AttemptID, types.Issued("poap-old"), base.Add(time.Minute))
	if !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency for superseded attempt, got %v", err)
	}

	mustFinalize(t, s, k, second.Record.AttemptID, types.Issued("poap-new"), base.Add(2*time.Minute))
	rec = mustGet(t, s, k)
	if rec.Status != types.StatusIssued || rec.CredentialRef != "poap-new" {
		t.Fatalf("expected ISSUED poap-new, got %s %q", rec.Status, rec.CredentialRef)
	}
	if !rec.CreatedAt.Equal(base) {
		t.Errorf("expected created_at preserved across attempts, got %s", rec.CreatedAt)
	}
}

func testConcurrentClaims(t *testing.T, s store.IssuanceStore) {
	const n = 32
	k := key(walletA, "devcon-2023")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
		pending int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := s.TryClaim(context.Background(), k, base)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			switch res.State {
			case types.Claimed:
				claimed++
			case types.AlreadyPending:
				pending++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected TryClaim errors: %v", errs)
	}
	if claimed != 1 {
		t.Fatalf("expected exactly one Claimed, got %d", claimed)
	}
	if pending != n-1 {
		t.Errorf("expected %d AlreadyPending, got %d", n-1, pending)
	}
}

func testKeysAreIndependent(t *testing.T, s store.IssuanceStore) {
	a := mustClaim(t, s, key(walletA, "devcon-2023"), base)
	b := mustClaim(t, s, key(walletB, "devcon-2023"), base)
	c := mustClaim(t, s, key(walletA, "ethcc-2024"), base)

	for _, res := range []types.ClaimResult{a, b, c} {
		if res.State != types.Claimed {
			t.Fatalf("expected every distinct key Claimed, got %s", res.State)
		}
	}
}

func testGetNotFound(t *testing.T, s store.IssuanceStore) {
	_, err := s.Get(context.Background(), key(walletA, "missing"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testList(t *testing.T, s store.IssuanceStore) {
	for i := 0; i < 5; i++ {
		wallet := fmt.Sprintf("0x%040x", i+1)
		res := mustClaim(t, s, key(wallet, "devcon-2023"), base.Add(time.Duration(i)*time.Second))
		if i%2 == 0 {
			mustFinalize(t, s, key(wallet, "devcon-2023"), res.Record.AttemptID, types.Issued(fmt.Sprintf("poap-%d", i)), base)
		}
	}
	mustClaim(t, s, key(walletA, "ethcc-2024"), base)

	all, err := s.List(context.Background(), types.RecordFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 records, got %d", len(all))
	}

	devcon, err := s.List(context.Background(), types.RecordFilter{EventID: "devcon-2023"})
	if err != nil {
		t.Fatalf("List event: %v", err)
	}
	if len(devcon) != 5 {
		t.Fatalf("expected 5 devcon records, got %d", len(devcon))
	}
	for i := 1; i < len(devcon); i++ {
		if devcon[i].CreatedAt.Before(devcon[i-1].CreatedAt) {
			t.Fatalf("expected records ordered by created_at")
		}
	}

	issued, err := s.List(context.Background(), types.RecordFilter{EventID: "devcon-2023", Status: types.StatusIssued})
	if err != nil {
		t.Fatalf("List issued: %v", err)
	}
	if len(issued) != 3 {
		t.Errorf("expected 3 issued records, got %d", len(issued))
	}

	limited, err := s.List(context.Background(), types.RecordFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit 2 honoured, got %d", len(limited))
	}
}

func testFailStale(t *testing.T, s store.IssuanceStore) {
	stale := key(walletA, "devcon-2023")
	fresh := key(walletB, "devcon-2023")
	done := key(walletA, "ethcc-2024")

	staleClaim := mustClaim(t, s, stale, base)
	mustClaim(t, s, fresh, base.Add(30*time.Minute))
	doneClaim := mustClaim(t, s, done, base)
	mustFinalize(t, s, done, doneClaim.Record.AttemptID, types.Issued("poap-9"), base)

	n, err := s.FailStale(context.Background(), base.Add(10*time.Minute), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale record, got %d", n)
	}

	if rec := mustGet(t, s, stale); rec.Status != types.StatusFailed || rec.LastError != store.StaleDetail {
		t.Errorf("expected stale record FAILED, got %s %q", rec.Status, rec.LastError)
	}
	if rec := mustGet(t, s, fresh); rec.Status != types.StatusPending {
		t.Errorf("expected fresh record PENDING, got %s", rec.Status)
	}
	if rec := mustGet(t, s, done); rec.Status != types.StatusIssued {
		t.Errorf("expected issued record untouched, got %s", rec.Status)
	}

	// The in-flight task that lost its record must see a consistency error.
	err = s.Finalize(context.Background(), stale, staleClaim.Record.AttemptID, types.Issued("poap-late"), base.Add(time.Hour))
	if !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency after reconciliation, got %v", err)
	}

	if res := mustClaim(t, s, stale, base.Add(2*time.Hour)); res.State != types.Claimed {
		t.Errorf("expected reconciled record re-claimable, got %s", res.State)
	}
}
