package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/issuer"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/service"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// ═══════════════════════════════════════════════════════════════════════
// Reference scenarios
// ═══════════════════════════════════════════════════════════════════════

func TestVerifyAndIssue_EligibleWalletIsIssued(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIssued || out.Reason != types.ReasonQualifyingTxFound {
		t.Fatalf("expected ISSUED/QUALIFYING_TX_FOUND, got %s/%s", out.State, out.Reason)
	}
	if !out.OK || out.CredentialRef != "poap-123" {
		t.Errorf("expected ok with ref poap-123, got ok=%v ref=%q", out.OK, out.CredentialRef)
	}
	if out.TxHash != "0xfeed" {
		t.Errorf("expected tx_hash 0xfeed, got %q", out.TxHash)
	}

	rec, err := h.store.Get(ctx, h.key(walletAA))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != types.StatusIssued || rec.CredentialRef != "poap-123" {
		t.Errorf("expected ISSUED record with ref, got %s %q", rec.Status, rec.CredentialRef)
	}
	if h.issuer.Calls() != 1 {
		t.Errorf("expected 1 issuer call, got %d", h.issuer.Calls())
	}
}

func TestVerifyAndIssue_RepeatReturnsAlreadyIssued(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	if _, err := h.coord.VerifyAndIssue(ctx, request(walletAA)); err != nil {
		t.Fatalf("first VerifyAndIssue: %v", err)
	}
	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("second VerifyAndIssue: %v", err)
	}
	if out.State != types.StateAlreadyIssued || out.Reason != types.ReasonAlreadyIssued {
		t.Fatalf("expected ALREADY_ISSUED, got %s/%s", out.State, out.Reason)
	}
	if out.CredentialRef != "poap-123" {
		t.Errorf("expected prior ref poap-123, got %q", out.CredentialRef)
	}
	if h.issuer.Calls() != 1 {
		t.Errorf("expected no second issuer call, got %d calls", h.issuer.Calls())
	}
}

func TestVerifyAndIssue_NoTransactionIsIneligible(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	out, err := h.coord.VerifyAndIssue(ctx, request(walletBB))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIneligible || out.Reason != types.ReasonNoQualifyingTx {
		t.Fatalf("expected INELIGIBLE/NO_QUALIFYING_TX, got %s/%s", out.State, out.Reason)
	}
	if _, err := h.store.Get(ctx, h.key(walletBB)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no record, got %v", err)
	}
	if h.issuer.Calls() != 0 {
		t.Errorf("expected no issuer call, got %d", h.issuer.Calls())
	}
}

func TestVerifyAndIssue_ProbeTimeoutsExhaustRetries(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.probe.errs = []error{
		fmt.Errorf("%w: %w", errTimeout, context.DeadlineExceeded),
		fmt.Errorf("%w: %w", errTimeout, context.DeadlineExceeded),
		fmt.Errorf("%w: %w", errTimeout, context.DeadlineExceeded),
	}

	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateError || out.Reason != types.ReasonProbeError {
		t.Fatalf("expected ERROR/PROBE_ERROR, got %s/%s", out.State, out.Reason)
	}
	if !out.TimedOut {
		t.Error("expected timed_out for deadline failures")
	}
	if h.probe.Calls() != 3 {
		t.Errorf("expected 3 probe calls, got %d", h.probe.Calls())
	}
	if _, err := h.store.Get(ctx, h.key(walletAA)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no record, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════
// Eligibility and probing
// ═══════════════════════════════════════════════════════════════════════

func TestVerifyAndIssue_ProbeRecoversWithinBound(t *testing.T) {
	h := newHarness(t, testConfig())
	h.probe.errs = []error{errors.New("connection reset")}

	out, err := h.coord.VerifyAndIssue(context.Background(), request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIssued {
		t.Fatalf("expected ISSUED after one probe retry, got %s/%s", out.State, out.Reason)
	}
	if h.probe.Calls() != 2 {
		t.Errorf("expected 2 probe calls, got %d", h.probe.Calls())
	}
	if h.sleep.Count() != 1 {
		t.Errorf("expected 1 backoff pause, got %d", h.sleep.Count())
	}
}

func TestVerifyAndIssue_OutOfWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	late := qualifyingTx("0xlate")
	late.ObservedAt = windowEnd.Add(time.Second)
	h.probe.txs[walletBB] = []types.Transaction{late}

	out, err := h.coord.VerifyAndIssue(context.Background(), request(walletBB))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIneligible || out.Reason != types.ReasonOutOfWindow {
		t.Fatalf("expected INELIGIBLE/OUT_OF_WINDOW, got %s/%s", out.State, out.Reason)
	}
}

// ── Waiting for eligibility ──

func waitConfig() service.CoordinatorConfig {
	cfg := testConfig()
	cfg.EligibilityWait = service.ExponentialPolicy(4, time.Second, time.Second)
	return cfg
}

func waitRequest(wallet string) types.IssueRequest {
	req := request(wallet)
	req.WaitForEligibility = true
	return req
}

func TestVerifyAndIssue_WaitPicksUpLateTransaction(t *testing.T) {
	h := newHarness(t, waitConfig())
	h.sleep.hook = func(n int) {
		if n == 2 {
			h.probe.mu.Lock()
			h.probe.txs[walletBB] = []types.Transaction{qualifyingTx("0xlate")}
			h.probe.mu.Unlock()
		}
	}

	out, err := h.coord.VerifyAndIssue(context.Background(), waitRequest(walletBB))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIssued || out.TxHash != "0xlate" {
		t.Fatalf("expected ISSUED with 0xlate, got %s/%s tx=%q", out.State, out.Reason, out.TxHash)
	}
	if h.probe.Calls() != 3 {
		t.Errorf("expected 3 probe calls, got %d", h.probe.Calls())
	}
	if h.sleep.Count() != 2 {
		t.Errorf("expected 2 pauses, got %d", h.sleep.Count())
	}
}

func TestVerifyAndIssue_WaitIsBounded(t *testing.T) {
	h := newHarness(t, waitConfig())
	ctx := context.Background()

	out, err := h.coord.VerifyAndIssue(ctx, waitRequest(walletBB))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIneligible || out.Reason != types.ReasonNoQualifyingTx {
		t.Fatalf("expected INELIGIBLE/NO_QUALIFYING_TX, got %s/%s", out.State, out.Reason)
	}
	if h.probe.Calls() != 4 {
		t.Errorf("expected 4 probe calls, got %d", h.probe.Calls())
	}
	if _, err := h.store.Get(ctx, h.key(walletBB)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no record, got %v", err)
	}
}

func TestVerifyAndIssue_NoWaitUnlessRequested(t *testing.T) {
	h := newHarness(t, waitConfig())

	out, err := h.coord.VerifyAndIssue(context.Background(), request(walletBB))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIneligible {
		t.Fatalf("expected INELIGIBLE, got %s", out.State)
	}
	if h.probe.Calls() != 1 || h.sleep.Count() != 0 {
		t.Errorf("expected a single probe and no pause, got %d probes %d pauses", h.probe.Calls(), h.sleep.Count())
	}
}

func TestVerifyAndIssue_WaitEndsOnOutOfWindow(t *testing.T) {
	h := newHarness(t, waitConfig())
	late := qualifyingTx("0xlate")
	late.ObservedAt = windowEnd.Add(time.Second)
	h.probe.txs[walletBB] = []types.Transaction{late}

	out, err := h.coord.VerifyAndIssue(context.Background(), waitRequest(walletBB))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.Reason != types.ReasonOutOfWindow {
		t.Fatalf("expected OUT_OF_WINDOW, got %s", out.Reason)
	}
	if h.probe.Calls() != 1 {
		t.Errorf("expected 1 probe call, got %d", h.probe.Calls())
	}
}

func TestVerifyAndIssue_WaitStopsWhenCallerLeaves(t *testing.T) {
	h := newHarness(t, waitConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sleep.hook = func(int) { cancel() }

	out, err := h.coord.VerifyAndIssue(ctx, waitRequest(walletBB))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIneligible {
		t.Fatalf("expected INELIGIBLE, got %s", out.State)
	}
	if h.probe.Calls() != 1 {
		t.Errorf("expected the wait to stop after 1 probe, got %d", h.probe.Calls())
	}
}

func TestVerifyAndIssue_ValidationErrors(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	if _, err := h.coord.VerifyAndIssue(ctx, types.IssueRequest{WalletAddress: "0xAA", EventID: eventID}); !errors.Is(err, types.ErrInvalidWallet) {
		t.Errorf("expected ErrInvalidWallet, got %v", err)
	}
	if _, err := h.coord.VerifyAndIssue(ctx, types.IssueRequest{WalletAddress: walletAA, EventID: "nope"}); !errors.Is(err, service.ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
	if h.probe.Calls() != 0 {
		t.Errorf("expected no probe for invalid input, got %d", h.probe.Calls())
	}
}

func TestCheckEligibility_DoesNotClaim(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	resp, err := h.coord.CheckEligibility(ctx, walletAA, eventID)
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if !resp.OK || !resp.Eligible || resp.Reason != types.ReasonQualifyingTxFound {
		t.Errorf("expected eligible, got %+v", resp)
	}
	if _, err := h.store.Get(ctx, h.key(walletAA)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no record after eligibility check, got %v", err)
	}
	if len(h.decisions.Decisions()) != 0 {
		t.Errorf("expected no decision logged for a read-only check")
	}
}

// ═══════════════════════════════════════════════════════════════════════
// Issuer failures
// ═══════════════════════════════════════════════════════════════════════

func TestVerifyAndIssue_RejectedIsTerminal(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.issuer.errs = []error{&issuer.Error{Kind: issuer.Rejected, Op: "claim", Status: 400, Err: errors.New("already minted")}}

	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateRejected || out.Reason != types.ReasonIssuerRejected {
		t.Fatalf("expected REJECTED/ISSUER_REJECTED, got %s/%s", out.State, out.Reason)
	}
	if h.issuer.Calls() != 1 {
		t.Errorf("expected rejected issuance not retried, got %d calls", h.issuer.Calls())
	}
	rec, err := h.store.Get(ctx, h.key(walletAA))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != types.StatusFailed {
		t.Errorf("expected FAILED record, got %s", rec.Status)
	}
}

func TestVerifyAndIssue_UnavailableExhaustsRetries(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	unavailable := &issuer.Error{Kind: issuer.Unavailable, Op: "claim", Status: 503, Err: errors.New("maintenance")}
	h.issuer.errs = []error{unavailable, unavailable, unavailable}

	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateError || out.Reason != types.ReasonIssuerUnavailable {
		t.Fatalf("expected ERROR/ISSUER_UNAVAILABLE, got %s/%s", out.State, out.Reason)
	}
	if h.issuer.Calls() != 3 {
		t.Errorf("expected 3 issuer calls, got %d", h.issuer.Calls())
	}
	rec, err := h.store.Get(ctx, h.key(walletAA))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != types.StatusFailed {
		t.Errorf("expected FAILED record, got %s", rec.Status)
	}
}

func TestVerifyAndIssue_UnavailableThenSuccess(t *testing.T) {
	h := newHarness(t, testConfig())
	h.issuer.errs = []error{errors.New("dial tcp: connection refused")}

	out, err := h.coord.VerifyAndIssue(context.Background(), request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIssued {
		t.Fatalf("expected ISSUED after retry, got %s/%s", out.State, out.Reason)
	}
	if h.issuer.Calls() != 2 {
		t.Errorf("expected 2 issuer calls, got %d", h.issuer.Calls())
	}
}

func TestVerifyAndIssue_FailedRecordCanBeRetried(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.issuer.errs = []error{&issuer.Error{Kind: issuer.Rejected, Op: "claim", Err: errors.New("bad secret")}}

	if _, err := h.coord.VerifyAndIssue(ctx, request(walletAA)); err != nil {
		t.Fatalf("first VerifyAndIssue: %v", err)
	}
	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("second VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIssued {
		t.Fatalf("expected ISSUED on retry after failure, got %s/%s", out.State, out.Reason)
	}
	rec, _ := h.store.Get(ctx, h.key(walletAA))
	if rec.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", rec.Attempts)
	}
}

// ═══════════════════════════════════════════════════════════════════════
// Concurrency and cancellation
// ═══════════════════════════════════════════════════════════════════════

func TestVerifyAndIssue_ConcurrentRequestsIssueOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	outcomes := make([]types.Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = h.coord.VerifyAndIssue(ctx, request(walletAA))
		}(i)
	}
	wg.Wait()

	issued := 0
	for i, out := range outcomes {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		switch {
		case out.State == types.StateIssued:
			issued++
		case out.State == types.StateAlreadyIssued:
			if out.CredentialRef != "poap-123" {
				t.Errorf("request %d: expected ref poap-123, got %q", i, out.CredentialRef)
			}
		case out.State == types.StateError && out.Reason == types.ReasonAlreadyPending:
		default:
			t.Errorf("request %d: unexpected outcome %s/%s", i, out.State, out.Reason)
		}
	}
	if issued != 1 {
		t.Errorf("expected exactly 1 ISSUED, got %d", issued)
	}
	if h.issuer.Calls() != 1 {
		t.Errorf("expected exactly 1 issuer call, got %d", h.issuer.Calls())
	}
}

func TestVerifyAndIssue_PendingConvergesToAlreadyIssued(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	key := h.key(walletAA)

	other, err := h.store.TryClaim(ctx, key, clock)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	h.sleep.hook = func(n int) {
		if n == 1 {
			_ = h.store.Finalize(ctx, key, other.Record.AttemptID, types.Issued("poap-other"), clock)
		}
	}

	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateAlreadyIssued || out.CredentialRef != "poap-other" {
		t.Fatalf("expected ALREADY_ISSUED poap-other, got %s %q", out.State, out.CredentialRef)
	}
	if h.issuer.Calls() != 0 {
		t.Errorf("expected no issuer call, got %d", h.issuer.Calls())
	}
}

func TestVerifyAndIssue_PendingConvergesToClaimAfterFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	key := h.key(walletAA)

	other, err := h.store.TryClaim(ctx, key, clock)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	h.sleep.hook = func(n int) {
		if n == 1 {
			_ = h.store.Finalize(ctx, key, other.Record.AttemptID, types.Failed("issuer down"), clock)
		}
	}

	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateIssued || out.CredentialRef != "poap-123" {
		t.Fatalf("expected ISSUED poap-123, got %s %q", out.State, out.CredentialRef)
	}
}

func TestVerifyAndIssue_PendingWaitIsBounded(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	if _, err := h.store.TryClaim(ctx, h.key(walletAA), clock); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if out.State != types.StateError || out.Reason != types.ReasonAlreadyPending {
		t.Fatalf("expected ERROR/ALREADY_PENDING, got %s/%s", out.State, out.Reason)
	}
	if !out.TimedOut {
		t.Error("expected timed_out for a pending wait that did not converge")
	}
	if h.sleep.Count() != 2 {
		t.Errorf("expected 2 pauses for 3 claim attempts, got %d", h.sleep.Count())
	}
}

func TestVerifyAndIssue_CancelAfterClaimStillFinalizes(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var issueCtxErr error
	h.issuer.onIssue = func(ictx context.Context) {
		cancel()
		issueCtxErr = ictx.Err()
	}

	out, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if err != nil {
		t.Fatalf("VerifyAndIssue: %v", err)
	}
	if issueCtxErr != nil {
		t.Errorf("expected issuer context to survive caller cancellation, got %v", issueCtxErr)
	}
	if out.State != types.StateIssued {
		t.Fatalf("expected ISSUED, got %s/%s", out.State, out.Reason)
	}
	rec, err := h.store.Get(context.Background(), h.key(walletAA))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != types.StatusIssued {
		t.Errorf("expected ISSUED record, got %s", rec.Status)
	}
}

func TestVerifyAndIssue_CancelBeforeClaimWritesNothing(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	h.probe.onProbe = cancel

	_, err := h.coord.VerifyAndIssue(ctx, request(walletAA))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := h.store.Get(context.Background(), h.key(walletAA)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no record, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════
// Store failures and audit
// ═══════════════════════════════════════════════════════════════════════

// consistencyStore wraps a store and reports every finalize as a
// consistency violation.
type consistencyStore struct {
	store.IssuanceStore
}

func (consistencyStore) Finalize(context.Context, types.Key, string, types.Finalization, time.Time) error {
	return store.ErrConsistency
}

func TestVerifyAndIssue_FinalizeConsistencyErrorIsReturned(t *testing.T) {
	h := newHarness(t, testConfig())
	logger := silentLogger()
	coord := service.NewCoordinator(service.CoordinatorDeps{
		Catalog:   testCatalog(t),
		Probe:     h.probe,
		Issuer:    h.issuer,
		Dedup:     service.NewDeduplicator(consistencyStore{h.store}, logger, nil),
		Decisions: h.decisions,
		Logger:    logger,
		Now:       func() time.Time { return clock },
		Sleep:     h.sleep.Sleep,
	}, testConfig())

	_, err := coord.VerifyAndIssue(context.Background(), request(walletAA))
	if !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency, got %v", err)
	}
	if h.sleep.Count() != 0 {
		t.Errorf("expected consistency error not retried, got %d pauses", h.sleep.Count())
	}
	decisions := h.decisions.Decisions()
	if len(decisions) != 1 || decisions[0].Reason != types.ReasonStoreError {
		t.Fatalf("expected one STORE_ERROR decision, got %+v", decisions)
	}
}

func TestVerifyAndIssue_RecordsDecisions(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, _ = h.coord.VerifyAndIssue(ctx, request(walletAA))
	_, _ = h.coord.VerifyAndIssue(ctx, request(walletAA))
	_, _ = h.coord.VerifyAndIssue(ctx, request(walletBB))

	got := h.decisions.Decisions()
	want := []types.State{types.StateIssued, types.StateAlreadyIssued, types.StateIneligible}
	if len(got) != len(want) {
		t.Fatalf("expected %d decisions, got %d", len(want), len(got))
	}
	for i, s := range want {
		if got[i].State != s {
			t.Errorf("decision %d: expected %s, got %s", i, s, got[i].State)
		}
		if !got[i].DecidedAt.Equal(clock) {
			t.Errorf("decision %d: expected decided_at %v, got %v", i, clock, got[i].DecidedAt)
		}
	}
	if got[0].CredentialRef != "poap-123" || got[0].TxHash != "0xfeed" {
		t.Errorf("expected issued decision to carry ref and tx, got %+v", got[0])
	}
}
