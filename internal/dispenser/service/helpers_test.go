package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/eligibility"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/ledger"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/service"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store/memory"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

const (
	walletAA = "0x00000000000000000000000000000000000000aA"
	walletBB = "0x00000000000000000000000000000000000000bB"
	eventID  = "devcon-2023"
	contract = "0x1111111111111111111111111111111111111111"
)

var (
	windowStart = time.Date(2023, 11, 13, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2023, 11, 16, 23, 59, 59, 0, time.UTC)
	clock       = time.Date(2023, 11, 20, 12, 0, 0, 0, time.UTC)
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *service.Catalog {
	t.Helper()
	cat, err := service.NewCatalog(service.Event{
		ID: eventID,
		Rules: eligibility.Rules{
			Contract:    contract,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return cat
}

func qualifyingTx(hash string) types.Transaction {
	return types.Transaction{
		TxHash:        hash,
		Target:        contract,
		ObservedAt:    windowStart.Add(36 * time.Hour),
		BlockNumber:   100,
		Confirmations: 64,
	}
}

// fakeProbe answers per wallet, ignoring case. Queued errs are returned
// first, one per call.
type fakeProbe struct {
	mu      sync.Mutex
	calls   int
	txs     map[string][]types.Transaction
	errs    []error
	onProbe func()
}

func (p *fakeProbe) Probe(ctx context.Context, q ledger.Query) (types.Evidence, error) {
	p.mu.Lock()
	p.calls++
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	var txs []types.Transaction
	for wallet, list := range p.txs {
		if strings.EqualFold(wallet, q.WalletAddress) {
			txs = list
		}
	}
	hook := p.onProbe
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return types.Evidence{}, err
	}
	return types.Evidence{
		WalletAddress: q.WalletAddress,
		EventID:       q.EventID,
		Found:         len(txs) > 0,
		Transactions:  txs,
	}, nil
}

func (p *fakeProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeIssuer returns errs in order, then ref.
type fakeIssuer struct {
	mu      sync.Mutex
	calls   atomic.Int32
	ref     string
	errs    []error
	onIssue func(ctx context.Context)
	release chan struct{}
}

func (f *fakeIssuer) Issue(ctx context.Context, wallet, event string) (string, error) {
	f.calls.Add(1)
	if f.onIssue != nil {
		f.onIssue(ctx)
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return f.ref, nil
}

func (f *fakeIssuer) Calls() int { return int(f.calls.Load()) }

// recordingSleep never waits; it records requested pauses and runs an
// optional hook.
type recordingSleep struct {
	mu     sync.Mutex
	pauses []time.Duration
	hook   func(n int)
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	n := len(s.pauses)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (s *recordingSleep) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pauses)
}

type harness struct {
	store     *memory.IssuanceStore
	decisions *memory.DecisionLog
	probe     *fakeProbe
	issuer    *fakeIssuer
	sleep     *recordingSleep
	coord     *service.Coordinator
}

func testConfig() service.CoordinatorConfig {
	return service.CoordinatorConfig{
		ProbeRetry:   service.ExponentialPolicy(3, 10*time.Millisecond, 40*time.Millisecond),
		ProbeTimeout: time.Second,
		IssueRetry:   service.ExponentialPolicy(3, 10*time.Millisecond, 40*time.Millisecond),
		IssueTimeout: time.Second,
		PendingWait:  service.ExponentialPolicy(3, 10*time.Millisecond, 40*time.Millisecond),
		StoreTimeout: time.Second,
	}
}

func newHarness(t *testing.T, cfg service.CoordinatorConfig) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewIssuanceStore(),
		decisions: memory.NewDecisionLog(),
		probe: &fakeProbe{txs: map[string][]types.Transaction{
			walletAA: {qualifyingTx("0xfeed")},
		}},
		issuer: &fakeIssuer{ref: "poap-123"},
		sleep:  &recordingSleep{},
	}
	logger := silentLogger()
	h.coord = service.NewCoordinator(service.CoordinatorDeps{
		Catalog:   testCatalog(t),
		Probe:     h.probe,
		Issuer:    h.issuer,
		Dedup:     service.NewDeduplicator(h.store, logger, nil),
		Decisions: h.decisions,
		Logger:    logger,
		Now:       func() time.Time { return clock },
		Sleep:     h.sleep.Sleep,
	}, cfg)
	return h
}

func (h *harness) key(wallet string) types.Key {
	addr, err := types.ParseWallet(wallet)
	if err != nil {
		panic(err)
	}
	return types.Key{WalletAddress: addr.Hex(), EventID: eventID}
}

func request(wallet string) types.IssueRequest {
	return types.IssueRequest{WalletAddress: wallet, EventID: eventID}
}

var errTimeout = errors.New("probe timed out")
