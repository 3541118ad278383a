package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/poap-dispenser/internal/app"
	"github.com/BrandonDHaskell/poap-dispenser/internal/config"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/ledger"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store/memory"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

const (
	eligibleWallet   = "0x00000000000000000000000000000000000000aA"
	ineligibleWallet = "0x00000000000000000000000000000000000000bB"
	contract         = "0x1111111111111111111111111111111111111111"
	eventID          = "devcon-2023"
)

type allowListProbe struct{}

func (allowListProbe) Probe(_ context.Context, q ledger.Query) (types.Evidence, error) {
	ev := types.Evidence{WalletAddress: q.WalletAddress, EventID: q.EventID}
	if types.SameAddress(q.WalletAddress, eligibleWallet) {
		ev.Found = true
		ev.Transactions = []types.Transaction{{
			TxHash:        "0xbeef",
			Target:        contract,
			ObservedAt:    time.Date(2023, 11, 14, 10, 0, 0, 0, time.UTC),
			Confirmations: 12,
		}}
	}
	return ev, nil
}

type fixture struct {
	store  *memory.IssuanceStore
	opener Opener
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewIssuanceStore()}
	cfg := config.Config{
		Store:               config.StoreMemory,
		Ledger:              config.LedgerExplorer,
		ExplorerURL:         "http://127.0.0.1:1/api",
		Issuer:              config.IssuerDryRun,
		BackoffMin:          time.Millisecond,
		BackoffMax:          time.Millisecond,
		PendingWaitAttempts: 1,
		StoreTimeout:        time.Second,
		StaleAfter:          10 * time.Minute,
	}
	events := []config.Event{{
		ID:              eventID,
		Contract:        contract,
		WindowStart:     time.Date(2023, 11, 13, 0, 0, 0, 0, time.UTC),
		WindowEnd:       time.Date(2023, 11, 16, 0, 0, 0, 0, time.UTC),
		Policy:          "transaction",
		MinTransactions: 1,
		WalletTopic:     1,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.opener = func(ctx context.Context, _ *RootOptions) (*app.App, error) {
		return app.Build(ctx, cfg, events, logger, app.Overrides{
			Probe: allowListProbe{},
			Store: f.store,
		})
	}
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommandWith(f.opener)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeAddresses(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "addresses.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

// ── Command tree ────────────────────────────────────────────────────────────

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "dispenserctl", cmd.Use)

	for _, name := range []string{"batch-mint", "reconcile", "export", "status"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestRootCommand_RejectsUnknownOutput(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "--output", "yaml", "status", eventID, eligibleWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestBatchMintRequiredFlags(t *testing.T) {
	cmd := NewRootCommand()
	sub, _, err := cmd.Find([]string{"batch-mint"})
	require.NoError(t, err)
	for _, name := range []string{"event", "addresses"} {
		flag := sub.Flags().Lookup(name)
		require.NotNil(t, flag)
		assert.Equal(t, []string{"true"}, flag.Annotations[cobra.BashCompOneRequiredFlag])
	}
}

// ── batch-mint ──────────────────────────────────────────────────────────────

func TestBatchMint_WithoutYesOnlyLists(t *testing.T) {
	f := newFixture(t)
	path := writeAddresses(t, "# voters", eligibleWallet, "")

	out, err := f.run(t, "batch-mint", "--event", eventID, "--addresses", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Would mint event devcon-2023 to 1 addresses")
	assert.Contains(t, out, "--yes")

	recs, err := f.store.List(context.Background(), types.RecordFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestBatchMint_MintsAndReportsFailures(t *testing.T) {
	f := newFixture(t)
	path := writeAddresses(t, strings.ToLower(eligibleWallet), ineligibleWallet)

	out, err := f.run(t, "--output", "json", "batch-mint", "--event", eventID, "--addresses", path, "--yes")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result BatchMintResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Issued)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, types.StateIssued, result.Lines[0].Outcome.State)
	assert.Equal(t, types.StateIneligible, result.Lines[1].Outcome.State)
}

func TestBatchMint_SecondRunSkipsIssued(t *testing.T) {
	f := newFixture(t)
	path := writeAddresses(t, eligibleWallet)

	_, err := f.run(t, "batch-mint", "--event", eventID, "--addresses", path, "--yes")
	require.NoError(t, err)

	out, err := f.run(t, "batch-mint", "--event", eventID, "--addresses", path, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "ALREADY_ISSUED")
	assert.Contains(t, out, "0 issued, 1 already issued, 0 failed of 1")
}

func TestBatchMint_InvalidAddressFailsBeforeMinting(t *testing.T) {
	f := newFixture(t)
	path := writeAddresses(t, eligibleWallet, "not-an-address")

	_, err := f.run(t, "batch-mint", "--event", eventID, "--addresses", path, "--yes")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "line 2")

	recs, err := f.store.List(context.Background(), types.RecordFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestBatchMint_UnknownEvent(t *testing.T) {
	f := newFixture(t)
	path := writeAddresses(t, eligibleWallet)

	_, err := f.run(t, "batch-mint", "--event", "nope", "--addresses", path, "--yes")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// ── reconcile / status / export ─────────────────────────────────────────────

func TestReconcile_FailsStalePending(t *testing.T) {
	f := newFixture(t)
	key := types.Key{WalletAddress: eligibleWallet, EventID: eventID}
	_, err := f.store.TryClaim(context.Background(), key, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	out, err := f.run(t, "--output", "json", "reconcile")
	require.NoError(t, err)

	var result ReconcileResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(1), result.Reconciled)

	rec, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, rec.Status)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "status", eventID, eligibleWallet)
	require.NoError(t, err)
	assert.Contains(t, out, "NONE")

	path := writeAddresses(t, eligibleWallet)
	_, err = f.run(t, "batch-mint", "--event", eventID, "--addresses", path, "--yes")
	require.NoError(t, err)

	out, err = f.run(t, "status", eventID, eligibleWallet)
	require.NoError(t, err)
	assert.Contains(t, out, "ISSUED (dry-run-")
}

func TestStatus_InvalidWallet(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "status", eventID, "0x123")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExport_CSV(t *testing.T) {
	f := newFixture(t)
	path := writeAddresses(t, eligibleWallet)
	_, err := f.run(t, "batch-mint", "--event", eventID, "--addresses", path, "--yes")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out", "records.csv")
	out, err := f.run(t, "export", "--format", "csv", "--out", dest, "--event", eventID)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 1 record(s)")

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(string(raw)), strings.ToLower(eligibleWallet))
	assert.Contains(t, string(raw), "ISSUED")
}

func TestExport_RejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "export", "--format", "xlsx", "--out", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "boom")))
}
