package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// BatchMintOptions holds flags for the batch-mint command.
type BatchMintOptions struct {
	*RootOptions
	EventID   string
	Addresses string
	Yes       bool
}

// BatchMintLine is the outcome for one address.
type BatchMintLine struct {
	Index   int           `json:"index"`
	Address string        `json:"address"`
	Outcome types.Outcome `json:"outcome"`
	Error   string        `json:"error,omitempty"`
}

// BatchMintResult summarises a batch run.
type BatchMintResult struct {
	EventID string          `json:"event_id"`
	Total   int             `json:"total"`
	Issued  int             `json:"issued"`
	Skipped int             `json:"skipped"` // already issued
	Failed  int             `json:"failed"`
	DryRun  bool            `json:"dry_run"`
	Lines   []BatchMintLine `json:"lines"`
}

func NewBatchMintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchMintOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch-mint",
		Short: "Run a list of addresses through verify-and-issue",
		Long: `Read one wallet address per line and run each through the same
verify-and-issue flow the HTTP API uses, so eligibility and the
exactly-once guarantee still apply. Blank lines and lines starting with
# are ignored. Every address is validated before anything is minted.

Without --yes the command only lists what it would do.

Exit codes:
  0 - Every address ended ISSUED or ALREADY_ISSUED
  1 - At least one address did not
  2 - Command error (bad address file, unknown event, etc.)

Examples:
  dispenserctl batch-mint --event devcon-2023 --addresses voters.txt
  dispenserctl batch-mint --event devcon-2023 --addresses voters.txt --yes`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchMint(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EventID, "event", "", "event id (required)")
	_ = cmd.MarkFlagRequired("event")
	cmd.Flags().StringVar(&opts.Addresses, "addresses", "", "file with one address per line (required)")
	_ = cmd.MarkFlagRequired("addresses")
	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "mint without asking for confirmation")

	return cmd
}

func runBatchMint(ctx context.Context, opts *BatchMintOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	file, err := os.Open(opts.Addresses)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open address file", err)
	}
	addresses, err := readAddresses(file)
	file.Close()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid address file", err)
	}

	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Catalog.Lookup(opts.EventID); err != nil {
		return WrapExitError(ExitCommandError, "cannot mint", err)
	}

	result := BatchMintResult{
		EventID: opts.EventID,
		Total:   len(addresses),
		DryRun:  !opts.Yes,
		Lines:   make([]BatchMintLine, 0, len(addresses)),
	}

	if !opts.Yes {
		for i, addr := range addresses {
			result.Lines = append(result.Lines, BatchMintLine{Index: i, Address: addr})
		}
		return render(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
			fmt.Fprintf(w, "Would mint event %s to %d addresses:\n", opts.EventID, len(addresses))
			for _, addr := range addresses {
				fmt.Fprintf(w, "  %s\n", addr)
			}
			fmt.Fprintln(w, "Re-run with --yes to mint.")
		})
	}

	for i, addr := range addresses {
		line := BatchMintLine{Index: i, Address: addr}
		out, err := a.Coordinator.VerifyAndIssue(ctx, types.IssueRequest{WalletAddress: addr, EventID: opts.EventID})
		switch {
		case err != nil:
			line.Error = err.Error()
			result.Failed++
		case out.State == types.StateIssued:
			result.Issued++
		case out.State == types.StateAlreadyIssued:
			result.Skipped++
		default:
			result.Failed++
		}
		line.Outcome = out
		result.Lines = append(result.Lines, line)

		if ctx.Err() != nil {
			break
		}
	}

	err = render(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		for _, l := range result.Lines {
			switch {
			case l.Error != "":
				fmt.Fprintf(w, "%d %s: error: %s\n", l.Index, l.Address, l.Error)
			case l.Outcome.State == types.StateIssued || l.Outcome.State == types.StateAlreadyIssued:
				fmt.Fprintf(w, "%d %s: %s %s\n", l.Index, l.Address, l.Outcome.State, l.Outcome.CredentialRef)
			default:
				fmt.Fprintf(w, "%d %s: %s %s\n", l.Index, l.Address, l.Outcome.State, l.Outcome.Reason)
			}
		}
		fmt.Fprintf(w, "\n%d issued, %d already issued, %d failed of %d\n",
			result.Issued, result.Skipped, result.Failed, result.Total)
	})
	if err != nil {
		return err
	}
	if result.Failed > 0 || len(result.Lines) < result.Total {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d addresses were not minted", result.Total-result.Issued-result.Skipped, result.Total))
	}
	return nil
}

// readAddresses parses and checksums every address, failing on the first
// invalid line.
func readAddresses(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := types.ParseWallet(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, addr.Hex())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses")
	}
	return out, nil
}
