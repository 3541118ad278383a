package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ReconcileResult reports a one-shot sweep.
type ReconcileResult struct {
	Reconciled int64  `json:"reconciled"`
	StaleAfter string `json:"stale_after"`
}

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Fail stale PENDING records once",
		Long: `Mark PENDING records older than DISPENSER_STALE_AFTER as FAILED so the
next request for the wallet can claim again. The server runs the same
sweep on a ticker; this runs it once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), rootOpts, cmd)
		},
	}
	return cmd
}

func runReconcile(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Config.StaleAfter <= 0 {
		return NewExitError(ExitCommandError, "reconciliation is disabled (DISPENSER_STALE_AFTER is 0)")
	}

	n, err := a.Reconciler.RunOnce(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "reconcile failed", err)
	}
	result := ReconcileResult{Reconciled: n, StaleAfter: a.Config.StaleAfter.String()}
	return render(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		fmt.Fprintf(w, "Reconciled %d stale pending record(s) older than %s.\n", n, result.StaleAfter)
	})
}
