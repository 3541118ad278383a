package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status EVENT WALLET",
		Short:         "Show whether a wallet has collected an event's POAP",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd, args[0], args[1])
		},
	}
	return cmd
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command, eventID, wallet string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Queries.CollectorStatus(ctx, wallet, eventID)
	if err != nil {
		return WrapExitError(ExitCommandError, "status lookup failed", err)
	}
	return render(cmd.OutOrStdout(), opts.Format, resp, func(w io.Writer) {
		fmt.Fprintf(w, "%s at %s: %s", resp.WalletAddress, resp.EventID, resp.Status)
		if resp.CredentialRef != "" {
			fmt.Fprintf(w, " (%s)", resp.CredentialRef)
		}
		fmt.Fprintln(w)
	})
}
