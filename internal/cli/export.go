package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/export"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	FileFormat string
	Out        string
	EventID    string
	Status     string
	Limit      int
}

// ExportResult reports what was written.
type ExportResult struct {
	Path    string `json:"path"`
	Format  string `json:"format"`
	Records int    `json:"records"`
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write issuance records to a CSV or parquet file",
		Long: `Dump issuance records for participation reporting.

Examples:
  dispenserctl export --format csv --out records.csv
  dispenserctl export --format parquet --out devcon.parquet --event devcon-2023 --status ISSUED`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FileFormat, "format", "csv", "file format (csv|parquet)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().StringVar(&opts.EventID, "event", "", "only records of this event")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only records in this status (PENDING|ISSUED|FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100000, "maximum number of records")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format, err := export.ParseFormat(opts.FileFormat)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --format", err)
	}

	a, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.Queries.Records(ctx, types.RecordFilter{
		EventID: opts.EventID,
		Status:  types.Status(opts.Status),
		Limit:   opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list records", err)
	}
	if err := export.WriteFile(opts.Out, format, recs); err != nil {
		return WrapExitError(ExitCommandError, "failed to write export", err)
	}

	result := ExportResult{Path: opts.Out, Format: string(format), Records: len(recs)}
	return render(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote %d record(s) to %s (%s).\n", len(recs), opts.Out, format)
	})
}
