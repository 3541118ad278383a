// Package cli implements dispenserctl, the operator tool for batch minting,
// reconciliation and reporting against a dispenser's store.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/poap-dispenser/internal/app"
	"github.com/BrandonDHaskell/poap-dispenser/internal/config"
	"github.com/BrandonDHaskell/poap-dispenser/internal/observability"
)

// Opener assembles the dispenser a command runs against.
type Opener func(ctx context.Context, opts *RootOptions) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	EventsFile string

	open Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command, building the dispenser from the
// process environment.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(OpenFromEnv)
}

// NewRootCommandWith creates the root command with a custom Opener.
func NewRootCommandWith(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "dispenserctl",
		Short: "Operate a POAP dispenser",
		Long:  "Batch-mint, reconcile and export issuance records of a POAP dispenser.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "output", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.EventsFile, "events", "", "event catalogue (defaults to DISPENSER_EVENTS_FILE)")

	cmd.AddCommand(NewBatchMintCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// OpenFromEnv reads the configuration and event catalogue and builds the
// dispenser. Logs go to stderr so stdout stays parseable.
func OpenFromEnv(ctx context.Context, opts *RootOptions) (*app.App, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	path := opts.EventsFile
	if path == "" {
		path = cfg.EventsFile
	}
	events, err := config.LoadEvents(path)
	if err != nil {
		return nil, err
	}
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	logger := observability.NewLogger(os.Stderr, observability.LogConfig{
		Service: "dispenserctl",
		Env:     cfg.Env,
		Level:   level,
	})
	return app.Build(ctx, cfg, events, logger, app.Overrides{})
}

func (o *RootOptions) openApp(ctx context.Context) (*app.App, error) {
	a, err := o.open(ctx, o)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open dispenser", err)
	}
	return a, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
