// Package cli implements the reconcile administrative commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/reconciler/internal/app"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// ConfirmToken must be passed to --confirm together with --apply.
const ConfirmToken = "YES"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string
	Apply   bool
	Confirm string
	Driver  string
	// Legacy opens the store without the unique indexes.
	Legacy bool
}

// Mode is the run mode selected by --apply.
func (o *RootOptions) Mode() shared.RunMode {
	if o.Apply {
		return shared.RunModeApply
	}
	return shared.RunModeDry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Env is what a command runs against.
type Env struct {
	Services *app.Services
	Jobs     Enqueuer
	Close    func()
}

// Opener builds the Env for a command. Tests swap it for an in-process store.
type Opener func(ctx context.Context, opts *RootOptions) (*Env, error)

// NewRootCommand creates the root command.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "reconcile",
		Short:         "Idempotent reconciliation of roles, assignments and recurring payables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitFailure, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Driver != "" && opts.Driver != app.DriverPostgres && opts.Driver != app.DriverSQLite {
				return NewExitError(ExitFailure, fmt.Sprintf("invalid driver %q", opts.Driver))
			}
			if opts.Apply && opts.Confirm != ConfirmToken {
				return NewExitError(ExitFailure, fmt.Sprintf("--apply requires --confirm %s", ConfirmToken))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.Apply, "apply", false, "write changes (bulk passes default to a dry run)")
	cmd.PersistentFlags().StringVar(&opts.Confirm, "confirm", "", "must be YES when --apply is set")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "storage driver override (postgres|sqlite)")
	cmd.PersistentFlags().BoolVar(&opts.Legacy, "legacy", false, "open the store without unique indexes (cleanup passes only)")

	cmd.AddCommand(newRolesCommand(opts, open))
	cmd.AddCommand(newAssignmentsCommand(opts, open))
	cmd.AddCommand(newReferencesCommand(opts, open))
	cmd.AddCommand(newRecurringCommand(opts, open))
	cmd.AddCommand(newAuditCommand(opts, open))
	cmd.AddCommand(newJobsCommand(opts, open))

	return cmd
}

// Execute runs the root command against os.Args and returns the exit code.
// Failures inside a command were already rendered by Output; only flag and
// usage errors are printed here.
func Execute(ctx context.Context, open Opener) int {
	err := NewRootCommand(open).ExecuteContext(ctx)
	var exitErr *ExitError
	if err != nil && (!errors.As(err, &exitErr) || exitErr.Message != "") {
		fmt.Fprintln(os.Stderr, err)
	}
	return GetExitCode(err)
}

// runWith opens the env, runs fn and reports failures through out.
func runWith(cmd *cobra.Command, opts *RootOptions, open Opener, fn func(ctx context.Context, env *Env, out *Output) error) error {
	out := &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := open(ctx, opts)
	if err != nil {
		out.Fail(err)
		return WrapExitError(ExitFailure, "", err)
	}
	if env.Close != nil {
		defer env.Close()
	}
	if err := fn(ctx, env, out); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		out.Fail(err)
		return WrapExitError(ExitFailure, "", err)
	}
	return nil
}

// pending turns a dry run that found work into ExitPending.
func pending(opts *RootOptions, found bool) error {
	if !opts.Apply && found {
		return &ExitError{Code: ExitPending}
	}
	return nil
}
