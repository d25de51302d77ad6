package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/reconciler/internal/references"
)

func newReferencesCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "references",
		Short: "Legacy supplier reference migration",
	}
	var tables []string
	backfill := &cobra.Command{
		Use:   "backfill",
		Short: "Copy legacy supplier_id values into entity_id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				report, err := env.Services.References.Backfill(ctx, references.Options{Mode: opts.Mode(), Tables: tables})
				if err != nil {
					return err
				}
				if err := out.Result(report, func(w io.Writer) {
					fmt.Fprintf(w, "references backfill (%s)\n", report.Mode)
					for _, t := range report.Targets {
						fmt.Fprintf(w, "  %s pending %d dangling %d updated %d\n", t.Target, t.Counts.Pending, t.Counts.Dangling, t.Updated)
					}
				}); err != nil {
					return err
				}
				return pending(opts, report.Pending())
			})
		},
	}
	backfill.Flags().StringSliceVar(&tables, "table", nil, "restrict to these tables (orders, brands)")
	cmd.AddCommand(backfill)
	return cmd
}
