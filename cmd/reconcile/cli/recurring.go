package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/reconciler/internal/recurring"
)

func newRecurringCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Post recurring obligations into the payables ledger",
	}

	var enqueue bool
	post := &cobra.Command{
		Use:   "post <definition-id>",
		Short: "Post the current period of one definition (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				if enqueue {
					if env.Jobs == nil {
						return errors.New("recurring post: job queue not configured")
					}
					info, err := env.Jobs.EnqueueRecurringPost(ctx, args[0])
					if err != nil {
						return err
					}
					return out.Result(info, func(w io.Writer) {
						fmt.Fprintf(w, "enqueued %s on %s\n", info.ID, info.Queue)
					})
				}
				res, err := env.Services.Recurring.PostCurrentPeriod(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Result(res, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s due %s", res.Status, res.DefinitionID, res.DueDate.Format(time.DateOnly))
					if res.Entry != nil {
						fmt.Fprintf(w, " entry %s amount %s", res.Entry.ID, res.Entry.Amount.StringFixed(2))
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
	post.Flags().BoolVar(&enqueue, "enqueue", false, "hand the posting to the worker instead of running it here")
	cmd.AddCommand(post)

	cmd.AddCommand(&cobra.Command{
		Use:   "post-all",
		Short: "Post the current period of every active definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				report, err := env.Services.Recurring.PostAll(ctx, recurring.BatchOptions{Mode: opts.Mode()})
				if err != nil {
					return err
				}
				if err := out.Result(report, func(w io.Writer) { writeBatch(w, report) }); err != nil {
					return err
				}
				if report.StorageErrors > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d definitions failed on storage", report.StorageErrors))
				}
				return pending(opts, report.Pending > 0)
			})
		},
	})
	return cmd
}

func writeBatch(w io.Writer, report recurring.BatchReport) {
	fmt.Fprintf(w, "recurring post-all (%s) for %s\n", report.Mode, report.Date)
	for _, o := range report.Outcomes {
		fmt.Fprintf(w, "  %-14s %s", o.Status, o.DefinitionID)
		if o.DueDate != "" {
			fmt.Fprintf(w, " due %s", o.DueDate)
		}
		if o.Reason != "" {
			fmt.Fprintf(w, " (%s)", o.Reason)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "posted %d, already posted %d, would post %d, skipped %d, failed %d\n",
		report.Posted, report.AlreadyPosted, report.Pending, report.Skipped, report.Failed)
}
