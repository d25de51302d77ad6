package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/reconciler/internal/audit"
)

func newAuditCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the reconciliation audit trail",
	}
	var filter audit.Filter
	var action string
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Action = audit.Action(action)
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				entries, err := env.Services.Audit.List(ctx, filter)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []audit.Entry{}
				}
				return out.Result(entries, func(w io.Writer) {
					for _, e := range entries {
						fmt.Fprintf(w, "%s %s %-28s %s/%s\n", e.CreatedAt.Format(time.RFC3339), e.RunID, e.Action, e.Subject, e.SubjectID)
					}
				})
			})
		},
	}
	list.Flags().StringVar(&filter.RunID, "run", "", "only entries of this run id")
	list.Flags().StringVar(&action, "action", "", "only entries with this action")
	list.Flags().IntVar(&filter.Limit, "limit", 100, "maximum entries (at most 500)")
	cmd.AddCommand(list)
	return cmd
}
