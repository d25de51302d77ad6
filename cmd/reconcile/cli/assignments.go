package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/reconciler/internal/assignments"
)

func newAssignmentsCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignments",
		Short: "Entity role assignments",
	}
	cmd.AddCommand(newAssignmentUpsertCommand(opts, open, assignments.ActionAdd))
	cmd.AddCommand(newAssignmentUpsertCommand(opts, open, assignments.ActionRemove))
	cmd.AddCommand(&cobra.Command{
		Use:   "dedupe",
		Short: "Delete duplicate (entity, role) rows left by stores without the unique index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				report, err := env.Services.Assignments.Deduplicate(ctx, assignments.DedupeOptions{Mode: opts.Mode()})
				if err != nil {
					return err
				}
				if err := out.Result(report, func(w io.Writer) {
					fmt.Fprintf(w, "assignments dedupe (%s): scanned %d, duplicate pairs %d, deleted %d\n",
						report.Mode, report.Scanned, len(report.Groups), report.Deleted)
					for _, g := range report.Groups {
						fmt.Fprintf(w, "  %s/%s keep %s drop %s\n", g.EntityID, g.RoleID, g.KeptID, strings.Join(g.Dropped, ","))
					}
				}); err != nil {
					return err
				}
				return pending(opts, report.Pending())
			})
		},
	})
	return cmd
}

// Add and remove are single idempotent writes, so they do not need --apply.
func newAssignmentUpsertCommand(opts *RootOptions, open Opener, action assignments.Action) *cobra.Command {
	var entityID, role string
	cmd := &cobra.Command{
		Use:   string(action),
		Short: fmt.Sprintf("%s the role of an entity", strings.ToUpper(string(action[:1]))+string(action[1:])),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				resolved, err := env.Services.Roles.Resolve(ctx, role)
				if err != nil {
					return err
				}
				res, err := env.Services.Assignments.Upsert(ctx, entityID, resolved.ID, action)
				if err != nil {
					return err
				}
				return out.Result(res, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s -> %s (%s)", res.Status, entityID, resolved.Name, resolved.ID)
					if res.AssignmentID != "" {
						fmt.Fprintf(w, " assignment %s", res.AssignmentID)
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().StringVar(&role, "role", "", "role id or name")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
