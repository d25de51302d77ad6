package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/reconciler/internal/roles"
)

func newRolesCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Duplicate role cleanup and baseline roles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dedupe",
		Short: "Deactivate roles whose names collide after canonicalization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				report, err := env.Services.Roles.Deduplicate(ctx, roles.DedupeOptions{Mode: opts.Mode()})
				if err != nil {
					return err
				}
				if err := out.Result(report, func(w io.Writer) { writeRoleDedupe(w, report) }); err != nil {
					return err
				}
				return pending(opts, report.Pending())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure [name...]",
		Short: "Create or reactivate the named roles (baseline roles when none are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				report, err := env.Services.Roles.EnsureRoles(ctx, roles.EnsureOptions{Mode: opts.Mode(), Names: args})
				if err != nil {
					return err
				}
				if err := out.Result(report, func(w io.Writer) {
					fmt.Fprintf(w, "roles ensure (%s)\n", report.Mode)
					for _, o := range report.Outcomes {
						fmt.Fprintf(w, "  %-16s %s %s\n", o.Status, o.Name, o.RoleID)
					}
				}); err != nil {
					return err
				}
				return pending(opts, report.Pending())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles with their canonical keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				list, err := env.Services.Roles.ListRoles(ctx)
				if err != nil {
					return err
				}
				type row struct {
					ID     string `json:"id"`
					Name   string `json:"name"`
					Key    string `json:"key"`
					Active bool   `json:"active"`
				}
				rows := make([]row, 0, len(list))
				for _, r := range list {
					rows = append(rows, row{ID: r.ID, Name: r.Name, Key: r.Key(), Active: r.Active})
				}
				return out.Result(rows, func(w io.Writer) {
					for _, r := range rows {
						state := "active"
						if !r.Active {
							state = "inactive"
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Key, state)
					}
				})
			})
		},
	})
	return cmd
}

func writeRoleDedupe(w io.Writer, report roles.DedupeReport) {
	fmt.Fprintf(w, "roles dedupe (%s): scanned %d, duplicate groups %d\n", report.Mode, report.Scanned, len(report.Groups))
	for _, g := range report.Groups {
		fmt.Fprintf(w, "  %q keep %s drop %s\n", g.Key, g.SurvivorID, strings.Join(g.LoserIDs, ","))
	}
	verb := "would deactivate"
	reverb := "would reactivate"
	if report.Mode.Applies() {
		verb, reverb = "deactivated", "reactivated"
	}
	fmt.Fprintf(w, "%s: %s\n", verb, listOrNone(report.Deactivated))
	if len(report.Reactivated) > 0 {
		fmt.Fprintf(w, "%s: %s\n", reverb, listOrNone(report.Reactivated))
	}
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
