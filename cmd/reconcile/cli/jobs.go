package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/reconciler/jobs"
)

// Enqueuer is the part of jobs.Client the CLI uses.
type Enqueuer interface {
	EnqueueRecurringPost(ctx context.Context, definitionID string) (*asynq.TaskInfo, error)
	EnqueueRecurringPostAll(ctx context.Context, payload jobs.ModePayload) (*asynq.TaskInfo, error)
	EnqueueRolesDedupe(ctx context.Context, payload jobs.ModePayload) (*asynq.TaskInfo, error)
}

func newJobsCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Hand bulk passes to the worker",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "trigger <task>",
		Short:     "Enqueue a bulk task (recurring:post_all, roles:dedupe)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskRecurringPostAll, jobs.TaskRolesDedupe},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, opts, open, func(ctx context.Context, env *Env, out *Output) error {
				if env.Jobs == nil {
					return errors.New("jobs: queue not configured")
				}
				payload := jobs.ModePayload{Mode: opts.Mode()}
				var (
					info *asynq.TaskInfo
					err  error
				)
				switch args[0] {
				case jobs.TaskRecurringPostAll:
					info, err = env.Jobs.EnqueueRecurringPostAll(ctx, payload)
				case jobs.TaskRolesDedupe:
					info, err = env.Jobs.EnqueueRolesDedupe(ctx, payload)
				default:
					return fmt.Errorf("jobs: unsupported task %s", args[0])
				}
				if err != nil {
					return err
				}
				return out.Result(info, func(w io.Writer) {
					fmt.Fprintf(w, "enqueued %s %s on %s (%s)\n", info.Type, info.ID, info.Queue, payload.Mode)
				})
			})
		},
	})
	return cmd
}
