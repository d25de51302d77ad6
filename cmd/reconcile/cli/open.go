package cli

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/reconciler/internal/app"
	"github.com/odyssey-erp/reconciler/jobs"
)

// DefaultOpener connects to the store described by the environment.
func DefaultOpener(ctx context.Context, opts *RootOptions) (*Env, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.DBDriver = opts.Driver
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	logger := app.NewLogger(cfg)
	rt, err := app.Connect(ctx, cfg, logger, app.BackendOptions{SkipGuards: opts.Legacy})
	if err != nil {
		return nil, err
	}

	env := &Env{Services: rt.Services, Close: rt.Close}
	if rt.Redis != nil {
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			rt.Close()
			return nil, err
		}
		env.Jobs = client
		env.Close = func() {
			_ = client.Close()
			rt.Close()
		}
	}
	return env, nil
}
