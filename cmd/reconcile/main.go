package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/odyssey-erp/reconciler/cmd/reconcile/cli"
	"github.com/odyssey-erp/reconciler/internal/app"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping reconcile")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx = shared.ContextWithRunID(ctx, uuid.NewString())
	code := cli.Execute(ctx, cli.DefaultOpener)
	stop()
	os.Exit(code)
}
