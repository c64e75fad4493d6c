// Command solarctl runs the multi-tenant solar automation controller: the
// HTTP API, the scheduler-driven worker, a one-shot tenant-schema migration
// pass, or a tenant provision/deprovision operation, selected by
// SOLARCTL_MODE.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/solarctl/solarctl/internal/app"
	"github.com/solarctl/solarctl/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
