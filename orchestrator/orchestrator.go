package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/PeladoCollado/fractalload/orchestrator/app"
	"github.com/PeladoCollado/fractalload/orchestrator/logger"
)

func main() {
	cfg, err := app.ParseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to parse configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg, app.RunOptions{}); err != nil {
		logger.Logger.Errorw("Load run failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}
