package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo/internal/app"
	"github.com/luciancaetano/kephasmmo/internal/config"
	"github.com/luciancaetano/kephasmmo/internal/logging"
	"github.com/luciancaetano/kephasmmo/internal/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := app.ScanLines(os.Stdin)
	for {
		cmd, err := app.New(cfg, logger, store).Serve(ctx, lines)
		if err != nil {
			logger.Error("backend failed", zap.Error(err))
			return err
		}
		if cmd != app.Restart || ctx.Err() != nil {
			return nil
		}
		logger.Info("restarting")
	}
}
