package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/internal/browser"
	"github.com/prateekraj3711-alt/PwC/internal/export"
	"github.com/prateekraj3711-alt/PwC/internal/jobs"
	"github.com/prateekraj3711-alt/PwC/internal/login"
	"github.com/prateekraj3711-alt/PwC/internal/observability"
	"github.com/prateekraj3711-alt/PwC/internal/scheduler"
	"github.com/prateekraj3711-alt/PwC/internal/server"
	"github.com/prateekraj3711-alt/PwC/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the login automation HTTP service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := initializeConfig()
		if err != nil {
			return err
		}

		observability.InitializeLogger(cfg.Logger)
		defer observability.Sync()
		logger := observability.GetLogger()
		logger.Info("Starting portal login service", zap.String("addr", cfg.Server.Addr))
		if !cfg.HasCredentials() {
			logger.Warn("Portal credentials not configured; login attempts will fail until PWC_USERNAME/PWC_PASSWORD are set")
		}

		ctx := cmd.Context()

		manager := browser.NewManager(ctx, logger, cfg.Browser)
		defer manager.Shutdown(ctx)

		store := session.NewStore(cfg.Session, logger)
		snapshots, err := session.NewSnapshotStore(cfg.Session.SnapshotDir, logger)
		if err != nil {
			return fmt.Errorf("initializing snapshot store: %w", err)
		}
		isolator := session.NewIsolator(cfg.Session, cfg.Portal, store, snapshots, logger)
		sweeper := session.NewSweeper(cfg.Session, store, snapshots, logger)
		go sweeper.Run(ctx)

		machine := login.NewMachine(cfg, logger)
		handoff := export.NewHandoff(ctx, cfg.Export, snapshots, logger)
		svc := server.NewService(cfg, logger, manager, machine, store, snapshots, isolator, handoff)

		queue := jobs.NewQueue(cfg.Jobs, logger)
		queue.Start(ctx)

		sched := scheduler.New(cfg.Scheduler.Interval, func(runCtx context.Context) error {
			_, err := svc.StartLogin(runCtx)
			return err
		}, logger)
		if cfg.Scheduler.Enabled {
			sched.Start(ctx)
		}
		defer sched.Stop()

		srv := server.New(ctx, cfg.Server, logger, svc, queue, sched)
		return srv.Start(ctx)
	},
}
