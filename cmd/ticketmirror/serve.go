package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirrorboard/ticketmirror/internal/config"
	"github.com/mirrorboard/ticketmirror/internal/daemon"
	"github.com/mirrorboard/ticketmirror/internal/dashboard"
	"github.com/mirrorboard/ticketmirror/internal/mapping"
	"github.com/mirrorboard/ticketmirror/internal/progress"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync daemon",
	Long: `Run ticketmirror as a long-lived daemon.

The daemon runs an incremental sync on the configured interval and
watches the config and mapping files for changes. With the dashboard
enabled, sync progress is also broadcast to WebSocket clients:

WebSocket messages include:
- sync_started: A sync session began
- progress: Per-project fetch progress
- sync_complete / sync_failed / sync_cancelled: Session outcomes
- stats: Mirror statistics after each completed sync

Example usage:
  ticketmirror serve                       # Sync every 15 minutes
  ticketmirror serve --interval 5m         # Custom interval`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
			cfg.Daemon.Interval = interval
		}

		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		if cfg.Daemon.LogFile != "" {
			logger = daemon.NewRotatingLogger(cfg.Daemon.LogFile,
				cfg.Daemon.LogMaxSizeMB, cfg.Daemon.LogMaxBackups)
		}

		reporters := &progress.Multi{progress.NewLogReporter(logger)}
		e, err := newEnv(cfg, reporters, logger)
		if err != nil {
			return err
		}
		defer e.close()

		if cfg.Dashboard.Enabled {
			dashSrv := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			})
			if err := dashSrv.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer dashSrv.Stop()
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", cfg.Dashboard.Port)

			*reporters = append(*reporters, dashboard.NewHandler(dashSrv, e.db, logger))
		}

		var watchFiles []string
		path := cfgPath
		if path == "" {
			path = config.DefaultPath
		}
		if _, err := os.Stat(path); err == nil {
			watchFiles = append(watchFiles, path)
		}
		if cfg.Mapping != "" {
			watchFiles = append(watchFiles, cfg.Mapping)
		}

		d, err := daemon.New(e.orch, &daemon.Config{
			Interval: cfg.Daemon.Interval,
			Logger:   logger,
		}, watchFiles, func(changed string) {
			// The mapping table is swapped in place; config changes
			// still require a restart to take effect.
			if changed != cfg.Mapping {
				logger.Printf("%s changed; restart the daemon to apply the new settings", changed)
				return
			}
			table, err := mapping.Load(cfg.Mapping)
			if err != nil {
				logger.Printf("Failed to reload mapping from %s, keeping the previous table: %v", cfg.Mapping, err)
				return
			}
			e.orch.SetMapper(table)
			logger.Printf("Reloaded field mapping from %s (%d fields)", cfg.Mapping, len(table.Fields))
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Sync daemon started (interval %s). Press Ctrl+C to stop.\n", cfg.Daemon.Interval)
		return d.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().Duration("interval", 0, "override the sync interval")
	rootCmd.AddCommand(serveCmd)
}
