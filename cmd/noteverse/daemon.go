package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/noteverse/noteverse/internal/connectivity"
	"github.com/noteverse/noteverse/internal/daemon"
	"github.com/noteverse/noteverse/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the long-lived sync supervisor:

  1. Probes remote reachability and tracks online/offline transitions
  2. Replays queued requests and re-syncs on reconnection
  3. Triggers a sync cycle on a fixed interval while online
  4. Watches the import directory (if configured) for note JSON files
  5. Optionally serves a WebSocket dashboard broadcasting sync events

Stop with Ctrl+C; shutdown is graceful.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		var logOut io.Writer = os.Stderr
		if a.cfg.LogFile != "" {
			logOut = &lumberjack.Logger{
				Filename:   a.cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}

		monitor := connectivity.New(a.client, a.engine, a.bus,
			log.New(logOut, "[connectivity] ", log.LstdFlags))

		cfg := daemon.DefaultConfig()
		cfg.SyncInterval = a.cfg.SyncInterval
		cfg.ProbeInterval = a.cfg.ProbeInterval
		cfg.ImportDir = a.cfg.ImportDir
		cfg.Logger = log.New(logOut, "[daemon] ", log.LstdFlags)

		d, err := daemon.New(a.store, a.engine, monitor, cfg)
		if err != nil {
			fatal("%v", err)
		}

		if a.cfg.DashboardPort > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   a.cfg.DashboardPort,
				Logger: log.New(logOut, "[dashboard] ", log.LstdFlags),
			})
			server.Attach(a.bus)
			if err := server.Start(); err != nil {
				fatal("failed to start dashboard: %v", err)
			}
			defer func() { _ = server.Stop() }()
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", a.cfg.DashboardPort)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Sync daemon running. Press Ctrl+C to stop...")
		if err := d.Start(ctx); err != nil {
			fatal("daemon error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
