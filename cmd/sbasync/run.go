package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MYKHIL/sbapromaster-sub000/internal/dashboard"
	"github.com/MYKHIL/sbapromaster-sub000/internal/datasync"
	"github.com/MYKHIL/sbapromaster-sub000/internal/ui"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the sync daemon in the foreground. It:
  - saves local edits after sync.autosave_delay of quiet
  - checks connectivity every sync.probe_interval and drains the queue
    when the server is reachable again
  - refreshes from the server every sync.refresh_interval
  - picks up edits made by other processes sharing the data directory

With --dashboard the WebSocket dashboard is served as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		daemon, err := datasync.NewDaemonWithConfig(s.svc, &datasync.DaemonConfig{
			AutoSaveDelay:   cfg.Sync.AutoSaveDelay,
			ProbeInterval:   cfg.Sync.ProbeInterval,
			RefreshInterval: cfg.Sync.RefreshInterval,
			PollInterval:    cfg.Sync.PollInterval,
			Logger:          logs.Logger("[daemon] "),
		})
		if err != nil {
			return err
		}

		if withDashboard {
			stop, err := startDashboard(s)
			if err != nil {
				return err
			}
			defer stop()
		}

		fmt.Printf("%s Sync daemon running for %s\n", ui.RenderAccent("▶"), s.svc.SchoolID())
		fmt.Println("Press Ctrl+C to stop...")
		if err := daemon.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Println("\nSync daemon stopped")
		return nil
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve a live WebSocket view of the sync state",
	Long: `Start a WebSocket dashboard that follows the local sync state. Edits and
syncs made by other sbasync processes on the same data directory are
picked up and broadcast.

WebSocket messages include:
- status: sent once on connect
- state_changed, dirty_changed: local or remote edits
- sync_started, sync_complete, sync_error: save, refresh and queue cycles
- queue_changed, online_changed

Connect with a WebSocket client:
  ws://127.0.0.1:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		stop, err := startDashboard(s)
		if err != nil {
			return err
		}
		defer stop()

		fmt.Println("Press Ctrl+C to stop...")
		if err := s.kv.Watch(ctx, cfg.Sync.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Println("\nShutting down dashboard...")
		return nil
	},
}

// dashboardFlags is dashboardCmd's flag set, bound in init so that
// startDashboard does not form an initialization cycle with dashboardCmd.
var dashboardFlags *pflag.FlagSet

func startDashboard(s *session) (func(), error) {
	if port, _ := dashboardFlags.GetInt("port"); port > 0 {
		cfg.Dashboard.Port = port
	}
	server := dashboard.NewServer(&dashboard.Config{
		Addr:     cfg.Dashboard.Addr(),
		Gatherer: s.registry,
		Logger:   logs.Logger("[dashboard] "),
	})
	bridge := dashboard.NewBridge(server, s.svc, nil)
	if err := server.Start(); err != nil {
		return nil, err
	}
	bridge.Start()

	addr := server.GetAddr()
	fmt.Printf("%s Dashboard on http://%s (WebSocket ws://%s/ws)\n", ui.RenderAccent("▶"), addr, addr)
	return func() {
		bridge.Stop()
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during dashboard shutdown: %v\n", err)
		}
	}, nil
}

func init() {
	runCmd.Flags().Bool("dashboard", false, "Also serve the WebSocket dashboard")
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: dashboard.port)")
	dashboardFlags = dashboardCmd.Flags()

	rootCmd.AddCommand(runCmd, dashboardCmd)
}
