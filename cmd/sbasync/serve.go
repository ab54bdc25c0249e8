package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/MYKHIL/sbapromaster-sub000/internal/docserver"
	"github.com/MYKHIL/sbapromaster-sub000/internal/transfer"
	"github.com/MYKHIL/sbapromaster-sub000/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the document server",
	Long: `Run the HTTP document server that sync clients read from and write to.
Documents live in a SQLite database (server.db, default <data_dir>/documents.db).

Use --seed to load a dataset file into a document before serving, e.g. to
start a new term from an export:
  sbasync serve --seed backup.json --school adum_20242025_Term-1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}
		seed, _ := cmd.Flags().GetString("seed")
		limit, _ := cmd.Flags().GetInt("daily-write-limit")
		if !cmd.Flags().Changed("daily-write-limit") {
			limit = cfg.Server.DailyWriteLimit
		}

		logger := logs.Logger("[docserver] ")
		storage, err := docserver.OpenStorage(cfg.ServerDB(), logger)
		if err != nil {
			return err
		}
		defer storage.Close()

		if seed != "" {
			if err := seedDocument(cmd.Context(), storage, seed); err != nil {
				return err
			}
		}

		server, err := docserver.NewServer(&docserver.Options{
			Address:         addr,
			Storage:         storage,
			Logger:          logger,
			DisableReqLogs:  !cfg.Server.RequestLogs,
			DailyWriteLimit: limit,
			Registry:        prometheus.NewRegistry(),
		})
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()
		fmt.Printf("%s Document server on http://%s (db %s)\n", ui.RenderAccent("▶"), addr, cfg.ServerDB())
		fmt.Println("Press Ctrl+C to stop...")

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		fmt.Println("\nShutting down document server...")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return server.Stop(shutdownCtx)
	},
}

func seedDocument(ctx context.Context, storage *docserver.Storage, path string) error {
	docID, err := cfg.SchoolID()
	if err != nil {
		return fmt.Errorf("--seed needs a school: %w", err)
	}
	snap, diags, err := transfer.Import(path)
	if err != nil {
		return err
	}
	for _, reason := range diags.Reasons {
		fmt.Printf("  %s %s\n", ui.RenderWarn("⚠"), reason)
	}
	ops, err := storage.Apply(ctx, docID, snap, nil)
	if err != nil {
		return fmt.Errorf("failed to seed %s: %w", docID, err)
	}
	fmt.Printf("%s Seeded %s with %d records\n", ui.RenderPass("✓"), docID, ops)
	return nil
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().String("seed", "", "Dataset file to load into the school document first")
	serveCmd.Flags().Int("daily-write-limit", 0, "Write operations accepted per document per day (0: unlimited)")

	rootCmd.AddCommand(serveCmd)
}
