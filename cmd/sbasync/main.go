// Command sbasync runs and inspects the offline-first sync layer of an SBA
// school dataset.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/MYKHIL/sbapromaster-sub000/internal/config"
	"github.com/MYKHIL/sbapromaster-sub000/internal/datasync"
	"github.com/MYKHIL/sbapromaster-sub000/internal/kvstore"
	"github.com/MYKHIL/sbapromaster-sub000/internal/remote/httpstore"
	"github.com/MYKHIL/sbapromaster-sub000/internal/ui"
)

var (
	cfg  *config.Config
	logs *config.Logs

	configFile string
	envFile    string
	schoolFlag string
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:   "sbasync",
	Short: "Offline-first sync for SBA school datasets",
	Long: `sbasync keeps a local copy of a school's assessment dataset in step with
the document server. Edits are saved locally first, uploaded as minimal
diffs, and queued while the server is unreachable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		if schoolFlag != "" {
			loaded.School.ID = schoolFlag
		}
		if offline {
			loaded.Sync.Offline = true
		}
		if err := os.MkdirAll(loaded.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		cfg = loaded
		logs = config.OpenLogs(cfg.Log, cfg.DataDir)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: sbasync.yaml in . or the data dir)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Environment file to load (default: .env)")
	rootCmd.PersistentFlags().StringVar(&schoolFlag, "school", "", "School document id (overrides school.id)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Start without contacting the document server")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}

// session is an opened sync service with the stores it owns.
type session struct {
	svc      *datasync.Service
	kv       *kvstore.DB
	remote   *httpstore.Client
	registry *prometheus.Registry
}

// openSession opens the local store and binds the configured school, or
// the last bound one when none is configured.
func openSession(ctx context.Context) (*session, error) {
	client, err := httpstore.New(cfg.Remote.URL, cfg.Remote.Timeout)
	if err != nil {
		return nil, err
	}
	kv, err := kvstore.Open(cfg.KVPath(), logs.Logger("[kv] "))
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	svc, err := datasync.New(datasync.Config{
		Remote:             client,
		KV:                 kv,
		LockDir:            cfg.LockDir(),
		Logger:             logs.SyncLogger(),
		Registry:           registry,
		ActiveTypingWindow: cfg.Sync.ActiveTypingWindow,
		Offline:            cfg.Sync.Offline,
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	s := &session{svc: svc, kv: kv, remote: client, registry: registry}

	docID, err := cfg.SchoolID()
	switch {
	case err == nil:
		err = svc.BindSchool(ctx, docID)
	case errors.Is(err, config.ErrNoSchool):
		docID, err = svc.RestoreSchool(ctx)
		if err == nil && docID == "" {
			err = config.ErrNoSchool
		}
	}
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	_ = s.svc.Close()
	_ = s.kv.Close()
}
