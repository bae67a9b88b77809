package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/noteverse/noteverse/internal/config"
	"github.com/noteverse/noteverse/internal/events"
	"github.com/noteverse/noteverse/internal/resolver"
	"github.com/noteverse/noteverse/internal/store"
	notesync "github.com/noteverse/noteverse/internal/sync"
	"github.com/noteverse/noteverse/internal/transport"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "noteverse",
	Short: "Offline-first note store with multi-device sync",
	Long: `NoteVerse keeps a durable local note store and reconciles it against a
remote store across devices. Notes edited while disconnected are pushed on
reconnection; diverged edits are resolved by the configured conflict policy
(latest_wins, manual, or merge).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./noteverse.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "notes", Title: "Note commands:"},
		&cobra.Group{ID: "sync", Title: "Sync commands:"},
	)
}

// app bundles the constructed core components for a CLI invocation.
type app struct {
	cfg      *config.Config
	store    *store.Store
	client   *transport.Client
	resolver *resolver.Resolver
	engine   *notesync.Engine
	bus      *events.Bus
}

// openApp constructs the core from configuration. The caller must invoke
// close() when done.
func openApp() (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "notes.db"))
	if err != nil {
		return nil, nil, err
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	bus := events.NewBus(nil)
	client := transport.New(cfg.ServerURL, st, nil)

	res, err := resolver.New(st, resolver.Policy(cfg.ConflictPolicy), bus, nil)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	engine, err := notesync.New(st, client, res, bus, nil)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	a := &app{
		cfg:      cfg,
		store:    st,
		client:   client,
		resolver: res,
		engine:   engine,
		bus:      bus,
	}
	return a, func() { _ = st.Close() }, nil
}

// fatal prints an error and exits, matching the CLI's error convention.
func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
