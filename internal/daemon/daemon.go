// Package daemon provides the long-running supervisor for the sync core.
//
// The daemon:
// 1. Triggers a sync cycle on a fixed interval while online
// 2. Probes remote reachability and feeds the connectivity monitor
// 3. Watches an optional import directory for note JSON files
// 4. Prunes synced mutation log entries after clean cycles
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/noteverse/noteverse/internal/connectivity"
	"github.com/noteverse/noteverse/internal/store"
	notesync "github.com/noteverse/noteverse/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to trigger a sync cycle while online.
	SyncInterval time.Duration

	// ProbeInterval is how often to probe remote reachability.
	ProbeInterval time.Duration

	// DebounceInterval is how long to wait before processing import file
	// changes. This batches rapid editor writes together.
	DebounceInterval time.Duration

	// PruneAfter is the age past which synced mutation log entries are
	// pruned. Zero disables pruning.
	PruneAfter time.Duration

	// ImportDir, when set, is watched for note JSON files to upsert into
	// the local store as local edits.
	ImportDir string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults. The five minute sync interval
// matches the application's periodic sync cadence.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		ProbeInterval:    30 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		PruneAfter:       24 * time.Hour,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic sync, connectivity probing and note imports.
type Daemon struct {
	store   *store.Store
	engine  *notesync.Engine
	monitor *connectivity.Monitor
	config  *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance. Use Start() to begin operation.
func New(st *store.Store, engine *notesync.Engine, monitor *connectivity.Monitor, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       st,
		engine:      engine,
		monitor:     monitor,
		config:      config,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// An initial probe and sync attempt run before the background loops start.
// This blocks until ctx is cancelled or an unrecoverable error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Initial connectivity check; a reachable remote triggers the first
	// cycle through the monitor's transition handling.
	d.monitor.Probe(ctx)

	goroutines := 2
	if d.config.ImportDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		if err := os.MkdirAll(d.config.ImportDir, 0755); err != nil {
			return fmt.Errorf("failed to create import directory: %w", err)
		}
		if err := d.watcher.Add(d.config.ImportDir); err != nil {
			return fmt.Errorf("failed to watch import directory: %w", err)
		}

		d.config.Logger.Printf("Watching import directory: %s", d.config.ImportDir)
		goroutines += 2
	}

	d.wg.Add(goroutines)
	go d.syncLoop()
	go d.probeLoop()
	if d.watcher != nil {
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// syncLoop triggers a sync cycle on every tick while online.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.monitor.Online() {
				continue
			}
			result := d.engine.Sync(d.ctx)
			if !result.Skipped {
				d.maybePrune(result)
			}
		}
	}
}

// probeLoop periodically checks remote reachability.
func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.monitor.Probe(d.ctx)
		}
	}
}

// maybePrune removes aged synced mutation log entries after a clean cycle.
func (d *Daemon) maybePrune(result *notesync.Result) {
	if d.config.PruneAfter <= 0 {
		return
	}
	if result.PushFailed > 0 || result.PullErr != nil {
		return
	}

	cutoff := time.Now().Add(-d.config.PruneAfter)
	pruned, err := d.store.PruneMutationLogContext(d.ctx, cutoff)
	if err != nil {
		d.config.Logger.Printf("Error pruning mutation log: %v", err)
		return
	}
	if pruned > 0 {
		d.config.Logger.Printf("Pruned %d mutation log entries", pruned)
	}
}

// watchFileEvents monitors filesystem events and queues import changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write; the import directory
			// is a one-way feed, removals are not mirrored.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.config.Logger.Printf("Import event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports files that have settled for long enough.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports queued files whose debounce window elapsed.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()

	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		d.config.Logger.Printf("Importing: %s", path)
		if err := d.importNoteFile(path); err != nil {
			d.config.Logger.Printf("Error importing %s: %v", path, err)
		}

		delete(d.changeQueue, path)
	}
}
