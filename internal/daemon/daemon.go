// Package daemon provides the background sync daemon.
//
// The daemon:
// 1. Runs an incremental sync on a fixed interval
// 2. Watches the config and mapping files and triggers a reload on change
// 3. Handles graceful shutdown
//
// Full syncs stay a deliberate operator action; the daemon only ever
// schedules incremental runs.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mirrorboard/ticketmirror/internal/orchestrator"
	"github.com/mirrorboard/ticketmirror/internal/schema"
)

// Syncer runs incremental syncs. Satisfied by *orchestrator.Orchestrator.
type Syncer interface {
	StartIncrementalSync(ctx context.Context, opts orchestrator.SyncOptions) (*schema.SyncSession, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval is how often to run an incremental sync.
	Interval time.Duration

	// DebounceInterval is how long to wait before acting on file
	// changes. This batches rapid editor save sequences together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules incremental syncs and reacts to config changes.
type Daemon struct {
	syncer Syncer
	config *Config

	// watchFiles are re-read via onReload when they change on disk.
	watchFiles []string
	onReload   func(path string)

	watcher *fsnotify.Watcher

	pending   map[string]time.Time
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon.
//
// watchFiles lists files (config, mapping table) whose changes invoke
// onReload; both may be empty. Use Start() to begin scheduling.
func New(syncer Syncer, config *Config, watchFiles []string, onReload func(path string)) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:     syncer,
		config:     config,
		watchFiles: watchFiles,
		onReload:   onReload,
		watcher:    watcher,
		pending:    make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon runs an incremental sync immediately, then on every tick of
// the configured interval. It blocks until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (interval %s)", d.config.Interval)

	for _, f := range d.watchFiles {
		if err := d.watcher.Add(f); err != nil {
			// A missing mapping file is not fatal; log and move on.
			d.config.Logger.Printf("Cannot watch %s: %v", f, err)
		}
	}

	d.wg.Add(1)
	go d.watchLoop()

	d.runSync(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Daemon context cancelled")
			return d.shutdown()
		case <-d.ctx.Done():
			return d.shutdown()
		case <-ticker.C:
			d.runSync(ctx)
		}
	}
}

// Stop signals the daemon to shut down. Safe to call from any goroutine
// while Start is blocked.
func (d *Daemon) Stop() {
	d.cancel()
}

// RunNow triggers one incremental sync outside the schedule.
func (d *Daemon) RunNow(ctx context.Context) {
	d.runSync(ctx)
}

func (d *Daemon) shutdown() error {
	d.cancel()
	err := d.watcher.Close()
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return err
}

// runSync performs one incremental sync, logging rather than propagating
// failures so a broken remote never kills the schedule.
func (d *Daemon) runSync(ctx context.Context) {
	start := time.Now()
	sess, err := d.syncer.StartIncrementalSync(ctx, orchestrator.SyncOptions{})
	if err != nil {
		d.config.Logger.Printf("Scheduled sync failed: %v", err)
		return
	}
	d.config.Logger.Printf("Scheduled sync %s: %s, %d item(s), %d error(s) in %s",
		sess.ID, sess.Status, sess.Progress.ProcessedItems, len(sess.Progress.Errors),
		time.Since(start).Round(time.Millisecond))
}

// watchLoop consumes fsnotify events and debounces reload callbacks.
func (d *Daemon) watchLoop() {
	defer d.wg.Done()

	debounce := time.NewTicker(d.config.DebounceInterval)
	defer debounce.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			d.pendingMu.Lock()
			d.pending[ev.Name] = time.Now()
			d.pendingMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)

		case <-debounce.C:
			d.flushPending()
		}
	}
}

// flushPending fires the reload callback for files quiet for at least
// one debounce interval.
func (d *Daemon) flushPending() {
	cutoff := time.Now().Add(-d.config.DebounceInterval)

	d.pendingMu.Lock()
	var ready []string
	for path, at := range d.pending {
		if at.Before(cutoff) {
			ready = append(ready, path)
			delete(d.pending, path)
		}
	}
	d.pendingMu.Unlock()

	for _, path := range ready {
		d.config.Logger.Printf("Detected change in %s, reloading", path)
		if d.onReload != nil {
			d.onReload(path)
		}
	}
}
