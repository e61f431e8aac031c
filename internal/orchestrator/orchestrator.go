// Package orchestrator drives sync sessions against the remote tracker.
//
// The orchestrator owns the set of active sessions. A full sync holds the
// global full-sync lock, enumerates every remote project, and processes
// them in concurrency-bounded chunks: chunks run strictly in sequence,
// projects within a chunk concurrently. An incremental sync probes each
// project for changes since the last completed incremental run and skips
// the lock entirely, relying on per-chunk transactional isolation and
// idempotent upserts for safety against a concurrent full sync.
//
// All state is explicit: the orchestrator is constructed with its store,
// fetcher, lock manager, and progress reporter injected. There is no
// process-wide registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorboard/ticketmirror/internal/mapping"
	"github.com/mirrorboard/ticketmirror/internal/progress"
	"github.com/mirrorboard/ticketmirror/internal/remote"
	"github.com/mirrorboard/ticketmirror/internal/schema"
	"github.com/mirrorboard/ticketmirror/internal/store"
	"github.com/mirrorboard/ticketmirror/internal/synclock"
)

// FullSyncLockKey guards against overlapping full syncs.
const FullSyncLockKey = "sync:full"

// progressEventEvery is the maximum number of fetched items between
// consecutive entityProgress events.
const progressEventEvery = 10

// ErrSessionNotActive is returned by CancelSync for unknown or already
// finished session ids.
var ErrSessionNotActive = errors.New("session is not active")

// Options tunes the orchestrator.
type Options struct {
	// MaxConcurrency bounds how many projects sync concurrently within
	// one chunk.
	MaxConcurrency int

	// PageSize is the remote search page size.
	PageSize int

	// LockTimeout bounds the full-sync lock; a holder older than this
	// is stale.
	LockTimeout time.Duration

	// Window is the incremental look-back used when no completed
	// incremental session exists and the caller gave no since value.
	Window time.Duration

	// Project scoping and query excludes.
	Projects        []string
	ExcludeProjects []string
	ExcludeStatuses []string
	ExcludeTypes    []string

	// WindowDays limits full syncs to recently updated tickets (0 = all).
	WindowDays int

	// Batch tunes the storage merge.
	Batch store.BatchOptions

	Logger *log.Logger
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency: 3,
		PageSize:       50,
		LockTimeout:    30 * time.Minute,
		Window:         24 * time.Hour,
		Batch:          store.DefaultBatchOptions(),
	}
}

// SyncOptions are per-run options.
type SyncOptions struct {
	// Projects restricts the run to these project keys (empty = all).
	Projects []string

	// Since bounds the run to tickets updated after this timestamp. Full
	// syncs use it instead of the configured window; incremental syncs
	// use it only when no completed incremental session exists.
	Since *time.Time
}

// activeSession pairs a running session with its cancellation flag.
// The mutex guards every mutation of the session and its progress.
type activeSession struct {
	mu        sync.Mutex
	sess      *schema.SyncSession
	cancelled bool
}

func (as *activeSession) isCancelled() bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.cancelled
}

func (as *activeSession) snapshot() *schema.SyncSession {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.sess.Clone()
}

// Orchestrator coordinates sync sessions.
type Orchestrator struct {
	db       *store.DB
	fetcher  *remote.Fetcher
	locks    *synclock.Manager
	reporter progress.Reporter
	opts     Options
	logger   *log.Logger

	mapperMu sync.RWMutex
	mapper   *mapping.Table

	mu     sync.Mutex
	active map[string]*activeSession
}

// New creates an orchestrator with its dependencies injected.
//
// mapper may be nil when no field-mapping table is configured; reporter
// may be nil to discard progress events.
func New(db *store.DB, fetcher *remote.Fetcher, locks *synclock.Manager, reporter progress.Reporter, mapper *mapping.Table, opts Options) *Orchestrator {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 3
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if reporter == nil {
		reporter = progress.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[orchestrator] ", log.LstdFlags)
	}
	return &Orchestrator{
		db:       db,
		fetcher:  fetcher,
		locks:    locks,
		reporter: reporter,
		mapper:   mapper,
		opts:     opts,
		logger:   logger,
		active:   make(map[string]*activeSession),
	}
}

// SetMapper swaps the field-mapping table. Running sessions pick up the
// new table from the next issue they convert; nil disables mapping.
func (o *Orchestrator) SetMapper(table *mapping.Table) {
	o.mapperMu.Lock()
	o.mapper = table
	o.mapperMu.Unlock()
}

func (o *Orchestrator) mappingTable() *mapping.Table {
	o.mapperMu.RLock()
	defer o.mapperMu.RUnlock()
	return o.mapper
}

// StartFullSync runs a full sync of every in-scope project.
//
// It blocks until the session reaches a terminal state and returns the
// final session record. Overlapping full syncs are rejected with a
// descriptive error; a stale lock from a crashed run is taken over.
// A caller-supplied Since narrows the run to tickets updated after that
// timestamp, overriding the configured window in days.
func (o *Orchestrator) StartFullSync(ctx context.Context, syncOpts SyncOptions) (*schema.SyncSession, error) {
	release, err := o.locks.Acquire(FullSyncLockKey, o.opts.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("a full sync is already in progress: %w", err)
	}
	defer release()

	projects, err := o.listProjects(ctx, syncOpts)
	if err != nil {
		return nil, err
	}

	since := syncOpts.Since
	if since == nil && o.opts.WindowDays > 0 {
		t := time.Now().Add(-time.Duration(o.opts.WindowDays) * 24 * time.Hour)
		since = &t
	}

	as := o.register(schema.KindFull, projects)
	return o.runSession(ctx, as, since)
}

// StartIncrementalSync runs an incremental sync.
//
// The "since" timestamp resolves, in order, from the last completed
// incremental session's start, the caller-supplied value, and finally
// the configured look-back window. Each project is probed cheaply first;
// when nothing changed, the session completes immediately with zero work
// and no batch upserts. Incremental syncs do not take the full-sync lock.
func (o *Orchestrator) StartIncrementalSync(ctx context.Context, syncOpts SyncOptions) (*schema.SyncSession, error) {
	since, err := o.resolveSince(ctx, syncOpts)
	if err != nil {
		return nil, err
	}

	projects, err := o.listProjects(ctx, syncOpts)
	if err != nil {
		return nil, err
	}

	var changed []string
	for _, p := range projects {
		n, err := o.fetcher.Client().CountSince(ctx, p, since)
		if err != nil {
			// A failed probe is not fatal: sync the project anyway and
			// let the per-project error handling sort it out.
			o.logger.Printf("Change probe failed for %s, syncing anyway: %v", p, err)
			changed = append(changed, p)
			continue
		}
		if n > 0 {
			changed = append(changed, p)
		}
	}

	if len(changed) == 0 {
		o.logger.Printf("Incremental sync: no projects changed since %s", since.Format(time.RFC3339))
		as := o.register(schema.KindIncremental, nil)
		return o.finishEmpty(ctx, as)
	}

	as := o.register(schema.KindIncremental, changed)
	return o.runSession(ctx, as, &since)
}

// CancelSync cancels a running session.
//
// The session's status flips to cancelled and it leaves the active set
// immediately; in-flight fetches and transactions drain cooperatively,
// with every subsequent page, project, and chunk boundary observing the
// flag.
func (o *Orchestrator) CancelSync(ctx context.Context, id string) error {
	o.mu.Lock()
	as, ok := o.active[id]
	if ok {
		delete(o.active, id)
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("cannot cancel session %s: %w", id, ErrSessionNotActive)
	}

	as.mu.Lock()
	as.cancelled = true
	as.sess.Status = schema.StatusCancelled
	now := time.Now()
	as.sess.EndedAt = &now
	snap := as.sess.Clone()
	as.mu.Unlock()

	if err := o.db.SaveSession(ctx, snap); err != nil {
		o.logger.Printf("Failed to persist cancelled session %s: %v", id, err)
	}
	o.reporter.Publish(progress.Event{
		Type:      progress.EventSyncCancelled,
		SessionID: id,
		Timestamp: time.Now(),
		Progress:  &snap.Progress,
	})
	o.logger.Printf("Session %s cancelled", id)
	return nil
}

// GetSyncStatus returns live progress for an active session, or the last
// persisted record for a finished one.
func (o *Orchestrator) GetSyncStatus(ctx context.Context, id string) (*schema.SyncSession, error) {
	o.mu.Lock()
	as, ok := o.active[id]
	o.mu.Unlock()
	if ok {
		return as.snapshot(), nil
	}
	return o.db.GetSession(ctx, id)
}

// ActiveSessions returns snapshots of every active session.
func (o *Orchestrator) ActiveSessions() []*schema.SyncSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*schema.SyncSession, 0, len(o.active))
	for _, as := range o.active {
		out = append(out, as.snapshot())
	}
	return out
}

// register creates a session and adds it to the active set.
func (o *Orchestrator) register(kind schema.SessionKind, projects []string) *activeSession {
	as := &activeSession{
		sess: &schema.SyncSession{
			ID:        uuid.NewString(),
			Kind:      kind,
			Status:    schema.StatusRunning,
			Projects:  append([]string(nil), projects...),
			StartedAt: time.Now(),
			Progress: schema.Progress{
				TotalEntities: len(projects),
			},
		},
	}
	o.mu.Lock()
	o.active[as.sess.ID] = as
	o.mu.Unlock()
	return as
}

// unregister removes a session from the active set (no-op if CancelSync
// already removed it).
func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

// listProjects enumerates remote projects and applies the configured and
// per-run scoping.
func (o *Orchestrator) listProjects(ctx context.Context, syncOpts SyncOptions) ([]string, error) {
	remoteProjects, err := o.fetcher.Client().ListProjects(ctx)
	if err != nil {
		c := errclassMessage(err)
		return nil, fmt.Errorf("failed to enumerate projects: %s: %w", c, err)
	}

	include := toSet(syncOpts.Projects)
	if len(include) == 0 {
		include = toSet(o.opts.Projects)
	}
	exclude := toSet(o.opts.ExcludeProjects)

	var keys []string
	for _, p := range remoteProjects {
		if len(include) > 0 && !include[p.Key] {
			continue
		}
		if exclude[p.Key] {
			continue
		}
		keys = append(keys, p.Key)

		if err := o.db.UpsertProject(ctx, p.Key, p.Name); err != nil {
			o.logger.Printf("Failed to record project %s: %v", p.Key, err)
		}
	}
	return keys, nil
}

// resolveSince determines the incremental look-back timestamp: the last
// completed incremental session's start wins, then the caller-supplied
// value, then the configured window.
func (o *Orchestrator) resolveSince(ctx context.Context, syncOpts SyncOptions) (time.Time, error) {
	last, err := o.db.LastCompletedIncremental(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve incremental baseline: %w", err)
	}
	if last != nil {
		// The previous run's start, not its end: anything updated while
		// it ran is picked up again rather than missed.
		return last.StartedAt, nil
	}

	if syncOpts.Since != nil {
		return *syncOpts.Since, nil
	}

	return time.Now().Add(-o.opts.Window), nil
}

// finishEmpty completes a session immediately with zero work performed.
func (o *Orchestrator) finishEmpty(ctx context.Context, as *activeSession) (*schema.SyncSession, error) {
	defer o.unregister(as.sess.ID)

	as.mu.Lock()
	as.sess.Status = schema.StatusCompleted
	now := time.Now()
	as.sess.EndedAt = &now
	snap := as.sess.Clone()
	as.mu.Unlock()

	if err := o.db.SaveSession(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	o.reporter.Publish(progress.Event{
		Type:      progress.EventSyncStarted,
		SessionID: snap.ID,
		Timestamp: time.Now(),
		Kind:      snap.Kind,
	})
	o.reporter.Publish(progress.Event{
		Type:      progress.EventSyncCompleted,
		SessionID: snap.ID,
		Timestamp: time.Now(),
		Duration:  snap.EndedAt.Sub(snap.StartedAt),
		Progress:  &snap.Progress,
	})
	return snap, nil
}
