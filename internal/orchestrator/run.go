package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/errclass"
	"github.com/mirrorboard/ticketmirror/internal/progress"
	"github.com/mirrorboard/ticketmirror/internal/remote"
	"github.com/mirrorboard/ticketmirror/internal/schema"
)

// runSession executes a registered session to a terminal state.
//
// Projects are partitioned into chunks of at most MaxConcurrency; chunks
// run strictly in sequence and a chunk's projects run concurrently. A
// project failure is recorded and the run continues; a chunk-level panic
// fails the whole session. The cancel flag is checked at every chunk and
// project boundary and between fetched pages.
func (o *Orchestrator) runSession(ctx context.Context, as *activeSession, since *time.Time) (*schema.SyncSession, error) {
	defer o.unregister(as.sess.ID)

	snap := as.snapshot()
	o.reporter.Publish(progress.Event{
		Type:        progress.EventSyncStarted,
		SessionID:   snap.ID,
		Timestamp:   time.Now(),
		Kind:        snap.Kind,
		EntityCount: len(snap.Projects),
	})
	o.logger.Printf("Session %s started: %s sync of %d project(s)", snap.ID, snap.Kind, len(snap.Projects))

	if err := o.db.SaveSession(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	chunks := chunkProjects(snap.Projects, o.opts.MaxConcurrency)
	var runErr error
	for i, chunk := range chunks {
		if as.isCancelled() {
			return as.snapshot(), nil
		}
		if err := o.runChunk(ctx, as, chunk, since); err != nil {
			runErr = fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			break
		}

		// Checkpoint after every chunk so a crash loses at most one
		// chunk's worth of bookkeeping.
		if err := o.db.SaveSession(ctx, as.snapshot()); err != nil {
			o.logger.Printf("Failed to checkpoint session %s: %v", as.sess.ID, err)
		}
	}

	return o.finalize(ctx, as, runErr)
}

// runChunk syncs one chunk's projects concurrently and waits for all of
// them. A panic in any worker is captured and surfaced as the chunk's
// error.
func (o *Orchestrator) runChunk(ctx context.Context, as *activeSession, chunk []string, since *time.Time) (err error) {
	var (
		wg       sync.WaitGroup
		panicMu  sync.Mutex
		panicked error
	)
	for _, project := range chunk {
		if as.isCancelled() {
			break
		}
		wg.Add(1)
		go func(project string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicMu.Lock()
					if panicked == nil {
						panicked = fmt.Errorf("worker for %s panicked: %v", project, r)
					}
					panicMu.Unlock()
				}
			}()
			o.syncProject(ctx, as, project, since)
		}(project)
	}
	wg.Wait()
	return panicked
}

// syncProject fetches one project's tickets and merges them into the
// store. Errors are recorded on the session and do not stop the run.
func (o *Orchestrator) syncProject(ctx context.Context, as *activeSession, project string, since *time.Time) {
	start := time.Now()

	q := remote.Query{
		Project:         project,
		UpdatedSince:    since,
		ExcludeStatuses: o.opts.ExcludeStatuses,
		ExcludeTypes:    o.opts.ExcludeTypes,
	}

	as.mu.Lock()
	as.sess.Progress.CurrentEntity = project
	as.mu.Unlock()

	var (
		issues       []remote.Issue
		lastReported int
	)
	result, err := o.fetcher.FetchAll(ctx, q, o.opts.PageSize, func(fetched, total int) bool {
		if as.isCancelled() {
			return false
		}
		if fetched-lastReported >= progressEventEvery || fetched == total {
			lastReported = fetched
			o.reporter.Publish(progress.Event{
				Type:      progress.EventEntityProgress,
				SessionID: as.sess.ID,
				Timestamp: time.Now(),
				Entity:    project,
				Fetched:   fetched,
				Total:     total,
			})
		}
		return true
	})
	if err != nil {
		o.recordProjectError(as, project, err)
		return
	}
	issues = result

	if as.isCancelled() {
		return
	}

	records := make([]*schema.TicketRecord, 0, len(issues))
	for _, issue := range issues {
		rec, err := o.convertIssue(project, issue)
		if err != nil {
			o.recordProjectError(as, project+"/"+issue.Key, err)
			continue
		}
		records = append(records, rec)
	}

	batch, err := o.db.BatchUpsert(ctx, records, o.opts.Batch)
	if err != nil {
		o.recordProjectError(as, project, err)
		return
	}
	for _, be := range batch.Errors {
		o.recordProjectError(as, project+"/"+be.Key, fmt.Errorf("%s", be.Message))
	}

	as.mu.Lock()
	as.sess.Progress.ProcessedEntities++
	as.sess.Progress.TotalItems += len(issues)
	as.sess.Progress.ProcessedItems += batch.Processed
	as.mu.Unlock()

	o.reporter.Publish(progress.Event{
		Type:      progress.EventEntityProgress,
		SessionID: as.sess.ID,
		Timestamp: time.Now(),
		Entity:    project,
		Fetched:   len(issues),
		Total:     len(issues),
		Duration:  time.Since(start),
	})
	o.logger.Printf("Project %s: fetched %d, stored %d, failed %d in %s",
		project, len(issues), batch.Processed, batch.Failed, time.Since(start).Round(time.Millisecond))
}

// recordProjectError logs an entity-scoped failure and stores it on the
// session so status queries can surface it.
func (o *Orchestrator) recordProjectError(as *activeSession, entity string, err error) {
	c := errclass.Classify(err)
	o.logger.Printf("Sync error for %s (%s): %v", entity, c.Kind, err)
	as.mu.Lock()
	as.sess.RecordError(entity, fmt.Errorf("%s: %w", c.UserMessage, err))
	as.mu.Unlock()
}

// finalize moves a session out of the running state and persists it.
// A session cancelled mid-run keeps its cancelled status.
func (o *Orchestrator) finalize(ctx context.Context, as *activeSession, runErr error) (*schema.SyncSession, error) {
	now := time.Now()

	as.mu.Lock()
	if as.sess.Status == schema.StatusRunning {
		if runErr != nil {
			as.sess.Status = schema.StatusFailed
		} else {
			as.sess.Status = schema.StatusCompleted
		}
		as.sess.EndedAt = &now
	}
	snap := as.sess.Clone()
	as.mu.Unlock()

	if err := o.db.SaveSession(ctx, snap); err != nil {
		o.logger.Printf("Failed to persist final session %s: %v", snap.ID, err)
	}

	ended := now
	if snap.EndedAt != nil {
		ended = *snap.EndedAt
	}
	dur := ended.Sub(snap.StartedAt)

	switch snap.Status {
	case schema.StatusCompleted:
		o.reporter.Publish(progress.Event{
			Type:      progress.EventSyncCompleted,
			SessionID: snap.ID,
			Timestamp: time.Now(),
			Duration:  dur,
			Progress:  &snap.Progress,
		})
		o.logger.Printf("Session %s completed: %d/%d projects, %d items, %d error(s) in %s",
			snap.ID, snap.Progress.ProcessedEntities, snap.Progress.TotalEntities,
			snap.Progress.ProcessedItems, len(snap.Progress.Errors), dur.Round(time.Millisecond))
	case schema.StatusFailed:
		o.reporter.Publish(progress.Event{
			Type:      progress.EventSyncFailed,
			SessionID: snap.ID,
			Timestamp: time.Now(),
			Error:     runErr.Error(),
			Progress:  &snap.Progress,
		})
		o.logger.Printf("Session %s failed: %v", snap.ID, runErr)
	}

	if runErr != nil {
		return snap, runErr
	}
	return snap, nil
}

// errclassMessage renders an error's user-facing classification.
func errclassMessage(err error) string {
	return errclass.Classify(err).UserMessage
}

// chunkProjects partitions keys into slices of at most size.
func chunkProjects(keys []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[start:end])
	}
	return out
}

func toSet(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
