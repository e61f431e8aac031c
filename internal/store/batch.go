package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mirrorboard/ticketmirror/internal/schema"
)

// BatchOptions tunes BatchUpsert.
type BatchOptions struct {
	// ChunkSize is the number of records per transactional unit.
	ChunkSize int

	// ChunkRetries is how many times a failed chunk is retried before
	// falling back to per-record upserts.
	ChunkRetries int

	// RetryDelay seeds the chunk retry backoff (delay, 2*delay, 4*delay...).
	RetryDelay time.Duration

	// Logger defaults to a stderr logger when nil.
	Logger *log.Logger
}

// DefaultBatchOptions returns the production settings: 1000-record chunks,
// 3 retries with 1s/2s/4s backoff.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		ChunkSize:    1000,
		ChunkRetries: 3,
		RetryDelay:   time.Second,
	}
}

// BatchError records one failed record's outcome.
type BatchError struct {
	Key     string `json:"key"`
	Chunk   int    `json:"chunk"`
	Message string `json:"message"`
}

// BatchResult summarizes a BatchUpsert call.
type BatchResult struct {
	Total     int          `json:"total"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Chunks    int          `json:"chunks"`
	Errors    []BatchError `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration_ms"`

	// Throughput is processed records per second.
	Throughput float64 `json:"throughput"`
}

// BatchUpsert merges records into the ticket table in transactional chunks.
//
// Each chunk is staged into a uniquely named ephemeral table, bulk-loaded,
// merged into tickets (inserting absent keys, overwriting every non-key
// column for present ones), and the staging table dropped - all inside one
// transaction, so a failed chunk leaves the ticket table exactly as it was.
//
// A failed chunk is retried with backoff, then degraded to per-record
// upserts so one malformed record cannot sink its chunk; each record's
// outcome is tracked individually in the result.
//
// Re-applying an identical snapshot is a no-op beyond refreshing synced_at.
func (db *DB) BatchUpsert(ctx context.Context, recs []*schema.TicketRecord, opts BatchOptions) (*BatchResult, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	start := time.Now()
	result := &BatchResult{Total: len(recs)}

	for chunkIdx := 0; chunkIdx*opts.ChunkSize < len(recs); chunkIdx++ {
		lo := chunkIdx * opts.ChunkSize
		hi := lo + opts.ChunkSize
		if hi > len(recs) {
			hi = len(recs)
		}
		chunk := recs[lo:hi]
		result.Chunks++

		if err := db.upsertChunkWithRetry(ctx, chunk, opts); err != nil {
			opts.Logger.Printf("Chunk %d (%d records) failed after retries, falling back to per-record upserts: %v",
				chunkIdx+1, len(chunk), err)
			db.fallbackChunk(ctx, chunk, chunkIdx+1, result, opts.Logger)
			continue
		}

		result.Processed += len(chunk)
	}

	result.Duration = time.Since(start)
	if secs := result.Duration.Seconds(); secs > 0 {
		result.Throughput = float64(result.Processed) / secs
	}

	return result, nil
}

// upsertChunkWithRetry runs one chunk with a bounded retry loop.
func (db *DB) upsertChunkWithRetry(ctx context.Context, chunk []*schema.TicketRecord, opts BatchOptions) error {
	var lastErr error

	for attempt := 0; attempt <= opts.ChunkRetries; attempt++ {
		if attempt > 0 {
			delay := opts.RetryDelay << (attempt - 1)
			opts.Logger.Printf("Retrying chunk in %s (attempt %d/%d): %v", delay, attempt, opts.ChunkRetries, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := db.upsertChunk(ctx, chunk); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return lastErr
}

// upsertChunk stages and merges one chunk inside a single transaction.
func (db *DB) upsertChunk(ctx context.Context, chunk []*schema.TicketRecord) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Uniquely named per call so concurrent chunks never collide.
	staging := "staging_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	createStmt := fmt.Sprintf(`
	CREATE TEMP TABLE %s (
		key TEXT,
		project_key TEXT,
		summary TEXT,
		status TEXT,
		priority TEXT,
		assignee TEXT,
		issue_type TEXT,
		created_at TEXT,
		updated_at TEXT,
		attrs TEXT,
		synced_at TEXT
	)`, staging)
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	if err := bulkLoad(ctx, tx, staging, chunk); err != nil {
		return fmt.Errorf("failed to load staging table: %w", err)
	}

	// Merge: insert absent keys, overwrite every non-key column for
	// present ones. Malformed rows trip the ticket table's constraints
	// here, rolling the whole chunk back.
	mergeStmt := fmt.Sprintf(`
	INSERT INTO tickets (`+ticketColumns+`)
	SELECT key, project_key, summary, status, priority, assignee,
	       issue_type, created_at, updated_at, attrs, synced_at
	FROM temp.%s WHERE true
	ON CONFLICT(key) DO UPDATE SET
		project_key = excluded.project_key,
		summary = excluded.summary,
		status = excluded.status,
		priority = excluded.priority,
		assignee = excluded.assignee,
		issue_type = excluded.issue_type,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		attrs = excluded.attrs,
		synced_at = excluded.synced_at
	`, staging)
	if _, err := tx.ExecContext(ctx, mergeStmt); err != nil {
		return fmt.Errorf("failed to merge staging table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE temp.%s", staging)); err != nil {
		return fmt.Errorf("failed to drop staging table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk: %w", err)
	}
	return nil
}

// loadBatchRows bounds how many rows go into one multi-row INSERT, keeping
// the bind-parameter count well under SQLite's limit.
const loadBatchRows = 200

// bulkLoad inserts the chunk's rows into the staging table.
func bulkLoad(ctx context.Context, tx *sql.Tx, staging string, chunk []*schema.TicketRecord) error {
	for lo := 0; lo < len(chunk); lo += loadBatchRows {
		hi := lo + loadBatchRows
		if hi > len(chunk) {
			hi = len(chunk)
		}
		rows := chunk[lo:hi]

		placeholders := make([]string, len(rows))
		args := make([]any, 0, len(rows)*11)
		for i, rec := range rows {
			placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			rowArgs, err := ticketArgs(rec)
			if err != nil {
				return err
			}
			args = append(args, rowArgs...)
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			staging, ticketColumns, strings.Join(placeholders, ", "))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

// fallbackChunk upserts a failed chunk record by record, tracking each
// outcome individually.
func (db *DB) fallbackChunk(ctx context.Context, chunk []*schema.TicketRecord, chunkNum int, result *BatchResult, logger *log.Logger) {
	for _, rec := range chunk {
		if err := db.UpsertTicket(ctx, rec); err != nil {
			logger.Printf("Record %q in chunk %d failed: %v", rec.Key, chunkNum, err)
			result.Failed++
			result.Errors = append(result.Errors, BatchError{
				Key:     rec.Key,
				Chunk:   chunkNum,
				Message: err.Error(),
			})
			continue
		}
		result.Processed++
	}
}
