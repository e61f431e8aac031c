package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/schema"
)

// ticketColumns is the column list shared by single and batch upserts.
const ticketColumns = `key, project_key, summary, status, priority, assignee,
	issue_type, created_at, updated_at, attrs, synced_at`

// UpsertTicket inserts or updates a single ticket in its own transaction.
//
// Every non-key column is overwritten and synced_at is refreshed, so the
// stored row always reflects exactly the given snapshot. This is also the
// per-record fallback path for failed batch chunks.
func (db *DB) UpsertTicket(ctx context.Context, rec *schema.TicketRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid ticket: %w", err)
	}

	args, err := ticketArgs(rec)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO tickets (` + ticketColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	`

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert ticket %s: %w", rec.Key, err)
	}
	return nil
}

// ticketArgs flattens a record into SQL arguments, serializing the
// attribute bag. A nil bag stores as the empty JSON object.
func ticketArgs(rec *schema.TicketRecord) ([]any, error) {
	attrs := rec.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attrs for %s: %w", rec.Key, err)
	}

	syncedAt := rec.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	return []any{
		rec.Key,
		rec.ProjectKey,
		rec.Summary,
		rec.Status,
		rec.Priority,
		rec.Assignee,
		rec.Type,
		timeToNullString(rec.Created),
		timeToNullString(rec.Updated),
		string(attrsJSON),
		syncedAt.Format(time.RFC3339),
	}, nil
}

// TicketFilter configures GetTickets. Only whitelisted fields are
// filterable; anything else must go through the attribute bag after read.
type TicketFilter struct {
	ProjectKey string
	Status     string
	Priority   string
	Assignee   string

	// Keys restricts results to an explicit key set.
	Keys []string

	// Limit defaults to 1000 and is capped at 10000.
	Limit  int
	Offset int
}

const (
	defaultTicketLimit = 1000
	maxTicketLimit     = 10000
)

// GetTickets retrieves tickets matching the filter, ordered by key.
//
// The attribute bag is decoded on read; a row with an undecodable bag gets
// an empty bag rather than failing the whole query.
func (db *DB) GetTickets(ctx context.Context, filter TicketFilter) ([]*schema.TicketRecord, error) {
	var conditions []string
	var args []any

	if filter.ProjectKey != "" {
		conditions = append(conditions, "project_key = ?")
		args = append(args, filter.ProjectKey)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, filter.Priority)
	}
	if filter.Assignee != "" {
		conditions = append(conditions, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if len(filter.Keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?, ", len(filter.Keys)), ", ")
		conditions = append(conditions, "key IN ("+placeholders+")")
		for _, k := range filter.Keys {
			args = append(args, k)
		}
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY key ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTicketLimit
	}
	if limit > maxTicketLimit {
		limit = maxTicketLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	return scanTickets(rows)
}

// GetTicket retrieves a single ticket by key.
// Returns sql.ErrNoRows if the ticket is not found.
func (db *DB) GetTicket(ctx context.Context, key string) (*schema.TicketRecord, error) {
	recs, err := db.GetTickets(ctx, TicketFilter{Keys: []string{key}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, sql.ErrNoRows
	}
	return recs[0], nil
}

// TicketCount returns the total number of mirrored tickets.
func (db *DB) TicketCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return count, nil
}

// scanTickets scans query results into ticket records.
func scanTickets(rows *sql.Rows) ([]*schema.TicketRecord, error) {
	var recs []*schema.TicketRecord

	for rows.Next() {
		var rec schema.TicketRecord
		var priority, assignee, issueType sql.NullString
		var createdAt, updatedAt sql.NullString
		var attrsJSON, syncedAt string

		err := rows.Scan(
			&rec.Key,
			&rec.ProjectKey,
			&rec.Summary,
			&rec.Status,
			&priority,
			&assignee,
			&issueType,
			&createdAt,
			&updatedAt,
			&attrsJSON,
			&syncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}

		rec.Priority = priority.String
		rec.Assignee = assignee.String
		rec.Type = issueType.String
		rec.Created = nullStringToTime(createdAt)
		rec.Updated = nullStringToTime(updatedAt)
		if t, err := time.Parse(time.RFC3339, syncedAt); err == nil {
			rec.SyncedAt = t
		}

		// A corrupt bag degrades to empty rather than failing the read.
		rec.Attrs = map[string]any{}
		if attrsJSON != "" {
			if err := json.Unmarshal([]byte(attrsJSON), &rec.Attrs); err != nil {
				rec.Attrs = map[string]any{}
			}
		}

		recs = append(recs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}

	return recs, nil
}

// UpsertProject inserts or updates a project row.
func (db *DB) UpsertProject(ctx context.Context, key, name string) error {
	query := `
	INSERT INTO projects (key, name, synced_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		name = excluded.name,
		synced_at = excluded.synced_at
	`
	if _, err := db.conn.ExecContext(ctx, query, key, name, time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", key, err)
	}
	return nil
}

// ListProjects returns all known projects ordered by key.
func (db *DB) ListProjects(ctx context.Context) ([]schema.Project, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT key, name, synced_at FROM projects ORDER BY key ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []schema.Project
	for rows.Next() {
		var p schema.Project
		var syncedAt sql.NullString
		if err := rows.Scan(&p.Key, &p.Name, &syncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		if syncedAt.Valid {
			if t, err := time.Parse(time.RFC3339, syncedAt.String); err == nil {
				p.SyncedAt = &t
			}
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}
