package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/schema"
)

// ErrSessionNotFound is returned when no session exists for an id.
var ErrSessionNotFound = errors.New("sync session not found")

// SaveSession inserts or updates a session record.
//
// The orchestrator calls this at session creation, at checkpoints, and at
// termination; re-saving the same id overwrites the previous snapshot.
func (db *DB) SaveSession(ctx context.Context, s *schema.SyncSession) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	projectsJSON, err := json.Marshal(s.Projects)
	if err != nil {
		return fmt.Errorf("failed to marshal session projects: %w", err)
	}
	progressJSON, err := json.Marshal(s.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal session progress: %w", err)
	}

	var endedAt sql.NullString
	if s.EndedAt != nil {
		endedAt = sql.NullString{String: s.EndedAt.Format(time.RFC3339), Valid: true}
	}

	query := `
	INSERT INTO sync_sessions (id, kind, status, projects, progress, started_at, ended_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		projects = excluded.projects,
		progress = excluded.progress,
		ended_at = excluded.ended_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		s.ID,
		string(s.Kind),
		string(s.Status),
		string(projectsJSON),
		string(progressJSON),
		s.StartedAt.Format(time.RFC3339),
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession retrieves a persisted session by id.
// Returns ErrSessionNotFound when the id is unknown.
func (db *DB) GetSession(ctx context.Context, id string) (*schema.SyncSession, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, kind, status, projects, progress, started_at, ended_at
	FROM sync_sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return s, nil
}

// ListSessions returns the most recent sessions, newest first.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]*schema.SyncSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, kind, status, projects, progress, started_at, ended_at
	FROM sync_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*schema.SyncSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// LastCompletedIncremental returns the most recent completed incremental
// session, or nil when none exists. The orchestrator derives the next
// incremental "since" timestamp from it.
func (db *DB) LastCompletedIncremental(ctx context.Context) (*schema.SyncSession, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, kind, status, projects, progress, started_at, ended_at
	FROM sync_sessions
	WHERE kind = ? AND status = ?
	ORDER BY started_at DESC LIMIT 1`,
		string(schema.KindIncremental), string(schema.StatusCompleted))

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load last incremental session: %w", err)
	}
	return s, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession decodes one session row.
func scanSession(row rowScanner) (*schema.SyncSession, error) {
	var s schema.SyncSession
	var kind, status, projectsJSON, progressJSON, startedAt string
	var endedAt sql.NullString

	if err := row.Scan(&s.ID, &kind, &status, &projectsJSON, &progressJSON, &startedAt, &endedAt); err != nil {
		return nil, err
	}

	s.Kind = schema.SessionKind(kind)
	s.Status = schema.SessionStatus(status)

	if err := json.Unmarshal([]byte(projectsJSON), &s.Projects); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session projects: %w", err)
	}
	if err := json.Unmarshal([]byte(progressJSON), &s.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session progress: %w", err)
	}

	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		s.StartedAt = t
	}
	if endedAt.Valid {
		if t, err := time.Parse(time.RFC3339, endedAt.String); err == nil {
			s.EndedAt = &t
		}
	}

	return &s, nil
}
