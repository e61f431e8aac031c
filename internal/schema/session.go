package schema

import (
	"fmt"
	"time"
)

// SessionKind distinguishes full from incremental sync runs.
type SessionKind string

const (
	KindFull        SessionKind = "full"
	KindIncremental SessionKind = "incremental"
)

// SessionStatus is the lifecycle state of a sync session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// SyncError is one entry in a session's error log.
type SyncError struct {
	Entity    string    `json:"entity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is the live progress snapshot of a sync session.
//
// Progress is exclusively owned by its session for the session's lifetime:
// only the orchestrator instance driving the session mutates it.
type Progress struct {
	TotalEntities     int         `json:"total_entities"`
	ProcessedEntities int         `json:"processed_entities"`
	TotalItems        int         `json:"total_items"`
	ProcessedItems    int         `json:"processed_items"`
	CurrentEntity     string      `json:"current_entity,omitempty"`
	Errors            []SyncError `json:"errors,omitempty"`
}

// SyncSession is one bounded sync run with a persisted final outcome.
//
// A session is created when a sync starts, mutated only by the owning
// orchestrator, and becomes immutable once it reaches a terminal status.
// It is persisted at creation, at periodic checkpoints, and at termination.
type SyncSession struct {
	ID        string        `json:"id"`
	Kind      SessionKind   `json:"kind"`
	Status    SessionStatus `json:"status"`
	Projects  []string      `json:"projects"`
	Progress  Progress      `json:"progress"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// Terminal reports whether the session has reached a final status.
func (s *SyncSession) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RecordError appends an entry to the session's error log.
func (s *SyncSession) RecordError(entity string, err error) {
	s.Progress.Errors = append(s.Progress.Errors, SyncError{
		Entity:    entity,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// Validate checks that the session can be persisted.
func (s *SyncSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	switch s.Kind {
	case KindFull, KindIncremental:
	default:
		return fmt.Errorf("unknown session kind %q", s.Kind)
	}
	switch s.Status {
	case StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("unknown session status %q", s.Status)
	}
	if s.StartedAt.IsZero() {
		return fmt.Errorf("started_at is required")
	}
	return nil
}

// Clone returns a deep copy of the session. The orchestrator hands clones
// to status queries so callers never observe a snapshot mid-mutation.
func (s *SyncSession) Clone() *SyncSession {
	cp := *s
	cp.Projects = append([]string(nil), s.Projects...)
	cp.Progress.Errors = append([]SyncError(nil), s.Progress.Errors...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
