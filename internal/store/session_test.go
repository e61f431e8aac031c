package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/schema"
)

func makeSession(id string, kind schema.SessionKind, status schema.SessionStatus, startedAt time.Time) *schema.SyncSession {
	s := &schema.SyncSession{
		ID:        id,
		Kind:      kind,
		Status:    status,
		Projects:  []string{"OPS", "WEB"},
		StartedAt: startedAt,
		Progress: schema.Progress{
			TotalEntities:     2,
			ProcessedEntities: 2,
			TotalItems:        140,
			ProcessedItems:    140,
		},
	}
	if status != schema.StatusRunning {
		ended := startedAt.Add(time.Minute)
		s.EndedAt = &ended
	}
	return s
}

func TestSaveAndGetSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := makeSession("s-1", schema.KindFull, schema.StatusRunning, time.Now().UTC().Truncate(time.Second))
	s.Progress.Errors = []schema.SyncError{
		{Entity: "WEB", Message: "boom", Timestamp: time.Now().UTC()},
	}

	if err := db.SaveSession(ctx, s); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := db.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Kind != schema.KindFull || got.Status != schema.StatusRunning {
		t.Errorf("unexpected session: %+v", got)
	}
	if len(got.Projects) != 2 || got.Projects[0] != "OPS" {
		t.Errorf("projects did not round-trip: %v", got.Projects)
	}
	if got.Progress.ProcessedItems != 140 {
		t.Errorf("progress did not round-trip: %+v", got.Progress)
	}
	if len(got.Progress.Errors) != 1 || got.Progress.Errors[0].Entity != "WEB" {
		t.Errorf("error log did not round-trip: %+v", got.Progress.Errors)
	}
}

func TestSaveSessionOverwrites(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := makeSession("s-1", schema.KindFull, schema.StatusRunning, time.Now().UTC())
	if err := db.SaveSession(ctx, s); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	s.Status = schema.StatusCompleted
	ended := time.Now().UTC()
	s.EndedAt = &ended
	if err := db.SaveSession(ctx, s); err != nil {
		t.Fatalf("second SaveSession failed: %v", err)
	}

	got, err := db.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != schema.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("expected ended_at to be set")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetSession(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLastCompletedIncremental(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// None yet.
	got, err := db.LastCompletedIncremental(ctx)
	if err != nil {
		t.Fatalf("LastCompletedIncremental failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil with no sessions, got %+v", got)
	}

	base := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	sessions := []*schema.SyncSession{
		makeSession("inc-old", schema.KindIncremental, schema.StatusCompleted, base),
		makeSession("inc-new", schema.KindIncremental, schema.StatusCompleted, base.Add(2*time.Hour)),
		makeSession("inc-failed", schema.KindIncremental, schema.StatusFailed, base.Add(3*time.Hour)),
		makeSession("full-new", schema.KindFull, schema.StatusCompleted, base.Add(4*time.Hour)),
	}
	for _, s := range sessions {
		if err := db.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession %s failed: %v", s.ID, err)
		}
	}

	got, err = db.LastCompletedIncremental(ctx)
	if err != nil {
		t.Fatalf("LastCompletedIncremental failed: %v", err)
	}
	if got == nil || got.ID != "inc-new" {
		t.Errorf("expected inc-new, got %+v", got)
	}
}

func TestListSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s := makeSession(id, schema.KindFull, schema.StatusCompleted, base.Add(time.Duration(i)*time.Hour))
		if err := db.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	got, err := db.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("expected newest-first [c b], got %+v", got)
	}
}
