package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/schema"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db
}

// makeTicket builds a valid test ticket record.
func makeTicket(key, project string) *schema.TicketRecord {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	return &schema.TicketRecord{
		Key:        key,
		ProjectKey: project,
		Summary:    "Summary for " + key,
		Status:     "Open",
		Priority:   "High",
		Assignee:   "casey",
		Type:       "Bug",
		Created:    now.Add(-48 * time.Hour),
		Updated:    now,
		Attrs:      map[string]any{"labels": []any{"infra"}},
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.InitSchema(); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
}

func TestUpsertTicketIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := makeTicket("OPS-1", "OPS")
	if err := db.UpsertTicket(ctx, rec); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := db.UpsertTicket(ctx, rec); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	count, err := db.TicketCount(ctx)
	if err != nil {
		t.Fatalf("TicketCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 row after re-applying snapshot, got %d", count)
	}

	got, err := db.GetTicket(ctx, "OPS-1")
	if err != nil {
		t.Fatalf("GetTicket failed: %v", err)
	}
	if got.Summary != rec.Summary || got.Status != rec.Status || got.Assignee != rec.Assignee {
		t.Errorf("non-timestamp fields changed across identical upserts: %+v", got)
	}
}

func TestUpsertOverwritesAllColumns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := makeTicket("OPS-1", "OPS")
	if err := db.UpsertTicket(ctx, rec); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// A newer snapshot clears the assignee; the stored row must not keep
	// the stale value.
	newer := makeTicket("OPS-1", "OPS")
	newer.Status = "Closed"
	newer.Assignee = ""
	newer.Attrs = map[string]any{"resolution": "Fixed"}
	if err := db.UpsertTicket(ctx, newer); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := db.GetTicket(ctx, "OPS-1")
	if err != nil {
		t.Fatalf("GetTicket failed: %v", err)
	}
	if got.Status != "Closed" {
		t.Errorf("expected status Closed, got %q", got.Status)
	}
	if got.Assignee != "" {
		t.Errorf("expected cleared assignee, got %q", got.Assignee)
	}
	if got.Attrs["resolution"] != "Fixed" {
		t.Errorf("expected attrs replaced, got %v", got.Attrs)
	}
	if _, stale := got.Attrs["labels"]; stale {
		t.Error("old attribute bag leaked into newer snapshot")
	}
}

func TestUpsertRejectsInvalid(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertTicket(context.Background(), &schema.TicketRecord{ProjectKey: "OPS"}); err == nil {
		t.Error("expected error for missing key")
	}
	if err := db.UpsertTicket(context.Background(), &schema.TicketRecord{Key: "OPS-1"}); err == nil {
		t.Error("expected error for missing project key")
	}
}

func TestGetTicketsFilters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		rec := makeTicket(fmt.Sprintf("OPS-%d", i), "OPS")
		if i%2 == 0 {
			rec.Status = "Closed"
		}
		if err := db.UpsertTicket(ctx, rec); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	web := makeTicket("WEB-1", "WEB")
	web.Assignee = "riley"
	if err := db.UpsertTicket(ctx, web); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	open, err := db.GetTickets(ctx, TicketFilter{ProjectKey: "OPS", Status: "Open"})
	if err != nil {
		t.Fatalf("GetTickets failed: %v", err)
	}
	if len(open) != 3 {
		t.Errorf("expected 3 open OPS tickets, got %d", len(open))
	}

	byAssignee, err := db.GetTickets(ctx, TicketFilter{Assignee: "riley"})
	if err != nil {
		t.Fatalf("GetTickets failed: %v", err)
	}
	if len(byAssignee) != 1 || byAssignee[0].Key != "WEB-1" {
		t.Errorf("unexpected assignee filter result: %+v", byAssignee)
	}

	byKeys, err := db.GetTickets(ctx, TicketFilter{Keys: []string{"OPS-1", "OPS-3"}})
	if err != nil {
		t.Fatalf("GetTickets failed: %v", err)
	}
	if len(byKeys) != 2 {
		t.Errorf("expected 2 tickets for explicit key set, got %d", len(byKeys))
	}

	limited, err := db.GetTickets(ctx, TicketFilter{Limit: 2})
	if err != nil {
		t.Fatalf("GetTickets failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit 2 respected, got %d", len(limited))
	}
}

func TestGetTicketsAttrDecodeFallback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Plant a row with a corrupt attribute bag directly.
	_, err := db.RawDB().ExecContext(ctx, `
	INSERT INTO tickets (key, project_key, summary, status, attrs, synced_at)
	VALUES ('OPS-9', 'OPS', 'bad attrs', 'Open', '{not json', ?)`,
		time.Now().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("failed to plant corrupt row: %v", err)
	}

	recs, err := db.GetTickets(ctx, TicketFilter{Keys: []string{"OPS-9"}})
	if err != nil {
		t.Fatalf("expected read to survive corrupt attrs, got: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(recs))
	}
	if recs[0].Attrs == nil || len(recs[0].Attrs) != 0 {
		t.Errorf("expected empty attribute bag fallback, got %v", recs[0].Attrs)
	}
}

func TestProjects(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertProject(ctx, "OPS", "Operations"); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := db.UpsertProject(ctx, "OPS", "Operations (renamed)"); err != nil {
		t.Fatalf("second UpsertProject failed: %v", err)
	}

	projects, err := db.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "Operations (renamed)" {
		t.Errorf("unexpected projects: %+v", projects)
	}
}
