package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/schema"
)

func testBatchOptions() BatchOptions {
	return BatchOptions{
		ChunkSize:    1000,
		ChunkRetries: 3,
		RetryDelay:   time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	}
}

func makeTickets(n int, project string) []*schema.TicketRecord {
	recs := make([]*schema.TicketRecord, n)
	for i := range recs {
		recs[i] = makeTicket(fmt.Sprintf("%s-%d", project, i+1), project)
	}
	return recs
}

func TestBatchUpsertChunking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// 2500 records at chunk size 1000 is exactly 3 chunks: 1000, 1000, 500.
	recs := makeTickets(2500, "OPS")
	res, err := db.BatchUpsert(ctx, recs, testBatchOptions())
	if err != nil {
		t.Fatalf("BatchUpsert failed: %v", err)
	}

	if res.Chunks != 3 {
		t.Errorf("expected exactly 3 chunk operations, got %d", res.Chunks)
	}
	if res.Processed != 2500 {
		t.Errorf("expected processed=2500, got %d", res.Processed)
	}
	if res.Failed != 0 {
		t.Errorf("expected failed=0, got %d", res.Failed)
	}
	if len(res.Errors) != 0 {
		t.Errorf("expected no errors, got %d", len(res.Errors))
	}

	count, err := db.TicketCount(ctx)
	if err != nil {
		t.Fatalf("TicketCount failed: %v", err)
	}
	if count != 2500 {
		t.Errorf("expected 2500 rows, got %d", count)
	}
}

func TestBatchUpsertIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	recs := makeTickets(120, "OPS")
	if _, err := db.BatchUpsert(ctx, recs, testBatchOptions()); err != nil {
		t.Fatalf("first BatchUpsert failed: %v", err)
	}
	res, err := db.BatchUpsert(ctx, recs, testBatchOptions())
	if err != nil {
		t.Fatalf("second BatchUpsert failed: %v", err)
	}
	if res.Processed != 120 || res.Failed != 0 {
		t.Errorf("re-apply should process all records: %+v", res)
	}

	count, err := db.TicketCount(ctx)
	if err != nil {
		t.Fatalf("TicketCount failed: %v", err)
	}
	if count != 120 {
		t.Errorf("expected 120 rows after re-apply, got %d", count)
	}
}

func TestBatchUpsertPoisonedChunkFallsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Chunks 1 and 2 are clean; every record in chunk 3 violates the
	// ticket table's key constraint, so the chunk exhausts its retries
	// and degrades to per-record fallback, where each record fails
	// individually.
	recs := makeTickets(2500, "OPS")
	for i := 2000; i < 2500; i++ {
		recs[i].Key = ""
	}

	res, err := db.BatchUpsert(ctx, recs, testBatchOptions())
	if err != nil {
		t.Fatalf("BatchUpsert failed: %v", err)
	}

	if res.Processed != 2000 {
		t.Errorf("expected processed=2000, got %d", res.Processed)
	}
	if res.Failed != 500 {
		t.Errorf("expected failed=500, got %d", res.Failed)
	}
	if len(res.Errors) != 500 {
		t.Fatalf("expected 500 recorded errors, got %d", len(res.Errors))
	}
	for _, e := range res.Errors {
		if e.Chunk != 3 {
			t.Fatalf("expected all errors attributable to chunk 3, got chunk %d", e.Chunk)
		}
	}

	// The clean chunks are fully applied; nothing from the poisoned
	// chunk is partially visible.
	count, err := db.TicketCount(ctx)
	if err != nil {
		t.Fatalf("TicketCount failed: %v", err)
	}
	if count != 2000 {
		t.Errorf("expected 2000 rows, got %d", count)
	}
}

func TestBatchUpsertMixedChunkSavesGoodRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// One malformed record must not sink the rest of its chunk: the
	// fallback path applies the 9 good records individually.
	recs := makeTickets(10, "OPS")
	recs[4].Key = ""

	res, err := db.BatchUpsert(ctx, recs, testBatchOptions())
	if err != nil {
		t.Fatalf("BatchUpsert failed: %v", err)
	}
	if res.Processed != 9 || res.Failed != 1 {
		t.Errorf("expected 9 processed / 1 failed, got %d / %d", res.Processed, res.Failed)
	}

	count, err := db.TicketCount(ctx)
	if err != nil {
		t.Fatalf("TicketCount failed: %v", err)
	}
	if count != 9 {
		t.Errorf("expected 9 rows, got %d", count)
	}
}

func TestBatchUpsertEmpty(t *testing.T) {
	db := setupTestDB(t)

	res, err := db.BatchUpsert(context.Background(), nil, testBatchOptions())
	if err != nil {
		t.Fatalf("BatchUpsert failed: %v", err)
	}
	if res.Total != 0 || res.Chunks != 0 || res.Processed != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestBatchUpsertReportsThroughput(t *testing.T) {
	db := setupTestDB(t)

	res, err := db.BatchUpsert(context.Background(), makeTickets(50, "OPS"), testBatchOptions())
	if err != nil {
		t.Fatalf("BatchUpsert failed: %v", err)
	}
	if res.Duration <= 0 {
		t.Error("expected a positive duration")
	}
	if res.Throughput <= 0 {
		t.Error("expected a positive throughput")
	}
}
