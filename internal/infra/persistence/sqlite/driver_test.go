package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"dataspace/pkg/domain"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := NewDriver(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestBulkWriteLifecycle(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	summary, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{"total": float64(1)}},
		{Kind: domain.WriteReplaceOne, ID: "1", Document: map[string]any{"total": float64(2)}},
		{Kind: domain.WriteReplaceOne, ID: "2", Document: map[string]any{"total": float64(3)}, Upsert: true},
		{Kind: domain.WriteReplaceOne, ID: "missing", Document: map[string]any{}},
		{Kind: domain.WriteDeleteOne, ID: "2"},
		{Kind: domain.WriteDeleteOne, ID: "missing"},
	})
	if err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	if summary.Inserted != 2 || summary.Modified != 1 || summary.Deleted != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	doc, ok, err := d.FindOne(ctx, "order", "1")
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !ok || doc["total"] != float64(2) {
		t.Fatalf("replace not applied: %v, %v", ok, doc)
	}
	if _, ok, _ := d.FindOne(ctx, "order", "2"); ok {
		t.Fatal("deleted document still present")
	}
	if _, ok, _ := d.FindOne(ctx, "order", "missing"); ok {
		t.Fatal("replace without upsert must not create a document")
	}
}

func TestBulkWriteDuplicateInsertRollsBack(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if _, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{}},
	}); err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	_, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "2", Document: map[string]any{}},
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{}},
	})
	if err == nil {
		t.Fatal("duplicate insert should fail the batch")
	}
	// The whole batch runs in one transaction.
	if _, ok, _ := d.FindOne(ctx, "order", "2"); ok {
		t.Fatal("failed batch must not leave partial writes")
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if _, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{"k": "order"}},
	}); err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	if _, err := d.BulkWrite(ctx, "invoice", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{"k": "invoice"}},
	}); err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	doc, ok, err := d.FindOne(ctx, "invoice", "1")
	if err != nil || !ok {
		t.Fatalf("FindOne: %v, %v", ok, err)
	}
	if doc["k"] != "invoice" {
		t.Fatalf("collections bleed: %v", doc["k"])
	}
}

func TestDriverPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	ctx := context.Background()

	d, err := NewDriver(path)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{"total": float64(7)}},
	}); err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewDriver(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	doc, ok, err := reopened.FindOne(ctx, "order", "1")
	if err != nil || !ok {
		t.Fatalf("FindOne after reopen: %v, %v", ok, err)
	}
	if doc["total"] != float64(7) {
		t.Fatalf("document lost across reopen: %v", doc)
	}
}
