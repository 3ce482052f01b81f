package memory

import (
	"context"
	"testing"

	"dataspace/pkg/domain"
)

func TestBulkWriteLifecycle(t *testing.T) {
	d := NewDriver()
	defer d.Close()
	ctx := context.Background()

	summary, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{"total": 1}},
		{Kind: domain.WriteReplaceOne, ID: "1", Document: map[string]any{"total": 2}},
		{Kind: domain.WriteReplaceOne, ID: "2", Document: map[string]any{"total": 3}, Upsert: true},
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
	if err != nil || !ok {
		t.Fatalf("FindOne: %v, %v", ok, err)
	}
	if doc["total"] != 2 {
		t.Fatalf("replace not applied: %v", doc["total"])
	}
	if _, ok, _ := d.FindOne(ctx, "order", "2"); ok {
		t.Fatal("deleted document still present")
	}
	if d.Count("order") != 1 {
		t.Fatalf("count = %d, want 1", d.Count("order"))
	}
}

func TestBulkWriteDuplicateInsert(t *testing.T) {
	d := NewDriver()
	defer d.Close()
	ctx := context.Background()

	if _, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{}},
	}); err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	if _, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{}},
	}); err == nil {
		t.Fatal("duplicate insert should fail")
	}
}

func TestFindOneReturnsCopy(t *testing.T) {
	d := NewDriver()
	defer d.Close()
	ctx := context.Background()

	if _, err := d.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{"total": 1}},
	}); err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}
	doc, _, _ := d.FindOne(ctx, "order", "1")
	doc["total"] = 99
	again, _, _ := d.FindOne(ctx, "order", "1")
	if again["total"] != 1 {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestClosedDriverRejectsOperations(t *testing.T) {
	d := NewDriver()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ctx := context.Background()
	if _, err := d.BulkWrite(ctx, "order", nil); err == nil {
		t.Fatal("closed driver should reject writes")
	}
	if _, _, err := d.FindOne(ctx, "order", "1"); err == nil {
		t.Fatal("closed driver should reject reads")
	}
}
