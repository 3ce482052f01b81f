// Package memory provides an in-memory document driver for tests and
// ephemeral deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"dataspace/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Driver = (*Driver)(nil)

// Driver stores documents per collection in process memory.
type Driver struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	closed      bool
}

// NewDriver constructs an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{collections: make(map[string]map[string]map[string]any)}
}

func cloneDoc(doc map[string]any) map[string]any {
	cp := make(map[string]any, len(doc))
	for k, v := range doc {
		cp[k] = v
	}
	return cp
}

// BulkWrite applies the batched operations in order.
func (d *Driver) BulkWrite(ctx context.Context, collection string, ops []domain.WriteOp) (domain.WriteSummary, error) {
	if err := ctx.Err(); err != nil {
		return domain.WriteSummary{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.WriteSummary{}, fmt.Errorf("memory driver closed")
	}
	docs, ok := d.collections[collection]
	if !ok {
		docs = make(map[string]map[string]any)
		d.collections[collection] = docs
	}

	var summary domain.WriteSummary
	for _, op := range ops {
		switch op.Kind {
		case domain.WriteInsertOne:
			if _, exists := docs[op.ID]; exists {
				return summary, fmt.Errorf("duplicate id %s in collection %s", op.ID, collection)
			}
			docs[op.ID] = cloneDoc(op.Document)
			summary.Inserted++
		case domain.WriteReplaceOne:
			_, exists := docs[op.ID]
			switch {
			case exists:
				docs[op.ID] = cloneDoc(op.Document)
				summary.Modified++
			case op.Upsert:
				docs[op.ID] = cloneDoc(op.Document)
				summary.Inserted++
			}
		case domain.WriteDeleteOne:
			if _, exists := docs[op.ID]; exists {
				delete(docs, op.ID)
				summary.Deleted++
			}
		default:
			return summary, fmt.Errorf("unsupported write kind %s", op.Kind)
		}
	}
	return summary, nil
}

// FindOne returns a copy of the document with the given id.
func (d *Driver) FindOne(ctx context.Context, collection, id string) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, false, fmt.Errorf("memory driver closed")
	}
	doc, ok := d.collections[collection][id]
	if !ok {
		return nil, false, nil
	}
	return cloneDoc(doc), true, nil
}

// Count returns the number of documents in a collection.
func (d *Driver) Count(collection string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.collections[collection])
}

// Close releases the store. Further operations fail.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.collections = make(map[string]map[string]map[string]any)
	return nil
}
