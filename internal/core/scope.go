package core

import (
	"context"
	"fmt"
	"time"
)

// PersistScope is a short-lived, single-use store router built eagerly from
// the batch being persisted. Additional stores discovered mid-pipeline (for
// example when conversion produces an entity routed elsewhere) are opened
// through the same lazy accessor the Space provides.
type PersistScope struct {
	*Space
}

// NewPersistScope partitions the batch by resolved store name and opens one
// seeded session per partition. The scope must be disposed on every exit
// path; each open session holds backend resources.
func NewPersistScope(ctx context.Context, batch []Envelope, deps Dependencies) (*PersistScope, error) {
	space := NewSpace(deps)
	if err := space.Initialize(ctx, batch); err != nil {
		space.Dispose()
		return nil, err
	}
	return &PersistScope{Space: space}, nil
}

// PersistAll invokes each open session's persist operation sequentially, in
// batch-partition order. A failure on one store does not roll back stores
// that already committed; there is no cross-store atomicity. The first hard
// failure aborts the remaining stores.
func (s *PersistScope) PersistAll(ctx context.Context) error {
	for _, sess := range s.Sessions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := sess.PersistChanges(ctx)
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObservePersist(ctx, sess.Store(), err == nil, time.Since(start))
		}
		if err != nil {
			return fmt.Errorf("persist store %s: %w", sess.Store(), err)
		}
	}
	return nil
}

// RunInPersistScope builds a scope for the batch, runs fn, and guarantees
// disposal regardless of fn's outcome.
func RunInPersistScope(ctx context.Context, batch []Envelope, deps Dependencies, fn func(*PersistScope) error) error {
	scope, err := NewPersistScope(ctx, batch, deps)
	if err != nil {
		return err
	}
	defer scope.Dispose()
	return fn(scope)
}
