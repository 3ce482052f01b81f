// Package document implements the document-store backend: sessions that
// track change records against a working set, and the persist command that
// translates change states into batched write primitives. It works against
// any domain.Driver (memory, sqlite, postgres, s3).
package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"dataspace/pkg/domain"
)

// Session is an open handle to one document store, scoped to one unit of
// work. Concurrent reads of the working set from cooperating tasks are
// safe; state transitions are serialized by the session's writer lock.
type Session struct {
	store   string
	driver  domain.Driver
	logger  *slog.Logger
	metrics domain.MetricsRecorder

	command domain.PersistSetCommand

	records sync.Map // domain.PropertyBag -> *domain.ChangeRecord

	mu       sync.Mutex
	order    []*domain.ChangeRecord
	disposed bool
}

// NewSession opens a session bound to the given store name and driver. The
// driver's lifetime is owned by the caller; disposing the session releases
// the change buffer, not the driver.
func NewSession(store string, driver domain.Driver, logger *slog.Logger, metrics domain.MetricsRecorder) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: store, driver: driver, logger: logger, metrics: metrics}
}

// Store returns the resolved store name the session is bound to.
func (s *Session) Store() string { return s.store }

// Driver exposes the backend driver to dispatched commands.
func (s *Session) Driver() domain.Driver { return s.driver }

// BindPersistSetCommand installs the dispatched persist implementation.
func (s *Session) BindPersistSetCommand(cmd domain.PersistSetCommand) {
	s.mu.Lock()
	s.command = cmd
	s.mu.Unlock()
}

// Attach begins tracking entity with the given change state. Re-attachment
// overwrites the record's owner; an entity never has two simultaneous
// owners.
func (s *Session) Attach(entity domain.PropertyBag, state domain.ChangeState) (*domain.ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, domain.ErrSessionDisposed
	}
	if v, ok := s.records.Load(entity); ok {
		rec := v.(*domain.ChangeRecord)
		rec.SetState(state)
		rec.SetOwner(s)
		return rec, nil
	}
	rec, ok := domain.Attach(entity)
	if !ok {
		return nil, fmt.Errorf("entity %s cannot carry a change record", domain.TypeNameOf(entity))
	}
	rec.SetState(state)
	rec.SetOwner(s)
	s.records.Store(entity, rec)
	s.order = append(s.order, rec)
	return rec, nil
}

// RecordFor looks up the attached change record for entity.
func (s *Session) RecordFor(entity domain.PropertyBag) (*domain.ChangeRecord, bool) {
	v, ok := s.records.Load(entity)
	if !ok {
		return nil, false
	}
	return v.(*domain.ChangeRecord), true
}

// Load fetches an entity by id, consulting the working set before the
// backend. Backend hits are attached as NotChanged.
func (s *Session) Load(ctx context.Context, typeName, id string) (domain.PropertyBag, error) {
	var found domain.PropertyBag
	s.records.Range(func(_, v any) bool {
		rec := v.(*domain.ChangeRecord)
		if domain.TypeNameOf(rec.Entity()) == typeName && rec.EntityID() == id {
			found = rec.Entity()
			return false
		}
		return true
	})
	if found != nil {
		return found, nil
	}
	doc, ok, err := s.driver.FindOne(ctx, typeName, id)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s from store %s: %w", typeName, id, s.store, err)
	}
	if !ok {
		return nil, nil
	}
	entity := domain.NewMapEntity(typeName, doc)
	if _, err := s.Attach(entity, domain.StateNotChanged); err != nil {
		return nil, err
	}
	return entity, nil
}

// PersistChanges writes the session's change set through the dispatched
// persist command. On success surviving records reset to NotChanged;
// deleted records stay Deleted and leave the working set.
func (s *Session) PersistChanges(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return domain.ErrSessionDisposed
	}
	command := s.command
	records := make([]*domain.ChangeRecord, len(s.order))
	copy(records, s.order)
	s.mu.Unlock()

	if command == nil {
		return domain.UnsupportedBackendError{Kind: "persist_set", Backend: fmt.Sprintf("%T", s)}
	}

	for _, rec := range records {
		rec.MarkPrePersist()
	}
	summary, err := command.PersistSet(ctx, s, records)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveWrites(ctx, s.store, summary)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	survivors := s.order[:0]
	for _, rec := range records {
		if rec.State() == domain.StateDeleted {
			s.records.Delete(rec.Entity())
			continue
		}
		rec.AcceptChanges()
		survivors = append(survivors, rec)
	}
	s.order = survivors
	return nil
}

// Dispose releases every tracked record and clears the working set. Safe to
// call more than once; the shared driver stays open.
func (s *Session) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	s.disposed = true
	for _, rec := range s.order {
		rec.Release()
		s.records.Delete(rec.Entity())
	}
	s.order = nil
	return nil
}

// Factory opens document sessions, selecting a driver per store name with
// an optional fallback for stores discovered mid-pipeline.
type Factory struct {
	drivers  map[string]domain.Driver
	fallback domain.Driver
	logger   *slog.Logger
	metrics  domain.MetricsRecorder
}

// NewFactory constructs a session factory over the named drivers.
func NewFactory(drivers map[string]domain.Driver, fallback domain.Driver, logger *slog.Logger, metrics domain.MetricsRecorder) *Factory {
	cp := make(map[string]domain.Driver, len(drivers))
	for name, d := range drivers {
		cp[name] = d
	}
	return &Factory{drivers: cp, fallback: fallback, logger: logger, metrics: metrics}
}

// CreateSession implements domain.SessionFactory.
func (f *Factory) CreateSession(_ context.Context, store string) (domain.Session, error) {
	driver, ok := f.drivers[store]
	if !ok {
		driver = f.fallback
	}
	if driver == nil {
		return nil, fmt.Errorf("no driver configured for store %s", store)
	}
	return NewSession(store, driver, f.logger, f.metrics), nil
}
