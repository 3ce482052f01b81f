package domain

import "context"

// Session is an open, stateful handle to one backend store, scoped to one
// unit of work. It owns the change records of the entities attached to it.
type Session interface {
	// Store returns the resolved store name the session is bound to.
	Store() string
	// Attach begins tracking entity with the given change state and takes
	// ownership of its change record.
	Attach(entity PropertyBag, state ChangeState) (*ChangeRecord, error)
	// RecordFor looks up the attached change record for entity.
	RecordFor(entity PropertyBag) (*ChangeRecord, bool)
	// Load fetches an entity by id, consulting the working set before the
	// backend. Used by entity reference dereferencing.
	Load(ctx context.Context, typeName, id string) (PropertyBag, error)
	// PersistChanges writes the session's change set to the backend.
	PersistChanges(ctx context.Context) error
	// Dispose releases tracked records and backend resources. Safe to call
	// more than once.
	Dispose() error
}

// SessionFactory opens sessions for resolved store names.
type SessionFactory interface {
	CreateSession(ctx context.Context, store string) (Session, error)
}

// OperationContext carries ambient attributes of one logical operation that
// participate in store-name resolution (tenant, shard, request class).
type OperationContext map[string]string

// StoreNameResolver maps an entity type plus ambient operation context to a
// store name. Implementations must be deterministic within one operation.
type StoreNameResolver interface {
	Resolve(entityTypeName string, ambient OperationContext) (string, error)
}

// ResolverFunc adapts a function to the StoreNameResolver interface.
type ResolverFunc func(entityTypeName string, ambient OperationContext) (string, error)

// Resolve implements StoreNameResolver.
func (f ResolverFunc) Resolve(entityTypeName string, ambient OperationContext) (string, error) {
	return f(entityTypeName, ambient)
}

// ConversionContext binds a conversion to a source session, an optional
// target session, and an optional explicit target type name.
type ConversionContext struct {
	Source     Session
	Target     Session
	TargetType string
}

// Converter bridges a client-facing entity representation to the domain
// representation required by the owning store, and back.
type Converter interface {
	Convert(ctx context.Context, source PropertyBag, cc ConversionContext) (PropertyBag, error)
}

// WriteKind identifies a backend write primitive.
type WriteKind string

// Write primitives produced by change-state translation.
const (
	WriteInsertOne  WriteKind = "insert_one"
	WriteReplaceOne WriteKind = "replace_one"
	WriteDeleteOne  WriteKind = "delete_one"
)

// WriteOp is one batched write operation against a backend collection.
// Replace and delete operations match by id equality.
type WriteOp struct {
	Kind     WriteKind
	ID       string
	Document map[string]any
	Upsert   bool
}

// WriteSummary aggregates the effect of one batched write call.
type WriteSummary struct {
	Inserted int64
	Modified int64
	Deleted  int64
}

// Add folds another summary into s.
func (s *WriteSummary) Add(other WriteSummary) {
	s.Inserted += other.Inserted
	s.Modified += other.Modified
	s.Deleted += other.Deleted
}

// Total returns the combined operation count.
func (s WriteSummary) Total() int64 {
	return s.Inserted + s.Modified + s.Deleted
}

// Driver is the thin backend wrapper the engine calls to execute writes.
// During persist the engine only issues bulk writes; FindOne serves entity
// reference dereferencing outside the persist path.
type Driver interface {
	BulkWrite(ctx context.Context, collection string, ops []WriteOp) (WriteSummary, error)
	FindOne(ctx context.Context, collection, id string) (map[string]any, bool, error)
	Close() error
}

// PersistSetCommand is a backend-specific translation of a change set into
// backend writes. Implementations are selected per session type through the
// command dispatch registry.
type PersistSetCommand interface {
	Name() string
	PersistSet(ctx context.Context, sess Session, records []*ChangeRecord) (WriteSummary, error)
}
