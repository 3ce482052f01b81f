package document

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dataspace/pkg/domain"

	"github.com/google/uuid"
)

// slowPersistThreshold is the elapsed time above which a successful persist
// is logged at warning severity instead of debug.
const slowPersistThreshold = 1000 * time.Millisecond

// DriverProvider is satisfied by sessions that expose their backend driver
// to dispatched commands.
type DriverProvider interface {
	Driver() domain.Driver
}

// RootResolver maps a changed entity to the aggregate root that must be
// rewritten for the whole aggregate. The default treats every entity as its
// own root.
type RootResolver func(domain.PropertyBag) domain.PropertyBag

// CollectionNamer maps an entity type name to its backend collection.
type CollectionNamer func(typeName string) string

// PersistCommandOption customizes a PersistCommand.
type PersistCommandOption func(*PersistCommand)

// WithRootResolver installs an aggregate-root resolver.
func WithRootResolver(r RootResolver) PersistCommandOption {
	return func(c *PersistCommand) { c.root = r }
}

// WithCollectionNamer installs a collection naming scheme.
func WithCollectionNamer(n CollectionNamer) PersistCommandOption {
	return func(c *PersistCommand) { c.collection = n }
}

// WithSlowThreshold overrides the slow-persist warning threshold.
func WithSlowThreshold(d time.Duration) PersistCommandOption {
	return func(c *PersistCommand) { c.slow = d }
}

// WithIDGenerator overrides the id generator used for added entities that
// arrive without an identifier.
func WithIDGenerator(gen func() string) PersistCommandOption {
	return func(c *PersistCommand) { c.newID = gen }
}

// PersistCommand translates a session's change set into batched document
// writes: one deduplicated write per aggregate root, submitted as a single
// bulk call per collection.
type PersistCommand struct {
	logger     *slog.Logger
	slow       time.Duration
	root       RootResolver
	collection CollectionNamer
	newID      func() string
}

// NewPersistCommand constructs the document persist command.
func NewPersistCommand(logger *slog.Logger, opts ...PersistCommandOption) *PersistCommand {
	if logger == nil {
		logger = slog.Default()
	}
	c := &PersistCommand{
		logger:     logger,
		slow:       slowPersistThreshold,
		root:       func(e domain.PropertyBag) domain.PropertyBag { return e },
		collection: func(typeName string) string { return typeName },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the command in dispatch diagnostics and logs.
func (c *PersistCommand) Name() string { return "document-persist" }

type collectionChanges struct {
	name    string
	logical int
	ops     []domain.WriteOp
	seen    map[any]bool
}

// PersistSet implements domain.PersistSetCommand. Operation order follows
// the order entities were discovered in the change set.
func (c *PersistCommand) PersistSet(ctx context.Context, sess domain.Session, records []*domain.ChangeRecord) (domain.WriteSummary, error) {
	dp, ok := sess.(DriverProvider)
	if !ok {
		return domain.WriteSummary{}, domain.UnsupportedBackendError{Kind: "persist_set", Backend: fmt.Sprintf("%T", sess)}
	}
	driver := dp.Driver()

	var order []string
	changes := make(map[string]*collectionChanges)
	for _, rec := range records {
		state := rec.State()
		if !state.RequiresWrite() {
			continue
		}
		collection := c.collection(domain.TypeNameOf(rec.Entity()))
		cc, ok := changes[collection]
		if !ok {
			cc = &collectionChanges{name: collection, seen: make(map[any]bool)}
			changes[collection] = cc
			order = append(order, collection)
		}
		cc.logical++

		root := c.root(rec.Entity())
		if root == nil {
			continue
		}
		if cc.seen[root] {
			continue
		}
		cc.seen[root] = true

		// A modified child rewrites its owning root. The root's own state
		// wins when it is itself pending a write.
		if root != rec.Entity() {
			if rootRec, ok := domain.GetAttached(root); ok && rootRec.State().RequiresWrite() {
				state = rootRec.State()
			} else {
				state = domain.StateChanged
			}
		}
		op, err := c.translate(rec, root, state)
		if err != nil {
			return domain.WriteSummary{}, err
		}
		cc.ops = append(cc.ops, op)
	}

	start := time.Now()
	var summary domain.WriteSummary
	for _, name := range order {
		cc := changes[name]
		if cc.logical > 0 && len(cc.ops) == 0 {
			return summary, domain.NoDocumentsToPersistError{Collection: cc.name, Changes: cc.logical}
		}
		result, err := driver.BulkWrite(ctx, cc.name, cc.ops)
		summary.Add(result)
		if err != nil {
			elapsed := time.Since(start)
			c.logger.Error("bulk write failed",
				"command", c.Name(),
				"store", sess.Store(),
				"collection", cc.name,
				"elapsed", elapsed,
				"operations", len(cc.ops),
				"error", err,
			)
			return summary, fmt.Errorf("bulk write %s: %w", cc.name, err)
		}
	}

	elapsed := time.Since(start)
	level := slog.LevelDebug
	if elapsed > c.slow {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "persisted change set",
		"command", c.Name(),
		"store", sess.Store(),
		"collections", len(order),
		"elapsed", elapsed,
		"inserted", summary.Inserted,
		"modified", summary.Modified,
		"deleted", summary.Deleted,
	)
	return summary, nil
}

// translate maps a change state to its write primitive, matched by an
// id-equality predicate for replaces and deletes.
func (c *PersistCommand) translate(rec *domain.ChangeRecord, root domain.PropertyBag, state domain.ChangeState) (domain.WriteOp, error) {
	id := domain.EntityID(root)
	if id == "" && root == rec.Entity() {
		id = rec.EntityID()
	}
	switch state {
	case domain.StateAdded:
		if id == "" {
			id = c.newID()
			root.Set(domain.PropertyID, id)
		}
		return domain.WriteOp{Kind: domain.WriteInsertOne, ID: id, Document: domain.SnapshotProperties(root)}, nil
	case domain.StateAddedOrChanged:
		if id == "" {
			id = c.newID()
			root.Set(domain.PropertyID, id)
		}
		return domain.WriteOp{Kind: domain.WriteReplaceOne, ID: id, Document: domain.SnapshotProperties(root), Upsert: true}, nil
	case domain.StateChanged:
		if id == "" {
			return domain.WriteOp{}, fmt.Errorf("replace without id for %s", domain.TypeNameOf(root))
		}
		return domain.WriteOp{Kind: domain.WriteReplaceOne, ID: id, Document: domain.SnapshotProperties(root)}, nil
	case domain.StateDeleted:
		if id == "" {
			return domain.WriteOp{}, fmt.Errorf("delete without id for %s", domain.TypeNameOf(root))
		}
		return domain.WriteOp{Kind: domain.WriteDeleteOne, ID: id}, nil
	}
	return domain.WriteOp{}, fmt.Errorf("unsupported change state %s", state)
}
