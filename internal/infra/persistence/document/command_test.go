package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"dataspace/internal/infra/persistence/memory"
	"dataspace/pkg/domain"
)

// recordingDriver captures the operations handed to BulkWrite.
type recordingDriver struct {
	mu    sync.Mutex
	calls map[string][]domain.WriteOp
	fail  error
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{calls: make(map[string][]domain.WriteOp)}
}

func (d *recordingDriver) BulkWrite(_ context.Context, collection string, ops []domain.WriteOp) (domain.WriteSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return domain.WriteSummary{}, d.fail
	}
	d.calls[collection] = append(d.calls[collection], ops...)
	var summary domain.WriteSummary
	for _, op := range ops {
		switch op.Kind {
		case domain.WriteInsertOne:
			summary.Inserted++
		case domain.WriteReplaceOne:
			summary.Modified++
		case domain.WriteDeleteOne:
			summary.Deleted++
		}
	}
	return summary, nil
}

func (d *recordingDriver) FindOne(context.Context, string, string) (map[string]any, bool, error) {
	return nil, false, nil
}

func (d *recordingDriver) Close() error { return nil }

func attachAll(t *testing.T, sess *Session, states map[*domain.MapEntity]domain.ChangeState, order []*domain.MapEntity) []*domain.ChangeRecord {
	t.Helper()
	records := make([]*domain.ChangeRecord, 0, len(order))
	for _, entity := range order {
		rec, err := sess.Attach(entity, states[entity])
		if err != nil {
			t.Fatalf("Attach: %v", err)
		}
		records = append(records, rec)
	}
	return records
}

func TestPersistSetTranslatesStates(t *testing.T) {
	driver := newRecordingDriver()
	sess := NewSession("orders", driver, nil, nil)
	defer sess.Dispose()
	cmd := NewPersistCommand(nil, WithIDGenerator(func() string { return "gen-1" }))

	added := domain.NewMapEntity("order", map[string]any{"total": 1})
	edited := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "2", "total": 2})
	upserted := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "3", "total": 3})
	deleted := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "4"})
	clean := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "5"})

	records := attachAll(t, sess, map[*domain.MapEntity]domain.ChangeState{
		added:    domain.StateAdded,
		edited:   domain.StateChanged,
		upserted: domain.StateAddedOrChanged,
		deleted:  domain.StateDeleted,
		clean:    domain.StateNotChanged,
	}, []*domain.MapEntity{added, edited, upserted, deleted, clean})

	summary, err := cmd.PersistSet(context.Background(), sess, records)
	if err != nil {
		t.Fatalf("PersistSet: %v", err)
	}
	if summary.Total() != 4 {
		t.Fatalf("summary total = %d, want 4", summary.Total())
	}

	ops := driver.calls["order"]
	if len(ops) != 4 {
		t.Fatalf("ops = %d, want 4 (clean record must not write)", len(ops))
	}
	if ops[0].Kind != domain.WriteInsertOne || ops[0].ID != "gen-1" {
		t.Fatalf("added op = %+v", ops[0])
	}
	if got := domain.EntityID(added); got != "gen-1" {
		t.Fatalf("generated id not written back, id = %q", got)
	}
	if ops[1].Kind != domain.WriteReplaceOne || ops[1].Upsert || ops[1].ID != "2" {
		t.Fatalf("changed op = %+v", ops[1])
	}
	if ops[2].Kind != domain.WriteReplaceOne || !ops[2].Upsert || ops[2].ID != "3" {
		t.Fatalf("added-or-changed op = %+v", ops[2])
	}
	if ops[3].Kind != domain.WriteDeleteOne || ops[3].ID != "4" || ops[3].Document != nil {
		t.Fatalf("deleted op = %+v", ops[3])
	}
}

func TestPersistSetRequiresIDForReplaceAndDelete(t *testing.T) {
	for _, state := range []domain.ChangeState{domain.StateChanged, domain.StateDeleted} {
		t.Run(string(state), func(t *testing.T) {
			driver := newRecordingDriver()
			sess := NewSession("orders", driver, nil, nil)
			defer sess.Dispose()

			entity := domain.NewMapEntity("order", map[string]any{"total": 1})
			rec, err := sess.Attach(entity, state)
			if err != nil {
				t.Fatalf("Attach: %v", err)
			}
			if _, err := NewPersistCommand(nil).PersistSet(context.Background(), sess, []*domain.ChangeRecord{rec}); err == nil {
				t.Fatal("expected error for identifier-less write")
			}
		})
	}
}

func TestPersistSetDeduplicatesAggregateRoots(t *testing.T) {
	driver := newRecordingDriver()
	sess := NewSession("orders", driver, nil, nil)
	defer sess.Dispose()

	root := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "r1", "lines": 2})
	lineA := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "l1", "root": "r1"})
	lineB := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "l2", "root": "r1"})

	cmd := NewPersistCommand(nil, WithRootResolver(func(domain.PropertyBag) domain.PropertyBag {
		return root
	}))

	records := attachAll(t, sess, map[*domain.MapEntity]domain.ChangeState{
		lineA: domain.StateChanged,
		lineB: domain.StateChanged,
	}, []*domain.MapEntity{lineA, lineB})

	summary, err := cmd.PersistSet(context.Background(), sess, records)
	if err != nil {
		t.Fatalf("PersistSet: %v", err)
	}
	ops := driver.calls["order"]
	if len(ops) != 1 {
		t.Fatalf("ops = %d, want 1 deduplicated root write", len(ops))
	}
	if ops[0].Kind != domain.WriteReplaceOne || ops[0].ID != "r1" {
		t.Fatalf("root op = %+v", ops[0])
	}
	if ops[0].Document["lines"] != 2 {
		t.Fatal("root document should carry the root's properties")
	}
	if summary.Modified != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestPersistSetChildAdoptsRootPendingState(t *testing.T) {
	driver := newRecordingDriver()
	sess := NewSession("orders", driver, nil, nil)
	defer sess.Dispose()

	root := domain.NewMapEntity("order", map[string]any{"lines": 1})
	line := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "l1"})

	// The root itself is newly added; editing its child must not demote the
	// write to a replace.
	if _, err := sess.Attach(root, domain.StateAdded); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	lineRec, err := sess.Attach(line, domain.StateChanged)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	cmd := NewPersistCommand(nil,
		WithIDGenerator(func() string { return "gen-9" }),
		WithRootResolver(func(e domain.PropertyBag) domain.PropertyBag {
			if e == domain.PropertyBag(line) {
				return root
			}
			return e
		}))

	if _, err := cmd.PersistSet(context.Background(), sess, []*domain.ChangeRecord{lineRec}); err != nil {
		t.Fatalf("PersistSet: %v", err)
	}
	ops := driver.calls["order"]
	if len(ops) != 1 || ops[0].Kind != domain.WriteInsertOne || ops[0].ID != "gen-9" {
		t.Fatalf("ops = %+v, want one insert of the added root", ops)
	}
}

func TestPersistSetNoDocumentsToPersist(t *testing.T) {
	driver := newRecordingDriver()
	sess := NewSession("orders", driver, nil, nil)
	defer sess.Dispose()

	entity := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "1"})
	rec, err := sess.Attach(entity, domain.StateChanged)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	cmd := NewPersistCommand(nil, WithRootResolver(func(domain.PropertyBag) domain.PropertyBag {
		return nil
	}))
	_, err = cmd.PersistSet(context.Background(), sess, []*domain.ChangeRecord{rec})
	var noDocs domain.NoDocumentsToPersistError
	if !errors.As(err, &noDocs) {
		t.Fatalf("expected NoDocumentsToPersistError, got %v", err)
	}
	if noDocs.Collection != "order" || noDocs.Changes != 1 {
		t.Fatalf("error detail = %+v", noDocs)
	}
	if len(driver.calls) != 0 {
		t.Fatal("no write should reach the backend")
	}
}

func TestPersistSetWrapsBackendFailure(t *testing.T) {
	driver := newRecordingDriver()
	driver.fail = fmt.Errorf("socket reset")
	sess := NewSession("orders", driver, nil, nil)
	defer sess.Dispose()

	entity := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "1"})
	rec, err := sess.Attach(entity, domain.StateChanged)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	_, err = NewPersistCommand(nil).PersistSet(context.Background(), sess, []*domain.ChangeRecord{rec})
	if err == nil || !strings.Contains(err.Error(), "bulk write order") {
		t.Fatalf("expected wrapped backend failure, got %v", err)
	}
}

type plainSession struct{}

func (plainSession) Store() string { return "opaque" }
func (plainSession) Attach(domain.PropertyBag, domain.ChangeState) (*domain.ChangeRecord, error) {
	return nil, nil
}
func (plainSession) RecordFor(domain.PropertyBag) (*domain.ChangeRecord, bool) { return nil, false }
func (plainSession) Load(context.Context, string, string) (domain.PropertyBag, error) {
	return nil, nil
}
func (plainSession) PersistChanges(context.Context) error { return nil }
func (plainSession) Dispose() error                       { return nil }

func TestPersistSetRejectsNonDocumentSessions(t *testing.T) {
	_, err := NewPersistCommand(nil).PersistSet(context.Background(), plainSession{}, nil)
	var unsupported domain.UnsupportedBackendError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedBackendError, got %v", err)
	}
}

// levelCapturingHandler remembers the highest level logged through it.
type levelCapturingHandler struct {
	mu  sync.Mutex
	max slog.Level
}

func (h *levelCapturingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *levelCapturingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	if r.Level > h.max {
		h.max = r.Level
	}
	h.mu.Unlock()
	return nil
}
func (h *levelCapturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *levelCapturingHandler) WithGroup(string) slog.Handler      { return h }

func TestPersistSetWarnsWhenSlow(t *testing.T) {
	handler := &levelCapturingHandler{max: slog.LevelDebug}
	sess := NewSession("orders", memory.NewDriver(), nil, nil)
	defer sess.Dispose()

	entity := domain.NewMapEntity("order", map[string]any{domain.PropertyID: "1"})
	rec, err := sess.Attach(entity, domain.StateAddedOrChanged)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	cmd := NewPersistCommand(slog.New(handler), WithSlowThreshold(0))
	if _, err := cmd.PersistSet(context.Background(), sess, []*domain.ChangeRecord{rec}); err != nil {
		t.Fatalf("PersistSet: %v", err)
	}
	if handler.max < slog.LevelWarn {
		t.Fatalf("slow persist logged at %v, want warning", handler.max)
	}
}

func TestCreateCommandAttachesAdded(t *testing.T) {
	sess, _ := newTestSession(t)
	defer sess.Dispose()

	cmd := NewCreateCommand(nil)
	entity, err := cmd.CreateEntity(context.Background(), sess, "order")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if domain.EntityID(entity) == "" {
		t.Fatal("created entity should carry a generated id")
	}
	rec, ok := sess.RecordFor(entity)
	if !ok || rec.State() != domain.StateAdded {
		t.Fatal("created entity should be tracked as Added")
	}
}

func TestExecCommandOperations(t *testing.T) {
	sess, driver := newTestSession(t)
	defer sess.Dispose()
	ctx := context.Background()

	if _, err := driver.BulkWrite(ctx, "order", []domain.WriteOp{
		{Kind: domain.WriteInsertOne, ID: "1", Document: map[string]any{domain.PropertyID: "1"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cmd := NewExecCommand()
	found, err := cmd.Execute(ctx, sess, "exists", map[string]any{"type": "order", "id": "1"})
	if err != nil || found != true {
		t.Fatalf("exists = %v, %v", found, err)
	}
	loaded, err := cmd.Execute(ctx, sess, "find_one", map[string]any{"type": "order", "id": "1"})
	if err != nil {
		t.Fatalf("find_one: %v", err)
	}
	if loaded == nil {
		t.Fatal("find_one should return the entity")
	}
	if _, err := cmd.Execute(ctx, sess, "drop_table", nil); err == nil {
		t.Fatal("unknown operation should fail")
	}
	if _, err := cmd.Execute(ctx, sess, "find_one", map[string]any{"type": "order"}); err == nil {
		t.Fatal("missing id should fail")
	}
}
