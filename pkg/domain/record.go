package domain

import (
	"reflect"
	"sync"
)

// ChangeRecord tracks the dirty state of exactly one entity instance. It is
// owned by the session currently responsible for the entity and annotates
// the entity without ever copying it.
type ChangeRecord struct {
	mu         sync.Mutex
	entity     PropertyBag
	snapshot   map[string]any
	entityID   string
	state      ChangeState
	prePersist ChangeState
	owner      Session
	released   bool
}

// Attach creates or returns the change record for entity. Attachment is
// idempotent: an already attached entity yields its existing record. It
// fails silently, returning false, when the entity type cannot carry a
// back-reference.
func Attach(entity PropertyBag) (*ChangeRecord, bool) {
	trackable, ok := entity.(Trackable)
	if !ok {
		return nil, false
	}
	if existing := trackable.ChangeRecord(); existing != nil {
		return existing, true
	}
	r := &ChangeRecord{
		entity:   entity,
		snapshot: SnapshotProperties(entity),
		entityID: EntityID(entity),
		state:    StateNotChanged,
	}
	trackable.SetChangeRecord(r)
	return r, true
}

// GetAttached returns the change record attached to entity, if any.
func GetAttached(entity PropertyBag) (*ChangeRecord, bool) {
	trackable, ok := entity.(Trackable)
	if !ok {
		return nil, false
	}
	r := trackable.ChangeRecord()
	return r, r != nil
}

// Entity returns the tracked entity instance.
func (r *ChangeRecord) Entity() PropertyBag { return r.entity }

// EntityID returns the store-level identifier captured at attachment or at
// the last accepted change.
func (r *ChangeRecord) EntityID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entityID
}

// RefreshEntityID re-extracts the identifier from the entity, picking up
// backend-assigned ids after a persist.
func (r *ChangeRecord) RefreshEntityID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entityID = EntityID(r.entity)
	return r.entityID
}

// State returns the current change state.
func (r *ChangeRecord) State() ChangeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetState marks persist intent. It never mutates entity data.
func (r *ChangeRecord) SetState(state ChangeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

// MarkPrePersist snapshots the current state immediately before a persist
// call. The snapshot is only reliable for inspection inside
// persist-completion hooks: records may be reused across commands.
func (r *ChangeRecord) MarkPrePersist() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prePersist = r.state
}

// PrePersistState returns the state captured by MarkPrePersist.
func (r *ChangeRecord) PrePersistState() ChangeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prePersist
}

// Owner returns the session currently tracking the record.
func (r *ChangeRecord) Owner() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// SetOwner reassigns the owning session. Re-attachment overwrites; a record
// never has two simultaneous owners.
func (r *ChangeRecord) SetOwner(owner Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = owner
}

// IsChanged reports whether the named property differs from the snapshot
// captured at attachment or at the last accepted change.
func (r *ChangeRecord) IsChanged(property string) bool {
	r.mu.Lock()
	snapshot, ok := r.snapshot[property]
	r.mu.Unlock()
	current, exists := r.entity.Get(property)
	if !ok {
		return exists
	}
	if !exists {
		return true
	}
	return !reflect.DeepEqual(snapshot, current)
}

// AcceptChanges resets the state to NotChanged and re-baselines the
// snapshot and identifier from the entity's current values.
func (r *ChangeRecord) AcceptChanges() {
	snapshot := SnapshotProperties(r.entity)
	id := EntityID(r.entity)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot = snapshot
	r.entityID = id
	r.state = StateNotChanged
}

// DiscardChanges restores entity property values from the snapshot and
// resets the state to NotChanged.
func (r *ChangeRecord) DiscardChanges() {
	r.mu.Lock()
	snapshot := make(map[string]any, len(r.snapshot))
	for k, v := range r.snapshot {
		snapshot[k] = v
	}
	r.state = StateNotChanged
	r.mu.Unlock()
	for name, value := range snapshot {
		r.entity.Set(name, value)
	}
}

// Snapshot returns a copy of the property values captured at attachment or
// at the last accepted change.
func (r *ChangeRecord) Snapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.snapshot))
	for k, v := range r.snapshot {
		out[k] = v
	}
	return out
}

// Release detaches the record from its owner during session disposal.
// References held against a released record dereference to ErrDisposed.
func (r *ChangeRecord) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.owner = nil
}

// Released reports whether the record has been released.
func (r *ChangeRecord) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
