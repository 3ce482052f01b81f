package domain

import "context"

// Ref is a lazy by-id link from an owner entity to a target entity. It
// holds a back-reference to the owner's change record, never to the target,
// so the link does not extend the target's lifetime. Dereferencing fetches
// the target through the owner's current store session.
type Ref struct {
	owner      *ChangeRecord
	targetType string
	idProperty string
}

// NewRef builds a reference rooted at the owner's change record, naming the
// target type and the owner property that carries the target id.
func NewRef(owner *ChangeRecord, targetType, idProperty string) *Ref {
	return &Ref{owner: owner, targetType: targetType, idProperty: idProperty}
}

// Deref resolves the reference. An empty id short-circuits to (nil, nil)
// without a fetch. A released owner record yields ErrDisposed.
func (r *Ref) Deref(ctx context.Context) (PropertyBag, error) {
	if r.owner == nil || r.owner.Released() {
		return nil, ErrDisposed
	}
	v, ok := r.owner.Entity().Get(r.idProperty)
	if !ok {
		return nil, nil
	}
	id, _ := v.(string)
	if id == "" {
		return nil, nil
	}
	owner := r.owner.Owner()
	if owner == nil {
		return nil, ErrDisposed
	}
	return owner.Load(ctx, r.targetType, id)
}
