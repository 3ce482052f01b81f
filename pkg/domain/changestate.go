package domain

// ChangeState is the mutually exclusive tag describing what write, if any,
// an entity requires. It is the single source of truth for the persist
// translation performed by backend commands.
type ChangeState string

// Supported change states carried by change records and batch envelopes.
const (
	// StateNotChanged marks an entity requiring no write.
	StateNotChanged ChangeState = "not_changed"
	// StateAdded marks an entity that must be inserted.
	StateAdded ChangeState = "added"
	// StateChanged marks an existing entity that must be replaced.
	StateChanged ChangeState = "changed"
	// StateAddedOrChanged marks an entity to upsert: the backend decides
	// insert versus replace without a prior existence check.
	StateAddedOrChanged ChangeState = "added_or_changed"
	// StateDeleted marks an entity that must be removed. Deleted is terminal
	// for the duration of a response.
	StateDeleted ChangeState = "deleted"
)

// Valid reports whether s is one of the supported change states.
func (s ChangeState) Valid() bool {
	switch s {
	case StateNotChanged, StateAdded, StateChanged, StateAddedOrChanged, StateDeleted:
		return true
	}
	return false
}

// RequiresWrite reports whether the state translates to a write primitive.
func (s ChangeState) RequiresWrite() bool {
	return s.Valid() && s != StateNotChanged
}
