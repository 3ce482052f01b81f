package domain

// Envelope wraps one entity crossing the persist boundary: the entity (nil
// for deletions in responses), its change state, the identifier it arrived
// with, and the client type name it is projected from.
type Envelope struct {
	EntityTypeName   string      `json:"entity_type_name"`
	OriginalEntityID string      `json:"original_entity_id,omitempty"`
	ChangeState      ChangeState `json:"change_state"`
	Entity           PropertyBag `json:"-"`
}
