// Package domain defines the entity capability contracts, change-tracking
// primitives, and persistence interfaces used by the dataspace engine.
package domain

import (
	"fmt"
	"reflect"
	"sort"
)

// PropertyID is the conventional property carrying a store-level identifier.
const PropertyID = "id"

// PropertyBag is the capability every tracked entity exposes: a dynamically
// indexable view over its properties. Typed entities implement it with
// reflection-based accessors (see StructEntity); schema-less entities with a
// native map (see MapEntity). Change records depend only on this capability,
// never on a concrete entity shape.
type PropertyBag interface {
	// Get returns the named property value and whether the property exists.
	Get(name string) (any, bool)
	// Set assigns the named property value.
	Set(name string, value any)
	// PropertyNames lists the entity's property names in a stable order.
	PropertyNames() []string
}

// TypeNamer is implemented by entities that declare their own type name for
// store routing. Entities without it are routed by their Go type name.
type TypeNamer interface {
	EntityTypeName() string
}

// Trackable is the capability of carrying a change-record back-reference.
// Attach fails (returns false) for entities that do not implement it.
type Trackable interface {
	ChangeRecord() *ChangeRecord
	SetChangeRecord(*ChangeRecord)
}

// TrackingSlot is an embeddable back-reference slot satisfying Trackable.
// The slot is excluded from property enumeration and from serialization.
type TrackingSlot struct {
	record *ChangeRecord
}

// ChangeRecord returns the record currently attached to the owning entity.
func (s *TrackingSlot) ChangeRecord() *ChangeRecord { return s.record }

// SetChangeRecord overwrites the attached record. Re-attachment overwrites;
// an entity never has two simultaneous owners.
func (s *TrackingSlot) SetChangeRecord(r *ChangeRecord) { s.record = r }

// TypeNameOf resolves the routing type name for an entity: the declared
// EntityTypeName when present, otherwise the entity's Go type name.
func TypeNameOf(entity any) string {
	if n, ok := entity.(TypeNamer); ok {
		return n.EntityTypeName()
	}
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.Name()
}

// EntityID extracts the store-level identifier from an entity, or "" when
// the id property is absent or not a string.
func EntityID(entity PropertyBag) string {
	v, ok := entity.Get(PropertyID)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// SnapshotProperties copies the entity's current property values into a map.
func SnapshotProperties(entity PropertyBag) map[string]any {
	names := entity.PropertyNames()
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := entity.Get(name); ok {
			out[name] = v
		}
	}
	return out
}

// MapEntity is a schema-less entity backed by a native key-value map.
type MapEntity struct {
	TrackingSlot
	typeName string
	props    map[string]any
}

// NewMapEntity constructs a schema-less entity with the given routing type
// name and initial properties. The initial map is copied.
func NewMapEntity(typeName string, props map[string]any) *MapEntity {
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	return &MapEntity{typeName: typeName, props: cp}
}

// EntityTypeName returns the declared routing type name.
func (e *MapEntity) EntityTypeName() string { return e.typeName }

// Get returns the named property.
func (e *MapEntity) Get(name string) (any, bool) {
	v, ok := e.props[name]
	return v, ok
}

// Set assigns the named property.
func (e *MapEntity) Set(name string, value any) {
	e.props[name] = value
}

// PropertyNames lists property names sorted for deterministic iteration.
func (e *MapEntity) PropertyNames() []string {
	names := make([]string, 0, len(e.props))
	for k := range e.props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// StructEntity wraps a pointer to a struct and exposes its exported fields
// as a property bag through reflection. Field names are matched against
// their `json` tag when present, else the lower-cased field name.
type StructEntity struct {
	TrackingSlot
	typeName string
	target   reflect.Value
	fields   map[string]int
	names    []string
}

// NewStructEntity wraps target, which must be a non-nil pointer to a struct.
func NewStructEntity(typeName string, target any) (*StructEntity, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("struct entity target must be a non-nil struct pointer, got %T", target)
	}
	elem := v.Elem()
	t := elem.Type()
	if typeName == "" {
		typeName = TypeNameOf(target)
	}
	fields := make(map[string]int, t.NumField())
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := propertyName(f)
		fields[name] = i
		names = append(names, name)
	}
	sort.Strings(names)
	return &StructEntity{typeName: typeName, target: elem, fields: fields, names: names}, nil
}

func propertyName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("json"); ok {
		for i := 0; i < len(tag); i++ {
			if tag[i] == ',' {
				tag = tag[:i]
				break
			}
		}
		if tag != "" && tag != "-" {
			return tag
		}
	}
	name := f.Name
	return string(name[0]|0x20) + name[1:]
}

// EntityTypeName returns the declared routing type name.
func (e *StructEntity) EntityTypeName() string { return e.typeName }

// Target returns the wrapped struct pointer.
func (e *StructEntity) Target() any { return e.target.Addr().Interface() }

// Get reads the named field through reflection.
func (e *StructEntity) Get(name string) (any, bool) {
	idx, ok := e.fields[name]
	if !ok {
		return nil, false
	}
	return e.target.Field(idx).Interface(), true
}

// Set writes the named field when it exists and the value is assignable;
// unknown names and incompatible values are ignored, mirroring the
// forgiving write behavior of the map-backed bag.
func (e *StructEntity) Set(name string, value any) {
	idx, ok := e.fields[name]
	if !ok {
		return
	}
	field := e.target.Field(idx)
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(field.Type()) {
		field.Set(v)
	} else if v.Type().ConvertibleTo(field.Type()) {
		field.Set(v.Convert(field.Type()))
	}
}

// PropertyNames lists the exported field names in sorted order.
func (e *StructEntity) PropertyNames() []string {
	return append([]string(nil), e.names...)
}
