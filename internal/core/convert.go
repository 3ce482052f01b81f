package core

import (
	"context"
	"fmt"
	"sync"

	"dataspace/pkg/domain"
)

// TypeMap records the projection between client-facing entity types and the
// domain types their owning stores require. Unregistered types project to
// themselves.
type TypeMap struct {
	mu             sync.RWMutex
	domainByClient map[string]string
	clientByDomain map[string]string
}

// NewTypeMap constructs an empty projection registry.
func NewTypeMap() *TypeMap {
	return &TypeMap{
		domainByClient: make(map[string]string),
		clientByDomain: make(map[string]string),
	}
}

// Register declares that clientType projects to domainType at the persist
// boundary. Registering a type twice overwrites the earlier projection.
func (m *TypeMap) Register(clientType, domainType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainByClient[clientType] = domainType
	m.clientByDomain[domainType] = clientType
}

// Project resolves the domain type for a client type, falling back to the
// identity mapping.
func (m *TypeMap) Project(clientType string) string {
	if m == nil {
		return clientType
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if domainType, ok := m.domainByClient[clientType]; ok {
		return domainType
	}
	return clientType
}

// ClientFor resolves the client type a domain type was projected from.
func (m *TypeMap) ClientFor(domainType string) (string, bool) {
	if m == nil {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	clientType, ok := m.clientByDomain[domainType]
	return clientType, ok
}

// EntityFactory builds an empty entity for a target type name. Returning
// nil signals the factory does not know the type.
type EntityFactory func(typeName string) domain.PropertyBag

// PropertyConverter is the default converter: it materializes the target
// type through an entity factory and copies properties across bags. With no
// explicit target type the source passes through unchanged.
type PropertyConverter struct {
	factory EntityFactory
}

// NewPropertyConverter constructs the converter. A nil factory defaults to
// schema-less map entities.
func NewPropertyConverter(factory EntityFactory) *PropertyConverter {
	if factory == nil {
		factory = func(typeName string) domain.PropertyBag {
			return domain.NewMapEntity(typeName, nil)
		}
	}
	return &PropertyConverter{factory: factory}
}

// Convert implements domain.Converter.
func (c *PropertyConverter) Convert(_ context.Context, source domain.PropertyBag, cc domain.ConversionContext) (domain.PropertyBag, error) {
	if cc.TargetType == "" {
		return source, nil
	}
	target := c.factory(cc.TargetType)
	if target == nil {
		return nil, fmt.Errorf("no entity factory for type %s", cc.TargetType)
	}
	for _, name := range source.PropertyNames() {
		if v, ok := source.Get(name); ok {
			target.Set(name, v)
		}
	}
	return target, nil
}
