package core

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"dataspace/pkg/domain"
)

// CommandKind names the operation families a backend implementation can
// provide.
type CommandKind string

// Supported command kinds.
const (
	CommandCreateEntity CommandKind = "create_entity"
	CommandExecute      CommandKind = "execute"
	CommandPersistSet   CommandKind = "persist_set"
)

// CreateEntityCommand materializes a new tracked entity on a session.
type CreateEntityCommand interface {
	Name() string
	CreateEntity(ctx context.Context, sess domain.Session, typeName string) (domain.PropertyBag, error)
}

// ExecuteCommand runs an arbitrary backend-specific operation.
type ExecuteCommand interface {
	Name() string
	Execute(ctx context.Context, sess domain.Session, operation string, args map[string]any) (any, error)
}

type registration struct {
	backend  reflect.Type
	priority int
	override bool
	command  any
	seq      int
}

// CommandRegistry selects backend-specific command implementations per
// session type. Registrations are resolved at startup; selection prefers an
// exact backend-type match, then the most specific registered interface the
// session's concrete type satisfies, with priority breaking ties (lower
// value ranks higher). A session type no registration covers resolves to a
// typed UnsupportedBackendError, never a nil command.
type CommandRegistry struct {
	mu      sync.RWMutex
	entries map[CommandKind][]registration
	seq     int
}

// NewCommandRegistry constructs an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{entries: make(map[CommandKind][]registration)}
}

// Register binds a command implementation to a backend type, which is
// either a session's concrete type or an interface it satisfies. A second
// registration for the same backend type replaces the first only when
// marked as an override.
func (r *CommandRegistry) Register(kind CommandKind, backend reflect.Type, priority int, override bool, command any) error {
	if backend == nil {
		return fmt.Errorf("register %s command: backend type required", kind)
	}
	if command == nil {
		return fmt.Errorf("register %s command for %s: command required", kind, backend)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	entry := registration{backend: backend, priority: priority, override: override, command: command, seq: r.seq}
	regs := r.entries[kind]
	for i, existing := range regs {
		if existing.backend == backend {
			if !override {
				return fmt.Errorf("register %s command for %s: already registered", kind, backend)
			}
			regs[i] = entry
			return nil
		}
	}
	r.entries[kind] = append(regs, entry)
	return nil
}

// Resolve selects the command implementation for the session's backend
// type.
func (r *CommandRegistry) Resolve(kind CommandKind, sess domain.Session) (any, error) {
	sessType := reflect.TypeOf(sess)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *registration
	bestSpecificity := -1
	for i := range r.entries[kind] {
		entry := &r.entries[kind][i]
		specificity, ok := match(entry.backend, sessType)
		if !ok {
			continue
		}
		switch {
		case specificity > bestSpecificity:
			best, bestSpecificity = entry, specificity
		case specificity == bestSpecificity && best != nil:
			if entry.priority < best.priority || (entry.priority == best.priority && entry.seq < best.seq) {
				best = entry
			}
		}
	}
	if best == nil {
		return nil, domain.UnsupportedBackendError{Kind: string(kind), Backend: sessType.String()}
	}
	return best.command, nil
}

// match reports whether the registered backend type covers the session's
// concrete type, and how specifically. Exact concrete matches rank above
// any interface; among interfaces, more methods means more specific.
func match(backend, sessType reflect.Type) (int, bool) {
	if backend == sessType {
		return int(^uint(0) >> 1), true
	}
	if backend.Kind() == reflect.Interface && sessType.Implements(backend) {
		return backend.NumMethod(), true
	}
	return 0, false
}

// ResolvePersistSet resolves the persist-change-set command for a session.
func ResolvePersistSet(r *CommandRegistry, sess domain.Session) (domain.PersistSetCommand, error) {
	cmd, err := r.Resolve(CommandPersistSet, sess)
	if err != nil {
		return nil, err
	}
	typed, ok := cmd.(domain.PersistSetCommand)
	if !ok {
		return nil, fmt.Errorf("persist_set registration for %T is not a PersistSetCommand", cmd)
	}
	return typed, nil
}

// ResolveCreateEntity resolves the create-entity command for a session.
func ResolveCreateEntity(r *CommandRegistry, sess domain.Session) (CreateEntityCommand, error) {
	cmd, err := r.Resolve(CommandCreateEntity, sess)
	if err != nil {
		return nil, err
	}
	typed, ok := cmd.(CreateEntityCommand)
	if !ok {
		return nil, fmt.Errorf("create_entity registration for %T is not a CreateEntityCommand", cmd)
	}
	return typed, nil
}

// ResolveExecute resolves the execute command for a session.
func ResolveExecute(r *CommandRegistry, sess domain.Session) (ExecuteCommand, error) {
	cmd, err := r.Resolve(CommandExecute, sess)
	if err != nil {
		return nil, err
	}
	typed, ok := cmd.(ExecuteCommand)
	if !ok {
		return nil, fmt.Errorf("execute registration for %T is not an ExecuteCommand", cmd)
	}
	return typed, nil
}

// PersistCommandBinder is implemented by sessions that accept a dispatched
// persist command after construction.
type PersistCommandBinder interface {
	BindPersistSetCommand(domain.PersistSetCommand)
}

// DispatchingFactory wraps a session factory and binds registry-resolved
// backend commands onto each session it opens.
type DispatchingFactory struct {
	inner    domain.SessionFactory
	registry *CommandRegistry
}

// NewDispatchingFactory wires command dispatch into session creation.
func NewDispatchingFactory(inner domain.SessionFactory, registry *CommandRegistry) *DispatchingFactory {
	return &DispatchingFactory{inner: inner, registry: registry}
}

// CreateSession implements domain.SessionFactory.
func (f *DispatchingFactory) CreateSession(ctx context.Context, store string) (domain.Session, error) {
	sess, err := f.inner.CreateSession(ctx, store)
	if err != nil {
		return nil, err
	}
	binder, ok := sess.(PersistCommandBinder)
	if !ok {
		return sess, nil
	}
	cmd, err := ResolvePersistSet(f.registry, sess)
	if err != nil {
		_ = sess.Dispose()
		return nil, err
	}
	binder.BindPersistSetCommand(cmd)
	return sess, nil
}
