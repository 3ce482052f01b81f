// Package core implements the dataspace persistence orchestration engine:
// store routing, persist scopes, the conversion pipeline, and command
// dispatch. Collaborators (resolver, session factory, converter, metrics)
// are passed in explicitly; there is no ambient container.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"dataspace/pkg/domain"
)

// Dependencies bundles the collaborators the engine receives explicitly.
type Dependencies struct {
	Resolver  domain.StoreNameResolver
	Factory   domain.SessionFactory
	Converter domain.Converter
	Types     *TypeMap
	Ambient   domain.OperationContext
	Logger    *slog.Logger
	Metrics   domain.MetricsRecorder
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Space routes entities to open backend sessions. Looking up a store name
// not yet open creates and memoizes a session via the injected factory. A
// space is owned by exactly one logical unit of work.
type Space struct {
	deps Dependencies

	mu       sync.Mutex
	sessions map[string]domain.Session
	order    []string
	disposed bool
}

// NewSpace constructs an empty store router.
func NewSpace(deps Dependencies) *Space {
	return &Space{
		deps:     deps,
		sessions: make(map[string]domain.Session),
	}
}

// GetOrCreate resolves the store name for an entity type and returns the
// memoized session for it, opening one on first use.
func (s *Space) GetOrCreate(ctx context.Context, entityTypeName string) (Session, error) {
	store, err := s.deps.Resolver.Resolve(entityTypeName, s.deps.Ambient)
	if err != nil {
		return nil, fmt.Errorf("resolve store for %s: %w", entityTypeName, err)
	}
	return s.session(ctx, store)
}

func (s *Space) session(ctx context.Context, store string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, domain.ErrSessionDisposed
	}
	if sess, ok := s.sessions[store]; ok {
		return sess, nil
	}
	sess, err := s.deps.Factory.CreateSession(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("open session for store %s: %w", store, err)
	}
	s.sessions[store] = sess
	s.order = append(s.order, store)
	return sess, nil
}

// Initialize clears prior sessions, partitions the seed envelopes by
// resolved store name, and opens one session per partition seeded with that
// partition's entities and their carried change states.
func (s *Space) Initialize(ctx context.Context, seeds []Envelope) error {
	s.disposeSessions()

	type partition struct {
		store string
		seeds []domain.Envelope
	}
	var parts []partition
	index := make(map[string]int)
	for _, env := range seeds {
		if env.Entity == nil {
			continue
		}
		store, err := s.deps.Resolver.Resolve(envelopeTypeName(env), s.deps.Ambient)
		if err != nil {
			return fmt.Errorf("resolve store for %s: %w", envelopeTypeName(env), err)
		}
		i, ok := index[store]
		if !ok {
			i = len(parts)
			index[store] = i
			parts = append(parts, partition{store: store})
		}
		parts[i].seeds = append(parts[i].seeds, env)
	}

	for _, part := range parts {
		sess, err := s.session(ctx, part.store)
		if err != nil {
			return err
		}
		for _, env := range part.seeds {
			if _, err := sess.Attach(env.Entity, env.ChangeState); err != nil {
				return fmt.Errorf("seed store %s: %w", part.store, err)
			}
		}
	}
	return nil
}

// Sessions returns the open sessions in creation order.
func (s *Space) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Session, 0, len(s.order))
	for _, store := range s.order {
		out = append(out, s.sessions[store])
	}
	return out
}

// Dispose disposes every open session and clears the map. Safe to call more
// than once. Teardown failures are logged, not propagated: by this point
// the caller already holds the meaningful result or error.
func (s *Space) Dispose() {
	s.disposeSessions()
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
}

func (s *Space) disposeSessions() {
	s.mu.Lock()
	order := s.order
	sessions := s.sessions
	s.order = nil
	s.sessions = make(map[string]domain.Session)
	s.mu.Unlock()

	for _, store := range order {
		if err := sessions[store].Dispose(); err != nil {
			s.deps.logger().Warn("session teardown failed", "store", store, "error", err)
		}
	}
}

func envelopeTypeName(env domain.Envelope) string {
	if env.EntityTypeName != "" {
		return env.EntityTypeName
	}
	return domain.TypeNameOf(env.Entity)
}
