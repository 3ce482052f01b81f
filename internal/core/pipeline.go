package core

import (
	"context"
	"fmt"

	"dataspace/pkg/domain"
)

// ConversionPair remembers a projected entity alongside its client-facing
// source for post-persist back-conversion.
type ConversionPair struct {
	// Index of the matching response envelope.
	Index     int
	Source    domain.PropertyBag
	Converted domain.PropertyBag
}

// Hooks customize the persist pipeline around the backend writes. A nil
// hook falls back to the default behavior: PrePersist is a no-op,
// PostPersist converts persisted domain entities back into their client
// representations in place.
type Hooks struct {
	PrePersist  func(ctx context.Context, scope *PersistScope, pairs []ConversionPair) error
	PostPersist func(ctx context.Context, scope *PersistScope, pairs []ConversionPair) error
}

// Pipeline bridges client-facing entity representations to the domain
// representations their owning stores require, persists them, and projects
// backend-assigned values back into the client objects.
type Pipeline struct {
	deps  Dependencies
	hooks Hooks
}

// NewPipeline constructs the persist pipeline with default hooks.
func NewPipeline(deps Dependencies) *Pipeline {
	return &Pipeline{deps: deps}
}

// NewPipelineWithHooks constructs the pipeline with custom extension hooks.
func NewPipelineWithHooks(deps Dependencies, hooks Hooks) *Pipeline {
	return &Pipeline{deps: deps, hooks: hooks}
}

// PersistBatch turns a batch of possibly-edited entities into committed
// writes and reports back a clean result. An empty batch returns an empty
// response without opening any session. Conversion completes for all
// envelopes before any backend write begins; the scope is disposed on every
// exit path.
func (p *Pipeline) PersistBatch(ctx context.Context, batch []Envelope) ([]Envelope, error) {
	if len(batch) == 0 {
		return []domain.Envelope{}, nil
	}

	scope, err := NewPersistScope(ctx, batch, p.deps)
	if err != nil {
		return nil, err
	}
	defer scope.Dispose()

	response := make([]domain.Envelope, 0, len(batch))
	pairs := make([]ConversionPair, 0, len(batch))
	for _, env := range batch {
		if env.Entity == nil {
			response = append(response, env)
			continue
		}
		pair, respEnv, err := p.convertEnvelope(ctx, scope, env)
		if err != nil {
			return nil, err
		}
		pair.Index = len(response)
		pairs = append(pairs, pair)
		response = append(response, respEnv)
	}

	if p.hooks.PrePersist != nil {
		if err := p.hooks.PrePersist(ctx, scope, pairs); err != nil {
			return nil, err
		}
	}

	if err := scope.PersistAll(ctx); err != nil {
		return nil, err
	}

	post := p.hooks.PostPersist
	if post == nil {
		post = p.convertBack
	}
	if err := post(ctx, scope, pairs); err != nil {
		return nil, err
	}

	for i := range response {
		if response[i].ChangeState != domain.StateDeleted {
			response[i].ChangeState = domain.StateNotChanged
		}
	}
	return response, nil
}

func (p *Pipeline) convertEnvelope(ctx context.Context, scope *PersistScope, env domain.Envelope) (ConversionPair, domain.Envelope, error) {
	clientType := envelopeTypeName(env)
	domainType := p.deps.Types.Project(clientType)

	source := env.Entity
	converted := source
	if domainType != clientType {
		clientSess, err := scope.GetOrCreate(ctx, clientType)
		if err != nil {
			return ConversionPair{}, domain.Envelope{}, err
		}
		domainSess, err := scope.GetOrCreate(ctx, domainType)
		if err != nil {
			return ConversionPair{}, domain.Envelope{}, err
		}
		out, err := p.deps.Converter.Convert(ctx, source, domain.ConversionContext{
			Source:     clientSess,
			Target:     domainSess,
			TargetType: domainType,
		})
		if err != nil {
			return ConversionPair{}, domain.Envelope{}, domain.ConversionError{TypeName: clientType, Err: err}
		}
		converted = out
		if _, ok := domainSess.RecordFor(converted); !ok {
			if _, err := domainSess.Attach(converted, env.ChangeState); err != nil {
				return ConversionPair{}, domain.Envelope{}, fmt.Errorf("track converted %s: %w", domainType, err)
			}
		}
		if env.ChangeState == domain.StateDeleted {
			// Conversion does not propagate deletion intent by itself.
			if rec, ok := domainSess.RecordFor(converted); ok {
				rec.SetState(domain.StateDeleted)
			}
		}
	}

	respEnv := domain.Envelope{
		EntityTypeName: clientType,
		ChangeState:    env.ChangeState,
	}
	if id := domain.EntityID(source); id != "" {
		respEnv.OriginalEntityID = id
	}
	if env.ChangeState != domain.StateDeleted {
		respEnv.Entity = source
	}
	return ConversionPair{Source: source, Converted: converted}, respEnv, nil
}

// convertBack is the default post-persist hook: for every conversion pair
// whose domain entity differs from the client entity and that was not
// deleted, project the persisted values back into the original client
// object in place, surfacing backend-assigned ids and timestamps.
func (p *Pipeline) convertBack(ctx context.Context, _ *PersistScope, pairs []ConversionPair) error {
	for _, pair := range pairs {
		if pair.Converted == pair.Source {
			continue
		}
		rec, ok := domain.GetAttached(pair.Converted)
		if ok && rec.State() == domain.StateDeleted {
			continue
		}
		clientType := envelopeTypeNameOf(pair.Source)
		var sourceSess, targetSess domain.Session
		if ok {
			sourceSess = rec.Owner()
		}
		if clientRec, ok := domain.GetAttached(pair.Source); ok {
			targetSess = clientRec.Owner()
		}
		out, err := p.deps.Converter.Convert(ctx, pair.Converted, domain.ConversionContext{
			Source:     sourceSess,
			Target:     targetSess,
			TargetType: clientType,
		})
		if err != nil {
			return domain.ConversionError{TypeName: clientType, Err: err}
		}
		if out != pair.Source {
			for _, name := range out.PropertyNames() {
				if v, ok := out.Get(name); ok {
					pair.Source.Set(name, v)
				}
			}
		}
	}
	return nil
}

func envelopeTypeNameOf(entity domain.PropertyBag) string {
	return domain.TypeNameOf(entity)
}
