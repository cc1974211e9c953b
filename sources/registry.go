package sources

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"reportpilot/faults"
	"reportpilot/models"
)

// Source is one registered data source. Implementations must be safe for
// concurrent use by several sessions.
type Source interface {
	ID() string
	Kind() string
	Schema(ctx context.Context) (*models.SourceSchema, error)
	RunQuery(ctx context.Context, query string) (*models.TabularResult, error)
	Invoke(ctx context.Context, capability string, args map[string]interface{}) (*models.TabularResult, error)
	Close() error
}

// Lookup is the read side of a registry, all the plan executor needs.
type Lookup interface {
	Get(id string) (Source, bool)
}

type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[s.ID()]; exists {
		return fmt.Errorf("source %s already registered", s.ID())
	}
	r.sources[s.ID()] = s
	return nil
}

func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	return s, ok
}

// List returns sources ordered by id.
func (r *Registry) List() []Source {
	r.mu.RLock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Schemas collects every source's declared schema. A source that cannot
// describe itself is logged and left out of planning.
func (r *Registry) Schemas(ctx context.Context) []models.SourceSchema {
	var out []models.SourceSchema
	for _, s := range r.List() {
		schema, err := s.Schema(ctx)
		if err != nil {
			log.Printf("[SOURCES] schema for %s unavailable: %v", s.ID(), err)
			continue
		}
		out = append(out, *schema)
	}
	return out
}

func (r *Registry) Close() error {
	var firstErr error
	for _, s := range r.List() {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Overlay resolves ids against extra first, then base. It lets a strategy add
// a session's working set to the shared registry without mutating it.
type Overlay struct {
	base  Lookup
	extra map[string]Source
}

func NewOverlay(base Lookup, extra ...Source) *Overlay {
	o := &Overlay{base: base, extra: make(map[string]Source, len(extra))}
	for _, s := range extra {
		o.extra[s.ID()] = s
	}
	return o
}

func (o *Overlay) Get(id string) (Source, bool) {
	if s, ok := o.extra[id]; ok {
		return s, true
	}
	if o.base == nil {
		return nil, false
	}
	return o.base.Get(id)
}

func unsupported(id, op string) error {
	return faults.New(faults.Source, op, "source %s does not support %s", id, op)
}
