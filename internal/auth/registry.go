package auth

import (
	"context"
	"sync"
	"time"
)

// Registry holds one Resolver per portal session id. Resolvers are created
// and hydrated on first use and dropped after sitting idle.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	factory func(id string) *Resolver
	now     func() time.Time
}

type registryEntry struct {
	resolver *Resolver
	seen     time.Time
}

func NewRegistry(factory func(id string) *Resolver) *Registry {
	return &Registry{
		entries: map[string]*registryEntry{},
		factory: factory,
		now:     time.Now,
	}
}

func (g *Registry) Get(ctx context.Context, id string) (*Resolver, error) {
	if r, ok := g.touch(id); ok {
		return r, nil
	}

	// Hydrating hits the session store, so it runs without holding mu.
	r := g.factory(id)
	if err := r.Init(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[id]; ok {
		e.seen = g.now()
		return e.resolver, nil
	}
	g.entries[id] = &registryEntry{resolver: r, seen: g.now()}
	return r, nil
}

func (g *Registry) touch(id string) (*Resolver, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[id]
	if !ok {
		return nil, false
	}
	e.seen = g.now()
	return e.resolver, true
}

func (g *Registry) Forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, id)
}

// Sweep drops resolvers unused for longer than idle. Pending selections lose
// their credentials; persisted sessions hydrate again on the next request.
func (g *Registry) Sweep(idle time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-idle)
	dropped := 0
	for id, e := range g.entries {
		if e.seen.Before(cutoff) && e.resolver.idle() {
			delete(g.entries, id)
			dropped++
		}
	}
	return dropped
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
