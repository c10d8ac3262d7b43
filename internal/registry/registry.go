package registry

import (
	"log/slog"
	"sync"
)

// subRegistry holds one capability category (tools, resources, or
// prompts): a map from prefixed id to record, plus a reverse index from
// upstream name to the set of prefixed ids it owns. This mirrors the
// map+sync.RWMutex shape of the teacher's provider.Registry, generalized
// across the three capability categories with a pair of accessor
// functions instead of duplicating the type per category.
type subRegistry[T any] struct {
	mu         sync.RWMutex
	items      map[string]T
	byUpstream map[string]map[string]struct{}
	idOf       func(T) string
	upstreamOf func(T) string
	kind       string
}

func newSubRegistry[T any](kind string, idOf, upstreamOf func(T) string) *subRegistry[T] {
	return &subRegistry[T]{
		items:      make(map[string]T),
		byUpstream: make(map[string]map[string]struct{}),
		idOf:       idOf,
		upstreamOf: upstreamOf,
		kind:       kind,
	}
}

// register atomically replaces upstream's prior entries with items. On a
// prefixed-id collision with an entry owned by a different upstream, the
// new entry is dropped and the pre-existing one wins (spec.md §4.3).
func (r *subRegistry[T]) register(upstream string, items []T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearLocked(upstream)

	owned := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := r.idOf(item)
		if existing, ok := r.items[id]; ok && r.upstreamOf(existing) != upstream {
			slog.Warn("dropping colliding capability",
				"kind", r.kind, "prefixed_id", id, "upstream", upstream,
				"owner", r.upstreamOf(existing))
			continue
		}
		r.items[id] = item
		owned[id] = struct{}{}
	}
	if len(owned) > 0 {
		r.byUpstream[upstream] = owned
	}
}

func (r *subRegistry[T]) get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[id]
	return v, ok
}

func (r *subRegistry[T]) getAll() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for _, v := range r.items {
		out = append(out, v)
	}
	return out
}

// ownedCount reports how many prefixed ids upstream currently owns, used
// by tests to observe drops on collision (spec.md §8 scenario 5).
func (r *subRegistry[T]) ownedCount(upstream string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUpstream[upstream])
}

func (r *subRegistry[T]) clearUpstream(upstream string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked(upstream)
}

// clearLocked removes every entry upstream owns. Callers must hold r.mu.
func (r *subRegistry[T]) clearLocked(upstream string) {
	for id := range r.byUpstream[upstream] {
		delete(r.items, id)
	}
	delete(r.byUpstream, upstream)
}

func (r *subRegistry[T]) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]T)
	r.byUpstream = make(map[string]map[string]struct{})
}

// Registry is the fused capability namespace: three independent
// sub-registries sharing the same shape (spec.md §4.3).
type Registry struct {
	tools     *subRegistry[Tool]
	resources *subRegistry[Resource]
	prompts   *subRegistry[Prompt]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools: newSubRegistry("tool", func(t Tool) string { return t.PrefixedID },
			func(t Tool) string { return t.Upstream }),
		resources: newSubRegistry("resource", func(r Resource) string { return r.PrefixedURI },
			func(r Resource) string { return r.Upstream }),
		prompts: newSubRegistry("prompt", func(p Prompt) string { return p.PrefixedID },
			func(p Prompt) string { return p.Upstream }),
	}
}

// RegisterTools replaces upstream's prior tool set with tools.
func (r *Registry) RegisterTools(upstream string, tools []Tool) { r.tools.register(upstream, tools) }

// RegisterResources replaces upstream's prior resource set with resources.
func (r *Registry) RegisterResources(upstream string, resources []Resource) {
	r.resources.register(upstream, resources)
}

// RegisterPrompts replaces upstream's prior prompt set with prompts.
func (r *Registry) RegisterPrompts(upstream string, prompts []Prompt) {
	r.prompts.register(upstream, prompts)
}

// GetTool returns the tool record for a prefixed id, if any.
func (r *Registry) GetTool(prefixedID string) (Tool, bool) { return r.tools.get(prefixedID) }

// GetResource returns the resource record for a prefixed URI, if any.
func (r *Registry) GetResource(prefixedURI string) (Resource, bool) {
	return r.resources.get(prefixedURI)
}

// GetPrompt returns the prompt record for a prefixed id, if any.
func (r *Registry) GetPrompt(prefixedID string) (Prompt, bool) { return r.prompts.get(prefixedID) }

// GetAllTools returns every registered tool.
func (r *Registry) GetAllTools() []Tool { return r.tools.getAll() }

// GetAllResources returns every registered resource.
func (r *Registry) GetAllResources() []Resource { return r.resources.getAll() }

// GetAllPrompts returns every registered prompt.
func (r *Registry) GetAllPrompts() []Prompt { return r.prompts.getAll() }

// ToolCount returns how many prefixed tool ids upstream currently owns.
func (r *Registry) ToolCount(upstream string) int { return r.tools.ownedCount(upstream) }

// ResourceCount returns how many prefixed resource ids upstream currently owns.
func (r *Registry) ResourceCount(upstream string) int { return r.resources.ownedCount(upstream) }

// PromptCount returns how many prefixed prompt ids upstream currently owns.
func (r *Registry) PromptCount(upstream string) int { return r.prompts.ownedCount(upstream) }

// ClearUpstream removes every capability upstream owns across all three
// categories. Called before any reconnection attempt and on removal
// (spec.md §3 "Lifecycle").
func (r *Registry) ClearUpstream(upstream string) {
	r.tools.clearUpstream(upstream)
	r.resources.clearUpstream(upstream)
	r.prompts.clearUpstream(upstream)
}

// Clear empties the entire registry.
func (r *Registry) Clear() {
	r.tools.clear()
	r.resources.clear()
	r.prompts.clear()
}

// Counts reports the registered totals per capability category, used by
// the downstream /health and /mcp/info endpoints (spec.md §4.6). The
// connected upstream count comes from the upstream manager, not from here.
type Counts struct {
	Tools     int
	Resources int
	Prompts   int
}

// Snapshot returns the current totals.
func (r *Registry) Snapshot() Counts {
	return Counts{
		Tools:     len(r.tools.getAll()),
		Resources: len(r.resources.getAll()),
		Prompts:   len(r.prompts.getAll()),
	}
}
