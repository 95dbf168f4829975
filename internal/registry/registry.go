// Package registry holds the process-wide catalog of product modules and the
// dependency graph between them.
//
// The registry is loaded once at startup and never mutated afterwards, so it
// is safely shared across request-handling goroutines without locking.
// Transitive closures in both directions are computed eagerly at load time
// and served from maps for the lifetime of the process.
package registry

import (
	"fmt"
	"strings"

	id "orthoplus/pkg/domain"
)

// Definition describes one module as authored in the catalog.
//
// DependsOn lists direct requirements only; the registry expands closures
// itself. MenuRoutes attaches the UI route data to the definition so route
// visibility and the dependency graph cannot drift apart.
type Definition struct {
	Key        id.ModuleKey
	Name       string
	Category   string
	DependsOn  []id.ModuleKey
	MenuRoutes []string
}

// Registry is the immutable, validated module graph.
type Registry struct {
	defs  map[id.ModuleKey]Definition
	order []id.ModuleKey // catalog order, for stable listings

	direct     map[id.ModuleKey][]id.ModuleKey
	dependents map[id.ModuleKey][]id.ModuleKey
	closure    map[id.ModuleKey][]id.ModuleKey // transitive dependencies
	revClosure map[id.ModuleKey][]id.ModuleKey // transitive dependents
}

// CycleError reports a dependency cycle found at load time. The cycle is a
// key path where the last element depends on the first.
type CycleError struct {
	Cycle []id.ModuleKey
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycle)+1)
	for _, k := range e.Cycle {
		parts = append(parts, string(k))
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, string(e.Cycle[0]))
	}
	return "module dependency cycle: " + strings.Join(parts, " -> ")
}

// Load validates the definitions and builds the registry.
//
// Validation failures are authoring defects: duplicate keys, dependencies on
// unknown modules, self-references (a 1-cycle), and longer cycles all refuse
// to load. Callers must treat an error here as fatal at process start.
func Load(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:       make(map[id.ModuleKey]Definition, len(defs)),
		order:      make([]id.ModuleKey, 0, len(defs)),
		direct:     make(map[id.ModuleKey][]id.ModuleKey, len(defs)),
		dependents: make(map[id.ModuleKey][]id.ModuleKey, len(defs)),
		closure:    make(map[id.ModuleKey][]id.ModuleKey, len(defs)),
		revClosure: make(map[id.ModuleKey][]id.ModuleKey, len(defs)),
	}

	for _, def := range defs {
		if def.Key == "" {
			return nil, fmt.Errorf("module definition with empty key")
		}
		if _, dup := r.defs[def.Key]; dup {
			return nil, fmt.Errorf("duplicate module definition %q", def.Key)
		}
		r.defs[def.Key] = def
		r.order = append(r.order, def.Key)
	}

	for _, def := range defs {
		for _, dep := range def.DependsOn {
			if _, known := r.defs[dep]; !known {
				return nil, fmt.Errorf("module %q depends on unknown module %q", def.Key, dep)
			}
			r.direct[def.Key] = append(r.direct[def.Key], dep)
			r.dependents[dep] = append(r.dependents[dep], def.Key)
		}
	}

	if cycle := findCycle(r.order, r.direct); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	for _, key := range r.order {
		r.closure[key] = id.SortModuleKeys(expand(key, r.direct))
		r.revClosure[key] = id.SortModuleKeys(expand(key, r.dependents))
	}

	return r, nil
}

// findCycle runs an iteratively-deepened DFS with a recursion stack. It
// returns the first cycle found as a key path, or nil when the graph is
// acyclic.
func findCycle(order []id.ModuleKey, edges map[id.ModuleKey][]id.ModuleKey) []id.ModuleKey {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[id.ModuleKey]int, len(order))
	var stack []id.ModuleKey

	var visit func(key id.ModuleKey) []id.ModuleKey
	visit = func(key id.ModuleKey) []id.ModuleKey {
		state[key] = inStack
		stack = append(stack, key)
		for _, dep := range edges[key] {
			switch state[dep] {
			case inStack:
				// Slice the stack from the first occurrence of dep to
				// recover the exact cycle path.
				for i, k := range stack {
					if k == dep {
						return append([]id.ModuleKey(nil), stack[i:]...)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[key] = done
		return nil
	}

	for _, key := range order {
		if state[key] == unvisited {
			if cycle := visit(key); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// expand computes the transitive closure of key over edges, excluding key
// itself.
func expand(key id.ModuleKey, edges map[id.ModuleKey][]id.ModuleKey) []id.ModuleKey {
	seen := map[id.ModuleKey]bool{key: true}
	var out []id.ModuleKey
	frontier := append([]id.ModuleKey(nil), edges[key]...)
	for len(frontier) > 0 {
		next := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		frontier = append(frontier, edges[next]...)
	}
	return out
}

// Contains reports whether key is part of the catalog.
func (r *Registry) Contains(key id.ModuleKey) bool {
	_, ok := r.defs[key]
	return ok
}

// Definition returns the catalog entry for key.
func (r *Registry) Definition(key id.ModuleKey) (Definition, bool) {
	def, ok := r.defs[key]
	return def, ok
}

// Keys returns all module keys in catalog order.
func (r *Registry) Keys() []id.ModuleKey {
	return append([]id.ModuleKey(nil), r.order...)
}

// DependenciesOf returns the direct dependencies of key.
func (r *Registry) DependenciesOf(key id.ModuleKey) []id.ModuleKey {
	return append([]id.ModuleKey(nil), r.direct[key]...)
}

// TransitiveDependenciesOf returns the full dependency closure of key,
// sorted. Computed once at load; callers must not mutate the result beyond
// the returned copy.
func (r *Registry) TransitiveDependenciesOf(key id.ModuleKey) []id.ModuleKey {
	return append([]id.ModuleKey(nil), r.closure[key]...)
}

// DependentsOf returns the modules that directly depend on key.
func (r *Registry) DependentsOf(key id.ModuleKey) []id.ModuleKey {
	return append([]id.ModuleKey(nil), r.dependents[key]...)
}

// TransitiveDependentsOf returns the full reverse closure of key, sorted.
func (r *Registry) TransitiveDependentsOf(key id.ModuleKey) []id.ModuleKey {
	return append([]id.ModuleKey(nil), r.revClosure[key]...)
}
