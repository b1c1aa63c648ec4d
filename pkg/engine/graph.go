package engine

import (
	"fmt"
	"strings"
)

// Graph is the dependency graph derived from a set of resource declarations.
// An edge (A, B) means B depends on A: A must be applied before B. Edges are
// inferred from parent links, explicit dependsOn entries, and references found
// inside resource properties.
type Graph struct {
	// resources maps identity to declaration.
	resources map[ResourceID]*Resource

	// order is declaration order, used as the deterministic tie-breaker.
	order []ResourceID

	// dependents maps a resource to the resources that depend on it.
	dependents map[ResourceID][]ResourceID

	// dependencies maps a resource to the resources it depends on.
	dependencies map[ResourceID][]ResourceID
}

// NewGraph builds the dependency graph from an unordered declaration set. It
// fails with DUPLICATE_IDENTITY when two resources share (kind, name), and
// with DANGLING_REFERENCE when a parent, dependsOn entry, or property
// reference names a resource absent from the set.
func NewGraph(resources []Resource) (*Graph, error) {
	g := &Graph{
		resources:    make(map[ResourceID]*Resource, len(resources)),
		order:        make([]ResourceID, 0, len(resources)),
		dependents:   make(map[ResourceID][]ResourceID),
		dependencies: make(map[ResourceID][]ResourceID),
	}

	for i := range resources {
		r := &resources[i]
		if r.ID.Kind == "" || r.ID.Name == "" {
			return nil, NewPermanentError(ErrCodeValidation,
				fmt.Sprintf("resource %d has incomplete identity %q", i, r.ID), nil)
		}
		if _, exists := g.resources[r.ID]; exists {
			return nil, NewPermanentError(ErrCodeDuplicateIdentity,
				fmt.Sprintf("duplicate resource identity %s", r.ID), nil)
		}
		g.resources[r.ID] = r
		g.order = append(g.order, r.ID)
	}

	for _, id := range g.order {
		r := g.resources[id]
		for _, dep := range g.inferDependencies(r) {
			if _, exists := g.resources[dep]; !exists {
				return nil, NewPermanentError(ErrCodeDanglingReference,
					fmt.Sprintf("%s depends on undeclared resource %s", id, dep), nil).
					WithResource(id)
			}
			g.addEdge(dep, id)
		}
	}

	return g, nil
}

// inferDependencies collects the dependency identities of r in a stable
// order: parent, then dependsOn, then property references.
func (g *Graph) inferDependencies(r *Resource) []ResourceID {
	var deps []ResourceID
	if r.Parent != nil {
		deps = append(deps, *r.Parent)
	}
	deps = append(deps, r.DependsOn...)
	// Walk properties in declaration-independent but stable order.
	for _, key := range sortedKeys(r.Properties) {
		if ref := r.Properties[key].Ref; ref != nil {
			deps = append(deps, ref.Target)
		}
	}
	return deps
}

// addEdge records that to depends on from, deduplicating repeated edges
// (a resource may both nest under and reference the same parent).
func (g *Graph) addEdge(from, to ResourceID) {
	if from == to {
		// Self-loop: surfaces as a cycle in Order.
		g.dependents[from] = append(g.dependents[from], to)
		g.dependencies[to] = append(g.dependencies[to], from)
		return
	}
	for _, existing := range g.dependencies[to] {
		if existing == from {
			return
		}
	}
	g.dependents[from] = append(g.dependents[from], to)
	g.dependencies[to] = append(g.dependencies[to], from)
}

// Len returns the number of resources in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Resource returns the declaration for id, or nil if absent.
func (g *Graph) Resource(id ResourceID) *Resource {
	return g.resources[id]
}

// Resources returns the declarations in declaration order.
func (g *Graph) Resources() []Resource {
	out := make([]Resource, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.resources[id])
	}
	return out
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id ResourceID) []ResourceID {
	return g.dependencies[id]
}

// Dependents returns the resources directly depending on id.
func (g *Graph) Dependents(id ResourceID) []ResourceID {
	return g.dependents[id]
}

// TransitiveDependents returns every resource downstream of id, in no
// particular order. Used by the executor for failure propagation.
func (g *Graph) TransitiveDependents(id ResourceID) []ResourceID {
	seen := make(map[ResourceID]bool)
	var out []ResourceID
	var walk func(ResourceID)
	walk = func(cur ResourceID) {
		for _, dep := range g.dependents[cur] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(id)
	return out
}

// ToDOT renders the graph in Graphviz DOT format for inspection.
func (g *Graph) ToDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph resources {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")
	for _, id := range g.order {
		sb.WriteString(fmt.Sprintf("  %q;\n", id.String()))
	}
	for _, id := range g.order {
		for _, dep := range g.dependencies[id] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", dep.String(), id.String()))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// sortedKeys returns map keys sorted lexically. Property iteration must be
// deterministic so repeated runs produce identical graphs.
func sortedKeys(m map[string]PropertyValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}
