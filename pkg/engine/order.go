package engine

// Order produces a total order over the graph's resources such that every
// dependency precedes its dependents. Ties between unrelated resources are
// broken by declaration order, so repeated runs of the same declaration set
// schedule identically.
//
// Order fails with a *CycleError (class permanent, code CYCLE_DETECTED) when
// the graph is cyclic. Detection runs before any ordering is returned, so no
// provider is ever invoked for a cyclic graph.
func (g *Graph) Order() ([]ResourceID, error) {
	if cycle := g.findCycle(); cycle != nil {
		return nil, NewPermanentError(ErrCodeCycle, "dependency graph is cyclic", cycle)
	}

	index := make(map[ResourceID]int, len(g.order))
	for i, id := range g.order {
		index[id] = i
	}

	inDegree := make(map[ResourceID]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.dependencies[id])
	}

	// ready holds schedulable resources kept sorted by declaration index.
	var ready []ResourceID
	insert := func(id ResourceID) {
		pos := len(ready)
		for i, r := range ready {
			if index[id] < index[r] {
				pos = i
				break
			}
		}
		ready = append(ready, ResourceID{})
		copy(ready[pos+1:], ready[pos:])
		ready[pos] = id
	}

	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	ordered := make([]ResourceID, 0, len(g.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, id)
		for _, dep := range g.dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				insert(dep)
			}
		}
	}

	if len(ordered) != len(g.order) {
		// Unreachable: findCycle already rejected cyclic graphs.
		return nil, NewPermanentError(ErrCodeInternal,
			"topological sort did not cover all resources", nil)
	}
	return ordered, nil
}

// findCycle runs a DFS over the dependent edges and returns the first cycle
// found, minimal in the sense that it contains only the resources on the
// cycle itself. Returns nil for acyclic graphs.
func (g *Graph) findCycle() *CycleError {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[ResourceID]int, len(g.order))
	var path []ResourceID

	var visit func(ResourceID) []ResourceID
	visit = func(id ResourceID) []ResourceID {
		state[id] = inStack
		path = append(path, id)
		for _, dep := range g.dependents[id] {
			switch state[dep] {
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			case inStack:
				// Slice the current path from the first occurrence of dep.
				for i, p := range path {
					if p == dep {
						cycle := make([]ResourceID, len(path)-i)
						copy(cycle, path[i:])
						return cycle
					}
				}
			}
		}
		state[id] = done
		path = path[:len(path)-1]
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return &CycleError{Cycle: cycle}
			}
		}
	}
	return nil
}
