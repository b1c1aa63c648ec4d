// Package engine implements the core provisioning pipeline: a typed resource
// model, a dependency graph builder, a deterministic topological resolver, and
// a concurrent executor that reconciles each resource against remote state
// through a pluggable provider capability.
//
// The pipeline is:
//
//	declarations -> Graph -> Order -> Executor (Reconciler per node) -> OutputMap
//
// Build-time problems (duplicate identities, dangling references, cycles) are
// fatal and reported before any provider is invoked. Apply-time failures are
// contained: a failed resource blocks its transitive dependents, everything
// else proceeds, and the run result enumerates every affected resource.
//
// All provider interactions flow through the Provider interface; the engine
// itself never talks to a cloud API and holds no global state.
package engine
