// Package condition implements the condition resolver described in
// spec.md section 4.4: for any query-graph edge carrying a selection
// that must be satisfied before the edge can be taken, decide whether
// the condition is satisfiable and, if so, at what cost.
//
// Grounded on original_source/apollo-federation/src/query_graph/condition_resolver.rs's
// ConditionResolver/ConditionResolution/ConditionResolverCache, translated
// from Rust's IndexMap-backed cache into a Go map guarded by the
// resolver's own mutex (the resolver is per-traversal, not shared
// across requests — spec.md section 5).
package condition

import (
	"strings"
	"sync"

	"github.com/fedgraph/planner/federation/graph"
	"github.com/fedgraph/planner/federation/schema"
)

// UnsatisfiedReason names why a condition could not be resolved.
type UnsatisfiedReason int

const (
	ReasonNone UnsatisfiedReason = iota
	// NoPostRequireKey: cannot return to the origin subgraph after
	// satisfying a require.
	NoPostRequireKey
	// NoSetContext: a @context value is not in scope.
	NoSetContext
	// NoKeyDeclared: the types on both sides exist but neither subgraph
	// declares a usable @key (spec.md section 8 scenario S6).
	NoKeyDeclared
)

func (r UnsatisfiedReason) String() string {
	switch r {
	case NoPostRequireKey:
		return "NoPostRequireKey"
	case NoSetContext:
		return "NoSetContext"
	case NoKeyDeclared:
		return "NoKeyDeclared"
	default:
		return "None"
	}
}

// ContextMapEntry records where in a response path a @context value was
// set, so a descendant Flatten several levels down can still find it.
// Grounded on condition_resolver.rs's ContextMapEntry.
type ContextMapEntry struct {
	ContextName      string
	ArgumentName     string
	Selection        string
	LevelsInDataPath int
	LevelsInQueryPath int
}

// PathTree is a trie node describing one way to gather a condition's
// selection: the edge taken plus the subtrees needed to satisfy any
// conditions that edge itself carries.
type PathTree struct {
	Edge     *graph.Edge
	Children []*PathTree
}

// Resolution is the tagged Satisfied/Unsatisfied result of resolve().
// Use IsSatisfied to discriminate rather than inspecting zero values.
type Resolution struct {
	ok         bool
	Cost       graph.QueryPlanCost
	PathTree   *PathTree
	ContextMap map[string]ContextMapEntry
	Reason     UnsatisfiedReason
}

func Satisfied(cost graph.QueryPlanCost, tree *PathTree, ctxMap map[string]ContextMapEntry) Resolution {
	return Resolution{ok: true, Cost: cost, PathTree: tree, ContextMap: ctxMap}
}

func Unsatisfied(reason UnsatisfiedReason) Resolution {
	return Resolution{ok: false, Reason: reason}
}

func (r Resolution) IsSatisfied() bool { return r.ok }

// Context carries the active @skip/@include conditionals and @context
// bindings visible at the point an edge is being considered.
type Context struct {
	SkipInclude     map[string]bool
	ContextBindings map[string]ContextMapEntry
}

func (c *Context) isEmpty() bool {
	return c == nil || (len(c.SkipInclude) == 0 && len(c.ContextBindings) == 0)
}

type cacheEntry struct {
	resolution          Resolution
	excludedDestinations map[string]bool
}

// Resolver resolves edge conditions with memoization. One Resolver is
// created per planning traversal and discarded with it (spec.md section
// 5: "the condition resolver's memo is per-traversal and not shared
// across requests").
type Resolver struct {
	superGraph *schema.SuperGraph

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewResolver(sg *schema.SuperGraph) *Resolver {
	return &Resolver{superGraph: sg, cache: make(map[string]cacheEntry)}
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// Resolve implements spec.md section 4.4's resolve(edge, context,
// excluded_destinations, excluded_conditions, extra_conditions) operation.
func (r *Resolver) Resolve(
	edge *graph.Edge,
	ctx *Context,
	excludedDestinations map[string]bool,
	excludedConditions map[string]bool,
	extraConditions string,
) Resolution {
	bypassCache := extraConditions != "" || !ctx.isEmpty() || len(excludedConditions) > 0

	if !bypassCache {
		r.mu.Lock()
		entry, ok := r.cache[edge.ID()]
		r.mu.Unlock()
		if ok {
			if sameSet(entry.excludedDestinations, excludedDestinations) {
				return entry.resolution
			}
			// Not-Applicable: a different excluded_destinations set was
			// asked; recompute without caching the result.
			bypassCache = true
		}
	}

	resolution := r.compute(edge, ctx, excludedDestinations, excludedConditions, extraConditions)

	if !bypassCache {
		r.mu.Lock()
		if _, already := r.cache[edge.ID()]; !already {
			// First committed resolution wins.
			r.cache[edge.ID()] = cacheEntry{resolution: resolution, excludedDestinations: excludedDestinations}
		}
		r.mu.Unlock()
	}

	return resolution
}

func (r *Resolver) compute(
	edge *graph.Edge,
	ctx *Context,
	excludedDestinations map[string]bool,
	excludedConditions map[string]bool,
	extraConditions string,
) Resolution {
	switch edge.Kind {
	case graph.KeyEdgeKind:
		return r.resolveKeyEdge(edge, excludedDestinations)
	case graph.ContextEdgeKind:
		return r.resolveContextEdge(edge, ctx)
	case graph.FieldEdgeKind:
		return r.resolveFieldEdge(edge, ctx, excludedDestinations, excludedConditions, extraConditions)
	default:
		return Satisfied(0, &PathTree{Edge: edge}, nil)
	}
}

func (r *Resolver) resolveKeyEdge(edge *graph.Edge, excludedDestinations map[string]bool) Resolution {
	if excludedDestinations[edge.To.SubGraph] {
		return Unsatisfied(NoPostRequireKey)
	}
	if edge.Key == nil || strings.TrimSpace(edge.Key.FieldSet) == "" {
		return Unsatisfied(NoKeyDeclared)
	}
	return Satisfied(edge.Cost, &PathTree{Edge: edge}, nil)
}

func (r *Resolver) resolveContextEdge(edge *graph.Edge, ctx *Context) Resolution {
	if ctx == nil || ctx.ContextBindings == nil {
		return Unsatisfied(NoSetContext)
	}
	contextName := edge.Condition
	entry, ok := ctx.ContextBindings[contextName]
	if !ok {
		return Unsatisfied(NoSetContext)
	}
	return Satisfied(edge.Cost, &PathTree{Edge: edge}, map[string]ContextMapEntry{contextName: entry})
}

// resolveFieldEdge handles a @requires condition on a field: the
// required fields must already exist, or be fetchable, on the edge's
// source vertex before the field can be resolved.
func (r *Resolver) resolveFieldEdge(
	edge *graph.Edge,
	ctx *Context,
	excludedDestinations map[string]bool,
	excludedConditions map[string]bool,
	extraConditions string,
) Resolution {
	condition := edge.Condition
	if extraConditions != "" {
		condition = strings.TrimSpace(condition + " " + extraConditions)
	}
	if condition == "" {
		return Satisfied(0, &PathTree{Edge: edge}, nil)
	}
	if excludedConditions[condition] {
		return Unsatisfied(NoPostRequireKey)
	}

	entity, ok := r.superGraph.SubGraphEntity(edge.From.SubGraph, edge.From.TypeName)
	if !ok {
		return Unsatisfied(NoPostRequireKey)
	}

	var children []*PathTree
	var cost graph.QueryPlanCost
	for _, fieldName := range strings.Fields(condition) {
		field, hasField := entity.Fields[fieldName]
		if hasField && !field.External {
			// Already resolvable locally; no extra hop needed.
			continue
		}
		// The field is external here: it must come back via a KeyEdge
		// to whichever subgraph owns it. That hop is costed as 1; any
		// conditions on the owner's own field are not resolved further.
		owner := r.superGraph.FieldOwner(edge.From.TypeName, fieldName)
		if owner == nil || owner.Name == edge.From.SubGraph {
			return Unsatisfied(NoPostRequireKey)
		}
		if excludedDestinations[owner.Name] {
			return Unsatisfied(NoPostRequireKey)
		}
		children = append(children, &PathTree{Edge: &graph.Edge{
			Kind: graph.KeyEdgeKind,
			From: edge.From,
			To:   graph.VertexID{SubGraph: owner.Name, TypeName: edge.From.TypeName},
			Cost: 1,
		}})
		cost += 1
	}

	return Satisfied(cost, &PathTree{Edge: edge, Children: children}, nil)
}
