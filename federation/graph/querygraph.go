// Package graph builds the federated query graph described in spec.md
// section 4.3: a directed multigraph whose vertices are (subgraph, type)
// pairs and whose edges describe field traversals, entity-key jumps
// between subgraphs, abstract-type refinements, and root entry points.
// It is built once per supergraph version and is immutable afterward.
package graph

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/fedgraph/planner/federation/schema"
)

// OperationKind names the root operation type a query graph traversal
// starts from.
type OperationKind string

const (
	Query        OperationKind = "query"
	Mutation     OperationKind = "mutation"
	Subscription OperationKind = "subscription"
)

// VertexID is a query graph vertex identity: either a synthetic root for
// an operation kind, or a (subgraph, type) pair.
type VertexID struct {
	Root     OperationKind // non-empty for a synthetic Root(kind) vertex
	SubGraph string
	TypeName string
}

func (v VertexID) String() string {
	if v.Root != "" {
		return fmt.Sprintf("Root(%s)", v.Root)
	}
	return fmt.Sprintf("%s:%s", v.SubGraph, v.TypeName)
}

func rootVertex(kind OperationKind) VertexID { return VertexID{Root: kind} }

func typeVertex(subGraph, typeName string) VertexID {
	return VertexID{SubGraph: subGraph, TypeName: typeName}
}

// EdgeKind discriminates the edge variants from spec.md section 3.
type EdgeKind int

const (
	FieldEdgeKind EdgeKind = iota
	KeyEdgeKind
	AbstractRefinementEdgeKind
	RootEntryEdgeKind
	ContextEdgeKind
)

func (k EdgeKind) String() string {
	switch k {
	case FieldEdgeKind:
		return "FieldEdge"
	case KeyEdgeKind:
		return "KeyEdge"
	case AbstractRefinementEdgeKind:
		return "AbstractRefinementEdge"
	case RootEntryEdgeKind:
		return "RootEntryEdge"
	case ContextEdgeKind:
		return "ContextEdge"
	default:
		return "UnknownEdge"
	}
}

// QueryPlanCost is the non-negative edge weight used by the planner's
// cost-directed search.
type QueryPlanCost float64

// Edge is one directed edge of the query graph. Condition, when
// non-empty, is the selection the condition resolver must satisfy
// before the edge can be taken (a @key field-set for KeyEdge, a
// @requires selection carried by the destination field for FieldEdge,
// or a @context binding for ContextEdge).
type Edge struct {
	Kind      EdgeKind
	From      VertexID
	To        VertexID
	FieldName string // set for FieldEdge and ContextEdge
	Key       *schema.Key
	Condition string
	Cost      QueryPlanCost
}

// id returns a structural identity used to dedupe edges per spec.md
// section 4.3 step 3 ("dedupe by structural edge identity").
func (e *Edge) id() string {
	key := ""
	if e.Key != nil {
		key = e.Key.FieldSet
	}
	return fmt.Sprintf("%d|%s|%s|%s|%s|%s", e.Kind, e.From, e.To, e.FieldName, key, e.Condition)
}

// ID is the same structural identity, exported for callers (the
// condition resolver's memo) that need a stable per-edge cache key.
func (e *Edge) ID() string { return e.id() }

// Vertex is a single (subgraph, type) node plus its outgoing edges.
type Vertex struct {
	ID    VertexID
	Out   []*Edge
	edges map[string]bool // dedupe set of Edge.id()
}

// QueryGraph is the directed multigraph of spec.md section 3. It is
// immutable once Build returns.
type QueryGraph struct {
	SuperGraph *schema.SuperGraph
	Vertices   map[VertexID]*Vertex
	Roots      map[OperationKind]VertexID
}

func (g *QueryGraph) vertex(id VertexID) *Vertex {
	v, ok := g.Vertices[id]
	if !ok {
		v = &Vertex{ID: id, edges: make(map[string]bool)}
		g.Vertices[id] = v
	}
	return v
}

// addEdge appends e to its source vertex's edge list, deduping by
// structural identity (spec.md section 4.3 step 3, and the section 3
// invariant of at most one FieldEdge per (parent, field_name) per
// subgraph).
func (g *QueryGraph) addEdge(e *Edge) {
	v := g.vertex(e.From)
	id := e.id()
	if v.edges[id] {
		return
	}
	v.edges[id] = true
	v.Out = append(v.Out, e)
}

// Build constructs the query graph from a composed supergraph, following
// spec.md section 4.3: seed root vertices and RootEntryEdges, then BFS
// adding FieldEdges, KeyEdges, and AbstractRefinementEdges.
func Build(sg *schema.SuperGraph) (*QueryGraph, error) {
	g := &QueryGraph{
		SuperGraph: sg,
		Vertices:   make(map[VertexID]*Vertex),
		Roots:      make(map[OperationKind]VertexID),
	}

	rootTypeNames := map[OperationKind]string{
		Query:        "Query",
		Mutation:     "Mutation",
		Subscription: "Subscription",
	}

	visited := make(map[VertexID]bool)
	var queue []VertexID

	for kind, rootType := range rootTypeNames {
		if !sg.HasType(rootType) {
			continue
		}
		rv := rootVertex(kind)
		g.Roots[kind] = rv
		g.vertex(rv)

		for _, sub := range sg.SubGraphsDeclaring(rootType) {
			dst := typeVertex(sub.Name, rootType)
			g.addEdge(&Edge{Kind: RootEntryEdgeKind, From: rv, To: dst, Cost: 0})
			if !visited[dst] {
				visited[dst] = true
				queue = append(queue, dst)
			}
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		entity, ok := sg.SubGraphEntity(cur.SubGraph, cur.TypeName)
		if !ok {
			continue
		}

		// FieldEdges: every field of T declared in S whose type is not
		// @external-only.
		fieldNames := make([]string, 0, len(entity.Fields))
		for name := range entity.Fields {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)
		for _, fieldName := range fieldNames {
			field := entity.Fields[fieldName]
			if field.External {
				continue
			}
			childType, err := sg.FieldTypeName(cur.TypeName, fieldName)
			if err != nil || childType == "" {
				continue
			}
			dst := typeVertex(cur.SubGraph, childType)
			g.addEdge(&Edge{
				Kind:      FieldEdgeKind,
				From:      cur,
				To:        dst,
				FieldName: fieldName,
				Condition: field.Requires,
				Cost:      0,
			})
			if len(field.ContextArguments) > 0 {
				for _, ctxArg := range field.ContextArguments {
					g.addEdge(&Edge{
						Kind:      ContextEdgeKind,
						From:      cur,
						To:        dst,
						FieldName: fieldName,
						Condition: ctxArg.ContextName,
						Cost:      0,
					})
				}
			}
			if !visited[dst] {
				visited[dst] = true
				queue = append(queue, dst)
			}
		}

		// KeyEdges: every other subgraph that also declares T with a
		// @key, one edge per key (tie-break rule in section 4.3).
		for _, other := range sg.SubGraphsDeclaring(cur.TypeName) {
			if other.Name == cur.SubGraph {
				continue
			}
			otherEntity, ok := other.Entity(cur.TypeName)
			if !ok {
				continue
			}
			for _, k := range otherEntity.Keys {
				if !k.Resolvable {
					continue
				}
				dst := typeVertex(other.Name, cur.TypeName)
				key := k
				g.addEdge(&Edge{
					Kind: KeyEdgeKind,
					From: cur,
					To:   dst,
					Key:  &key,
					Cost: 1,
				})
				if !visited[dst] {
					visited[dst] = true
					queue = append(queue, dst)
				}
			}
		}

		// AbstractRefinementEdges: if T is abstract, refine to each
		// concrete/member type reachable in S.
		if sg.IsAbstractType(cur.TypeName) {
			for _, member := range sg.AbstractMembers(cur.TypeName) {
				if _, ok := sg.SubGraphEntity(cur.SubGraph, member); !ok {
					continue
				}
				dst := typeVertex(cur.SubGraph, member)
				g.addEdge(&Edge{
					Kind: AbstractRefinementEdgeKind,
					From: cur,
					To:   dst,
					Cost: 0,
				})
				if !visited[dst] {
					visited[dst] = true
					queue = append(queue, dst)
				}
			}
		}
	}

	return g, nil
}

// -----------------------------------------------------------------------
// Cost-directed search (Dijkstra), grounded on weighted_graph.go.
// -----------------------------------------------------------------------

type searchItem struct {
	vertex VertexID
	cost   QueryPlanCost
	index  int
}

type searchPQ []*searchItem

func (pq searchPQ) Len() int            { return len(pq) }
func (pq searchPQ) Less(i, j int) bool  { return pq[i].cost < pq[j].cost }
func (pq searchPQ) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i]; pq[i].index = i; pq[j].index = j }
func (pq *searchPQ) Push(x interface{}) {
	item := x.(*searchItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *searchPQ) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// SearchResult is the outcome of a cost-directed traversal from a set of
// entry vertices: minimum cost to reach each vertex, plus the edge used
// to reach it for path reconstruction.
type SearchResult struct {
	Dist map[VertexID]QueryPlanCost
	Prev map[VertexID]*Edge
}

const unreachable = QueryPlanCost(1 << 60)

// Dijkstra runs a cost-directed search from entryPoints, following every
// outgoing edge kind (FieldEdge, KeyEdge, AbstractRefinementEdge,
// RootEntryEdge, ContextEdge) uniformly by its Cost. The planner layers
// condition-resolver gating on top of this; Dijkstra itself is
// condition-agnostic.
func (g *QueryGraph) Dijkstra(entryPoints []VertexID) *SearchResult {
	dist := make(map[VertexID]QueryPlanCost, len(g.Vertices))
	prev := make(map[VertexID]*Edge, len(g.Vertices))
	for id := range g.Vertices {
		dist[id] = unreachable
	}

	pq := &searchPQ{}
	heap.Init(pq)
	for _, ep := range entryPoints {
		if _, ok := g.Vertices[ep]; !ok {
			continue
		}
		dist[ep] = 0
		heap.Push(pq, &searchItem{vertex: ep, cost: 0})
	}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*searchItem)
		u := item.vertex
		if item.cost > dist[u] {
			continue
		}
		v, ok := g.Vertices[u]
		if !ok {
			continue
		}
		for _, e := range v.Out {
			newCost := dist[u] + e.Cost
			if newCost < dist[e.To] {
				dist[e.To] = newCost
				prev[e.To] = e
				heap.Push(pq, &searchItem{vertex: e.To, cost: newCost})
			}
		}
	}

	return &SearchResult{Dist: dist, Prev: prev}
}

// ReconstructPath walks Prev back from dst to an entry point, returning
// the edges in traversal order. Returns nil if dst is unreachable.
func (r *SearchResult) ReconstructPath(dst VertexID) []*Edge {
	cost, ok := r.Dist[dst]
	if !ok || cost >= unreachable {
		return nil
	}
	var path []*Edge
	cur := dst
	for {
		e, ok := r.Prev[cur]
		if !ok {
			break
		}
		path = append([]*Edge{e}, path...)
		cur = e.From
	}
	return path
}
