package condition

import (
	"testing"

	"github.com/fedgraph/planner/federation/graph"
	"github.com/fedgraph/planner/federation/schema"
)

func buildTestSuperGraph(t *testing.T) *schema.SuperGraph {
	t.Helper()

	accounts, err := schema.NewSubGraph("accounts", []byte(`
		type Query {
			me: User!
		}
		type User @key(fields: "id") {
			id: ID!
			name: String!
		}
	`), "accounts:4001")
	if err != nil {
		t.Fatal(err)
	}

	reviews, err := schema.NewSubGraph("reviews", []byte(`
		type User @key(fields: "id") {
			id: ID! @external
			name: String! @external
			reviewCount: Int! @requires(fields: "name")
		}
	`), "reviews:4002")
	if err != nil {
		t.Fatal(err)
	}

	sg, err := schema.NewSuperGraph([]*schema.SubGraph{accounts, reviews})
	if err != nil {
		t.Fatal(err)
	}
	return sg
}

func TestResolve_KeyEdgeSatisfiedWhenNotExcluded(t *testing.T) {
	sg := buildTestSuperGraph(t)
	r := NewResolver(sg)

	edge := &graph.Edge{
		Kind: graph.KeyEdgeKind,
		From: graph.VertexID{SubGraph: "accounts", TypeName: "User"},
		To:   graph.VertexID{SubGraph: "reviews", TypeName: "User"},
		Key:  &schema.Key{FieldSet: "id", Resolvable: true},
		Cost: 1,
	}

	res := r.Resolve(edge, nil, nil, nil, "")
	if !res.IsSatisfied() {
		t.Fatalf("expected KeyEdge to be satisfied, got reason %v", res.Reason)
	}
}

func TestResolve_KeyEdgeUnsatisfiedWhenDestinationExcluded(t *testing.T) {
	sg := buildTestSuperGraph(t)
	r := NewResolver(sg)

	edge := &graph.Edge{
		Kind: graph.KeyEdgeKind,
		From: graph.VertexID{SubGraph: "accounts", TypeName: "User"},
		To:   graph.VertexID{SubGraph: "reviews", TypeName: "User"},
		Key:  &schema.Key{FieldSet: "id", Resolvable: true},
		Cost: 1,
	}

	res := r.Resolve(edge, nil, map[string]bool{"reviews": true}, nil, "")
	if res.IsSatisfied() {
		t.Fatalf("expected KeyEdge to reviews to be unsatisfied")
	}
	if res.Reason != NoPostRequireKey {
		t.Fatalf("expected NoPostRequireKey, got %v", res.Reason)
	}
}

func TestResolve_FieldEdgeWithRequiresNeedsKeyBack(t *testing.T) {
	sg := buildTestSuperGraph(t)
	r := NewResolver(sg)

	edge := &graph.Edge{
		Kind:      graph.FieldEdgeKind,
		From:      graph.VertexID{SubGraph: "reviews", TypeName: "User"},
		To:        graph.VertexID{SubGraph: "reviews", TypeName: "Int"},
		FieldName: "reviewCount",
		Condition: "name",
	}

	res := r.Resolve(edge, nil, nil, nil, "")
	if !res.IsSatisfied() {
		t.Fatalf("expected @requires(name) to be satisfiable via a key edge back to accounts")
	}
	if res.PathTree == nil || len(res.PathTree.Children) != 1 {
		t.Fatalf("expected one child path tree hop for the required field, got %#v", res.PathTree)
	}
}

func TestResolve_ContextEdgeUnsatisfiedWithoutBinding(t *testing.T) {
	sg := buildTestSuperGraph(t)
	r := NewResolver(sg)

	edge := &graph.Edge{
		Kind:      graph.ContextEdgeKind,
		From:      graph.VertexID{SubGraph: "accounts", TypeName: "User"},
		To:        graph.VertexID{SubGraph: "reviews", TypeName: "User"},
		Condition: "userContext",
	}

	res := r.Resolve(edge, nil, nil, nil, "")
	if res.IsSatisfied() {
		t.Fatalf("expected ContextEdge to be unsatisfied with no context bound")
	}
	if res.Reason != NoSetContext {
		t.Fatalf("expected NoSetContext, got %v", res.Reason)
	}

	ctx := &Context{ContextBindings: map[string]ContextMapEntry{
		"userContext": {ContextName: "userContext", Selection: "id"},
	}}
	res = r.Resolve(edge, ctx, nil, nil, "")
	if !res.IsSatisfied() {
		t.Fatalf("expected ContextEdge to be satisfied once bound")
	}
}

func TestResolve_CachesByEdgeIdentity(t *testing.T) {
	sg := buildTestSuperGraph(t)
	r := NewResolver(sg)

	edge := &graph.Edge{
		Kind: graph.KeyEdgeKind,
		From: graph.VertexID{SubGraph: "accounts", TypeName: "User"},
		To:   graph.VertexID{SubGraph: "reviews", TypeName: "User"},
		Key:  &schema.Key{FieldSet: "id", Resolvable: true},
		Cost: 1,
	}

	first := r.Resolve(edge, nil, nil, nil, "")
	if len(r.cache) != 1 {
		t.Fatalf("expected the resolution to be memoized, cache has %d entries", len(r.cache))
	}
	second := r.Resolve(edge, nil, nil, nil, "")
	if first.Cost != second.Cost {
		t.Fatalf("expected cached resolution to match recomputed one")
	}
}
