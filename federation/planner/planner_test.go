package planner

import (
	"strings"
	"testing"

	"github.com/fedgraph/planner/federation/graph"
	"github.com/fedgraph/planner/federation/operation"
	"github.com/fedgraph/planner/federation/plan"
	"github.com/fedgraph/planner/federation/schema"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

func mustSubGraph(t *testing.T, name, sdl, host string) *schema.SubGraph {
	t.Helper()
	sg, err := schema.NewSubGraph(name, []byte(sdl), host)
	if err != nil {
		t.Fatalf("NewSubGraph(%s) error = %v", name, err)
	}
	return sg
}

func mustOperation(t *testing.T, src string) *operation.Operation {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse error: %v", p.Errors())
	}
	op, err := operation.Build(doc, "", nil)
	if err != nil {
		t.Fatalf("operation.Build() error = %v", err)
	}
	return op
}

func crossSubgraphFixture(t *testing.T) *Planner {
	t.Helper()
	accounts := mustSubGraph(t, "accounts", `
		type Query { me: User! }
		type Subscription { onNewUser: User! }
		type User @key(fields: "id") {
			id: ID!
			name: String!
		}
	`, "accounts:4001")
	reviews := mustSubGraph(t, "reviews", `
		type User @key(fields: "id") {
			id: ID! @external
			address: String!
		}
	`, "reviews:4002")

	sg, err := schema.NewSuperGraph([]*schema.SubGraph{accounts, reviews})
	if err != nil {
		t.Fatalf("NewSuperGraph() error = %v", err)
	}
	qg, err := graph.Build(sg)
	if err != nil {
		t.Fatalf("graph.Build() error = %v", err)
	}
	return New(sg, qg, DefaultConfig())
}

// S1. Cross-subgraph join.
func TestPlan_CrossSubgraphJoin(t *testing.T) {
	p := crossSubgraphFixture(t)
	op := mustOperation(t, `{ me { id name address } }`)

	node, warnings, err := p.Plan(op)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if node.Kind != plan.SequenceKind {
		t.Fatalf("expected root Sequence, got %v", node.Kind)
	}
	if len(node.Children) != 2 {
		t.Fatalf("expected 2 sequence children, got %d", len(node.Children))
	}

	rootFetch := node.Children[0]
	if rootFetch.Kind != plan.FetchKind || rootFetch.Fetch.SubGraph != "accounts" {
		t.Fatalf("expected first child to be a Fetch against accounts, got %+v", rootFetch)
	}
	for _, want := range []string{"me", "__typename", "id", "name"} {
		if !strings.Contains(rootFetch.Fetch.Document, want) {
			t.Fatalf("expected root fetch document to contain %q, got %q", want, rootFetch.Fetch.Document)
		}
	}

	flatten := node.Children[1]
	if flatten.Kind != plan.FlattenKind || len(flatten.Path) != 1 || flatten.Path[0] != "me" {
		t.Fatalf("expected second child to be Flatten(path: [me]), got %+v", flatten)
	}
	childFetch := flatten.Child
	if childFetch.Kind != plan.FetchKind || childFetch.Fetch.SubGraph != "reviews" {
		t.Fatalf("expected flatten's child to be a Fetch against reviews, got %+v", childFetch)
	}
	if !strings.Contains(childFetch.Fetch.Document, "_entities") || !strings.Contains(childFetch.Fetch.Document, "address") {
		t.Fatalf("expected entity fetch document to use _entities and select address, got %q", childFetch.Fetch.Document)
	}
}

// S2. Subscription.
func TestPlan_Subscription(t *testing.T) {
	p := crossSubgraphFixture(t)
	op := mustOperation(t, `subscription { onNewUser { id name address } }`)

	node, _, err := p.Plan(op)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if node.Kind != plan.SubscriptionKind {
		t.Fatalf("expected Subscription root, got %v", node.Kind)
	}
	primary := node.SubscriptionNode.Primary
	if primary.Kind != plan.FetchKind || primary.Fetch.SubGraph != "accounts" {
		t.Fatalf("expected primary to be a Fetch against accounts, got %+v", primary)
	}
	rest := node.SubscriptionNode.Rest
	if rest == nil || rest.Kind != plan.SequenceKind {
		t.Fatalf("expected rest to be a Sequence, got %+v", rest)
	}
	if len(rest.Children) != 1 || rest.Children[0].Kind != plan.FlattenKind {
		t.Fatalf("expected rest to contain a single Flatten, got %+v", rest.Children)
	}
}

// S3. Defer rejected on subscription.
func TestPlan_DeferRejectedOnSubscription(t *testing.T) {
	p := crossSubgraphFixture(t)
	op := mustOperation(t, `subscription { onNewUser { id ... @defer(label: "slow") { name } address } }`)

	_, _, err := p.Plan(op)
	if err == nil {
		t.Fatalf("expected an UnsupportedFeature error")
	}
	if _, ok := err.(*UnsupportedFeature); !ok {
		t.Fatalf("expected *UnsupportedFeature, got %T: %v", err, err)
	}
}

// S6. Condition unreachable: type T in both subgraphs, neither declares @key.
func TestPlan_CannotSatisfyRequirementWithoutKey(t *testing.T) {
	x := mustSubGraph(t, "x", `
		type Query { items: [T!]! }
		type T { id: ID! a: String! }
	`, "x:4001")
	y := mustSubGraph(t, "y", `
		type T { b: String! }
	`, "y:4002")

	sg, err := schema.NewSuperGraph([]*schema.SubGraph{x, y})
	if err != nil {
		t.Fatalf("NewSuperGraph() error = %v", err)
	}
	qg, err := graph.Build(sg)
	if err != nil {
		t.Fatalf("graph.Build() error = %v", err)
	}
	p := New(sg, qg, DefaultConfig())

	op := mustOperation(t, `{ items { id a b } }`)
	_, _, err = p.Plan(op)
	if err == nil {
		t.Fatalf("expected a CannotSatisfyRequirement error")
	}
	csr, ok := err.(*CannotSatisfyRequirement)
	if !ok {
		t.Fatalf("expected *CannotSatisfyRequirement, got %T: %v", err, err)
	}
	if csr.TypeName != "T" {
		t.Fatalf("expected CannotSatisfyRequirement to reference T, got %q", csr.TypeName)
	}
}
