// Package plan defines the plan tree produced by the planner traversal
// (spec.md section 3): a tagged sum type of Fetch, Sequence, Parallel,
// Flatten, Defer, and Subscription nodes. Nodes are encoded as a single
// struct discriminated by Kind, per the "plan nodes as tagged variant"
// design note — avoid polymorphic dispatch in hot paths.
package plan

import (
	"fmt"
	"strings"
)

// Kind discriminates which fields of Node are populated.
type Kind int

const (
	FetchKind Kind = iota
	SequenceKind
	ParallelKind
	FlattenKind
	DeferKind
	SubscriptionKind
)

func (k Kind) String() string {
	switch k {
	case FetchKind:
		return "Fetch"
	case SequenceKind:
		return "Sequence"
	case ParallelKind:
		return "Parallel"
	case FlattenKind:
		return "Flatten"
	case DeferKind:
		return "Defer"
	case SubscriptionKind:
		return "Subscription"
	default:
		return "Unknown"
	}
}

// Rewrite renames a field on the way into or out of a subgraph fetch,
// e.g. aliasing a key field to avoid colliding with a client alias.
type Rewrite struct {
	Path []string
	To   string
}

// Fetch is a single subgraph call.
type Fetch struct {
	SubGraph                string
	Document                string
	InputRewrites           []Rewrite
	OutputRewrites          []Rewrite
	RequiresSelectionParent string
}

// DeferredBranch is one deferred payload of a Defer node.
type DeferredBranch struct {
	Label   string
	Depends []string
	Path    []string
	Child   *Node
}

// Defer splits the response into an initial payload plus zero or more
// deferred payloads.
type Defer struct {
	Primary  *Node
	Deferred []DeferredBranch
}

// Subscription is the root of a subscription plan: primary opens the
// event stream, rest is re-executed per event.
type Subscription struct {
	Primary *Node
	Rest    *Node
}

// Node is one node of the plan tree. Exactly the fields matching Kind
// are populated.
type Node struct {
	Kind Kind

	// FetchKind
	Fetch *Fetch

	// SequenceKind, ParallelKind
	Children []*Node

	// FlattenKind
	Path  []string
	Child *Node

	// DeferKind
	DeferNode *Defer

	// SubscriptionKind
	SubscriptionNode *Subscription
}

func NewFetch(f *Fetch) *Node { return &Node{Kind: FetchKind, Fetch: f} }

func NewSequence(children ...*Node) *Node { return &Node{Kind: SequenceKind, Children: children} }

func NewParallel(children ...*Node) *Node { return &Node{Kind: ParallelKind, Children: children} }

func NewFlatten(path []string, child *Node) *Node {
	return &Node{Kind: FlattenKind, Path: path, Child: child}
}

func NewDefer(d *Defer) *Node { return &Node{Kind: DeferKind, DeferNode: d} }

func NewSubscription(s *Subscription) *Node { return &Node{Kind: SubscriptionKind, SubscriptionNode: s} }

// Paths returns the response path of every Fetch in this node and its
// descendants, one entry per Fetch (a path written by several fetches
// appears once for each of them), used by the defer-splitting invariant
// (spec.md section 8 property 7: primary + deferred payloads partition
// O's paths).
func (n *Node) Paths() [][]string {
	var out [][]string
	n.collectPaths(nil, &out)
	return out
}

func (n *Node) collectPaths(prefix []string, out *[][]string) {
	if n == nil {
		return
	}
	switch n.Kind {
	case FetchKind:
		*out = append(*out, append([]string{}, prefix...))
	case SequenceKind, ParallelKind:
		for _, c := range n.Children {
			c.collectPaths(prefix, out)
		}
	case FlattenKind:
		n.Child.collectPaths(append(append([]string{}, prefix...), n.Path...), out)
	case DeferKind:
		n.DeferNode.Primary.collectPaths(prefix, out)
		for _, d := range n.DeferNode.Deferred {
			d.Child.collectPaths(append(append([]string{}, prefix...), d.Path...), out)
		}
	case SubscriptionKind:
		n.SubscriptionNode.Primary.collectPaths(prefix, out)
		n.SubscriptionNode.Rest.collectPaths(prefix, out)
	}
}

// Render renders the plan tree in the human-readable form described in
// spec.md section 6 ("QueryPlan { Sequence { Fetch(service: "S") { ... } } }").
func (n *Node) Render() string {
	var b strings.Builder
	b.WriteString("QueryPlan {\n")
	n.render(&b, 1)
	b.WriteString("}")
	return b.String()
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
}

func (n *Node) render(b *strings.Builder, depth int) {
	if n == nil {
		return
	}
	indent(b, depth)
	switch n.Kind {
	case FetchKind:
		fmt.Fprintf(b, "Fetch(service: %q) {\n", n.Fetch.SubGraph)
		indent(b, depth+1)
		b.WriteString(strings.ReplaceAll(n.Fetch.Document, "\n", " "))
		b.WriteString("\n")
		indent(b, depth)
		b.WriteString("}\n")
	case SequenceKind:
		b.WriteString("Sequence {\n")
		for _, c := range n.Children {
			c.render(b, depth+1)
		}
		indent(b, depth)
		b.WriteString("}\n")
	case ParallelKind:
		b.WriteString("Parallel {\n")
		for _, c := range n.Children {
			c.render(b, depth+1)
		}
		indent(b, depth)
		b.WriteString("}\n")
	case FlattenKind:
		fmt.Fprintf(b, "Flatten(path: %q) {\n", strings.Join(n.Path, "."))
		n.Child.render(b, depth+1)
		indent(b, depth)
		b.WriteString("}\n")
	case DeferKind:
		b.WriteString("Defer {\n")
		indent(b, depth+1)
		b.WriteString("primary:\n")
		n.DeferNode.Primary.render(b, depth+2)
		for _, d := range n.DeferNode.Deferred {
			indent(b, depth+1)
			fmt.Fprintf(b, "deferred(label: %q, path: %q):\n", d.Label, strings.Join(d.Path, "."))
			d.Child.render(b, depth+2)
		}
		indent(b, depth)
		b.WriteString("}\n")
	case SubscriptionKind:
		b.WriteString("Subscription {\n")
		indent(b, depth+1)
		b.WriteString("primary:\n")
		n.SubscriptionNode.Primary.render(b, depth+2)
		indent(b, depth+1)
		b.WriteString("rest:\n")
		n.SubscriptionNode.Rest.render(b, depth+2)
		indent(b, depth)
		b.WriteString("}\n")
	}
}
