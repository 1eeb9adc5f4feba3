package plan

import "encoding/json"

// jsonNode is the canonical JSON rendering of a plan node described in
// spec.md section 6: one object per node documenting its kind,
// subgraph operation, flatten path, and defer labels. Only the fields
// relevant to Kind are emitted.
type jsonNode struct {
	Kind string `json:"kind"`

	SubGraph       string    `json:"subgraph,omitempty"`
	Document       string    `json:"document,omitempty"`
	InputRewrites  []Rewrite `json:"inputRewrites,omitempty"`
	OutputRewrites []Rewrite `json:"outputRewrites,omitempty"`

	Children []*jsonNode `json:"children,omitempty"`

	Path  []string  `json:"path,omitempty"`
	Child *jsonNode `json:"child,omitempty"`

	Primary  *jsonNode        `json:"primary,omitempty"`
	Deferred []jsonDeferBranch `json:"deferred,omitempty"`

	Rest *jsonNode `json:"rest,omitempty"`
}

type jsonDeferBranch struct {
	Label   string    `json:"label"`
	Depends []string  `json:"depends,omitempty"`
	Path    []string  `json:"path,omitempty"`
	Child   *jsonNode `json:"child"`
}

func toJSONNode(n *Node) *jsonNode {
	if n == nil {
		return nil
	}
	j := &jsonNode{Kind: n.Kind.String()}
	switch n.Kind {
	case FetchKind:
		j.SubGraph = n.Fetch.SubGraph
		j.Document = n.Fetch.Document
		j.InputRewrites = n.Fetch.InputRewrites
		j.OutputRewrites = n.Fetch.OutputRewrites
	case SequenceKind, ParallelKind:
		for _, c := range n.Children {
			j.Children = append(j.Children, toJSONNode(c))
		}
	case FlattenKind:
		j.Path = n.Path
		j.Child = toJSONNode(n.Child)
	case DeferKind:
		j.Primary = toJSONNode(n.DeferNode.Primary)
		for _, d := range n.DeferNode.Deferred {
			j.Deferred = append(j.Deferred, jsonDeferBranch{
				Label:   d.Label,
				Depends: d.Depends,
				Path:    d.Path,
				Child:   toJSONNode(d.Child),
			})
		}
	case SubscriptionKind:
		j.Primary = toJSONNode(n.SubscriptionNode.Primary)
		j.Rest = toJSONNode(n.SubscriptionNode.Rest)
	}
	return j
}

// MarshalJSON renders the canonical JSON plan form (spec.md section 6).
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(toJSONNode(n))
}
