package plan

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleS1Plan() *Node {
	fetchA := NewFetch(&Fetch{SubGraph: "A", Document: `{ me { __typename id name } }`})
	fetchB := NewFetch(&Fetch{SubGraph: "B", Document: `query($r:[_Any!]!){_entities(representations:$r){... on User{ address }}}`})
	return NewSequence(fetchA, NewFlatten([]string{"me"}, fetchB))
}

func TestNode_PathsPartitionForDefer(t *testing.T) {
	primary := NewFetch(&Fetch{SubGraph: "A", Document: "{ me { id } }"})
	deferred := NewFetch(&Fetch{SubGraph: "A", Document: "{ name }"})
	node := NewDefer(&Defer{
		Primary: primary,
		Deferred: []DeferredBranch{
			{Label: "slow", Path: []string{"me"}, Child: deferred},
		},
	})

	paths := node.Paths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths (primary + deferred), got %v", paths)
	}
}

func TestNode_Render(t *testing.T) {
	rendered := sampleS1Plan().Render()
	if rendered == "" {
		t.Fatalf("expected non-empty render")
	}
	want := []string{"QueryPlan {", "Sequence {", "Fetch(service:", "Flatten(path:"}
	for _, w := range want {
		if !strings.Contains(rendered, w) {
			t.Fatalf("expected rendered plan to contain %q, got:\n%s", w, rendered)
		}
	}
}

func TestNode_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(sampleS1Plan())
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round-trip decode error = %v", err)
	}
	if decoded["kind"] != "Sequence" {
		t.Fatalf("expected root kind Sequence, got %v", decoded["kind"])
	}
}
