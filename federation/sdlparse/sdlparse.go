// Package sdlparse is the fast-path SDL parser backing the `validate` and
// `compose` CLI subcommands. Those subcommands only need type/field/
// directive shape, not the full federation semantics federation/schema
// resolves (ownership maps, @key/@requires/@provides directive parsing
// against the operation planner) — so rather than spin up a full
// federation/schema.SuperGraph for a shape check, they reuse the teacher's
// original goliteql-based parser, the one the teacher itself used for its
// very first (non-federation-aware) schema representation.
//
// Grounded on gateway/federation/schema.go, registry/federation/schema.go,
// and federation/schema.go, which were three verbatim copies of the same
// type in the teacher's tree; consolidated here into one package since
// nothing in the new design requires more than one copy.
package sdlparse

import (
	"fmt"

	"github.com/n9te9/goliteql/schema"
)

// SubGraph is a parsed-but-not-yet-merged subgraph SDL.
type SubGraph struct {
	Name         string
	Schema       *schema.Schema
	SDL          string
	Host         string
	isIntegrated bool
}

// SuperGraph pairs a structurally merged schema with the subgraph SDLs it
// came from. `compose` does not build one; it uses Compose's merged schema
// directly. It is NOT a certifying composition
// pass (spec.md's Non-goals, carried into SPEC_FULL.md section 6): it does
// not resolve @key/@requires/@provides/@override or validate ownership
// consistency the way federation/schema.NewSuperGraph does.
type SuperGraph struct {
	Schema    *schema.Schema
	SubGraphs []*SubGraph
}

// Parse parses one subgraph's raw SDL.
func Parse(name string, src []byte, host string) (*SubGraph, error) {
	sch, err := schema.NewParser(schema.NewLexer()).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("sdlparse: failed to parse subgraph %q: %w", name, err)
	}
	return &SubGraph{Name: name, Schema: sch, SDL: string(src), Host: host}, nil
}

// Validate re-parses src and returns the parse error, if any — the shape
// check `federationctl validate` runs against a single subgraph's SDL.
func Validate(src []byte) error {
	_, err := schema.NewParser(schema.NewLexer()).Parse(src)
	return err
}

// NewSuperGraph seeds a SuperGraph from an already-parsed root schema plus
// the subgraphs to merge into it.
func NewSuperGraph(root *schema.Schema, subGraphs []*SubGraph) *SuperGraph {
	return &SuperGraph{Schema: root, SubGraphs: subGraphs}
}

// Compose structurally merges every subgraph's extensions into one schema,
// mirroring the teacher's SuperGraphV2.composeSchema shape: each subgraph
// contributes its type/operation/directive extensions into the growing
// root schema, then the root schema resolves its own Merge() pass.
func Compose(subGraphs []*SubGraph) (*schema.Schema, error) {
	if len(subGraphs) == 0 {
		return nil, fmt.Errorf("sdlparse: no subgraphs to compose")
	}

	root := subGraphs[0].Schema
	for _, sg := range subGraphs[1:] {
		registerExtensions(root, sg.Schema)
		merged, err := root.Merge()
		if err != nil {
			return nil, fmt.Errorf("sdlparse: failed to merge subgraph %q: %w", sg.Name, err)
		}
		root = merged
	}
	return root, nil
}

func registerExtensions(root, addition *schema.Schema) {
	root.Definition.Extentions = append(root.Definition.Extentions, addition.Definition.Extentions...)
	for _, op := range root.Operations {
		op.Extentions = append(op.Extentions, addition.Operations...)
	}
	for _, t := range root.Types {
		t.Extentions = append(t.Extentions, addition.Types...)
	}
	for _, i := range root.Interfaces {
		i.Extentions = append(i.Extentions, addition.Interfaces...)
	}
	for _, u := range root.Unions {
		u.Extentions = append(u.Extentions, addition.Unions...)
	}
	for _, e := range root.Enums {
		e.Extentions = append(e.Extentions, addition.Enums...)
	}
	for _, in := range root.Inputs {
		in.Extentions = append(in.Extentions, addition.Inputs...)
	}
	for _, d := range root.Directives {
		d.Extentions = append(d.Extentions, addition.Directives...)
	}
}
