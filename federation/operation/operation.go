// Package operation normalizes a parsed client GraphQL document into the
// executable model described in spec.md section 4.2: a typed root
// selection set with fragments flattened, consumed by the query graph
// planner. The GraphQL text itself is parsed and validated upstream
// (outside this core, per spec.md section 1); this package only
// interprets an already-parsed *ast.Document.
package operation

import (
	"fmt"
	"strings"

	"github.com/fedgraph/planner/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// Argument is a typed, coerced field argument.
type Argument struct {
	Name  string
	Value ast.Value
}

// Selection is one field of a flattened selection set. Inline fragments
// and fragment spreads are not represented directly: their selections
// are merged into the parent selection set, each child selection
// carrying the fragment's TypeCondition so the planner can still narrow
// by concrete type when composing subgraph fetches.
type Selection struct {
	Name          string // field name
	Alias         string // response key; equals Name when no alias was given
	Arguments     []Argument
	TypeCondition string // non-empty when this selection came from a fragment/inline fragment
	Selections    []*Selection

	// Defer is non-nil when this selection carries an @defer directive
	// (spec.md section 4.5 step 5).
	Defer *DeferDirective
}

// DeferDirective records an @defer(label: "...", if: ...)'s static label.
// The "if" argument is a dispatch-time boolean and is not evaluated here.
type DeferDirective struct {
	Label string
}

// ResponseKey is the key this selection occupies in the response object.
func (s *Selection) ResponseKey() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// Variable is a typed, already-coerced operation variable (spec.md section
// 4.2: "Variables are already typed and coerced").
type Variable struct {
	Name  string
	Type  string
	Value interface{}
}

// Operation is the normalized executable document described in spec.md
// section 3: kind, root selection set, typed variables, fragments
// inlined.
type Operation struct {
	Kind       graph.OperationKind
	Name       string
	Selections []*Selection
	Variables  map[string]Variable
}

// InvalidOperation reports a client document this core cannot plan:
// no operation found, an unknown fragment spread, or a malformed root
// selection (spec.md section 4.2's leaf-selection-type invariant is
// checked by the planner against the schema model, not here).
type InvalidOperation struct {
	Reason string
}

func (e *InvalidOperation) Error() string {
	return fmt.Sprintf("invalid operation: %s", e.Reason)
}

// Build normalizes doc into an Operation. operationName selects among
// multiple operation definitions in doc; it may be empty when doc
// declares exactly one. variables carries already-coerced values keyed
// by variable name.
func Build(doc *ast.Document, operationName string, variables map[string]interface{}) (*Operation, error) {
	opDef, err := findOperation(doc, operationName)
	if err != nil {
		return nil, err
	}
	if len(opDef.SelectionSet) == 0 {
		return nil, &InvalidOperation{Reason: "operation has an empty selection set"}
	}

	fragments := indexFragments(doc)

	builder := &builder{fragments: fragments}
	selections, err := builder.flatten(opDef.SelectionSet, "")
	if err != nil {
		return nil, err
	}

	vars := make(map[string]Variable, len(opDef.VariableDefinitions))
	for _, vd := range opDef.VariableDefinitions {
		name := vd.Variable.Name
		vars[name] = Variable{
			Name:  name,
			Type:  vd.Type.String(),
			Value: variables[name],
		}
	}

	return &Operation{
		Kind:       kindOf(opDef),
		Name:       opName(opDef),
		Selections: selections,
		Variables:  vars,
	}, nil
}

func kindOf(op *ast.OperationDefinition) graph.OperationKind {
	switch op.Operation {
	case ast.Mutation:
		return graph.Mutation
	case ast.Subscription:
		return graph.Subscription
	default:
		return graph.Query
	}
}

func opName(op *ast.OperationDefinition) string {
	if op.Name == nil {
		return ""
	}
	return op.Name.String()
}

func findOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	var found *ast.OperationDefinition
	count := 0
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		count++
		if operationName == "" || opName(op) == operationName {
			found = op
			if operationName != "" {
				break
			}
		}
	}
	if found == nil {
		if count == 0 {
			return nil, &InvalidOperation{Reason: "document contains no operation definitions"}
		}
		return nil, &InvalidOperation{Reason: fmt.Sprintf("no operation named %q", operationName)}
	}
	return found, nil
}

func indexFragments(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			fragments[frag.Name.String()] = frag
		}
	}
	return fragments
}

// builder flattens fragment spreads and inline fragments while walking
// down the document's raw ast.Selection tree, tracking visited fragment
// names per branch to reject cycles instead of recursing forever.
type builder struct {
	fragments map[string]*ast.FragmentDefinition
}

func (b *builder) flatten(raw []ast.Selection, inheritedTypeCondition string) ([]*Selection, error) {
	return b.flattenVisiting(raw, inheritedTypeCondition, map[string]bool{})
}

func (b *builder) flattenVisiting(raw []ast.Selection, inheritedTypeCondition string, visiting map[string]bool) ([]*Selection, error) {
	out := make([]*Selection, 0, len(raw))
	for _, sel := range raw {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()
			alias := ""
			if s.Alias != nil {
				alias = s.Alias.String()
			}
			args := make([]Argument, 0, len(s.Arguments))
			for _, a := range s.Arguments {
				args = append(args, Argument{Name: a.Name.String(), Value: a.Value})
			}
			var children []*Selection
			if len(s.SelectionSet) > 0 {
				var err error
				children, err = b.flattenVisiting(s.SelectionSet, "", visiting)
				if err != nil {
					return nil, err
				}
			}
			out = append(out, &Selection{
				Name:          fieldName,
				Alias:         alias,
				Arguments:     args,
				TypeCondition: inheritedTypeCondition,
				Selections:    children,
				Defer:         deferDirective(s.Directives),
			})

		case *ast.InlineFragment:
			typeCondition := inheritedTypeCondition
			if s.TypeCondition != nil && s.TypeCondition.Name != nil {
				typeCondition = s.TypeCondition.Name.String()
			}
			children, err := b.flattenVisiting(s.SelectionSet, typeCondition, visiting)
			if err != nil {
				return nil, err
			}
			// An @defer on an inline fragment (e.g. "... @defer { name }")
			// has no field of its own to carry the marker once flattened,
			// so it is pushed down onto each of the fragment's immediate
			// children instead.
			if dd := deferDirective(s.Directives); dd != nil {
				for _, c := range children {
					c.Defer = dd
				}
			}
			out = append(out, children...)

		case *ast.FragmentSpread:
			name := s.Name.String()
			if visiting[name] {
				return nil, &InvalidOperation{Reason: fmt.Sprintf("fragment %q is defined cyclically", name)}
			}
			frag, ok := b.fragments[name]
			if !ok {
				return nil, &InvalidOperation{Reason: fmt.Sprintf("unknown fragment %q", name)}
			}
			typeCondition := inheritedTypeCondition
			if frag.TypeCondition != nil && frag.TypeCondition.Name != nil {
				typeCondition = frag.TypeCondition.Name.String()
			}
			visiting[name] = true
			children, err := b.flattenVisiting(frag.SelectionSet, typeCondition, visiting)
			delete(visiting, name)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)

		default:
			return nil, &InvalidOperation{Reason: "unsupported selection kind"}
		}
	}
	return out, nil
}

func deferDirective(directives []*ast.Directive) *DeferDirective {
	for _, d := range directives {
		if d.Name != "defer" {
			continue
		}
		dd := &DeferDirective{}
		for _, a := range d.Arguments {
			if a.Name.String() == "label" {
				dd.Label = strings.Trim(a.Value.String(), "\"")
			}
		}
		return dd
	}
	return nil
}
