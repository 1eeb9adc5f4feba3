package schema

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// InvalidSupergraph is returned when a supergraph cannot be composed from
// its subgraphs. NewSuperGraph returns it only when there are no subgraphs
// to compose; it does not check cross-subgraph consistency such as
// conflicting abstract-type relationships or @requires selections naming
// fields that no subgraph owns. Fatal to schema loading (spec.md section 4.1).
type InvalidSupergraph struct {
	Reason string
}

func (e *InvalidSupergraph) Error() string {
	return fmt.Sprintf("invalid supergraph: %s", e.Reason)
}

// SuperGraph is the immutable, composed view over every subgraph described
// in spec.md section 3: the public API schema plus the per-subgraph
// federation metadata and the field ownership map used by the planner.
type SuperGraph struct {
	SubGraphs []*SubGraph
	Schema    *ast.Document // the public api_schema()

	// ownership maps "Type.field" -> subgraphs able to resolve it, in the
	// order @override resolution prefers them.
	ownership map[string][]*SubGraph
}

// NewSuperGraph composes a SuperGraph out of already-parsed subgraphs.
func NewSuperGraph(subGraphs []*SubGraph) (*SuperGraph, error) {
	if len(subGraphs) == 0 {
		return nil, &InvalidSupergraph{Reason: "no subgraphs to compose"}
	}

	sg := &SuperGraph{
		SubGraphs: subGraphs,
		Schema:    &ast.Document{Definitions: make([]ast.Definition, 0)},
		ownership: make(map[string][]*SubGraph),
	}

	for _, subGraph := range subGraphs {
		sg.mergeSchema(subGraph.Schema)
	}

	if err := sg.buildOwnershipMap(); err != nil {
		return nil, err
	}

	return sg, nil
}

// APISchema returns the public schema client operations are validated
// against, implementing schema.api_schema() from spec.md section 4.1.
func (sg *SuperGraph) APISchema() *ast.Document { return sg.Schema }

func (sg *SuperGraph) mergeSchema(doc *ast.Document) {
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			sg.mergeObjectType(d.Name.String(), d.Fields, d.Directives, d.Interfaces)
		case *ast.ObjectTypeExtension:
			sg.mergeObjectType(d.Name.String(), d.Fields, d.Directives, d.Interfaces)
		case *ast.InterfaceTypeDefinition:
			sg.mergeInterfaceType(d)
		case *ast.InputObjectTypeDefinition:
			sg.mergeInputObjectType(d)
		case *ast.EnumTypeDefinition:
			sg.mergeEnumType(d)
		case *ast.ScalarTypeDefinition:
			sg.mergeScalarType(d)
		case *ast.UnionTypeDefinition:
			sg.mergeUnionType(d)
		case *ast.DirectiveDefinition:
			sg.mergeDirectiveDefinition(d)
		case *ast.SchemaDefinition:
			sg.mergeSchemaDefinition(d)
		}
	}
}

func (sg *SuperGraph) findObjectType(name string) *ast.ObjectTypeDefinition {
	for _, def := range sg.Schema.Definitions {
		if o, ok := def.(*ast.ObjectTypeDefinition); ok && o.Name.String() == name {
			return o
		}
	}
	return nil
}

func (sg *SuperGraph) mergeObjectType(name string, fields []*ast.FieldDefinition, directives []*ast.Directive, interfaces []*ast.NamedType) {
	existing := sg.findObjectType(name)
	if existing == nil {
		sg.Schema.Definitions = append(sg.Schema.Definitions, &ast.ObjectTypeDefinition{
			Name:       &ast.Name{Value: name},
			Interfaces: interfaces,
			Fields:     append([]*ast.FieldDefinition{}, fields...),
			Directives: directives,
		})
		return
	}
	existing.Fields = mergeFieldDefs(existing.Fields, fields)
	if len(interfaces) > 0 {
		existing.Interfaces = append(existing.Interfaces, interfaces...)
	}
}

func mergeFieldDefs(existing, additions []*ast.FieldDefinition) []*ast.FieldDefinition {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f.Name.String()] = true
	}
	result := append([]*ast.FieldDefinition{}, existing...)
	for _, f := range additions {
		if !seen[f.Name.String()] {
			result = append(result, f)
			seen[f.Name.String()] = true
		}
	}
	return result
}

func (sg *SuperGraph) mergeInterfaceType(newDef *ast.InterfaceTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.InterfaceTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			existing.Fields = mergeFieldDefs(existing.Fields, newDef.Fields)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeInputObjectType(newDef *ast.InputObjectTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.InputObjectTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			existing.Fields = append(existing.Fields, newDef.Fields...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeEnumType(newDef *ast.EnumTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.EnumTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			existing.Values = append(existing.Values, newDef.Values...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeScalarType(newDef *ast.ScalarTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.ScalarTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeUnionType(newDef *ast.UnionTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.UnionTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			existing.Types = append(existing.Types, newDef.Types...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeDirectiveDefinition(newDef *ast.DirectiveDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.DirectiveDefinition); ok && existing.Name.String() == newDef.Name.String() {
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeSchemaDefinition(newDef *ast.SchemaDefinition) {
	for _, def := range sg.Schema.Definitions {
		if _, ok := def.(*ast.SchemaDefinition); ok {
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

// buildOwnershipMap determines, for every field of every object type in the
// composed schema, which subgraphs can resolve it (not @external, and not
// shadowed by @override). Implements the ownership half of spec.md section 4.3.
func (sg *SuperGraph) buildOwnershipMap() error {
	for _, def := range sg.Schema.Definitions {
		objDef, ok := def.(*ast.ObjectTypeDefinition)
		if !ok {
			continue
		}
		typeName := objDef.Name.String()

		for _, field := range objDef.Fields {
			fieldName := field.Name.String()
			key := typeName + "." + fieldName

			var overrideFrom string
			for _, subGraph := range sg.SubGraphs {
				if entity, ok := subGraph.Entity(typeName); ok {
					if f, ok := entity.Fields[fieldName]; ok && f.Override != nil {
						overrideFrom = f.Override.From
						break
					}
				}
			}

			for _, subGraph := range sg.SubGraphs {
				if overrideFrom != "" && subGraph.Name == overrideFrom {
					continue
				}
				if sg.canResolveField(subGraph, typeName, fieldName) {
					sg.ownership[key] = append(sg.ownership[key], subGraph)
				}
			}
		}
	}
	return nil
}

func (sg *SuperGraph) canResolveField(subGraph *SubGraph, typeName, fieldName string) bool {
	entity, ok := subGraph.Entity(typeName)
	if ok {
		f, hasField := entity.Fields[fieldName]
		if !hasField {
			return false
		}
		return !f.External
	}

	// Non-entity types (e.g. Query/Mutation/Subscription, plain value types)
	// are looked up directly against the subgraph's raw schema document.
	for _, def := range subGraph.Schema.Definitions {
		if objDef, ok := def.(*ast.ObjectTypeDefinition); ok && objDef.Name.String() == typeName {
			for _, field := range objDef.Fields {
				if field.Name.String() == fieldName {
					return !hasDirective(field.Directives, "external")
				}
			}
			return false
		}
		if objExt, ok := def.(*ast.ObjectTypeExtension); ok && objExt.Name.String() == typeName {
			for _, field := range objExt.Fields {
				if field.Name.String() == fieldName {
					return !hasDirective(field.Directives, "external")
				}
			}
			return false
		}
	}
	return false
}

func hasDirective(directives []*ast.Directive, name string) bool {
	for _, d := range directives {
		if d.Name == name {
			return true
		}
	}
	return false
}

// FieldOwners returns the subgraphs able to resolve typeName.fieldName, in
// @override-resolved preference order.
func (sg *SuperGraph) FieldOwners(typeName, fieldName string) []*SubGraph {
	return sg.ownership[typeName+"."+fieldName]
}

// FieldOwner returns the first (preferred) subgraph able to resolve the field, or nil.
func (sg *SuperGraph) FieldOwner(typeName, fieldName string) *SubGraph {
	owners := sg.ownership[typeName+"."+fieldName]
	if len(owners) == 0 {
		return nil
	}
	return owners[0]
}

// EntityOwner returns the subgraph that owns (non-extension, resolvable) the
// named entity type, falling back to any resolvable extension.
func (sg *SuperGraph) EntityOwner(typeName string) *SubGraph {
	for _, subGraph := range sg.SubGraphs {
		if e, ok := subGraph.Entity(typeName); ok && !e.IsExtension && e.IsResolvable() {
			return subGraph
		}
	}
	for _, subGraph := range sg.SubGraphs {
		if e, ok := subGraph.Entity(typeName); ok && e.IsResolvable() {
			return subGraph
		}
	}
	return nil
}

// IsEntityType reports whether typeName has a @key anywhere in the supergraph.
func (sg *SuperGraph) IsEntityType(typeName string) bool {
	return sg.EntityOwner(typeName) != nil
}

// FieldTypeName resolves the named type of parentType.fieldName, unwrapping
// list/non-null wrappers, as needed by the planner and condition resolver.
func (sg *SuperGraph) FieldTypeName(parentType, fieldName string) (string, error) {
	if fieldName == "__typename" {
		return "String", nil
	}
	for _, def := range sg.Schema.Definitions {
		if td, ok := def.(*ast.ObjectTypeDefinition); ok && td.Name.String() == parentType {
			for _, field := range td.Fields {
				if field.Name.String() == fieldName {
					return namedTypeOf(field.Type), nil
				}
			}
		}
		if td, ok := def.(*ast.InterfaceTypeDefinition); ok && td.Name.String() == parentType {
			for _, field := range td.Fields {
				if field.Name.String() == fieldName {
					return namedTypeOf(field.Type), nil
				}
			}
		}
	}
	return "", fmt.Errorf("field %s not found on type %s", fieldName, parentType)
}

func namedTypeOf(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return namedTypeOf(typ.Type)
	case *ast.NonNullType:
		return namedTypeOf(typ.Type)
	default:
		return ""
	}
}

// HasType reports whether typeName is declared anywhere in the composed
// api schema.
func (sg *SuperGraph) HasType(typeName string) bool {
	for _, def := range sg.Schema.Definitions {
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			if d.Name.String() == typeName {
				return true
			}
		case *ast.InterfaceTypeDefinition:
			if d.Name.String() == typeName {
				return true
			}
		}
	}
	return false
}

// SubGraphsDeclaring returns every subgraph that declares typeName,
// in a stable order, used to seed RootEntryEdges and KeyEdges.
func (sg *SuperGraph) SubGraphsDeclaring(typeName string) []*SubGraph {
	var out []*SubGraph
	for _, subGraph := range sg.SubGraphs {
		if _, ok := subGraph.Entity(typeName); ok {
			out = append(out, subGraph)
		}
	}
	return out
}

// SubGraphEntity returns the named subgraph's declaration of typeName, if any.
func (sg *SuperGraph) SubGraphEntity(subGraphName, typeName string) (*Entity, bool) {
	for _, subGraph := range sg.SubGraphs {
		if subGraph.Name == subGraphName {
			return subGraph.Entity(typeName)
		}
	}
	return nil, false
}

// SubGraphByName returns the named subgraph, if the supergraph composes one.
func (sg *SuperGraph) SubGraphByName(name string) (*SubGraph, bool) {
	for _, subGraph := range sg.SubGraphs {
		if subGraph.Name == name {
			return subGraph, true
		}
	}
	return nil, false
}

// IsAbstractType reports whether typeName is declared as an interface or
// union anywhere in the composed schema.
func (sg *SuperGraph) IsAbstractType(typeName string) bool {
	for _, def := range sg.Schema.Definitions {
		switch d := def.(type) {
		case *ast.InterfaceTypeDefinition:
			if d.Name.String() == typeName {
				return true
			}
		case *ast.UnionTypeDefinition:
			if d.Name.String() == typeName {
				return true
			}
		}
	}
	return false
}

// AbstractMembers returns the concrete member/implementation type names of
// an interface or union, used when building AbstractRefinementEdges
// (spec.md section 4.3 step 2.3).
func (sg *SuperGraph) AbstractMembers(typeName string) []string {
	for _, def := range sg.Schema.Definitions {
		if u, ok := def.(*ast.UnionTypeDefinition); ok && u.Name.String() == typeName {
			members := make([]string, 0, len(u.Types))
			for _, t := range u.Types {
				members = append(members, t.Name.String())
			}
			return members
		}
	}
	var members []string
	for _, def := range sg.Schema.Definitions {
		if o, ok := def.(*ast.ObjectTypeDefinition); ok {
			for _, iface := range o.Interfaces {
				if iface.Name.String() == typeName {
					members = append(members, o.Name.String())
				}
			}
		}
	}
	return members
}
