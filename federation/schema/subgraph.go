// Package schema is the typed, read-only view of a supergraph and its
// subgraph schemas described in spec.md section 4.1. It parses federation
// directives (@key, @requires, @provides, @external, @shareable, @override,
// @context/@fromContext) off each subgraph's SDL and exposes them through a
// small, stable query surface the rest of the core depends on.
package schema

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// InvalidSubgraph is returned when a subgraph's SDL carries a federation
// directive that does not parse, or references a field that does not
// exist. It is fatal to the process loading the schema version, not a
// per-request error (spec.md section 4.1).
type InvalidSubgraph struct {
	SubGraph string
	Reason   string
}

func (e *InvalidSubgraph) Error() string {
	return fmt.Sprintf("invalid subgraph %q: %s", e.SubGraph, e.Reason)
}

// Key is one @key(fields: "...") declaration on an entity.
type Key struct {
	FieldSet   string
	Resolvable bool
}

// Override records an @override(from: "...") directive on a field.
type Override struct {
	From string
}

// ContextArgument records an argument whose value is supplied by
// @fromContext, bound to a @context declared on some ancestor selection.
type ContextArgument struct {
	ArgumentName string
	ContextName  string
	Selection    string
}

// Field is one field of an Entity, with the federation metadata attached to it.
type Field struct {
	Name             string
	Type             ast.Type
	Requires         string // raw @requires(fields: "...") selection, unparsed
	Provides         []string
	External         bool
	Shareable        bool
	Override         *Override
	ContextArguments []ContextArgument
}

// Entity is an object or interface type declared in a subgraph. Keys is
// empty for plain (non-federated) types such as root operation types.
type Entity struct {
	TypeName    string
	Keys        []Key
	IsExtension bool
	IsInterface bool
	Fields      map[string]*Field
}

// IsResolvable reports whether at least one key is resolvable from this subgraph.
func (e *Entity) IsResolvable() bool {
	for _, k := range e.Keys {
		if k.Resolvable {
			return true
		}
	}
	return false
}

// SubGraph is one federated GraphQL service's schema plus its federation metadata.
type SubGraph struct {
	Name   string
	Host   string
	Schema *ast.Document

	entities map[string]*Entity
	context  map[string]bool // names declared via @context on any type in this subgraph
}

// NewSubGraph parses a subgraph's SDL and extracts its entities and
// federation metadata. It returns *InvalidSubgraph if a @key field-set
// cannot be parsed against a field that exists on the declaring type.
func NewSubGraph(name string, src []byte, host string) (*SubGraph, error) {
	l := lexer.New(string(src))
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, &InvalidSubgraph{SubGraph: name, Reason: fmt.Sprintf("parse error: %v", p.Errors())}
	}

	sg := &SubGraph{
		Name:     name,
		Host:     host,
		Schema:   doc,
		entities: make(map[string]*Entity),
		context:  make(map[string]bool),
	}

	for _, def := range doc.Definitions {
		switch t := def.(type) {
		case *ast.ObjectTypeDefinition:
			sg.collectContext(t.Directives)
			entity, err := buildEntity(name, t.Name.String(), t.Directives, t.Fields, false, false)
			if err != nil {
				return nil, err
			}
			sg.entities[t.Name.String()] = entity
		case *ast.ObjectTypeExtension:
			sg.collectContext(t.Directives)
			entity, err := buildEntity(name, t.Name.String(), t.Directives, t.Fields, true, false)
			if err != nil {
				return nil, err
			}
			sg.entities[t.Name.String()] = entity
		case *ast.InterfaceTypeDefinition:
			entity, err := buildEntity(name, t.Name.String(), t.Directives, t.Fields, false, true)
			if err != nil {
				return nil, err
			}
			sg.entities[t.Name.String()] = entity
		}
	}

	if err := sg.validateKeyFieldSets(); err != nil {
		return nil, err
	}

	return sg, nil
}

// validateKeyFieldSets checks the invariant from spec.md section 3: every
// key field-set parses as a valid selection against its declaring type.
func (sg *SubGraph) validateKeyFieldSets() error {
	for typeName, entity := range sg.entities {
		for _, k := range entity.Keys {
			for _, fieldName := range strings.Fields(k.FieldSet) {
				if _, ok := entity.Fields[fieldName]; !ok {
					return &InvalidSubgraph{
						SubGraph: sg.Name,
						Reason:   fmt.Sprintf("@key(fields: %q) on %s references unknown field %q", k.FieldSet, typeName, fieldName),
					}
				}
			}
		}
	}
	return nil
}

func buildEntity(subGraphName, typeName string, directives []*ast.Directive, fields []*ast.FieldDefinition, isExtension, isInterface bool) (*Entity, error) {
	keys, err := parseKeys(subGraphName, typeName, directives)
	if err != nil {
		return nil, err
	}

	entity := &Entity{
		TypeName:    typeName,
		Keys:        keys,
		IsExtension: isExtension,
		IsInterface: isInterface,
		Fields:      make(map[string]*Field),
	}

	for _, f := range fields {
		entity.Fields[f.Name.String()] = parseField(f)
	}

	return entity, nil
}

func parseKeys(subGraphName, typeName string, directives []*ast.Directive) ([]Key, error) {
	var keys []Key
	for _, d := range directives {
		if d.Name != "key" {
			continue
		}
		key := Key{Resolvable: true}
		for _, arg := range d.Arguments {
			switch arg.Name.String() {
			case "fields":
				fieldSet := strings.Trim(arg.Value.String(), "\"")
				if strings.TrimSpace(fieldSet) == "" {
					return nil, &InvalidSubgraph{SubGraph: subGraphName, Reason: fmt.Sprintf("@key on %s has an empty field set", typeName)}
				}
				key.FieldSet = fieldSet
			case "resolvable":
				if arg.Value.String() == "false" {
					key.Resolvable = false
				}
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func parseField(field *ast.FieldDefinition) *Field {
	f := &Field{
		Name: field.Name.String(),
		Type: field.Type,
	}

	for _, d := range field.Directives {
		switch d.Name {
		case "requires":
			if len(d.Arguments) > 0 {
				f.Requires = strings.Trim(d.Arguments[0].Value.String(), "\"")
			}
		case "provides":
			if len(d.Arguments) > 0 {
				f.Provides = strings.Fields(strings.Trim(d.Arguments[0].Value.String(), "\""))
			}
		case "shareable":
			f.Shareable = true
		case "external":
			f.External = true
		case "override":
			for _, arg := range d.Arguments {
				if arg.Name.String() == "from" {
					f.Override = &Override{From: strings.Trim(arg.Value.String(), "\"")}
				}
			}
		case "fromContext":
			if len(d.Arguments) > 0 {
				raw := strings.Trim(d.Arguments[0].Value.String(), "\"")
				// fromContext selections look like "$contextName { field }"
				ctxName, selection := splitContextSelection(raw)
				f.ContextArguments = append(f.ContextArguments, ContextArgument{
					ArgumentName: f.Name,
					ContextName:  ctxName,
					Selection:    selection,
				})
			}
		}
	}

	return f
}

// splitContextSelection parses the "$name { selection }" shape used by
// @fromContext(field: "$name { selection }").
func splitContextSelection(raw string) (ctxName, selection string) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "$") {
		return "", raw
	}
	rest := raw[1:]
	if idx := strings.IndexAny(rest, " {"); idx >= 0 {
		return rest[:idx], strings.TrimSpace(rest[idx:])
	}
	return rest, ""
}

func (sg *SubGraph) collectContext(directives []*ast.Directive) {
	for _, d := range directives {
		if d.Name == "context" {
			for _, arg := range d.Arguments {
				if arg.Name.String() == "name" {
					sg.context[strings.Trim(arg.Value.String(), "\"")] = true
				}
			}
		}
	}
}

// DeclaresContext reports whether this subgraph declares the named @context.
func (sg *SubGraph) DeclaresContext(name string) bool { return sg.context[name] }

// Entities returns the entity map keyed by type name.
func (sg *SubGraph) Entities() map[string]*Entity { return sg.entities }

// Entity returns the named entity, if this subgraph declares or extends it.
func (sg *SubGraph) Entity(name string) (*Entity, bool) {
	e, ok := sg.entities[name]
	return e, ok
}

// Field returns field metadata for (type, field) in this subgraph, implementing
// the schema.field(subgraph, type, name) operation from spec.md section 4.1.
func (sg *SubGraph) Field(typeName, fieldName string) (*Field, bool) {
	entity, ok := sg.entities[typeName]
	if !ok {
		return nil, false
	}
	f, ok := entity.Fields[fieldName]
	return f, ok
}
