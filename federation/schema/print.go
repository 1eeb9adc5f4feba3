package schema

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
)

// Print renders doc back to SDL text, for `federationctl extract` and for
// debugging a composed SuperGraph. It is intentionally conservative: it
// prints the definition kinds federation composition actually produces
// (object types, interfaces, input objects, field lists) field-by-field
// rather than walking the full ast.Definition surface, the way
// roderm-graphql-go/federation/schema_printer.go builds SDL text by hand
// per node kind instead of relying on a generic AST-to-string pass.
func Print(doc *ast.Document) string {
	var b strings.Builder
	for _, def := range doc.Definitions {
		printDefinition(&b, def)
	}
	return b.String()
}

func printDefinition(b *strings.Builder, def ast.Definition) {
	switch d := def.(type) {
	case *ast.ObjectTypeDefinition:
		printFielded(b, "type", d.Name.String(), namedTypeNames(d.Interfaces), d.Fields)
	case *ast.ObjectTypeExtension:
		printFielded(b, "extend type", d.Name.String(), namedTypeNames(d.Interfaces), d.Fields)
	case *ast.InterfaceTypeDefinition:
		printFielded(b, "interface", d.Name.String(), nil, d.Fields)
	case *ast.InputObjectTypeDefinition:
		printFielded(b, "input", d.Name.String(), nil, d.Fields)
	case *ast.ScalarTypeDefinition:
		fmt.Fprintf(b, "scalar %s\n\n", d.Name.String())
	case *ast.EnumTypeDefinition:
		fmt.Fprintf(b, "enum %s\n\n", d.Name.String())
	case *ast.UnionTypeDefinition:
		fmt.Fprintf(b, "union %s\n\n", d.Name.String())
	case *ast.DirectiveDefinition:
		fmt.Fprintf(b, "directive @%s\n\n", d.Name.String())
	case *ast.SchemaDefinition:
		b.WriteString("schema { }\n\n")
	}
}

func namedTypeNames(types []*ast.NamedType) []string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.Name.String())
	}
	return names
}

func printFielded(b *strings.Builder, keyword, name string, implements []string, fields []*ast.FieldDefinition) {
	b.WriteString(keyword)
	b.WriteString(" ")
	b.WriteString(name)
	if len(implements) > 0 {
		fmt.Fprintf(b, " implements %s", strings.Join(implements, " & "))
	}
	b.WriteString(" {\n")
	for _, f := range fields {
		fmt.Fprintf(b, "  %s: %s\n", f.Name.String(), typeString(f.Type))
	}
	b.WriteString("}\n\n")
}

func typeString(t ast.Type) string {
	switch v := t.(type) {
	case *ast.NamedType:
		return v.Name.String()
	case *ast.ListType:
		return "[" + typeString(v.Type) + "]"
	case *ast.NonNullType:
		return typeString(v.Type) + "!"
	default:
		return ""
	}
}
