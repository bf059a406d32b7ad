// Package graph implements schema composition: merging a set of
// subgraph SDL documents into a single ComposedSchema, recording
// per-field ownership and per-entity key selections.
package graph

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// Subgraph is one backend service's parsed SDL, the unit of input to
// composition. It is intentionally thin — name and AST only; network
// address and transport concerns live in the router package, not here,
// so that composition stays a pure function of SDL text.
type Subgraph struct {
	Name     string
	SDL      []byte
	Document *ast.Document
}

// NewSubgraph parses src as a GraphQL SDL document.
func NewSubgraph(name string, src []byte) (*Subgraph, error) {
	l := lexer.New(string(src))
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, fmt.Errorf("parse error in subgraph %q: %v", name, p.Errors())
	}
	return &Subgraph{Name: name, SDL: src, Document: doc}, nil
}

// KeySelection is one parsed `@key(fields: "...")` directive.
type KeySelection struct {
	FieldSet   string
	Resolvable bool
}

// ParsedFieldDirectives holds the federation directive metadata parsed
// off a single field definition, before ownership is resolved across
// subgraphs.
type ParsedFieldDirectives struct {
	External    bool
	Shareable   bool
	Requires    []string
	Provides    []string
	OverrideFrom string
}

func parseDirectiveArgString(d *ast.Directive, argName string) (string, bool) {
	for _, arg := range d.Arguments {
		if arg.Name.String() == argName {
			return strings.Trim(arg.Value.String(), "\""), true
		}
	}
	return "", false
}

func hasDirective(directives []*ast.Directive, name string) bool {
	for _, d := range directives {
		if d.Name == name {
			return true
		}
	}
	return false
}

func findDirective(directives []*ast.Directive, name string) (*ast.Directive, bool) {
	for _, d := range directives {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// parseFieldDirectives extracts @external/@shareable/@requires/@provides/@override.
func parseFieldDirectives(directives []*ast.Directive) ParsedFieldDirectives {
	pfd := ParsedFieldDirectives{}
	for _, d := range directives {
		switch d.Name {
		case "external":
			pfd.External = true
		case "shareable":
			pfd.Shareable = true
		case "requires":
			if len(d.Arguments) > 0 {
				fieldsVal := strings.Trim(d.Arguments[0].Value.String(), "\"")
				pfd.Requires = strings.Fields(fieldsVal)
			}
		case "provides":
			if len(d.Arguments) > 0 {
				fieldsVal := strings.Trim(d.Arguments[0].Value.String(), "\"")
				pfd.Provides = strings.Fields(fieldsVal)
			}
		case "override":
			if from, ok := parseDirectiveArgString(d, "from"); ok {
				pfd.OverrideFrom = from
			}
		}
	}
	return pfd
}

// parseKeySelections extracts all @key directives off a type definition.
func parseKeySelections(directives []*ast.Directive) []KeySelection {
	var keys []KeySelection
	for _, d := range directives {
		if d.Name != "key" {
			continue
		}
		key := KeySelection{Resolvable: true}
		for _, arg := range d.Arguments {
			switch arg.Name.String() {
			case "fields":
				key.FieldSet = strings.Trim(arg.Value.String(), "\"")
			case "resolvable":
				if arg.Value.String() == "false" {
					key.Resolvable = false
				}
			}
		}
		keys = append(keys, key)
	}
	return keys
}

// KeyFieldNames splits a `@key(fields: "a b")` field set into its
// component field names, handling composite keys.
func KeyFieldNames(fieldSet string) []string {
	return strings.Fields(fieldSet)
}

func isInaccessible(directives []*ast.Directive) bool {
	return hasDirective(directives, "inaccessible")
}

func unwrapTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return unwrapTypeName(typ.Type)
	case *ast.NonNullType:
		return unwrapTypeName(typ.Type)
	default:
		return ""
	}
}
