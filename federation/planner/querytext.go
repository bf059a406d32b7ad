package planner

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
)

// varDecl is one `$name: Type` entry in an emitted operation header.
type varDecl struct {
	name     string
	typeName string
}

// collectVariableNames walks selections gathering every `$name`
// variable reference, sorted for deterministic query text.
func collectVariableNames(selections []ast.Selection) []string {
	seen := make(map[string]bool)
	var walk func([]ast.Selection)
	walk = func(sels []ast.Selection) {
		for _, sel := range sels {
			switch s := sel.(type) {
			case *ast.Field:
				for _, arg := range s.Arguments {
					collectVarsFromValue(arg.Value, seen)
				}
				if len(s.SelectionSet) > 0 {
					walk(s.SelectionSet)
				}
			case *ast.InlineFragment:
				walk(s.SelectionSet)
			}
		}
	}
	walk(selections)
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	return sortStrings(names)
}

func collectVarsFromValue(val ast.Value, seen map[string]bool) {
	switch v := val.(type) {
	case *ast.Variable:
		seen[v.Name] = true
	case *ast.ListValue:
		for _, item := range v.Values {
			collectVarsFromValue(item, seen)
		}
	case *ast.ObjectValue:
		for _, f := range v.Fields {
			collectVarsFromValue(f.Value, seen)
		}
	}
}

func sortStrings(in []string) []string {
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j-1] > in[j]; j-- {
			in[j-1], in[j] = in[j], in[j-1]
		}
	}
	return in
}

// buildOperationQuery emits a full `query (...) { ... }` /
// `mutation (...) { ... }` / `subscription (...) { ... }` document for
// a root-owned selection set, declaring only the variables actually
// referenced within it.
func buildOperationQuery(operationType string, selections []ast.Selection, varTypes map[string]string) string {
	var sb strings.Builder
	varNames := collectVariableNames(selections)

	sb.WriteString(operationType)
	if len(varNames) > 0 {
		sb.WriteString(" (")
		for i, name := range varNames {
			if i > 0 {
				sb.WriteString(", ")
			}
			t := varTypes[name]
			if t == "" {
				t = "String"
			}
			sb.WriteString("$")
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(t)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" {\n")
	for _, sel := range selections {
		writeSelection(&sb, sel, "\t")
	}
	sb.WriteString("}")
	return sb.String()
}

// buildEntityQueryText emits `query ($representations: [_Any!]!) {
// _entities(representations: $representations) { ... on Type { ... } } }`.
func buildEntityQueryText(entityType string, selections []ast.Selection) string {
	var sb strings.Builder
	sb.WriteString("query ($representations: [_Any!]!) {\n")
	sb.WriteString("\t_entities(representations: $representations) {\n")
	sb.WriteString("\t\t... on ")
	sb.WriteString(entityType)
	sb.WriteString(" {\n")
	for _, sel := range selections {
		writeSelection(&sb, sel, "\t\t\t")
	}
	sb.WriteString("\t\t}\n\t}\n}")
	return sb.String()
}

func writeSelection(sb *strings.Builder, sel ast.Selection, indent string) {
	switch s := sel.(type) {
	case *ast.Field:
		sb.WriteString(indent)
		if s.Alias != nil && s.Alias.String() != "" {
			sb.WriteString(s.Alias.String())
			sb.WriteString(": ")
		}
		sb.WriteString(s.Name.String())
		if len(s.Arguments) > 0 {
			sb.WriteString("(")
			for i, arg := range s.Arguments {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(arg.Name.String())
				sb.WriteString(": ")
				writeValue(sb, arg.Value)
			}
			sb.WriteString(")")
		}
		if len(s.SelectionSet) > 0 {
			sb.WriteString(" {\n")
			for _, sub := range s.SelectionSet {
				writeSelection(sb, sub, indent+"\t")
			}
			sb.WriteString(indent)
			sb.WriteString("}")
		}
		sb.WriteString("\n")
	case *ast.InlineFragment:
		sb.WriteString(indent)
		sb.WriteString("... on ")
		sb.WriteString(s.TypeCondition.Name.String())
		sb.WriteString(" {\n")
		for _, sub := range s.SelectionSet {
			writeSelection(sb, sub, indent+"\t")
		}
		sb.WriteString(indent)
		sb.WriteString("}\n")
	case *ast.FragmentSpread:
		sb.WriteString(indent)
		sb.WriteString("...")
		sb.WriteString(s.Name.String())
		sb.WriteString("\n")
	}
}

func writeValue(sb *strings.Builder, val ast.Value) {
	switch v := val.(type) {
	case *ast.StringValue:
		sb.WriteString(fmt.Sprintf("%q", v.Value))
	case *ast.IntValue:
		fmt.Fprintf(sb, "%d", v.Value)
	case *ast.FloatValue:
		fmt.Fprintf(sb, "%v", v.Value)
	case *ast.BooleanValue:
		fmt.Fprintf(sb, "%t", v.Value)
	case *ast.Variable:
		sb.WriteString("$")
		sb.WriteString(v.Name)
	case *ast.ListValue:
		sb.WriteString("[")
		for i, item := range v.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, item)
		}
		sb.WriteString("]")
	case *ast.ObjectValue:
		sb.WriteString("{")
		for i, f := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name.String())
			sb.WriteString(": ")
			writeValue(sb, f.Value)
		}
		sb.WriteString("}")
	case *ast.EnumValue:
		sb.WriteString(v.Value)
	case *ast.NullValue:
		sb.WriteString("null")
	default:
		sb.WriteString("null")
	}
}
