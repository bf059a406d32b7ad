package executor

import (
	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/federation-gateway/internal/value"
	"github.com/n9te9/graphql-parser/ast"
)

// runIntrospection resolves `__schema`/`__type`/`__typename` directly
// against the composed schema, producing an object value — no
// subgraph is ever consulted for these fields.
func (e *Executor) runIntrospection(node *planner.Node, st *execState) {
	out := value.NewObject()
	for _, sel := range node.SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		ident := name
		if field.Alias != nil && field.Alias.String() != "" {
			ident = field.Alias.String()
		}
		switch name {
		case "__schema":
			out.Set(ident, e.resolveSchemaMeta(field.SelectionSet))
		case "__type":
			typeName := stringArg(field.Arguments, "name")
			td, ok := e.Schema.Types[typeName]
			if !ok {
				out.Set(ident, value.Null())
				continue
			}
			out.Set(ident, e.resolveTypeMeta(td, field.SelectionSet))
		case "__typename":
			out.Set(ident, value.String("Query"))
		}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, k := range out.Keys() {
		v, _ := out.Get(k)
		st.data.Set(k, v)
	}
}

func stringArg(args []*ast.Argument, name string) string {
	for _, a := range args {
		if a.Name.String() != name {
			continue
		}
		if sv, ok := a.Value.(*ast.StringValue); ok {
			return sv.Value
		}
	}
	return ""
}

func (e *Executor) resolveSchemaMeta(selections []ast.Selection) value.Value {
	out := value.NewObject()
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		ident := fieldIdentOf(field)
		switch field.Name.String() {
		case "types":
			items := make([]value.Value, 0, len(e.Schema.Types))
			for _, td := range e.Schema.OrderedTypes() {
				items = append(items, e.resolveTypeMeta(td, field.SelectionSet))
			}
			out.Set(ident, value.List(items))
		case "queryType":
			out.Set(ident, e.typeRef(e.Schema.QueryTypeName, field.SelectionSet))
		case "mutationType":
			if e.Schema.MutationTypeName == "" {
				out.Set(ident, value.Null())
			} else {
				out.Set(ident, e.typeRef(e.Schema.MutationTypeName, field.SelectionSet))
			}
		case "subscriptionType":
			if e.Schema.SubscriptionTypeName == "" {
				out.Set(ident, value.Null())
			} else {
				out.Set(ident, e.typeRef(e.Schema.SubscriptionTypeName, field.SelectionSet))
			}
		case "directives":
			out.Set(ident, value.List(nil))
		}
	}
	return value.Obj(out)
}

func (e *Executor) typeRef(name string, selections []ast.Selection) value.Value {
	td, ok := e.Schema.Types[name]
	if !ok {
		return value.Null()
	}
	return e.resolveTypeMeta(td, selections)
}

func fieldIdentOf(field *ast.Field) string {
	if field.Alias != nil && field.Alias.String() != "" {
		return field.Alias.String()
	}
	return field.Name.String()
}

func (e *Executor) resolveTypeMeta(td *graph.TypeDefinition, selections []ast.Selection) value.Value {
	out := value.NewObject()
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		ident := fieldIdentOf(field)
		switch field.Name.String() {
		case "name":
			out.Set(ident, value.String(td.Name))
		case "kind":
			out.Set(ident, value.Enum(td.Kind.String()))
		case "description":
			out.Set(ident, value.Null())
		case "fields":
			items := make([]value.Value, 0, len(td.Fields))
			for _, fd := range td.OrderedFields() {
				if fd.Inaccessible {
					continue
				}
				items = append(items, e.resolveFieldMeta(fd, field.SelectionSet))
			}
			out.Set(ident, value.List(items))
		case "interfaces":
			items := make([]value.Value, 0, len(td.Interfaces))
			for _, i := range td.Interfaces {
				items = append(items, e.typeRef(i, field.SelectionSet))
			}
			out.Set(ident, value.List(items))
		case "possibleTypes":
			items := make([]value.Value, 0, len(td.PossibleTypes))
			for _, pt := range td.PossibleTypes {
				items = append(items, e.typeRef(pt, field.SelectionSet))
			}
			out.Set(ident, value.List(items))
		case "enumValues":
			items := make([]value.Value, 0, len(td.EnumValues))
			for _, v := range td.EnumValues {
				ev := value.NewObject()
				ev.Set("name", value.String(v))
				ev.Set("isDeprecated", value.Bool(false))
				ev.Set("deprecationReason", value.Null())
				items = append(items, value.Obj(ev))
			}
			out.Set(ident, value.List(items))
		case "inputFields":
			items := make([]value.Value, 0, len(td.InputFields))
			for _, fd := range td.InputFields {
				items = append(items, e.resolveFieldMeta(fd, field.SelectionSet))
			}
			out.Set(ident, value.List(items))
		case "ofType":
			out.Set(ident, value.Null())
		}
	}
	return value.Obj(out)
}

func (e *Executor) resolveFieldMeta(fd *graph.FieldDef, selections []ast.Selection) value.Value {
	out := value.NewObject()
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		ident := fieldIdentOf(field)
		switch field.Name.String() {
		case "name":
			out.Set(ident, value.String(fd.Name))
		case "description":
			out.Set(ident, value.Null())
		case "type":
			out.Set(ident, e.resolveASTType(fd.Type, field.SelectionSet))
		case "isDeprecated":
			out.Set(ident, value.Bool(fd.Deprecated))
		case "deprecationReason":
			if fd.DeprecationReason == "" {
				out.Set(ident, value.Null())
			} else {
				out.Set(ident, value.String(fd.DeprecationReason))
			}
		case "args":
			out.Set(ident, value.List(nil))
		}
	}
	return value.Obj(out)
}

// resolveASTType renders an ast.Type (possibly wrapped in NonNull/List)
// as a __Type value, recursing through ofType for each wrapper layer so
// NON_NULL/LIST kinds are modeled rather than collapsed to their named
// type.
func (e *Executor) resolveASTType(t ast.Type, selections []ast.Selection) value.Value {
	switch typ := t.(type) {
	case *ast.NonNullType:
		return e.wrapASTType("NON_NULL", typ.Type, selections)
	case *ast.ListType:
		return e.wrapASTType("LIST", typ.Type, selections)
	case *ast.NamedType:
		return e.typeRef(typ.Name.String(), selections)
	default:
		return value.Null()
	}
}

// wrapASTType builds the __Type value for one NON_NULL/LIST layer: its
// own kind, a null name (wrapper types are unnamed), and ofType
// resolved against whatever sub-selection the query made on it.
func (e *Executor) wrapASTType(kind string, inner ast.Type, selections []ast.Selection) value.Value {
	out := value.NewObject()
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		ident := fieldIdentOf(field)
		switch field.Name.String() {
		case "kind":
			out.Set(ident, value.Enum(kind))
		case "name":
			out.Set(ident, value.Null())
		case "ofType":
			out.Set(ident, e.resolveASTType(inner, field.SelectionSet))
		default:
			out.Set(ident, value.Null())
		}
	}
	return value.Obj(out)
}
