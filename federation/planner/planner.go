package planner

import (
	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/internal/apperr"
	"github.com/n9te9/federation-gateway/internal/value"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"
)

func newName(v string) *ast.Name {
	return &ast.Name{Token: token.Token{Type: token.IDENT, Literal: v}, Value: v}
}

// Planner turns a parsed executable document, against one composed
// schema snapshot, into a plan tree. It holds no mutable state of its
// own beyond the options it was built with, so one Planner can be
// reused across requests against the same schema snapshot.
type Planner struct {
	Schema   *graph.ComposedSchema
	MaxDepth int
}

// New builds a Planner bound to a composed schema snapshot. A plan
// built from it must not outlive that snapshot's lifetime (the gateway
// builds a Planner per request from the snapshot it read off the route
// table; the subscription controller builds one per connection).
func New(schema *graph.ComposedSchema) *Planner {
	return &Planner{Schema: schema, MaxDepth: DefaultMaxDepth}
}

// Plan is the public entry point: pre-plan validation followed by tree
// construction. Returns either a single Node or a non-empty list of
// ServerErrors — never both.
func (p *Planner) Plan(doc *ast.Document, operationName string, variables map[string]value.Value) (*Node, []*apperr.ServerError) {
	op, errs := findOperation(doc, operationName)
	if len(errs) > 0 {
		return nil, errs
	}
	if len(op.SelectionSet) == 0 {
		return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "operation has an empty selection set")}
	}

	fragments := collectFragments(doc)
	expanded := expandFragments(op.SelectionSet, fragments)

	rootType := p.rootTypeName(op.Operation)
	if rootType == "" {
		return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "no root type declared for operation %q", op.Operation)}
	}

	if isIntrospectionOnly(expanded) {
		return Introspection(expanded), nil
	}

	if errs := p.validateSelections(rootType, expanded); len(errs) > 0 {
		return nil, errs
	}

	maxDepth := p.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if d := selectionDepth(expanded, fragments, map[string]bool{}); d > maxDepth {
		return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "query exceeds maximum depth of %d", maxDepth)}
	}

	switch string(op.Operation) {
	case "subscription":
		return p.planSubscription(rootType, expanded, variables)
	default:
		return p.planQueryOrMutation(string(op.Operation), rootType, expanded, variables)
	}
}

// filterVars projects requestVars down to the names actually
// referenced by a fetch's selections, so each Fetch/Subscribe node
// only carries the variables it declares.
func filterVars(requestVars map[string]value.Value, selections []ast.Selection) map[string]value.Value {
	names := collectVariableNames(selections)
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]value.Value, len(names))
	for _, n := range names {
		if v, ok := requestVars[n]; ok {
			out[n] = v
		}
	}
	return out
}

func findOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, []*apperr.ServerError) {
	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "no operation found in document")}
	}
	if operationName == "" {
		if len(ops) > 1 {
			return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "must provide operation name if query contains multiple operations")}
		}
		return ops[0], nil
	}
	for _, op := range ops {
		if op.Name != nil && op.Name.String() == operationName {
			return op, nil
		}
	}
	return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "unknown operation named %q", operationName)}
}

func collectFragments(doc *ast.Document) map[string]*ast.FragmentDefinition {
	out := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			out[frag.Name.String()] = frag
		}
	}
	return out
}

// expandFragments inlines every FragmentSpread and InlineFragment into
// the parent selection list. Type-conditioned selections lose their
// condition in the process — an accepted simplification for a single
// concrete root type per request, matching how the reference gateway
// this package is modeled on handles query-side fragments.
func expandFragments(selections []ast.Selection, fragments map[string]*ast.FragmentDefinition) []ast.Selection {
	result := make([]ast.Selection, 0, len(selections))
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if len(s.SelectionSet) > 0 {
				newField := &ast.Field{Alias: s.Alias, Name: s.Name, Arguments: s.Arguments, Directives: s.Directives}
				newField.SelectionSet = expandFragments(s.SelectionSet, fragments)
				result = append(result, newField)
			} else {
				result = append(result, s)
			}
		case *ast.InlineFragment:
			result = append(result, expandFragments(s.SelectionSet, fragments)...)
		case *ast.FragmentSpread:
			frag, ok := fragments[s.Name.String()]
			if !ok {
				continue
			}
			result = append(result, expandFragments(frag.SelectionSet, fragments)...)
		default:
			result = append(result, sel)
		}
	}
	return result
}

func isIntrospectionOnly(selections []ast.Selection) bool {
	if len(selections) == 0 {
		return false
	}
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			return false
		}
		name := field.Name.String()
		if name != "__schema" && name != "__type" && name != "__typename" {
			return false
		}
	}
	return true
}

func (p *Planner) rootTypeName(op ast.OperationType) string {
	switch string(op) {
	case "query":
		if p.Schema.QueryTypeName != "" {
			return p.Schema.QueryTypeName
		}
		return "Query"
	case "mutation":
		if p.Schema.MutationTypeName != "" {
			return p.Schema.MutationTypeName
		}
		return "Mutation"
	case "subscription":
		if p.Schema.SubscriptionTypeName != "" {
			return p.Schema.SubscriptionTypeName
		}
		return "Subscription"
	default:
		return ""
	}
}

// validateSelections walks the (already fragment-expanded) selection
// tree checking field existence and @inaccessible, returning every
// violation found (not just the first).
func (p *Planner) validateSelections(parentType string, selections []ast.Selection) []*apperr.ServerError {
	var errs []*apperr.ServerError
	td, ok := p.Schema.Types[parentType]
	if !ok {
		return []*apperr.ServerError{apperr.New(apperr.ValidationError, "unknown type %q", parentType)}
	}
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		if name == "__typename" {
			continue
		}
		fd, ok := td.Fields[name]
		if !ok {
			errs = append(errs, apperr.New(apperr.ValidationError, "Cannot query field %q on type %q", name, parentType))
			continue
		}
		if fd.Inaccessible {
			errs = append(errs, apperr.New(apperr.ValidationError, "Cannot query field %q on type %q", name, parentType))
			continue
		}
		if len(field.SelectionSet) > 0 {
			childType := p.Schema.FieldReturnTypeName(parentType, name)
			errs = append(errs, p.validateSelections(childType, field.SelectionSet)...)
		}
	}
	return errs
}

func fieldIdent(field *ast.Field) string {
	if field.Alias != nil && field.Alias.String() != "" {
		return field.Alias.String()
	}
	return field.Name.String()
}

func isListReturnType(t ast.Type) bool {
	switch typ := t.(type) {
	case *ast.ListType:
		return true
	case *ast.NonNullType:
		return isListReturnType(typ.Type)
	default:
		return false
	}
}

// planQueryOrMutation builds the root-level plan for a query or
// mutation operation: one Fetch per owning service, each possibly
// followed by a Sequence of entity-join Flatten nodes, the whole set
// combined under Parallel when more than one service is involved.
func (p *Planner) planQueryOrMutation(operationType, rootType string, selections []ast.Selection, requestVars map[string]value.Value) (*Node, []*apperr.ServerError) {
	byService := make(map[string][]ast.Selection)
	var order []string
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		if name == "__typename" {
			continue
		}
		owner := p.Schema.FieldOwner(rootType, name)
		if owner == "" {
			return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "no subgraph owns field %s.%s", rootType, name)}
		}
		if _, ok := byService[owner]; !ok {
			order = append(order, owner)
		}
		byService[owner] = append(byService[owner], sel)
	}
	if len(order) == 0 {
		return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "operation selects no resolvable fields")}
	}

	var branches []*Node
	for _, service := range order {
		branch := p.planServiceBranch(operationType, service, rootType, byService[service], nil, requestVars)
		branches = append(branches, branch)
	}
	if len(branches) == 1 {
		return branches[0], nil
	}
	return Parallel(branches...), nil
}

// planServiceBranch builds one service's Fetch plus any entity joins
// discovered within it, combined under a Sequence.
func (p *Planner) planServiceBranch(operationType, service, rootType string, selections []ast.Selection, path []PathSegment, requestVars map[string]value.Value) *Node {
	filtered, joins := p.planSelections(selections, service, rootType, path)
	queryText := buildOperationQuery(operationType, filtered, p.inferVarTypes(rootType, filtered))
	fetch := Fetch(service, queryText, filterVars(requestVars, filtered), path)

	if len(joins) == 0 {
		return fetch
	}
	if len(joins) == 1 {
		return Sequence(fetch, joins[0])
	}
	return Sequence(fetch, Parallel(joins...))
}

// planSelections is the recursive boundary-field walk. It returns the
// selections this service's own fetch should request (same-service
// fields recursed into, boundary fields replaced by their key-field
// stub), plus the list of entity-join nodes discovered at or below
// this level, each already wrapped in its own Flatten.
func (p *Planner) planSelections(selections []ast.Selection, owner, parentType string, path []PathSegment) ([]ast.Selection, []*Node) {
	var filtered []ast.Selection
	var joins []*Node
	hasTypename := false

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		if name == "__typename" {
			hasTypename = true
			filtered = append(filtered, field)
			continue
		}

		ident := fieldIdent(field)
		fieldPath := append(append([]PathSegment{}, path...), KeySeg(ident))

		fieldOwner := p.Schema.FieldOwner(parentType, name)
		if fieldOwner == "" {
			continue
		}
		retType := p.Schema.FieldReturnTypeName(parentType, name)

		entityOwner := ""
		if p.Schema.IsEntity(retType) {
			entityOwner = p.Schema.EntityOwnerService(retType)
		}

		isBoundary := fieldOwner != owner
		target := fieldOwner
		if !isBoundary && entityOwner != "" && entityOwner != owner {
			isBoundary = true
			target = entityOwner
		}

		if !isBoundary {
			newField := &ast.Field{Alias: field.Alias, Name: field.Name, Arguments: field.Arguments, Directives: field.Directives}
			if len(field.SelectionSet) > 0 {
				childFiltered, childJoins := p.planSelections(field.SelectionSet, owner, retType, fieldPath)
				if len(childFiltered) == 0 {
					childFiltered = []ast.Selection{typenameField()}
				}
				newField.SelectionSet = childFiltered
				joins = append(joins, childJoins...)
			}
			filtered = append(filtered, newField)
			continue
		}

		// Boundary field: parentType is itself an extension resolved by
		// target (an `@key`-annotated extension field), or field's return
		// type is an entity owned elsewhere (reference case).
		extension := p.Schema.IsEntity(parentType) && p.hasKeyForService(parentType, target) && fieldOwner != owner
		var entityType string
		var joinPath []PathSegment
		var joinSelections []ast.Selection
		var nestedJoins []*Node

		if extension {
			entityType = parentType
			joinPath = append([]PathSegment{}, path...)
			childPath := fieldPath
			if isListReturnType(field.Type) {
				childPath = append(append([]PathSegment{}, fieldPath...), FlattenListSeg())
			}
			childFiltered, cj := p.planSelections(field.SelectionSet, target, retType, childPath)
			nestedJoins = cj
			joinSelections = []ast.Selection{&ast.Field{Alias: field.Alias, Name: field.Name, Arguments: field.Arguments, SelectionSet: childFiltered}}

			keyFields := p.Schema.KeyFieldsFor(entityType, target)
			ensureFields(&filtered, keyFields)
			if !hasTypename {
				hasTypename = true
			}
		} else {
			entityType = retType
			joinPath = fieldPath
			if isListReturnType(field.Type) {
				joinPath = append(append([]PathSegment{}, fieldPath...), FlattenListSeg())
			}
			childFiltered, cj := p.planSelections(field.SelectionSet, target, retType, joinPath)
			nestedJoins = cj
			joinSelections = childFiltered

			keyFields := p.Schema.KeyFieldsFor(entityType, target)
			stub := &ast.Field{Alias: field.Alias, Name: field.Name, Arguments: field.Arguments, SelectionSet: keyFieldsAsSelections(keyFields)}
			filtered = append(filtered, stub)
		}

		entityQueryText := buildEntityQueryText(entityType, joinSelections)
		entityFetch := EntityFetch(target, entityQueryText, nil, &Representations{Path: joinPath}, joinPath)
		flatten := Flatten(joinPath, entityFetch)

		if len(nestedJoins) > 0 {
			if len(nestedJoins) == 1 {
				joins = append(joins, Sequence(flatten, nestedJoins[0]))
			} else {
				joins = append(joins, Sequence(flatten, Parallel(nestedJoins...)))
			}
		} else {
			joins = append(joins, flatten)
		}
	}

	isRootType := parentType == "Query" || parentType == "Mutation" || parentType == "Subscription"
	if !hasTypename && !isRootType && len(filtered) > 0 {
		filtered = append([]ast.Selection{typenameField()}, filtered...)
	}

	return filtered, joins
}

func (p *Planner) hasKeyForService(typeName, service string) bool {
	td, ok := p.Schema.Types[typeName]
	if !ok {
		return false
	}
	_, ok = td.Keys[service]
	return ok
}

func typenameField() *ast.Field {
	return &ast.Field{Name: newName("__typename")}
}

func keyFieldsAsSelections(names []string) []ast.Selection {
	out := make([]ast.Selection, 0, len(names))
	for _, n := range names {
		out = append(out, &ast.Field{Name: newName(n)})
	}
	return out
}

// ensureFields appends any of names not already present (by field
// name) as bare fields onto *selections.
func ensureFields(selections *[]ast.Selection, names []string) {
	existing := make(map[string]bool)
	for _, sel := range *selections {
		if f, ok := sel.(*ast.Field); ok {
			existing[f.Name.String()] = true
		}
	}
	for _, n := range names {
		if !existing[n] {
			*selections = append(*selections, &ast.Field{Name: newName(n)})
			existing[n] = true
		}
	}
}

// planSubscription builds the Subscribe root plus any entity joins its
// payload selection needs. A subscription operation must have exactly
// one root field.
func (p *Planner) planSubscription(rootType string, selections []ast.Selection, requestVars map[string]value.Value) (*Node, []*apperr.ServerError) {
	var field *ast.Field
	count := 0
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok && f.Name.String() != "__typename" {
			field = f
			count++
		}
	}
	if count != 1 {
		return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "a subscription operation must select exactly one root field")}
	}

	name := field.Name.String()
	owner := p.Schema.FieldOwner(rootType, name)
	if owner == "" {
		return nil, []*apperr.ServerError{apperr.New(apperr.ValidationError, "no subgraph owns field %s.%s", rootType, name)}
	}
	retType := p.Schema.FieldReturnTypeName(rootType, name)

	filteredChild, joins := p.planSelections(field.SelectionSet, owner, retType, []PathSegment{KeySeg(fieldIdent(field))})
	newField := &ast.Field{Alias: field.Alias, Name: field.Name, Arguments: field.Arguments, SelectionSet: filteredChild}
	queryText := buildOperationQuery("subscription", []ast.Selection{newField}, p.inferVarTypes(rootType, []ast.Selection{newField}))
	sub := Subscribe(owner, queryText, filterVars(requestVars, []ast.Selection{newField}))

	if len(joins) == 0 {
		return sub, nil
	}
	if len(joins) == 1 {
		return Sequence(sub, joins[0]), nil
	}
	return Sequence(sub, Parallel(joins...)), nil
}

// inferVarTypes resolves the GraphQL type string for every variable
// referenced in selections by walking arguments back to their
// declared FieldDef.Arguments in the composed schema.
func (p *Planner) inferVarTypes(rootType string, selections []ast.Selection) map[string]string {
	out := make(map[string]string)
	var walk func(parentType string, sels []ast.Selection)
	walk = func(parentType string, sels []ast.Selection) {
		for _, sel := range sels {
			field, ok := sel.(*ast.Field)
			if !ok {
				continue
			}
			name := field.Name.String()
			td, ok := p.Schema.Types[parentType]
			var fd *graph.FieldDef
			if ok {
				fd = td.Fields[name]
			}
			for _, arg := range field.Arguments {
				v, ok := arg.Value.(*ast.Variable)
				if !ok || fd == nil {
					continue
				}
				for _, argDef := range fd.Arguments {
					if argDef.Name.String() == arg.Name.String() {
						out[v.Name] = argDef.Type.String()
					}
				}
			}
			if len(field.SelectionSet) > 0 {
				childType := p.Schema.FieldReturnTypeName(parentType, name)
				walk(childType, field.SelectionSet)
			}
		}
	}
	walk(rootType, selections)
	return out
}
