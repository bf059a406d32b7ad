package graph

import (
	"fmt"
	"sort"

	"github.com/n9te9/graphql-parser/ast"
)

// Kind classifies a composed type definition.
type Kind int

const (
	KindScalar Kind = iota
	KindObject
	KindInterface
	KindUnion
	KindEnum
	KindInputObject
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "SCALAR"
	case KindObject:
		return "OBJECT"
	case KindInterface:
		return "INTERFACE"
	case KindUnion:
		return "UNION"
	case KindEnum:
		return "ENUM"
	case KindInputObject:
		return "INPUT_OBJECT"
	default:
		return "UNKNOWN"
	}
}

// FieldDef is a composed field: argument defs, wrapped return type,
// owning service (absent for pure key/scalar fields), and the
// @requires/@provides selections needed for cross-service resolution.
type FieldDef struct {
	Name         string
	Arguments    []*ast.InputValueDefinition
	Type         ast.Type
	OwnerService string // "" means no single owner was resolved (composition error path)
	Candidates   []string // every service capable of resolving this field, sorted
	Requires     []string
	Provides     []string
	External     bool
	Shareable    bool
	Deprecated   bool
	DeprecationReason string
	Inaccessible bool
}

// TypeDefinition is one composed type: its kind, fields (ordered),
// possible types (union members / interface implementers), enum
// values, input fields, and — for entity object types — the
// per-service @key selections.
type TypeDefinition struct {
	Name          string
	Kind          Kind
	fieldOrder    []string
	Fields        map[string]*FieldDef
	PossibleTypes []string
	EnumValues    []string
	InputFields   map[string]*FieldDef
	Keys          map[string][]KeySelection // service name -> key selections
	IsEntity      bool
	Interfaces    []string
}

// OrderedFields returns this type's fields in the order they were
// first declared across the merged subgraphs.
func (t *TypeDefinition) OrderedFields() []*FieldDef {
	out := make([]*FieldDef, 0, len(t.fieldOrder))
	for _, name := range t.fieldOrder {
		out = append(out, t.Fields[name])
	}
	return out
}

// ComposedSchema is the immutable, merged view of every subgraph's
// SDL, as built by Compose. Once built it is never mutated — a schema
// refresh replaces the whole value (see routetable package).
type ComposedSchema struct {
	Types              map[string]*TypeDefinition
	typeOrder          []string
	QueryTypeName      string
	MutationTypeName   string
	SubscriptionTypeName string
	ServiceNames       []string // sorted; the set of subgraphs this schema was composed from

	// extensionServices[typeName][service] is true when service declared
	// typeName via `extend type`, carried from compositionState so
	// EntityOwnerService can still distinguish base from extension
	// definers after composition completes.
	extensionServices map[string]map[string]bool
}

// OrderedTypes returns every composed type sorted by name, so that
// `__schema.types` ordering is independent of subgraph submission
// order.
func (s *ComposedSchema) OrderedTypes() []*TypeDefinition {
	names := make([]string, 0, len(s.Types))
	for n := range s.Types {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*TypeDefinition, 0, len(names))
	for _, n := range names {
		out = append(out, s.Types[n])
	}
	return out
}

// CompositionError reports a conflict discovered while merging two
// subgraphs' definitions of the same name.
type CompositionError struct {
	Kind  string // "FieldConflicted" | "DefinitionConflicted"
	Type  string
	Field string
	Msg   string
}

func (e *CompositionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Kind, e.Type, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Type, e.Msg)
}

var builtinScalars = []string{"Int", "Float", "String", "Boolean", "ID"}

// compositionState carries the mutable working set while merging
// subgraphs; it becomes part of the returned ComposedSchema only after
// Compose validates it.
type compositionState struct {
	schema *ComposedSchema
	// perFieldServices[typeName][fieldName] = set of services that define it (non-external)
	perFieldServices map[string]map[string][]string
	// extensionServices[typeName] = set of services that declared it via `extend`
	extensionServices map[string]map[string]bool
}

// Compose merges a set of subgraph SDL documents into a single
// ComposedSchema. Composition is a pure function of the input set:
// order of subgraphs must not affect the result for accepted inputs,
// so callers may pass subgraphs in any order.
func Compose(subgraphs []*Subgraph) (*ComposedSchema, error) {
	if len(subgraphs) == 0 {
		return nil, fmt.Errorf("no subgraphs to compose")
	}

	sorted := make([]*Subgraph, len(subgraphs))
	copy(sorted, subgraphs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	schema := &ComposedSchema{
		Types:        make(map[string]*TypeDefinition),
		QueryTypeName: "Query",
	}
	for _, name := range builtinScalars {
		schema.Types[name] = &TypeDefinition{Name: name, Kind: KindScalar}
	}

	st := &compositionState{
		schema:            schema,
		perFieldServices:  make(map[string]map[string][]string),
		extensionServices: make(map[string]map[string]bool),
	}

	serviceNames := make([]string, 0, len(sorted))
	for _, sg := range sorted {
		serviceNames = append(serviceNames, sg.Name)
		if err := st.mergeDocument(sg.Name, sg.Document); err != nil {
			return nil, err
		}
	}
	schema.ServiceNames = serviceNames

	st.resolveOwnership()

	if err := st.validate(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(schema.Types))
	for n := range schema.Types {
		names = append(names, n)
	}
	sort.Strings(names)
	schema.typeOrder = names
	schema.extensionServices = st.extensionServices

	return schema, nil
}

func (st *compositionState) typeDef(name string, kind Kind) *TypeDefinition {
	td, ok := st.schema.Types[name]
	if !ok {
		td = &TypeDefinition{
			Name:        name,
			Kind:        kind,
			Fields:      make(map[string]*FieldDef),
			InputFields: make(map[string]*FieldDef),
			Keys:        make(map[string][]KeySelection),
		}
		st.schema.Types[name] = td
	}
	return td
}

func (st *compositionState) mergeDocument(service string, doc *ast.Document) error {
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.SchemaDefinition:
			st.mergeSchemaDefinition(d)
		case *ast.ObjectTypeDefinition:
			if err := st.mergeObjectLike(service, d.Name.String(), d.Fields, d.Directives, d.Interfaces, false); err != nil {
				return err
			}
		case *ast.ObjectTypeExtension:
			if err := st.mergeObjectLike(service, d.Name.String(), d.Fields, d.Directives, d.Interfaces, true); err != nil {
				return err
			}
		case *ast.InterfaceTypeDefinition:
			if err := st.mergeObjectLike(service, d.Name.String(), d.Fields, d.Directives, nil, false); err != nil {
				return err
			}
			st.typeDef(d.Name.String(), KindInterface).Kind = KindInterface
		case *ast.UnionTypeDefinition:
			st.mergeUnion(d)
		case *ast.EnumTypeDefinition:
			st.mergeEnum(d)
		case *ast.InputObjectTypeDefinition:
			st.mergeInputObject(service, d)
		case *ast.ScalarTypeDefinition:
			name := d.Name.String()
			st.typeDef(name, KindScalar)
		}
	}
	return nil
}

func (st *compositionState) mergeSchemaDefinition(d *ast.SchemaDefinition) {
	for _, ot := range d.OperationTypes {
		switch string(ot.Operation) {
		case "query":
			st.schema.QueryTypeName = ot.Type.Name.String()
		case "mutation":
			st.schema.MutationTypeName = ot.Type.Name.String()
		case "subscription":
			st.schema.SubscriptionTypeName = ot.Type.Name.String()
		}
	}
}

// mergeObjectLike merges an object/interface type definition or
// extension. Field-level ownership bookkeeping happens here; the
// final owner per field is resolved in resolveOwnership once every
// subgraph has been merged.
func (st *compositionState) mergeObjectLike(service, typeName string, fields []*ast.FieldDefinition, directives []*ast.Directive, interfaces []*ast.NamedType, isExtension bool) error {
	td := st.typeDef(typeName, KindObject)

	for _, iface := range interfaces {
		td.Interfaces = append(td.Interfaces, iface.Name.String())
	}

	if keys := parseKeySelections(directives); len(keys) > 0 {
		td.IsEntity = true
		td.Keys[service] = keys
	}

	if isExtension {
		if st.extensionServices[typeName] == nil {
			st.extensionServices[typeName] = make(map[string]bool)
		}
		st.extensionServices[typeName][service] = true
	}

	if st.perFieldServices[typeName] == nil {
		st.perFieldServices[typeName] = make(map[string][]string)
	}

	for _, f := range fields {
		fieldName := f.Name.String()
		pfd := parseFieldDirectives(f.Directives)

		existing, hasExisting := td.Fields[fieldName]
		if !hasExisting {
			existing = &FieldDef{
				Name:      fieldName,
				Arguments: f.Arguments,
				Type:      f.Type,
			}
			td.Fields[fieldName] = existing
			td.fieldOrder = append(td.fieldOrder, fieldName)
		} else if existing.Type.String() != f.Type.String() {
			return &CompositionError{Kind: "FieldConflicted", Type: typeName, Field: fieldName,
				Msg: fmt.Sprintf("return type mismatch: %q vs %q", existing.Type.String(), f.Type.String())}
		}

		existing.Requires = mergeStrings(existing.Requires, pfd.Requires)
		existing.Provides = mergeStrings(existing.Provides, pfd.Provides)
		if pfd.Shareable {
			existing.Shareable = true
		}
		if isInaccessible(f.Directives) {
			existing.Inaccessible = true
		}
		if dep, ok := findDirective(f.Directives, "deprecated"); ok {
			existing.Deprecated = true
			if reason, ok := parseDirectiveArgString(dep, "reason"); ok {
				existing.DeprecationReason = reason
			}
		}

		if !pfd.External {
			st.perFieldServices[typeName][fieldName] = append(st.perFieldServices[typeName][fieldName], service)
		} else {
			existing.External = true
		}
		if pfd.OverrideFrom != "" {
			// Record the overriding service as a candidate, even when the field
			// is @external. resolveOwnership sorts candidates and does not
			// consult @override, so this does not by itself make it the owner.
			st.perFieldServices[typeName][fieldName] = prependUnique(st.perFieldServices[typeName][fieldName], service)
		}
	}

	return nil
}

func prependUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append([]string{v}, list...)
}

func mergeStrings(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range more {
		if !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}

func (st *compositionState) mergeUnion(d *ast.UnionTypeDefinition) {
	td := st.typeDef(d.Name.String(), KindUnion)
	td.Kind = KindUnion
	for _, t := range d.Types {
		name := t.Name.String()
		found := false
		for _, existing := range td.PossibleTypes {
			if existing == name {
				found = true
				break
			}
		}
		if !found {
			td.PossibleTypes = append(td.PossibleTypes, name)
		}
	}
}

func (st *compositionState) mergeEnum(d *ast.EnumTypeDefinition) {
	td := st.typeDef(d.Name.String(), KindEnum)
	td.Kind = KindEnum
	for _, v := range d.Values {
		name := v.Value.String()
		found := false
		for _, existing := range td.EnumValues {
			if existing == name {
				found = true
				break
			}
		}
		if !found {
			td.EnumValues = append(td.EnumValues, name)
		}
	}
}

func (st *compositionState) mergeInputObject(service string, d *ast.InputObjectTypeDefinition) {
	td := st.typeDef(d.Name.String(), KindInputObject)
	td.Kind = KindInputObject
	if td.InputFields == nil {
		td.InputFields = make(map[string]*FieldDef)
	}
	for _, f := range d.Fields {
		name := f.Name.String()
		if _, exists := td.InputFields[name]; exists {
			continue
		}
		td.InputFields[name] = &FieldDef{Name: name, Type: f.Type, OwnerService: service}
	}
}

// resolveOwnership assigns a single deterministic OwnerService per
// field from the candidate services collected during merge, applying
// a base-service/alphabetical tie-break. @override(from: ...) is not
// taken into account when choosing the owner.
func (st *compositionState) resolveOwnership() {
	for typeName, fieldsMap := range st.perFieldServices {
		td := st.schema.Types[typeName]
		if td == nil {
			continue
		}
		for fieldName, candidates := range fieldsMap {
			fd := td.Fields[fieldName]
			if fd == nil {
				continue
			}
			sortedCandidates := append([]string{}, candidates...)
			sort.Strings(sortedCandidates)
			fd.Candidates = sortedCandidates

			if len(candidates) == 0 {
				continue
			}
			// Prefer the base service (one that did NOT declare the type via
			// `extend`) among candidates; otherwise fall back to the
			// alphabetically-first candidate for determinism.
			owner := ""
			for _, c := range sortedCandidates {
				if !st.extensionServices[typeName][c] {
					owner = c
					break
				}
			}
			if owner == "" {
				owner = sortedCandidates[0]
			}
			fd.OwnerService = owner
		}
	}
}

func (st *compositionState) validate() error {
	for typeName, td := range st.schema.Types {
		for fieldName, fd := range td.Fields {
			retName := unwrapTypeName(fd.Type)
			if retName == "" {
				continue
			}
			if _, ok := st.schema.Types[retName]; !ok {
				return &CompositionError{Kind: "DefinitionConflicted", Type: typeName, Field: fieldName,
					Msg: fmt.Sprintf("return type %q is not defined by any subgraph", retName)}
			}
		}
		for _, member := range td.PossibleTypes {
			if _, ok := st.schema.Types[member]; !ok {
				return &CompositionError{Kind: "DefinitionConflicted", Type: typeName,
					Msg: fmt.Sprintf("union member %q is not defined", member)}
			}
		}
	}
	for _, rootName := range []string{st.schema.QueryTypeName, st.schema.MutationTypeName, st.schema.SubscriptionTypeName} {
		if rootName == "" {
			continue
		}
		if td, ok := st.schema.Types[rootName]; ok && td.Kind != KindObject {
			return &CompositionError{Kind: "DefinitionConflicted", Type: rootName,
				Msg: "root operation type must be an object type"}
		}
	}
	return nil
}

// GetSubgraphsForField returns every service capable of resolving
// typeName.fieldName, sorted, for planner tie-breaking.
func (s *ComposedSchema) GetSubgraphsForField(typeName, fieldName string) []string {
	td, ok := s.Types[typeName]
	if !ok {
		return nil
	}
	fd, ok := td.Fields[fieldName]
	if !ok {
		return nil
	}
	return fd.Candidates
}

// FieldOwner returns the resolved owner service for typeName.fieldName,
// or "" if the field has no owner (composition left it unresolved).
func (s *ComposedSchema) FieldOwner(typeName, fieldName string) string {
	td, ok := s.Types[typeName]
	if !ok {
		return ""
	}
	fd, ok := td.Fields[fieldName]
	if !ok {
		return ""
	}
	return fd.OwnerService
}

// IsEntity reports whether typeName carries at least one @key.
func (s *ComposedSchema) IsEntity(typeName string) bool {
	td, ok := s.Types[typeName]
	return ok && td.IsEntity
}

// EntityOwnerService returns the service that owns typeName's identity
// for _entities resolution: the base (non-extension) service with a
// resolvable key if one exists, else the first resolvable key-bearing
// service in sorted order.
func (s *ComposedSchema) EntityOwnerService(typeName string) string {
	td, ok := s.Types[typeName]
	if !ok || !td.IsEntity {
		return ""
	}
	services := make([]string, 0, len(td.Keys))
	for svc := range td.Keys {
		services = append(services, svc)
	}
	sort.Strings(services)

	for _, svc := range services {
		if !anyResolvable(td.Keys[svc]) {
			continue
		}
		if !s.declaredViaExtend(typeName, svc) {
			return svc
		}
	}
	for _, svc := range services {
		if anyResolvable(td.Keys[svc]) {
			return svc
		}
	}
	return ""
}

func anyResolvable(keys []KeySelection) bool {
	for _, k := range keys {
		if k.Resolvable {
			return true
		}
	}
	return false
}

// declaredViaExtend reports whether typeName was declared via `extend
// type` in service svc, as recorded during composition.
func (s *ComposedSchema) declaredViaExtend(typeName, svc string) bool {
	return s.extensionServices[typeName][svc]
}

// KeyFieldsFor returns the `__typename` plus key field names to
// request for typeName as resolved by owner service svc, defaulting to
// `__typename` alone if no keys are recorded.
func (s *ComposedSchema) KeyFieldsFor(typeName, svc string) []string {
	td, ok := s.Types[typeName]
	if !ok {
		return []string{"__typename"}
	}
	keys := td.Keys[svc]
	if len(keys) == 0 {
		return []string{"__typename"}
	}
	out := []string{"__typename"}
	out = append(out, KeyFieldNames(keys[0].FieldSet)...)
	return out
}

// FieldReturnTypeName resolves the named (unwrapped) return type of
// typeName.fieldName, or "" if not found. fieldName == "__typename"
// always resolves to "String".
func (s *ComposedSchema) FieldReturnTypeName(typeName, fieldName string) string {
	if fieldName == "__typename" {
		return "String"
	}
	td, ok := s.Types[typeName]
	if !ok {
		return ""
	}
	fd, ok := td.Fields[fieldName]
	if !ok {
		return ""
	}
	return unwrapTypeName(fd.Type)
}
