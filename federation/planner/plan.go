// Package planner turns a parsed operation and the composed schema
// into a plan tree of Fetch/Flatten/Parallel/Sequence/Subscribe/
// Introspection nodes.
package planner

import (
	"github.com/n9te9/federation-gateway/internal/value"
	"github.com/n9te9/graphql-parser/ast"
)

// PathSegment addresses a position inside the in-progress response
// value: a named object field, a list index, or "every element of the
// list here" (used when a Flatten crosses a list boundary).
type PathSegment struct {
	Key         string
	Index       int
	IsIndex     bool
	FlattenList bool
}

func KeySeg(k string) PathSegment      { return PathSegment{Key: k} }
func IndexSeg(i int) PathSegment       { return PathSegment{Index: i, IsIndex: true} }
func FlattenListSeg() PathSegment       { return PathSegment{FlattenList: true} }

func (s PathSegment) String() string {
	switch {
	case s.FlattenList:
		return "[]"
	case s.IsIndex:
		return "#"
	default:
		return s.Key
	}
}

// Representations is the `[_Any!]!` payload sent to a subgraph's
// `_entities` root field: one object per entity instance, each
// carrying __typename plus its key fields.
type Representations struct {
	Path  []PathSegment
	Items []*value.Object
}

// NodeKind tags the Node variant.
type NodeKind int

const (
	NodeFetch NodeKind = iota
	NodeFlatten
	NodeParallel
	NodeSequence
	NodeSubscribe
	NodeIntrospection
)

// Node is the plan tree's sum type. Exactly one of the kind-specific
// field groups is populated, matching Kind.
type Node struct {
	Kind NodeKind

	// NodeFetch / NodeSubscribe
	Service          string
	Query            string
	Variables        map[string]value.Value
	EntityVariables  *Representations // non-nil only for entity-join fetches
	ResponsePath     []PathSegment    // where this fetch's top-level result is merged

	// NodeFlatten
	Path  []PathSegment
	Child *Node

	// NodeParallel / NodeSequence
	Children []*Node

	// NodeIntrospection
	SelectionSet []ast.Selection
}

// Fetch builds a non-entity root/nested fetch node.
func Fetch(service, query string, variables map[string]value.Value, responsePath []PathSegment) *Node {
	return &Node{Kind: NodeFetch, Service: service, Query: query, Variables: variables, ResponsePath: responsePath}
}

// EntityFetch builds an entity-join `_entities(...)` fetch node.
func EntityFetch(service, query string, variables map[string]value.Value, reps *Representations, responsePath []PathSegment) *Node {
	return &Node{Kind: NodeFetch, Service: service, Query: query, Variables: variables, EntityVariables: reps, ResponsePath: responsePath}
}

// Flatten wraps child to run against the leaf positions reached by
// resolving path against the current response: an entity-join child
// runs once, carrying the representations found at every leaf
// position; any other child runs once.
func Flatten(path []PathSegment, child *Node) *Node {
	return &Node{Kind: NodeFlatten, Path: path, Child: child}
}

// Parallel runs every child concurrently with no short-circuit.
func Parallel(children ...*Node) *Node {
	return &Node{Kind: NodeParallel, Children: children}
}

// Sequence runs children in declaration order.
func Sequence(children ...*Node) *Node {
	return &Node{Kind: NodeSequence, Children: children}
}

// Subscribe builds a subscription root node.
func Subscribe(service, query string, variables map[string]value.Value) *Node {
	return &Node{Kind: NodeSubscribe, Service: service, Query: query, Variables: variables}
}

// Introspection builds a node resolved locally against the composed
// schema, bypassing any subgraph fetch.
func Introspection(sel []ast.Selection) *Node {
	return &Node{Kind: NodeIntrospection, SelectionSet: sel}
}
