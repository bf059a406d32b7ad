package planner_test

import (
	"testing"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"

	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/federation-gateway/internal/value"
)

const accountsSDL = `
type User @key(fields: "id") {
  id: ID!
  name: String
}

type Query {
  me: User
}
`

const reviewsSDL = `
extend type User @key(fields: "id") {
  id: ID! @external
  reviews: [Review]
}

type Review {
  id: ID!
  body: String
}
`

func composedSchema(t *testing.T) *graph.ComposedSchema {
	t.Helper()
	accounts, err := graph.NewSubgraph("accounts", []byte(accountsSDL))
	if err != nil {
		t.Fatalf("NewSubgraph(accounts) error = %v", err)
	}
	reviews, err := graph.NewSubgraph("reviews", []byte(reviewsSDL))
	if err != nil {
		t.Fatalf("NewSubgraph(reviews) error = %v", err)
	}
	schema, err := graph.Compose([]*graph.Subgraph{accounts, reviews})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	return schema
}

func parseQuery(t *testing.T, query string) *ast.Document {
	t.Helper()
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		t.Fatalf("ParseDocument() errors = %v", p.Errors())
	}
	return doc
}

func TestPlanCrossServiceQuerySplitsAtBoundary(t *testing.T) {
	schema := composedSchema(t)
	doc := parseQuery(t, `query { me { id name reviews { id body } } }`)

	pl := planner.New(schema)
	node, errs := pl.Plan(doc, "", map[string]value.Value{})
	if len(errs) > 0 {
		t.Fatalf("Plan() errors = %v", errs)
	}
	if node == nil {
		t.Fatalf("Plan() returned a nil node with no errors")
	}

	if node.Kind != planner.NodeSequence {
		t.Fatalf("top node Kind = %v, want NodeSequence (own-service fetch + boundary join)", node.Kind)
	}
	if len(node.Children) != 2 {
		t.Fatalf("top node has %d children, want 2 (fetch, flatten)", len(node.Children))
	}
	fetch, flatten := node.Children[0], node.Children[1]
	if fetch.Kind != planner.NodeFetch || fetch.Service != "accounts" {
		t.Errorf("first child = {Kind: %v, Service: %q}, want {NodeFetch, accounts}", fetch.Kind, fetch.Service)
	}
	if flatten.Kind != planner.NodeFlatten {
		t.Fatalf("second child Kind = %v, want NodeFlatten", flatten.Kind)
	}
	if flatten.Child == nil || flatten.Child.Service != "reviews" {
		t.Errorf("flattened entity fetch service = %v, want reviews", flatten.Child)
	}
}

func TestPlanRejectsUnknownField(t *testing.T) {
	schema := composedSchema(t)
	doc := parseQuery(t, `query { me { doesNotExist } }`)

	pl := planner.New(schema)
	_, errs := pl.Plan(doc, "", map[string]value.Value{})
	if len(errs) == 0 {
		t.Fatalf("Plan() errs = empty, want a ValidationError for the unknown field")
	}
}

func TestPlanIntrospectionBypassesSubgraphs(t *testing.T) {
	schema := composedSchema(t)
	doc := parseQuery(t, `query { __typename }`)

	pl := planner.New(schema)
	node, errs := pl.Plan(doc, "", map[string]value.Value{})
	if len(errs) > 0 {
		t.Fatalf("Plan() errors = %v", errs)
	}
	if node.Kind != planner.NodeIntrospection {
		t.Errorf("node.Kind = %v, want NodeIntrospection", node.Kind)
	}
}

func TestPlanEnforcesMaxDepth(t *testing.T) {
	schema := composedSchema(t)
	doc := parseQuery(t, `query { me { id } }`)

	pl := planner.New(schema)
	pl.MaxDepth = 1
	_, errs := pl.Plan(doc, "", map[string]value.Value{})
	if len(errs) == 0 {
		t.Fatalf("Plan() with MaxDepth=1 errs = empty, want a depth-exceeded ValidationError")
	}
}
