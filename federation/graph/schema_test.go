package graph_test

import (
	"testing"

	"github.com/n9te9/federation-gateway/federation/graph"
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

extend type Query {
  review(id: ID!): Review
}
`

func mustSubgraph(t *testing.T, name, sdl string) *graph.Subgraph {
	t.Helper()
	sg, err := graph.NewSubgraph(name, []byte(sdl))
	if err != nil {
		t.Fatalf("NewSubgraph(%q) error = %v", name, err)
	}
	return sg
}

func TestComposeMergesTypesAcrossSubgraphs(t *testing.T) {
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	reviews := mustSubgraph(t, "reviews", reviewsSDL)

	schema, err := graph.Compose([]*graph.Subgraph{accounts, reviews})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	userType, ok := schema.Types["User"]
	if !ok {
		t.Fatalf("User type missing from composed schema")
	}
	if !userType.IsEntity {
		t.Errorf("User.IsEntity = false, want true (carries @key)")
	}
	if _, ok := userType.Fields["reviews"]; !ok {
		t.Errorf("User.reviews field missing after merging the reviews extension")
	}

	if owner := schema.FieldOwner("User", "name"); owner != "accounts" {
		t.Errorf("FieldOwner(User.name) = %q, want accounts", owner)
	}
	if owner := schema.FieldOwner("User", "reviews"); owner != "reviews" {
		t.Errorf("FieldOwner(User.reviews) = %q, want reviews", owner)
	}
}

func TestComposeIsOrderIndependent(t *testing.T) {
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	reviews := mustSubgraph(t, "reviews", reviewsSDL)

	forward, err := graph.Compose([]*graph.Subgraph{accounts, reviews})
	if err != nil {
		t.Fatalf("Compose(forward) error = %v", err)
	}
	backward, err := graph.Compose([]*graph.Subgraph{reviews, accounts})
	if err != nil {
		t.Fatalf("Compose(backward) error = %v", err)
	}

	if forward.FieldOwner("User", "name") != backward.FieldOwner("User", "name") {
		t.Errorf("FieldOwner(User.name) differs by subgraph submission order")
	}
	if forward.EntityOwnerService("User") != backward.EntityOwnerService("User") {
		t.Errorf("EntityOwnerService(User) differs by subgraph submission order")
	}
	if len(forward.ServiceNames) != len(backward.ServiceNames) {
		t.Fatalf("ServiceNames length differs: %v vs %v", forward.ServiceNames, backward.ServiceNames)
	}
	for i := range forward.ServiceNames {
		if forward.ServiceNames[i] != backward.ServiceNames[i] {
			t.Errorf("ServiceNames[%d] = %q, want %q (sorted regardless of input order)", i, backward.ServiceNames[i], forward.ServiceNames[i])
		}
	}
}

func TestEntityOwnerServicePrefersBaseDefiner(t *testing.T) {
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	reviews := mustSubgraph(t, "reviews", reviewsSDL)

	schema, err := graph.Compose([]*graph.Subgraph{accounts, reviews})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	owner := schema.EntityOwnerService("User")
	if owner != "accounts" {
		t.Errorf("EntityOwnerService(User) = %q, want accounts (the base, non-extension definer)", owner)
	}
}

func TestComposeRejectsUndefinedReturnType(t *testing.T) {
	const badSDL = `
type Query {
  widget: Widget
}
`
	sg := mustSubgraph(t, "broken", badSDL)
	if _, err := graph.Compose([]*graph.Subgraph{sg}); err == nil {
		t.Fatalf("Compose() error = nil, want a CompositionError for undefined return type Widget")
	}
}

func TestOrderedTypesIsSortedByName(t *testing.T) {
	accounts := mustSubgraph(t, "accounts", accountsSDL)
	reviews := mustSubgraph(t, "reviews", reviewsSDL)

	schema, err := graph.Compose([]*graph.Subgraph{accounts, reviews})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	ordered := schema.OrderedTypes()
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Name > ordered[i].Name {
			t.Fatalf("OrderedTypes() not sorted: %q came before %q", ordered[i-1].Name, ordered[i].Name)
		}
	}
}
