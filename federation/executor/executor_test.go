package executor_test

import (
	"context"
	"sync"
	"testing"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/federation-gateway/internal/apperr"
	"github.com/n9te9/federation-gateway/internal/value"
)

// fakeFetcher serves canned FetchResults keyed by service name, and
// records every call it receives so tests can assert on concurrency.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]*executor.FetchResult
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, service string, req executor.RequestData) (*executor.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, service)
	f.mu.Unlock()

	if err, ok := f.errs[service]; ok {
		return nil, err
	}
	return f.results[service], nil
}

func TestExecuteParallelFanOutMergesIndependently(t *testing.T) {
	fetcher := &fakeFetcher{
		results: map[string]*executor.FetchResult{
			"reviews": {Data: value.Obj(obj("reviews", value.List([]value.Value{value.String("great")})))},
			"reco":    {Data: value.Obj(obj("recommendations", value.List([]value.Value{value.String("widget")})))},
		},
	}

	plan := planner.Sequence(
		planner.Fetch("products", `{products{id}}`, nil, nil),
		planner.Parallel(
			planner.Fetch("reviews", `{reviews}`, nil, nil),
			planner.Fetch("reco", `{recommendations}`, nil, nil),
		),
	)
	// runSequence's first child gets a null-data result, so it merges
	// nothing at root; the assertion below only cares that both
	// parallel branches land independently in the shared object.
	fetcher.results["products"] = &executor.FetchResult{Data: value.Null()}

	exec := executor.New(nil, fetcher)
	resp := exec.Execute(context.Background(), plan)

	if len(resp.Errors) != 0 {
		t.Fatalf("Execute() errors = %v, want none", resp.Errors)
	}
	reviews, ok := resp.Data.Get("reviews")
	if !ok || len(reviews.List()) != 1 {
		t.Errorf("reviews = %v, ok=%v, want a 1-element list", reviews, ok)
	}
	reco, ok := resp.Data.Get("recommendations")
	if !ok || len(reco.List()) != 1 {
		t.Errorf("recommendations = %v, ok=%v, want a 1-element list", reco, ok)
	}
}

func TestExecuteFlattenEntityJoinResolvesAgainstRepresentations(t *testing.T) {
	fetcher := &fakeFetcher{
		results: map[string]*executor.FetchResult{
			"products": {Data: value.Obj(obj("me", value.Obj(obj("cart", value.List([]value.Value{
				value.Obj(obj("__typename", value.String("Product"), "id", value.String("1"))),
				value.Obj(obj("__typename", value.String("Product"), "id", value.String("2"))),
			}))))},
			"inventory": {Data: value.Obj(obj("_entities", value.List([]value.Value{
				value.Obj(obj("inStock", value.Bool(true))),
				value.Obj(obj("inStock", value.Bool(false))),
			})))},
		},
	}

	reps := &planner.Representations{
		Path: []planner.PathSegment{planner.KeySeg("me"), planner.KeySeg("cart"), planner.FlattenListSeg()},
	}
	join := planner.Flatten(
		[]planner.PathSegment{planner.KeySeg("me"), planner.KeySeg("cart"), planner.FlattenListSeg()},
		planner.EntityFetch("inventory", `{_entities(representations:$representations){...on Product{inStock}}}`, nil, reps, append(
			[]planner.PathSegment{planner.KeySeg("me"), planner.KeySeg("cart")},
			planner.FlattenListSeg(),
		)),
	)

	plan := planner.Sequence(
		planner.Fetch("products", `{me{cart{__typename id}}}`, nil, nil),
		join,
	)

	exec := executor.New(nil, fetcher)
	resp := exec.Execute(context.Background(), plan)

	if len(resp.Errors) != 0 {
		t.Fatalf("Execute() errors = %v, want none", resp.Errors)
	}
	me, ok := resp.Data.Get("me")
	if !ok {
		t.Fatalf("me field missing from merged response")
	}
	cart, ok := me.Object().Get("cart")
	if !ok || len(cart.List()) != 2 {
		t.Fatalf("cart = %v, ok=%v, want a 2-element list", cart, ok)
	}
	first := cart.List()[0].Object()
	inStock, ok := first.Get("inStock")
	if !ok || !inStock.Bool() {
		t.Errorf("cart[0].inStock = %v, ok=%v, want true", inStock, ok)
	}
	second := cart.List()[1].Object()
	inStock2, ok := second.Get("inStock")
	if !ok || inStock2.Bool() {
		t.Errorf("cart[1].inStock = %v, ok=%v, want false", inStock2, ok)
	}
}

func TestExecutePartialDataOnSubgraphFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		results: map[string]*executor.FetchResult{
			"products": {Data: value.Obj(obj("product", value.Obj(obj("id", value.String("1")))))},
		},
		errs: map[string]error{
			"reviews": apperr.New(apperr.SubgraphUnavailable, "boom"),
		},
	}

	plan := planner.Sequence(
		planner.Fetch("products", `{product{id}}`, nil, nil),
		planner.Fetch("reviews", `{reviews}`, nil, []planner.PathSegment{planner.KeySeg("reviews")}),
	)

	exec := executor.New(nil, fetcher)
	resp := exec.Execute(context.Background(), plan)

	product, ok := resp.Data.Get("product")
	if !ok || product.Object() == nil {
		t.Fatalf("product field missing despite the failing fetch being independent of it")
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly 1", resp.Errors)
	}
	if resp.Errors[0].Kind != apperr.SubgraphUnavailable {
		t.Errorf("Errors[0].Kind = %v, want SubgraphUnavailable", resp.Errors[0].Kind)
	}
	if _, ok := resp.Data.Get("reviews"); ok {
		t.Errorf("reviews field present despite its fetch having failed")
	}
}

func TestExecuteJoinsAppliesToSubscriptionPayload(t *testing.T) {
	fetcher := &fakeFetcher{
		results: map[string]*executor.FetchResult{
			"inventory": {Data: value.Obj(obj("_entities", value.List([]value.Value{
				value.Obj(obj("inStock", value.Bool(true))),
			})))},
		},
	}

	root := obj("product", value.Obj(obj("__typename", value.String("Product"), "id", value.String("1"))))

	reps := &planner.Representations{Path: []planner.PathSegment{planner.KeySeg("product")}}
	joins := planner.Flatten(
		[]planner.PathSegment{planner.KeySeg("product")},
		planner.EntityFetch("inventory", `{_entities(representations:$representations){...on Product{inStock}}}`, nil, reps, []planner.PathSegment{planner.KeySeg("product")}),
	)

	exec := executor.New(nil, fetcher)
	got, errs := exec.ExecuteJoins(context.Background(), root, joins)

	if len(errs) != 0 {
		t.Fatalf("ExecuteJoins() errors = %v, want none", errs)
	}
	product, ok := got.Get("product")
	if !ok {
		t.Fatalf("product field missing after ExecuteJoins")
	}
	inStock, ok := product.Object().Get("inStock")
	if !ok || !inStock.Bool() {
		t.Errorf("product.inStock = %v, ok=%v, want true", inStock, ok)
	}
}
