// Package executor walks a plan tree, dispatching fetches through a
// Fetcher, merging partial results into one shared response value, and
// resolving introspection locally.
package executor

import (
	"context"
	"sync"

	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/federation-gateway/internal/apperr"
	"github.com/n9te9/federation-gateway/internal/value"
	"golang.org/x/sync/errgroup"
)

// RequestData is what a Fetcher sends to a subgraph: the emitted
// query text, its variables, and the client's original operation name
// (subgraphs may use it for their own tracing).
type RequestData struct {
	Query         string
	Variables     map[string]value.Value
	OperationName string
}

// FetchResult is what a Fetcher returns: decoded GraphQL response data
// plus any structured errors and headers the subgraph sent back.
type FetchResult struct {
	Data    value.Value
	Errors  []*apperr.ServerError
	Headers map[string]string
}

// Fetcher is the single capability every plan node needs to reach a
// subgraph: take a (service, RequestData) pair and return a
// FetchResult.
type Fetcher interface {
	Fetch(ctx context.Context, service string, req RequestData) (*FetchResult, error)
}

// Response is the top-level GraphQL response shape this executor
// produces: {data, errors, extensions, headers}.
type Response struct {
	Data       *value.Object          `json:"data"`
	Errors     []*apperr.ServerError  `json:"errors,omitempty"`
	Extensions map[string]any         `json:"extensions,omitempty"`
	Headers    map[string]string      `json:"-"`
}

// Executor walks one plan tree per request against a fixed composed
// schema snapshot and a Fetcher capable of reaching every subgraph the
// plan names.
type Executor struct {
	Schema  *graph.ComposedSchema
	Fetcher Fetcher
}

func New(schema *graph.ComposedSchema, fetcher Fetcher) *Executor {
	return &Executor{Schema: schema, Fetcher: fetcher}
}

// execState is the shared mutable response under construction for one
// request: a single object behind a lock, an error accumulator, and
// first-wins header tracking.
type execState struct {
	mu      sync.Mutex
	data    *value.Object
	errors  []*apperr.ServerError
	headers map[string]string
}

func newExecState() *execState {
	return &execState{data: value.NewObject(), headers: map[string]string{}}
}

func newExecStateWithData(data *value.Object) *execState {
	return &execState{data: data, headers: map[string]string{}}
}

func (s *execState) addError(err *apperr.ServerError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

func (s *execState) mergeAt(path []planner.PathSegment, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Merge(s.data, v, path)
}

func (s *execState) mergeHeaders(h map[string]string) {
	if len(h) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range h {
		if _, exists := s.headers[k]; !exists {
			s.headers[k] = v
		}
	}
}

// Execute runs plan to completion and returns the assembled Response.
// It never returns a transport error: every failure is classified into
// the errors accumulator so the caller always gets a well-formed
// {data, errors} value.
func (e *Executor) Execute(ctx context.Context, plan *planner.Node) *Response {
	st := newExecState()
	e.run(ctx, plan, st)
	return &Response{Data: st.data, Errors: st.errors, Headers: st.headers, Extensions: map[string]any{}}
}

// ExecuteJoins runs joins (a Flatten or Parallel-of-Flatten node, as
// produced for a subscription payload's nested entity joins) against
// root in place, the same join resolution Execute performs for a
// non-subscription Sequence's second child. Used by the subscription
// controller once per upstream event, since a Subscribe node's payload
// has no Fetch step of its own to sequence after.
func (e *Executor) ExecuteJoins(ctx context.Context, root *value.Object, joins *planner.Node) (*value.Object, []*apperr.ServerError) {
	st := newExecStateWithData(root)
	e.run(ctx, joins, st)
	return st.data, st.errors
}

func (e *Executor) run(ctx context.Context, node *planner.Node, st *execState) {
	if node == nil {
		return
	}
	switch node.Kind {
	case planner.NodeFetch:
		e.runFetch(ctx, node, st)
	case planner.NodeFlatten:
		e.runFlatten(ctx, node, st)
	case planner.NodeParallel:
		e.runParallel(ctx, node, st)
	case planner.NodeSequence:
		e.runSequence(ctx, node, st)
	case planner.NodeIntrospection:
		e.runIntrospection(node, st)
	case planner.NodeSubscribe:
		// A bare Subscribe reached by Execute (outside the subscription
		// controller) has no single-response semantics; record it loud.
		st.addError(apperr.New(apperr.InternalError, "subscribe node cannot be executed outside a subscription controller"))
	}
}

func (e *Executor) runFetch(ctx context.Context, node *planner.Node, st *execState) {
	req := RequestData{Query: node.Query, Variables: node.Variables}
	result, err := e.Fetcher.Fetch(ctx, node.Service, req)
	if err != nil {
		st.addError(apperr.New(apperr.SubgraphUnavailable, "subgraph %q unavailable: %s", node.Service, err.Error()).WithPath(pathToAny(node.ResponsePath)))
		return
	}
	st.mergeHeaders(result.Headers)
	for _, fe := range result.Errors {
		st.addError(fe.WithPath(prefixPath(node.ResponsePath, fe.Path)))
	}

	if node.EntityVariables == nil {
		if result.Data.IsNull() {
			return
		}
		if err := st.mergeAt(node.ResponsePath, result.Data); err != nil {
			st.addError(AsMergeConflictError(err))
		}
		return
	}

	// _entities fetch: the `_entities` list is positional against the
	// representations supplied at this path.
	e.mergeEntityResults(node, result.Data, st)
}

func (e *Executor) mergeEntityResults(node *planner.Node, data value.Value, st *execState) {
	obj := data.Object()
	if obj == nil {
		return
	}
	entitiesVal, ok := obj.Get("_entities")
	if !ok || entitiesVal.Kind() != value.KindList {
		return
	}
	entities := entitiesVal.List()

	basePath := node.ResponsePath
	hasFlatten := len(basePath) > 0 && basePath[len(basePath)-1].FlattenList
	listPath := basePath
	if hasFlatten {
		listPath = basePath[:len(basePath)-1]
	}

	for i, ent := range entities {
		if ent.IsNull() {
			continue
		}
		var path []planner.PathSegment
		if hasFlatten {
			path = append(append([]planner.PathSegment{}, listPath...), planner.IndexSeg(i))
		} else {
			path = listPath
		}
		if err := st.mergeAt(path, ent); err != nil {
			st.addError(AsMergeConflictError(err))
		}
	}
}

func (e *Executor) runFlatten(ctx context.Context, node *planner.Node, st *execState) {
	st.mu.Lock()
	leaves, reps := resolveFlattenLeaves(st.data, node.Path)
	st.mu.Unlock()

	if node.Child.Kind == planner.NodeFetch && node.Child.EntityVariables != nil {
		if len(reps) == 0 {
			return // federation semantics: no matching entity instances, nothing to fetch
		}
		child := *node.Child
		child.EntityVariables = &planner.Representations{Path: node.Child.EntityVariables.Path, Items: reps}
		child.Variables = mergeVars(child.Variables, reps)
		e.run(ctx, &child, st)
		return
	}

	_ = leaves
	e.run(ctx, node.Child, st)
}

// mergeVars attaches the gathered representation objects as the
// `$representations` variable consumed by the emitted _entities query.
func mergeVars(vars map[string]value.Value, reps []*value.Object) map[string]value.Value {
	out := make(map[string]value.Value, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	items := make([]value.Value, len(reps))
	for i, r := range reps {
		items[i] = value.Obj(r)
	}
	out["representations"] = value.List(items)
	return out
}

// resolveFlattenLeaves walks path against data (already locked by the
// caller), collecting every *value.Object reached at a leaf position —
// the representations to send onward — and the raw leaf values for
// non-entity flattens. A missing intermediate key skips that branch
// silently, treating a partially-nulled ancestor as having no entity
// to join against rather than an error.
func resolveFlattenLeaves(root *value.Object, path []planner.PathSegment) ([]value.Value, []*value.Object) {
	var leaves []value.Value
	var reps []*value.Object

	var walk func(cur value.Value, rest []planner.PathSegment)
	walk = func(cur value.Value, rest []planner.PathSegment) {
		if len(rest) == 0 {
			leaves = append(leaves, cur)
			if cur.Kind() == value.KindObject {
				reps = append(reps, cur.Object())
			}
			return
		}
		seg := rest[0]
		switch {
		case seg.FlattenList:
			if cur.Kind() != value.KindList {
				return
			}
			for _, item := range cur.List() {
				walk(item, rest[1:])
			}
		case seg.IsIndex:
			if cur.Kind() != value.KindList || seg.Index >= len(cur.List()) {
				return
			}
			walk(cur.List()[seg.Index], rest[1:])
		default:
			if cur.Kind() != value.KindObject {
				return
			}
			child, ok := cur.Object().Get(seg.Key)
			if !ok || child.IsNull() {
				return
			}
			walk(child, rest[1:])
		}
	}

	walk(value.Obj(root), path)
	return leaves, reps
}

func (e *Executor) runParallel(ctx context.Context, node *planner.Node, st *execState) {
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range node.Children {
		child := child
		g.Go(func() error {
			e.run(gctx, child, st)
			return nil
		})
	}
	_ = g.Wait() // children record their own errors; Parallel never short-circuits
}

func (e *Executor) runSequence(ctx context.Context, node *planner.Node, st *execState) {
	for _, child := range node.Children {
		e.run(ctx, child, st)
	}
}

func pathToAny(path []planner.PathSegment) []any {
	if len(path) == 0 {
		return nil
	}
	out := make([]any, 0, len(path))
	for _, seg := range path {
		switch {
		case seg.IsIndex:
			out = append(out, seg.Index)
		case seg.FlattenList:
			continue
		default:
			out = append(out, seg.Key)
		}
	}
	return out
}

func prefixPath(base []planner.PathSegment, sub []any) []any {
	prefix := pathToAny(base)
	if len(sub) == 0 {
		return prefix
	}
	return append(prefix, sub...)
}
