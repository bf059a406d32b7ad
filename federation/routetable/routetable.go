// Package routetable implements the shared, atomically-swapped pair of
// {ComposedSchema, Router} that every inbound request reads from, kept
// fresh by a background refresh loop.
package routetable

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/federation/router"
	"github.com/n9te9/federation-gateway/internal/apperr"
)

// RefreshInterval is the steady-state period between SDL refresh
// sweeps; RefreshJitter is added on top, so sweeps run every 33s. The
// offset is a fixed constant, not randomized per instance.
const (
	RefreshInterval = 30 * time.Second
	RefreshJitter   = 3 * time.Second
)

type snapshot struct {
	schema *graph.ComposedSchema
	router *router.Router
}

// command is the internal control-plane message type; today only
// SetRouter exists, issued by the dynamic registry whenever a
// subgraph is added or re-addressed.
type command struct {
	setRouter *router.Router
	done      chan struct{}
}

// RouteTable is the single read path every request takes: Get returns
// the current composed schema and router, or not-ready if either has
// never been populated.
type RouteTable struct {
	current atomic.Pointer[snapshot]
	cmds    chan command
	logger  *slog.Logger
	retry   router.RetryOption
}

// New starts a RouteTable's background refresh loop against an
// initial Router and returns immediately; the table is not ready until
// the first successful refresh completes, unless seed is non-nil, in
// which case it's installed immediately (e.g. composed from local SDL
// files at startup) so the gateway can serve before any subgraph has
// answered a live `_service { sdl }` fetch.
func New(ctx context.Context, initial *router.Router, seed *graph.ComposedSchema, logger *slog.Logger, retry router.RetryOption) *RouteTable {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &RouteTable{cmds: make(chan command), logger: logger, retry: retry}
	if seed != nil && initial != nil {
		rt.current.Store(&snapshot{schema: seed, router: initial})
	}
	go rt.run(ctx, initial)
	return rt
}

// Get returns the most recently composed schema and router. ok is
// false until the first refresh succeeds — callers must surface this
// as NotReady (HTTP 200, per apperr.NotReadyError), never as a hard
// failure, since a gateway mid-startup is an expected state.
func (rt *RouteTable) Get() (*graph.ComposedSchema, *router.Router, bool) {
	snap := rt.current.Load()
	if snap == nil || snap.schema == nil || snap.router == nil {
		return nil, nil, false
	}
	return snap.schema, snap.router, true
}

// SetRouter installs a new Router (e.g. after a dynamic subgraph
// registration) and blocks until the subsequent refresh against it has
// been attempted at least once.
func (rt *RouteTable) SetRouter(ctx context.Context, r *router.Router) error {
	done := make(chan struct{})
	select {
	case rt.cmds <- command{setRouter: r, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rt *RouteTable) run(ctx context.Context, initial *router.Router) {
	current := initial
	if current != nil {
		rt.refresh(ctx, current)
	}

	timer := time.NewTimer(RefreshInterval + RefreshJitter)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-rt.cmds:
			if cmd.setRouter != nil {
				current = cmd.setRouter
				rt.refresh(ctx, current)
			}
			close(cmd.done)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(RefreshInterval + RefreshJitter)
		case <-timer.C:
			if current != nil {
				rt.refresh(ctx, current)
			}
			timer.Reset(RefreshInterval + RefreshJitter)
		}
	}
}

// refresh fetches every subgraph's SDL in parallel, recomposes, and
// swaps the snapshot on success. A failed sweep leaves the previous
// snapshot (if any) in place rather than tearing down a working table
// over one subgraph's transient outage.
func (rt *RouteTable) refresh(ctx context.Context, r *router.Router) {
	names := r.Names()
	sdls := make([]string, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			sdl, err := r.FetchSchema(gctx, name, rt.retry)
			if err != nil {
				return fmt.Errorf("subgraph %q: %w", name, err)
			}
			sdls[i] = sdl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rt.logger.Warn("route table refresh: SDL fetch failed, keeping previous snapshot", "error", err)
		return
	}

	subgraphs := make([]*graph.Subgraph, 0, len(names))
	for i, name := range names {
		sg, err := graph.NewSubgraph(name, []byte(sdls[i]))
		if err != nil {
			rt.logger.Warn("route table refresh: failed to parse subgraph SDL, keeping previous snapshot", "subgraph", name, "error", err)
			return
		}
		subgraphs = append(subgraphs, sg)
	}

	schema, err := graph.Compose(subgraphs)
	if err != nil {
		rt.logger.Warn("route table refresh: composition failed, keeping previous snapshot", "error", err)
		return
	}

	rt.current.Store(&snapshot{schema: schema, router: r})
	rt.logger.Info("route table refreshed", "subgraphs", names)
}

// NotReadyError is a convenience wrapper so gateway handlers don't need
// to import apperr just to spell the not-ready error kind.
func NotReadyError() *apperr.ServerError {
	return apperr.NotReadyError()
}
