package routetable_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/n9te9/federation-gateway/federation/router"
	"github.com/n9te9/federation-gateway/federation/routetable"
)

const usersSDL = `type Query { me: ID }`

func newSDLServer(t *testing.T, sdl string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"_service":{"sdl":` + `"` + sdl + `"` + `}}}`))
	}))
}

func TestGetIsNotReadyBeforeFirstRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A RouteTable started with no initial router never runs a refresh,
	// so Get must report not-ready rather than blocking.
	rt := routetable.New(ctx, nil, nil, nil, router.RetryOption{Attempts: 1})
	_, _, ok := rt.Get()
	if ok {
		t.Errorf("Get() ok = true before any refresh, want false")
	}
}

func TestNewWithInitialRouterBecomesReady(t *testing.T) {
	srv := newSDLServer(t, usersSDL)
	defer srv.Close()
	sg := &router.Subgraph{Descriptor: router.Descriptor{Name: "accounts", Address: srv.Listener.Addr().String(), QueryPath: "/"}}
	r := router.New([]*router.Subgraph{sg}, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := routetable.New(ctx, r, nil, nil, router.RetryOption{Attempts: 1})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := rt.Get(); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Get() never became ready after the initial refresh")
}

func TestSetRouterSwapsSnapshot(t *testing.T) {
	srv := newSDLServer(t, usersSDL)
	defer srv.Close()
	sg := &router.Subgraph{Descriptor: router.Descriptor{Name: "accounts", Address: srv.Listener.Addr().String(), QueryPath: "/"}}
	r1 := router.New([]*router.Subgraph{sg}, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := routetable.New(ctx, nil, nil, nil, router.RetryOption{Attempts: 1})

	if err := rt.SetRouter(ctx, r1); err != nil {
		t.Fatalf("SetRouter() error = %v", err)
	}
	schema, gotRouter, ok := rt.Get()
	if !ok {
		t.Fatalf("Get() ok = false after SetRouter, want true")
	}
	if schema == nil || gotRouter != r1 {
		t.Errorf("Get() after SetRouter did not reflect the new router")
	}
}
