package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/federation/router"
)

func newTestRouter(t *testing.T, name string, handler http.HandlerFunc) (*router.Router, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	addr := srv.Listener.Addr().String()
	sg := &router.Subgraph{Descriptor: router.Descriptor{Name: name, Address: addr, QueryPath: "/graphql"}}
	return router.New([]*router.Subgraph{sg}, srv.Client()), srv
}

func TestQueryReturnsDataOnSuccess(t *testing.T) {
	r, srv := newTestRouter(t, "accounts", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"me":{"id":"1"}}}`))
	})
	defer srv.Close()

	result, err := r.Query(context.Background(), "accounts", executor.RequestData{Query: "{me{id}}"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	me, ok := result.Data.Object().Get("me")
	if !ok {
		t.Fatalf("result.Data missing 'me' field: %v", result.Data)
	}
	id, _ := me.Object().Get("id")
	if id.String() != "1" {
		t.Errorf("me.id = %v, want 1", id)
	}
}

func TestQueryUnknownSubgraphIsUnavailable(t *testing.T) {
	r := router.New(nil, http.DefaultClient)
	_, err := r.Query(context.Background(), "missing", executor.RequestData{Query: "{x}"})
	if err == nil {
		t.Fatalf("Query() error = nil, want SubgraphUnavailable for an unregistered subgraph")
	}
}

func TestQueryNonOKStatusIsUnavailable(t *testing.T) {
	r, srv := newTestRouter(t, "accounts", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := r.Query(context.Background(), "accounts", executor.RequestData{Query: "{me{id}}"})
	if err == nil {
		t.Fatalf("Query() error = nil, want SubgraphUnavailable for a 500 response")
	}
}

func TestFetchSchemaReturnsSDL(t *testing.T) {
	r, srv := newTestRouter(t, "accounts", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"_service":{"sdl":"type Query { me: User }"}}}`))
	})
	defer srv.Close()

	sdl, err := r.FetchSchema(context.Background(), "accounts", router.RetryOption{Attempts: 1})
	if err != nil {
		t.Fatalf("FetchSchema() error = %v", err)
	}
	if sdl != "type Query { me: User }" {
		t.Errorf("FetchSchema() = %q, want the SDL text", sdl)
	}
}

func TestFetchSchemaRetriesOnFailure(t *testing.T) {
	attempts := 0
	r, srv := newTestRouter(t, "accounts", func(w http.ResponseWriter, req *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"_service":{"sdl":"type Query { me: User }"}}}`))
	})
	defer srv.Close()

	sdl, err := r.FetchSchema(context.Background(), "accounts", router.RetryOption{Attempts: 3})
	if err != nil {
		t.Fatalf("FetchSchema() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (fail once, then succeed)", attempts)
	}
	if sdl == "" {
		t.Errorf("FetchSchema() returned empty SDL after retry succeeded")
	}
}
