package registry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/n9te9/federation-gateway/federation/registry"
	"github.com/n9te9/federation-gateway/federation/router"
	"github.com/n9te9/federation-gateway/federation/routetable"
)

func newSubgraphServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"_service":{"sdl":"type Query { me: ID }"}}}`))
	}))
}

func TestRegisterGatewayAddsSubgraphToRouteTable(t *testing.T) {
	sub := newSubgraphServer(t)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt := routetable.New(ctx, nil, nil, nil, router.RetryOption{Attempts: 1})

	reg := registry.New(nil, rt)
	srv := httptest.NewServer(reg)
	defer srv.Close()

	body := registry.RegistrationRequest{
		RegistrationGraphs: []registry.RegistrationGraph{
			{Name: "accounts", Address: sub.Listener.Addr().String(), QueryPath: "/"},
		},
	}
	raw, _ := json.Marshal(body)

	resp, err := http.Post(srv.URL+"/schema/registration", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST /schema/registration error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, gotRouter, ok := rt.Get(); ok {
			if _, found := gotRouter.Get("accounts"); found {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("route table never picked up the registered subgraph")
}

func TestRegisterGatewayRejectsInvalidPushedSDL(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt := routetable.New(ctx, nil, nil, nil, router.RetryOption{Attempts: 1})

	reg := registry.New(nil, rt)
	srv := httptest.NewServer(reg)
	defer srv.Close()

	body := registry.RegistrationRequest{
		RegistrationGraphs: []registry.RegistrationGraph{
			{Name: "broken", Address: "broken:4001", QueryPath: "/", SDL: "type { {{{ not valid sdl"},
		},
	}
	raw, _ := json.Marshal(body)

	resp, err := http.Post(srv.URL+"/schema/registration", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST /schema/registration error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unparsable pushed SDL", resp.StatusCode)
	}

	if _, _, ok := rt.Get(); ok {
		t.Errorf("route table became ready from a registration that should have been rejected")
	}
}

func TestRegisterGatewayRejectsWrongPath(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt := routetable.New(ctx, nil, nil, nil, router.RetryOption{Attempts: 1})

	reg := registry.New(nil, rt)
	srv := httptest.NewServer(reg)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/not-the-registration-path")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRegisterGatewayRejectsNonPost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt := routetable.New(ctx, nil, nil, nil, router.RetryOption{Attempts: 1})

	reg := registry.New(nil, rt)
	srv := httptest.NewServer(reg)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/schema/registration")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
