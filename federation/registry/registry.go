// Package registry implements the dynamic subgraph registration
// endpoint: subgraphs announce themselves over HTTP instead of the
// route table discovering them from a fixed config, and every known
// peer gateway is told about the new subgraph too.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/n9te9/goliteql/schema"

	"github.com/n9te9/federation-gateway/federation/router"
	"github.com/n9te9/federation-gateway/federation/routetable"
)

// RegistrationGraph mirrors router.Descriptor in the registration wire
// format. SDL is optional: the route table fetches it itself via
// `_service { sdl }` once the subgraph is in the router, but a
// subgraph may push it along at registration time to be validated
// immediately rather than waiting for the next refresh to surface a
// syntax error.
type RegistrationGraph struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	TLS           bool   `json:"tls"`
	QueryPath     string `json:"query_path"`
	SubscribePath string `json:"subscribe_path"`
	SDL           string `json:"sdl,omitempty"`
}

type RegistrationRequest struct {
	RegistrationGraphs []RegistrationGraph `json:"registration_graphs"`
}

// Registry accumulates registered subgraph descriptors behind a mutex,
// rebuilding the Router and pushing it to the RouteTable on every
// registration, and broadcasting the same registration request to any
// peer gateway hosts this instance already knows about.
type Registry struct {
	mu          sync.Mutex
	descriptors map[string]router.Descriptor

	routeTable *routetable.RouteTable
	client     *http.Client

	peerHosts   atomic.Value // map[string]struct{}
	addHostChan chan string
}

// New builds a Registry seeded with the statically-configured
// subgraphs, so a dynamic registration only ever adds to (or
// re-addresses) that starting set.
func New(initial []router.Descriptor, rt *routetable.RouteTable) *Registry {
	descriptors := make(map[string]router.Descriptor, len(initial))
	for _, d := range initial {
		descriptors[d.Name] = d
	}
	r := &Registry{
		descriptors: descriptors,
		routeTable:  rt,
		client:      &http.Client{},
		addHostChan: make(chan string),
	}
	r.peerHosts.Store(make(map[string]struct{}))
	return r
}

// Start runs the background goroutine that absorbs newly learned peer
// gateway hosts. addHostChan is unbuffered, so an AddPeer call made
// before Start blocks until this goroutine receives it.
func (r *Registry) Start() {
	go func() {
		for host := range r.addHostChan {
			r.addPeerHost(host)
		}
	}()
}

func (r *Registry) addPeerHost(host string) {
	existing := r.peerHosts.Load().(map[string]struct{})
	next := make(map[string]struct{}, len(existing)+1)
	for h := range existing {
		next[h] = struct{}{}
	}
	next[host] = struct{}{}
	r.peerHosts.Store(next)
}

// AddPeer registers a sibling gateway host to receive a copy of every
// future registration (used for multi-instance deployments sharing
// one logical supergraph).
func (r *Registry) AddPeer(host string) {
	r.addHostChan <- host
}

func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/schema/registration" {
		http.NotFound(w, req)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.RegisterGateway(w, req)
}

// RegisterGateway decodes a registration request, merges its
// descriptors into the table, pushes the rebuilt Router to the
// RouteTable (triggering an immediate SDL refresh), and fans the same
// request out to every known peer gateway.
func (r *Registry) RegisterGateway(w http.ResponseWriter, req *http.Request) {
	var body RegistrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "Failed to decode request body", http.StatusBadRequest)
		return
	}

	for _, g := range body.RegistrationGraphs {
		if g.SDL == "" {
			continue
		}
		if _, err := schema.NewParser(schema.NewLexer()).Parse([]byte(g.SDL)); err != nil {
			http.Error(w, fmt.Sprintf("invalid SDL pushed by %q: %s", g.Name, err.Error()), http.StatusBadRequest)
			return
		}
	}

	r.mu.Lock()
	for _, g := range body.RegistrationGraphs {
		r.descriptors[g.Name] = router.Descriptor{
			Name:          g.Name,
			Address:       g.Address,
			TLS:           g.TLS,
			QueryPath:     g.QueryPath,
			SubscribePath: g.SubscribePath,
		}
	}
	subgraphs := make([]*router.Subgraph, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		subgraphs = append(subgraphs, &router.Subgraph{Descriptor: d})
	}
	r.mu.Unlock()

	newRouter := router.New(subgraphs, r.client)
	if err := r.routeTable.SetRouter(req.Context(), newRouter); err != nil {
		http.Error(w, "Failed to apply new router: "+err.Error(), http.StatusInternalServerError)
		return
	}

	r.broadcast(req.Context(), body)

	w.WriteHeader(http.StatusOK)
}

func (r *Registry) broadcast(ctx context.Context, body RegistrationRequest) {
	hosts := r.peerHosts.Load().(map[string]struct{})
	if len(hosts) == 0 {
		return
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return
	}
	for host := range hosts {
		host := host
		go func() {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/schema/registration", bytes.NewReader(reqBody))
			if err != nil {
				return
			}
			httpReq.Header.Set("Content-Type", "application/json")
			resp, err := r.client.Do(httpReq)
			if err != nil {
				return
			}
			resp.Body.Close()
		}()
	}
}
