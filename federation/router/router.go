// Package router implements a name→Subgraph descriptor map exposing
// query/fetch_schema/subscribe against each backend service.
package router

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/internal/apperr"
	"github.com/n9te9/federation-gateway/internal/value"
)

// Descriptor is the static configuration for one subgraph: name,
// address, and the paths its GraphQL/websocket endpoints live at.
type Descriptor struct {
	Name          string `json:"name" yaml:"name"`
	Address       string `json:"address" yaml:"address"`
	TLS           bool   `json:"tls" yaml:"tls"`
	QueryPath     string `json:"query_path" yaml:"query_path"`
	SubscribePath string `json:"subscribe_path" yaml:"subscribe_path"`
}

func (d Descriptor) queryURL() string {
	return d.url("http", "https", d.QueryPath)
}

func (d Descriptor) subscribeURL() string {
	return d.url("ws", "wss", d.SubscribePath)
}

func (d Descriptor) url(scheme, tlsScheme, path string) string {
	s := scheme
	if d.TLS {
		s = tlsScheme
	}
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s%s", s, d.Address, path)
}

type requestHeaderContextKey struct{}

// ContextWithRequestHeader attaches the gateway's inbound client
// request headers to ctx, so Router.Query can hand them on to every
// subgraph it fetches for this request. Gated by the gateway-wide
// default-forward-all-headers setting; a per-subgraph Hook still runs
// afterward and may add to or override whatever this sets.
func ContextWithRequestHeader(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, requestHeaderContextKey{}, h)
}

func requestHeaderFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(requestHeaderContextKey{}).(http.Header)
	return h
}

// Hook lets a caller populate outbound headers, observe/mutate
// inbound responses, or inspect a subscription's connection_init
// payload for one subgraph.
type Hook interface {
	WillSendRequest(ctx context.Context, headers http.Header) error
	DidReceiveResponse(ctx context.Context, result *executor.FetchResult) error
	OnConnectionInit(ctx context.Context, payload value.Value) error
}

// FetchOverride is the optional hook capability that replaces the HTTP
// transport entirely, e.g. to call a subgraph over gRPC.
type FetchOverride interface {
	Fetch(ctx context.Context, req executor.RequestData) (*executor.FetchResult, error)
}

// RetryOption bounds the per-subgraph SDL fetch attempt budget, so that
// one flaky subgraph's retries don't consume its peers' refresh window.
type RetryOption struct {
	Attempts int           `yaml:"attempts" default:"3"`
	Timeout  time.Duration `yaml:"timeout" default:"5s"`
}

// Subgraph is a registered backend: its routing descriptor plus the
// pluggable hook governing its requests.
type Subgraph struct {
	Descriptor Descriptor
	Hook       Hook
}

// Router is the name→Subgraph map, the single collaborator the
// planner's output addresses by service name.
type Router struct {
	subgraphs  map[string]*Subgraph
	httpClient *http.Client

	upstreamMu sync.Mutex
	upstreams  map[string]*upstreamConn // subgraph name -> shared subscription socket
}

// New builds a Router over subgraphs, sharing one HTTP client pool
// across every fetch: one client per process, reused by all fetchers,
// safe for concurrent use.
func New(subgraphs []*Subgraph, httpClient *http.Client) *Router {
	m := make(map[string]*Subgraph, len(subgraphs))
	for _, sg := range subgraphs {
		m[sg.Descriptor.Name] = sg
	}
	return &Router{subgraphs: m, httpClient: httpClient, upstreams: make(map[string]*upstreamConn)}
}

func (r *Router) Get(name string) (*Subgraph, bool) {
	sg, ok := r.subgraphs[name]
	return sg, ok
}

// Names returns the registered subgraph names, for callers (the route
// table's refresh loop) that must iterate the whole set.
func (r *Router) Names() []string {
	out := make([]string, 0, len(r.subgraphs))
	for n := range r.subgraphs {
		out = append(out, n)
	}
	return out
}

type graphqlRequestBody struct {
	Query         string                   `json:"query"`
	Variables     map[string]any           `json:"variables,omitempty"`
	OperationName string                   `json:"operationName,omitempty"`
}

type graphqlResponseBody struct {
	Data       json.RawMessage          `json:"data"`
	Errors     []subgraphError          `json:"errors"`
	Extensions map[string]any           `json:"extensions,omitempty"`
}

type subgraphError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Fetch satisfies executor.Fetcher, letting a Router stand directly
// in as the executor's transport.
func (r *Router) Fetch(ctx context.Context, service string, req executor.RequestData) (*executor.FetchResult, error) {
	return r.Query(ctx, service, req)
}

// Query populates outbound headers via the hook, POSTs
// {query, variables, operation}, parses the response, lets the hook
// mutate it, and returns it. Any non-2xx or body-parse
// failure is a SubgraphUnavailable error; the hook's own errors bubble
// unchanged.
func (r *Router) Query(ctx context.Context, service string, req executor.RequestData) (*executor.FetchResult, error) {
	sg, ok := r.Get(service)
	if !ok {
		return nil, apperr.New(apperr.SubgraphUnavailable, "unknown subgraph %q", service)
	}

	if override, ok := sg.Hook.(FetchOverride); ok {
		return override.Fetch(ctx, req)
	}

	headers := http.Header{}
	if fwd := requestHeaderFromContext(ctx); fwd != nil {
		for k, vs := range fwd {
			for _, v := range vs {
				headers.Add(k, v)
			}
		}
	}
	if sg.Hook != nil {
		if err := sg.Hook.WillSendRequest(ctx, headers); err != nil {
			return nil, err
		}
	}

	vars := make(map[string]any, len(req.Variables))
	for k, v := range req.Variables {
		vars[k] = v.ToAny()
	}
	body, err := json.Marshal(graphqlRequestBody{Query: req.Query, Variables: vars, OperationName: req.OperationName})
	if err != nil {
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q: encode request: %s", service, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sg.Descriptor.queryURL(), bytes.NewReader(body))
	if err != nil {
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q: %s", service, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q unreachable: %s", service, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q returned status %d", service, resp.StatusCode)
	}

	var parsed graphqlResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q: decode response: %s", service, err.Error())
	}

	var data value.Value
	if len(parsed.Data) > 0 {
		var raw any
		if err := json.Unmarshal(parsed.Data, &raw); err != nil {
			return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q: decode data: %s", service, err.Error())
		}
		data = value.FromAny(raw)
	} else {
		data = value.Null()
	}

	result := &executor.FetchResult{Data: data, Headers: headersToMap(resp.Header)}
	for _, e := range parsed.Errors {
		result.Errors = append(result.Errors, &apperr.ServerError{Kind: apperr.SubgraphError, Message: e.Message, Path: e.Path, Extensions: e.Extensions})
	}

	if sg.Hook != nil {
		if err := sg.Hook.DidReceiveResponse(ctx, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func headersToMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// FetchSchema sends the federation `_service { sdl }` request directly
// over HTTP (not through Query), bounded by retry, and with no hook
// headers — it is a bootstrap call the route table makes before any
// hook context exists.
func (r *Router) FetchSchema(ctx context.Context, service string, retry RetryOption) (string, error) {
	sg, ok := r.Get(service)
	if !ok {
		return "", apperr.New(apperr.SubgraphUnavailable, "unknown subgraph %q", service)
	}

	attempts := retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	timeout := retry.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	body, _ := json.Marshal(graphqlRequestBody{Query: "{_service{sdl}}"})

	var lastErr error
	for i := 0; i < attempts; i++ {
		sdl, err := r.doFetchSDL(ctx, sg, body, timeout)
		if err == nil {
			return sdl, nil
		}
		lastErr = err
	}
	return "", apperr.New(apperr.SubgraphUnavailable, "failed to fetch SDL from %q after %d attempt(s): %s", service, attempts, lastErr)
}

type serviceSDLResponse struct {
	Data struct {
		Service struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
}

func (r *Router) doFetchSDL(ctx context.Context, sg *Subgraph, body []byte, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sg.Descriptor.queryURL(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, sg.Descriptor.Name)
	}

	var svcResp serviceSDLResponse
	if err := json.NewDecoder(resp.Body).Decode(&svcResp); err != nil {
		return "", fmt.Errorf("failed to decode SDL response: %w", err)
	}
	if svcResp.Data.Service.SDL == "" {
		return "", fmt.Errorf("empty SDL returned from %s", sg.Descriptor.Name)
	}
	return svcResp.Data.Service.SDL, nil
}
