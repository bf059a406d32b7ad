package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/internal/apperr"
	"github.com/n9te9/federation-gateway/internal/value"
)

// upstreamMessage mirrors the graphql-ws wire protocol this router
// speaks to every subgraph: connection_init/ack, subscribe, next,
// error, complete.
type upstreamMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type upstreamSubscribePayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// upstreamConn is one websocket connection to one subgraph's
// subscription endpoint, shared by every client subscription against
// that subgraph: a single `subscribe` frame per client multiplexed
// over it, fanned back in by id. Opened lazily on first need, closed
// when its last subscriber stops.
type upstreamConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	subs    map[string]chan *executor.FetchResult // upstream subscribe id -> local event channel
	closing bool
}

// Subscribe registers a new client subscription against service's
// shared upstream connection, dialing and initializing it on first
// use. The returned channel is always closed exactly once: when the
// subgraph completes that subscription, when ctx is cancelled, or when
// the shared socket dies; in every case the subscription's slot on the shared
// connection is released, and the connection itself is torn down once
// its last subscriber is gone.
func (r *Router) Subscribe(ctx context.Context, service string, req executor.RequestData) (<-chan *executor.FetchResult, error) {
	sg, ok := r.Get(service)
	if !ok {
		return nil, apperr.New(apperr.SubgraphUnavailable, "unknown subgraph %q", service)
	}

	uc, err := r.acquireUpstream(ctx, sg)
	if err != nil {
		return nil, err
	}

	subID := uuid.NewString()
	out := make(chan *executor.FetchResult, 1)

	uc.mu.Lock()
	if uc.closing {
		uc.mu.Unlock()
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q: upstream connection is closing", service)
	}
	uc.subs[subID] = out
	uc.mu.Unlock()

	vars := make(map[string]any, len(req.Variables))
	for k, v := range req.Variables {
		vars[k] = v.ToAny()
	}
	payload, _ := json.Marshal(upstreamSubscribePayload{Query: req.Query, Variables: vars, OperationName: req.OperationName})
	if err := uc.conn.WriteJSON(upstreamMessage{ID: subID, Type: "subscribe", Payload: payload}); err != nil {
		r.releaseSubscriber(service, uc, subID)
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q: subscribe: %s", service, err.Error())
	}

	go func() {
		<-ctx.Done()
		_ = uc.conn.WriteJSON(upstreamMessage{ID: subID, Type: "complete"})
		r.releaseSubscriber(service, uc, subID)
	}()

	return out, nil
}

// acquireUpstream returns the shared connection for sg, dialing and
// running connection_init on first use. It does not register the
// caller's subscription: Subscribe adds it to uc.subs afterwards, and
// releaseSubscriber removes it and closes the connection once subs is
// empty.
func (r *Router) acquireUpstream(ctx context.Context, sg *Subgraph) (*upstreamConn, error) {
	r.upstreamMu.Lock()
	defer r.upstreamMu.Unlock()

	if uc, ok := r.upstreams[sg.Descriptor.Name]; ok && !uc.closing {
		return uc, nil
	}

	dialer := websocket.Dialer{Subprotocols: []string{"graphql-transport-ws"}}
	conn, _, err := dialer.DialContext(ctx, sg.Descriptor.subscribeURL(), nil)
	if err != nil {
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q: websocket dial: %s", sg.Descriptor.Name, err.Error())
	}

	var initPayload value.Value = value.Null()
	if sg.Hook != nil {
		if err := sg.Hook.OnConnectionInit(ctx, initPayload); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if err := conn.WriteJSON(upstreamMessage{Type: "connection_init"}); err != nil {
		conn.Close()
		return nil, apperr.New(apperr.SubgraphUnavailable, "subgraph %q: connection_init: %s", sg.Descriptor.Name, err.Error())
	}

	uc := &upstreamConn{conn: conn, subs: make(map[string]chan *executor.FetchResult)}
	r.upstreams[sg.Descriptor.Name] = uc
	go r.pumpUpstream(sg.Descriptor.Name, uc)
	return uc, nil
}

// releaseSubscriber removes subID from uc's fan-out table and, if that
// was the last subscriber, tears the shared connection down and drops
// it from the router so the next Subscribe call dials a fresh one.
func (r *Router) releaseSubscriber(service string, uc *upstreamConn, subID string) {
	uc.mu.Lock()
	if ch, ok := uc.subs[subID]; ok {
		delete(uc.subs, subID)
		close(ch)
	}
	empty := len(uc.subs) == 0
	uc.mu.Unlock()

	if !empty {
		return
	}

	r.upstreamMu.Lock()
	if r.upstreams[service] == uc {
		delete(r.upstreams, service)
	}
	r.upstreamMu.Unlock()

	uc.mu.Lock()
	uc.closing = true
	uc.mu.Unlock()
	uc.conn.Close()
}

// pumpUpstream is the single reader goroutine for uc, fanning every
// incoming frame out to the local subscriber its id names. It exits
// (and force-closes every remaining subscriber) when the socket itself
// dies, since there is no way to keep multiplexing client ids without
// a connection to read them from.
func (r *Router) pumpUpstream(service string, uc *upstreamConn) {
	for {
		var msg upstreamMessage
		if err := uc.conn.ReadJSON(&msg); err != nil {
			r.closeUpstream(service, uc, err)
			return
		}

		switch msg.Type {
		case "connection_ack", "ka", "ping", "pong":
			continue
		case "next", "data":
			result, err := decodeUpstreamPayload(msg.Payload)
			if err != nil {
				uc.deliver(msg.ID, &executor.FetchResult{Errors: []*apperr.ServerError{
					apperr.New(apperr.SubgraphUnavailable, "subgraph %q: %s", service, err.Error()),
				}})
				continue
			}
			uc.deliver(msg.ID, result)
		case "error":
			uc.deliver(msg.ID, &executor.FetchResult{Errors: []*apperr.ServerError{
				apperr.New(apperr.SubgraphError, "subgraph %q: %s", service, string(msg.Payload)),
			}})
		case "complete":
			r.releaseSubscriber(service, uc, msg.ID)
		}
	}
}

// deliver sends r to subID's channel if it's still registered; a
// subscriber that already unsubscribed simply drops the event. The
// send happens under the same lock releaseSubscriber closes the
// channel under, so a close can never race a send to the same channel.
func (uc *upstreamConn) deliver(subID string, r *executor.FetchResult) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	ch, ok := uc.subs[subID]
	if !ok {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// closeUpstream tears down every remaining subscriber on uc after its
// socket has died, so no client is left waiting on a channel that will
// never receive another event.
func (r *Router) closeUpstream(service string, uc *upstreamConn, readErr error) {
	r.upstreamMu.Lock()
	if r.upstreams[service] == uc {
		delete(r.upstreams, service)
	}
	r.upstreamMu.Unlock()

	uc.mu.Lock()
	uc.closing = true
	subs := uc.subs
	uc.subs = make(map[string]chan *executor.FetchResult)
	uc.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- &executor.FetchResult{Errors: []*apperr.ServerError{
			apperr.New(apperr.SubgraphUnavailable, "subgraph %q: subscription stream closed: %s", service, readErr.Error()),
		}}:
		default:
		}
		close(ch)
	}
	uc.conn.Close()
}

func decodeUpstreamPayload(raw json.RawMessage) (*executor.FetchResult, error) {
	var body graphqlResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode subscription payload: %w", err)
	}
	var data value.Value
	if len(body.Data) > 0 {
		var any_ any
		if err := json.Unmarshal(body.Data, &any_); err != nil {
			return nil, fmt.Errorf("decode subscription data: %w", err)
		}
		data = value.FromAny(any_)
	} else {
		data = value.Null()
	}
	result := &executor.FetchResult{Data: data}
	for _, e := range body.Errors {
		result.Errors = append(result.Errors, &apperr.ServerError{Kind: apperr.SubgraphError, Message: e.Message, Path: e.Path, Extensions: e.Extensions})
	}
	return result, nil
}
