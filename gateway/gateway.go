// Package gateway implements the HTTP surface: a POST endpoint for
// queries/mutations, a GET upgrade for subscriptions, both reading the
// current composed schema and router off one RouteTable (decode →
// lex/parse → plan → execute → encode).
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/federation-gateway/federation/router"
	"github.com/n9te9/federation-gateway/federation/routetable"
	"github.com/n9te9/federation-gateway/federation/subscription"
	"github.com/n9te9/federation-gateway/internal/apperr"
	"github.com/n9te9/federation-gateway/internal/value"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// Gateway is the top-level http.Handler: every request is served
// against whatever snapshot RouteTable.Get() currently holds.
type Gateway struct {
	RouteTable *routetable.RouteTable
	Logger     *slog.Logger
	upgrader   websocket.Upgrader

	// forwardHeaders mirrors config.GatewayOption.EnableHangOverRequestHeader:
	// when set, every inbound client header rides along on every
	// subgraph fetch made for that request, ahead of anything a
	// per-subgraph Hook adds.
	forwardHeaders bool
}

func New(rt *routetable.RouteTable, logger *slog.Logger, forwardHeaders bool) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		RouteTable:     rt,
		Logger:         logger,
		forwardHeaders: forwardHeaders,
		upgrader: websocket.Upgrader{
			Subprotocols:    subscription.Subprotocols,
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

var _ http.Handler = (*Gateway)(nil)

type graphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

type errorResponse struct {
	Errors []*apperr.ServerError `json:"errors"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		g.serveSubscription(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.serveQuery(w, r)
}

func (g *Gateway) serveQuery(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	schema, rtr, ready := g.RouteTable.Get()
	if !ready {
		g.writeJSON(w, map[string]any{"data": nil, "errors": []*apperr.ServerError{routetable.NotReadyError()}})
		return
	}

	l := lexer.New(req.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		http.Error(w, fmt.Sprintf("%v", p.Errors()), http.StatusBadRequest)
		return
	}

	variables := make(map[string]value.Value, len(req.Variables))
	for k, v := range req.Variables {
		variables[k] = value.FromAny(v)
	}

	pl := planner.New(schema)
	plan, errs := pl.Plan(doc, req.OperationName, variables)
	if len(errs) > 0 {
		g.writeJSON(w, errorResponse{Errors: errs})
		return
	}

	exec := executor.New(schema, rtr)
	ctx := r.Context()
	if g.forwardHeaders {
		ctx = router.ContextWithRequestHeader(ctx, r.Header)
	}
	resp := exec.Execute(ctx, plan)

	body, err := json.Marshal(resp)
	if err != nil {
		g.Logger.Error("failed to encode response", "error", err)
		g.writeJSON(w, map[string]any{"data": nil, "errors": []*apperr.ServerError{apperr.New(apperr.InternalError, "failed to encode response")}})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (g *Gateway) serveSubscription(w http.ResponseWriter, r *http.Request) {
	schema, rtr, ready := g.RouteTable.Get()
	if !ready {
		http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	protocol := subscription.NegotiateProtocol(conn.Subprotocol())
	controller := subscription.New(conn, protocol, schema, rtr)
	controller.Run(r.Context())
}

func (g *Gateway) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.Logger.Error("failed to encode response", "error", err)
	}
}
