package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/n9te9/federation-gateway/federation/executor"
	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/federation-gateway/federation/router"
	"github.com/n9te9/federation-gateway/internal/apperr"
	"github.com/n9te9/federation-gateway/internal/value"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// connState is the controller's lifecycle: Fresh → Initialized →
// Closed. A client may not start a subscription before connection_init,
// and a second connection_init is a protocol violation.
type connState int

const (
	stateFresh connState = iota
	stateInitialized
	stateClosed
)

const (
	heartbeatInterval = 5 * time.Second
	clientTimeout     = 10 * time.Second
)

// Conn is the minimal websocket surface Controller needs, satisfied by
// *websocket.Conn — narrowed so tests can substitute a fake transport.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Controller owns one client websocket connection: it multiplexes any
// number of concurrently active subscriptions over it, remapping each
// client-supplied id to the cancel function of the goroutine streaming
// that subscription's upstream events.
type Controller struct {
	conn     Conn
	protocol Protocol
	schema   *graph.ComposedSchema
	router   *router.Router
	planner  *planner.Planner

	writeMu sync.Mutex

	mu     sync.Mutex
	state  connState
	active map[string]context.CancelFunc
}

// New builds a Controller bound to one connection, schema snapshot,
// and router. The caller is expected to take these from the route
// table's Get() at upgrade time.
func New(conn Conn, protocol Protocol, schema *graph.ComposedSchema, rtr *router.Router) *Controller {
	return &Controller{
		conn:     conn,
		protocol: protocol,
		schema:   schema,
		router:   rtr,
		planner:  planner.New(schema),
		active:   make(map[string]context.CancelFunc),
	}
}

// Run drives the connection until it closes, handling heartbeats and
// dispatching every client message. It returns when the read loop
// ends, having cancelled every subscription it started.
func (c *Controller) Run(ctx context.Context) {
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()

	lastPong := make(chan struct{}, 1)
	c.conn.SetPongHandler(func(string) error {
		select {
		case lastPong <- struct{}{}:
		default:
		}
		return nil
	})

	go c.heartbeat(hbCtx, lastPong)

	defer c.closeAll()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Controller) heartbeat(ctx context.Context, pong <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pong:
			last = time.Now()
		case <-ticker.C:
			if time.Since(last) > clientTimeout {
				c.conn.Close()
				return
			}
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(heartbeatInterval))
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, msg clientMessage) {
	switch {
	case c.protocol.isInit(msg.Type):
		c.handleInit(msg)
	case c.protocol.isStart(msg.Type):
		c.mu.Lock()
		initialized := c.state == stateInitialized
		c.mu.Unlock()
		if !initialized {
			// Starting a subscription before connection_init is a protocol
			// violation; close the connection as for a second init.
			c.conn.Close()
			return
		}
		c.handleStart(ctx, msg)
	case c.protocol.isStop(msg.Type):
		c.handleStop(msg.ID)
	}
}

func (c *Controller) handleInit(msg clientMessage) {
	c.mu.Lock()
	fresh := c.state == stateFresh
	if fresh {
		c.state = stateInitialized
	}
	c.mu.Unlock()

	if !fresh {
		if c.protocol == GraphQLWS {
			c.conn.Close()
			return
		}
		c.writeJSON(serverMessage{
			Type:    c.protocol.connectionErrorType(),
			Payload: map[string]string{"message": "Too many initialisation requests."},
		})
		c.conn.Close()
		return
	}
	c.writeJSON(serverMessage{Type: c.protocol.ackType()})
}

func (c *Controller) handleStop(id string) {
	c.mu.Lock()
	cancel, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Controller) handleStart(ctx context.Context, msg clientMessage) {
	if msg.ID == "" {
		// Some client libraries omit an id on a lone subscription; mint
		// one so it can still be cancelled and tracked like any other.
		msg.ID = uuid.NewString()
	}

	var payload startPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.writeError(msg.ID, apperr.New(apperr.ParseError, "invalid subscription payload: %s", err.Error()))
		c.writeComplete(msg.ID)
		return
	}

	l := lexer.New(payload.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		c.writeError(msg.ID, apperr.New(apperr.ParseError, "%v", p.Errors()))
		c.writeComplete(msg.ID)
		return
	}

	variables := make(map[string]value.Value, len(payload.Variables))
	for k, v := range payload.Variables {
		variables[k] = value.FromAny(v)
	}

	node, errs := c.planner.Plan(doc, payload.OperationName, variables)
	if len(errs) > 0 {
		for _, e := range errs {
			c.writeError(msg.ID, e)
		}
		c.writeComplete(msg.ID)
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if _, exists := c.active[msg.ID]; exists {
		c.mu.Unlock()
		cancel()
		return
	}
	c.active[msg.ID] = cancel
	c.mu.Unlock()

	subNode, joins := splitSubscriptionNode(node)
	if subNode == nil {
		// A query/mutation or introspection sent over the subscription
		// transport: resolve it once through the normal executor and
		// complete immediately, matching clients that multiplex every
		// operation kind over one socket.
		go c.runOnce(subCtx, msg.ID, node)
		return
	}
	go c.runSubscription(subCtx, msg.ID, subNode, joins)
}

// splitSubscriptionNode recognizes the two shapes planSubscription
// produces: a bare Subscribe node, or a Sequence(Subscribe, joins)
// where joins is a single Flatten or a Parallel of Flattens for any
// nested entity joins the subscription payload needs. It returns the
// Subscribe node and the join node to re-run against each event, or
// (nil, nil) if node contains no Subscribe at all.
func splitSubscriptionNode(node *planner.Node) (*planner.Node, *planner.Node) {
	if node.Kind == planner.NodeSubscribe {
		return node, nil
	}
	if node.Kind == planner.NodeSequence && len(node.Children) == 2 && node.Children[0].Kind == planner.NodeSubscribe {
		return node.Children[0], node.Children[1]
	}
	return nil, nil
}

func (c *Controller) runOnce(ctx context.Context, id string, node *planner.Node) {
	defer c.finish(id)
	exec := executor.New(c.schema, c.router)
	resp := exec.Execute(ctx, node)
	c.writeData(id, resp)
	c.writeComplete(id)
}

// runSubscription streams subNode's upstream events and, for each one,
// re-runs joins (any nested entity-join Flatten/EntityFetch children)
// against that event's payload before writing it to the client — the
// same join resolution Execute performs for a non-subscription
// Sequence, just repeated once per upstream event instead of once.
func (c *Controller) runSubscription(ctx context.Context, id string, subNode *planner.Node, joins *planner.Node) {
	defer c.finish(id)

	events, err := c.router.Subscribe(ctx, subNode.Service, executor.RequestData{
		Query:     subNode.Query,
		Variables: subNode.Variables,
	})
	if err != nil {
		c.writeError(id, asServerError(err))
		c.writeComplete(id)
		return
	}

	exec := executor.New(c.schema, c.router)
	for result := range events {
		var root *value.Object
		if result.Data.Kind() == value.KindObject {
			root = result.Data.Object()
		} else {
			root = value.NewObject()
		}

		errs := result.Errors
		if joins != nil {
			var joinErrs []*apperr.ServerError
			root, joinErrs = exec.ExecuteJoins(ctx, root, joins)
			errs = append(errs, joinErrs...)
		}

		c.writeData(id, &executor.Response{Data: root, Errors: errs})
	}
	c.writeComplete(id)
}

// finish removes id from the active set without cancelling it again —
// used when a subscription ends on its own (upstream completed) rather
// than via a client stop.
func (c *Controller) finish(id string) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

func (c *Controller) closeAll() {
	c.mu.Lock()
	c.state = stateClosed
	cancels := make([]context.CancelFunc, 0, len(c.active))
	for id, cancel := range c.active {
		cancels = append(cancels, cancel)
		delete(c.active, id)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Controller) writeData(id string, resp *executor.Response) {
	c.writeJSON(serverMessage{ID: id, Type: c.protocol.dataType(), Payload: resp})
}

func (c *Controller) writeError(id string, err *apperr.ServerError) {
	c.writeJSON(serverMessage{ID: id, Type: c.protocol.errorType(), Payload: err})
}

func (c *Controller) writeComplete(id string) {
	c.writeJSON(serverMessage{ID: id, Type: c.protocol.completeType()})
}

func (c *Controller) writeJSON(msg serverMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, raw)
}

func asServerError(err error) *apperr.ServerError {
	if se, ok := err.(*apperr.ServerError); ok {
		return se
	}
	return apperr.New(apperr.SubgraphUnavailable, "%s", err.Error())
}
