// Package subscription implements a per-client controller that speaks
// both the legacy subscriptions-transport-ws protocol and graphql-ws
// over one websocket connection, planning and executing a Subscribe
// node per `start`/`subscribe` message and streaming results back
// until the client stops it or the connection closes.
package subscription

import "github.com/goccy/go-json"

// Protocol is the negotiated client-facing subprotocol, selected from
// the websocket upgrade's Sec-WebSocket-Protocol header.
type Protocol int

const (
	SubscriptionsTransportWS Protocol = iota
	GraphQLWS
)

// Subprotocol names a client may request during the websocket upgrade.
const (
	SubprotocolLegacy = "graphql-ws"
	SubprotocolNew    = "graphql-transport-ws"
)

// Subprotocols lists both tokens in the order offered to
// gorilla/websocket's Upgrader, legacy first for backward compatibility.
var Subprotocols = []string{SubprotocolLegacy, SubprotocolNew}

// NegotiateProtocol maps a requested subprotocol to the Protocol it
// selects, defaulting to the legacy protocol when the client named
// neither (matching most GraphQL client libraries' historical default).
func NegotiateProtocol(requested string) Protocol {
	if requested == SubprotocolNew {
		return GraphQLWS
	}
	return SubscriptionsTransportWS
}

// clientMessage is the generic incoming envelope; both protocols agree
// on this shape, differing only in which `type` strings are legal.
type clientMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startPayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// serverMessage is the generic outgoing envelope.
type serverMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func (p Protocol) ackType() string { return "connection_ack" }

func (p Protocol) dataType() string {
	if p == GraphQLWS {
		return "next"
	}
	return "data"
}

func (p Protocol) errorType() string {
	if p == GraphQLWS {
		return "error"
	}
	return "error"
}

func (p Protocol) connectionErrorType() string { return "connection_error" }

func (p Protocol) completeType() string { return "complete" }

// isInit/isStart/isStop classify an incoming message's `type` field
// against whichever protocol was negotiated for this connection.
func (p Protocol) isInit(t string) bool { return t == "connection_init" }

func (p Protocol) isStart(t string) bool {
	if p == GraphQLWS {
		return t == "subscribe"
	}
	return t == "start"
}

func (p Protocol) isStop(t string) bool {
	if p == GraphQLWS {
		return t == "complete"
	}
	return t == "stop"
}
