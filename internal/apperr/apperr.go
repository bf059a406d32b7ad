// Package apperr defines the error taxonomy that crosses the
// gateway/client boundary: every error surfaced in a GraphQL response's
// `errors` array, or used to classify an internal failure, is a
// ServerError tagged with one of these Kinds.
package apperr

import "fmt"

type Kind string

const (
	ParseError          Kind = "ParseError"
	ValidationError      Kind = "ValidationError"
	CompositionError     Kind = "CompositionError"
	SubgraphUnavailable  Kind = "SubgraphUnavailable"
	SubgraphError        Kind = "SubgraphError"
	MergeConflict        Kind = "MergeConflict"
	NotReady             Kind = "NotReady"
	InternalError        Kind = "InternalError"
)

// Location is a line/column pair into the original query document, as
// carried on GraphQL error responses.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ServerError is the one error shape that crosses the gateway/client
// boundary. Path uses the same string-or-int segment convention as a
// GraphQL response error path.
type ServerError struct {
	Kind       Kind           `json:"-"`
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Locations  []Location     `json:"locations,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e *ServerError) Error() string {
	return e.Message
}

// New builds a ServerError of the given kind with no path.
func New(kind Kind, format string, args ...any) *ServerError {
	return &ServerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithPath returns a copy of e with path set, used when an error is
// re-surfaced at a different point in the response tree (e.g. prefixed
// by the enclosing Flatten path).
func (e *ServerError) WithPath(path []any) *ServerError {
	clone := *e
	clone.Path = path
	return &clone
}

// WithExtension returns a copy of e with one extension key set.
func (e *ServerError) WithExtension(key string, value any) *ServerError {
	clone := *e
	ext := make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		ext[k] = v
	}
	ext[key] = value
	clone.Extensions = ext
	return &clone
}

// NotReadyError is the fixed-message error surfaced when a request
// arrives before the first successful schema composition. It is
// returned to the caller as HTTP 200 — the error lives in the `errors`
// array, not the status line.
func NotReadyError() *ServerError {
	return &ServerError{Kind: NotReady, Message: "Not ready."}
}
