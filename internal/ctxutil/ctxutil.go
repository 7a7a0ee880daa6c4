// Package ctxutil provides shared context key accessors.
//
// The server and mcp packages stamp each call with a request ID, and the
// guard package reads it back when it logs check executions. All three
// import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyTransport contextKey = "transport"
)

// Transports a call can arrive through.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

// WithRequestID returns a new context carrying the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// EnsureRequestID returns ctx unchanged when it already carries a request
// ID, otherwise a context with a fresh one.
func EnsureRequestID(ctx context.Context) context.Context {
	if RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, uuid.New().String())
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithTransport returns a new context recording how the call arrived.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, keyTransport, transport)
}

// TransportFromContext extracts the transport, or "" for in-process calls.
func TransportFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyTransport).(string); ok {
		return v
	}
	return ""
}
