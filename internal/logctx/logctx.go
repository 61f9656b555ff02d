// Package logctx enriches slog records with transport context carried on the
// request context: HTTP request data, the RPC envelope being handled, and the
// capability under invocation.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends context-derived groups to
// every record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("method", rd.Method),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if msg, ok := ctx.Value(rpcDataKey{}).(*RPCData); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.Int64("id", msg.ID),
			slog.String("method", msg.Method),
		))
	}

	if cd, ok := ctx.Value(capabilityDataKey{}).(*CapabilityData); ok {
		r.AddAttrs(slog.Group("capability",
			slog.String("name", cd.Name),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData describes the HTTP request being served.
type RequestData struct {
	Method     string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type rpcDataKey struct{}

// RPCData describes the envelope being dispatched.
type RPCData struct {
	ID     int64
	Method string
}

func WithRPCData(ctx context.Context, data *RPCData) context.Context {
	return context.WithValue(ctx, rpcDataKey{}, data)
}

type capabilityDataKey struct{}

// CapabilityData names the capability under invocation.
type CapabilityData struct {
	Name string
}

func WithCapabilityData(ctx context.Context, data *CapabilityData) context.Context {
	return context.WithValue(ctx, capabilityDataKey{}, data)
}
