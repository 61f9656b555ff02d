package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/capwire/capwire/capability"
	"github.com/capwire/capwire/internal/logctx"
	"github.com/capwire/capwire/wire"
)

// ProtocolVersion is the negotiated protocol revision advertised by
// initialize.
const ProtocolVersion = "2024-11-05"

// methodKind is the closed set of built-in protocol methods. Parsing the
// wire method string into this enum keeps dispatch a finite matcher instead
// of an open-ended string table.
type methodKind int

const (
	methodInitialize methodKind = iota
	methodListCapabilities
	methodCallCapability
)

func parseMethod(s string) (methodKind, bool) {
	switch s {
	case "initialize":
		return methodInitialize, true
	case "capabilities/list":
		return methodListCapabilities, true
	case "capabilities/call":
		return methodCallCapability, true
	}
	return 0, false
}

// sessionState tracks handshake progress for the peer this dispatcher
// serves.
type sessionState int

const (
	stateUninitialized sessionState = iota
	stateNegotiated
	stateReady
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateNegotiated:
		return "negotiated"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// ServerInfo identifies the server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the payload returned by the initialize method.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ListCapabilitiesResult is the payload returned by capabilities/list.
type ListCapabilitiesResult struct {
	Capabilities []capability.Descriptor `json:"capabilities"`
}

// CallParams are the expected params of capabilities/call.
type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallResult is the payload returned by capabilities/call.
type CallResult struct {
	Content []capability.ContentBlock `json:"content"`
}

// Dispatcher maps decoded requests onto the built-in protocol methods and
// forwards capability invocations to the provider. Every outcome, protocol
// and collaborator failures included, is a response envelope; only the
// surrounding transport can end the session.
type Dispatcher struct {
	log      *slog.Logger
	provider capability.Provider
	info     ServerInfo

	mu    sync.Mutex
	state sessionState
	// known is the capability set enumerated from the provider, cached at
	// listing time and used to gate capabilities/call lookups.
	known map[string]struct{}
}

// NewDispatcher builds a dispatcher over the given provider.
func NewDispatcher(provider capability.Provider, info ServerInfo, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log, provider: provider, info: info}
}

// Dispatch handles one request and always produces a response for it.
func (d *Dispatcher) Dispatch(ctx context.Context, req *wire.Request) *wire.Response {
	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{ID: req.ID, Method: req.Method})

	kind, ok := parseMethod(req.Method)
	if !ok {
		d.log.InfoContext(ctx, "unknown method")
		return wire.NewErrorResponse(req.ID, wire.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	if state == stateClosed {
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidRequest, "session closed")
	}

	switch kind {
	case methodInitialize:
		return d.handleInitialize(ctx, req)
	case methodListCapabilities:
		if state == stateUninitialized {
			return wire.NewErrorResponse(req.ID, wire.CodeInvalidRequest, "capabilities/list before initialize")
		}
		return d.handleListCapabilities(ctx, req)
	case methodCallCapability:
		if state == stateUninitialized {
			return wire.NewErrorResponse(req.ID, wire.CodeInvalidRequest, "capabilities/call before initialize")
		}
		return d.handleCall(ctx, req)
	}

	return wire.NewErrorResponse(req.ID, wire.CodeInternalError, "unhandled method kind")
}

// handleInitialize negotiates the protocol. Repeat calls are idempotent and
// return the same result; they never regress a ready session.
func (d *Dispatcher) handleInitialize(ctx context.Context, req *wire.Request) *wire.Response {
	d.mu.Lock()
	if d.state == stateUninitialized {
		d.state = stateNegotiated
	}
	state := d.state
	d.mu.Unlock()

	d.log.InfoContext(ctx, "session negotiated", slog.String("state", state.String()))

	res, err := wire.NewResultResponse(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"capabilities": map[string]any{}},
		ServerInfo:      d.info,
	})
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, err.Error())
	}
	return res
}

func (d *Dispatcher) handleListCapabilities(ctx context.Context, req *wire.Request) *wire.Response {
	descs, err := d.provider.ListCapabilities(ctx)
	if err != nil {
		d.log.ErrorContext(ctx, "capability listing failed", slog.String("err", err.Error()))
		return wire.NewErrorResponse(req.ID, wire.CodeCollaboratorError, err.Error())
	}

	known := make(map[string]struct{}, len(descs))
	for _, desc := range descs {
		known[desc.Name] = struct{}{}
	}

	d.mu.Lock()
	d.known = known
	d.state = stateReady
	d.mu.Unlock()

	res, err := wire.NewResultResponse(req.ID, ListCapabilitiesResult{Capabilities: descs})
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, err.Error())
	}
	return res
}

func (d *Dispatcher) handleCall(ctx context.Context, req *wire.Request) *wire.Response {
	var params CallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, fmt.Sprintf("invalid call params: %v", err))
		}
	}
	if params.Name == "" {
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, "missing capability name")
	}

	ctx = logctx.WithCapabilityData(ctx, &logctx.CapabilityData{Name: params.Name})

	d.mu.Lock()
	known := d.known
	d.mu.Unlock()
	if known != nil {
		if _, ok := known[params.Name]; !ok {
			d.log.InfoContext(ctx, "unknown capability")
			return wire.NewErrorResponse(req.ID, wire.CodeCapabilityNotFound, fmt.Sprintf("capability not found: %s", params.Name))
		}
	}

	blocks, err := d.provider.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, capability.ErrNotFound) {
			return wire.NewErrorResponse(req.ID, wire.CodeCapabilityNotFound, fmt.Sprintf("capability not found: %s", params.Name))
		}
		// Collaborator failures stay on the session: the caller gets a
		// failure response and the next request proceeds normally.
		d.log.WarnContext(ctx, "capability invocation failed", slog.String("err", err.Error()))
		return wire.NewErrorResponse(req.ID, wire.CodeCollaboratorError, err.Error())
	}

	if blocks == nil {
		blocks = []capability.ContentBlock{}
	}
	res, err := wire.NewResultResponse(req.ID, CallResult{Content: blocks})
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, err.Error())
	}
	return res
}

// Close marks the session terminal. Subsequent requests fail with an
// invalid-request response.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.state = stateClosed
	d.mu.Unlock()
}
